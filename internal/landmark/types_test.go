package landmark

import (
	"testing"
	"time"
)

func TestPointNormalized(t *testing.T) {
	cases := []struct {
		name string
		p    Point
		want bool
	}{
		{"origin", Point{X: 0, Y: 0}, true},
		{"center", Point{X: 0.5, Y: 0.5, Z: -0.02}, true},
		{"corner", Point{X: 1, Y: 1}, true},
		{"x out of range", Point{X: 1.01, Y: 0.5}, false},
		{"negative y", Point{X: 0.5, Y: -0.1}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.p.Normalized(); got != tc.want {
				t.Errorf("Normalized() = %v, want %v for %+v", got, tc.want, tc.p)
			}
		})
	}
}

func TestSnapshotHasFace(t *testing.T) {
	// nil snapshot = no observation yet
	var none *Snapshot
	if none.HasFace() {
		t.Error("nil snapshot reported a face")
	}

	// snapshot with nil observation = face absent in last published sample
	absent := &Snapshot{Seq: 1, PublishedAt: time.Now()}
	if absent.HasFace() {
		t.Error("absent-face snapshot reported a face")
	}

	present := &Snapshot{
		Observation: &Observation{
			Landmarks:  []Point{{X: 0.4, Y: 0.5}},
			Confidence: 0.92,
		},
		Seq: 2,
	}
	if !present.HasFace() {
		t.Error("snapshot with observation reported no face")
	}
}
