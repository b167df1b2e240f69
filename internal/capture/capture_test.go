package capture

import (
	"context"
	"testing"
	"time"
)

func TestParseResolution(t *testing.T) {
	cases := []struct {
		in      string
		want    Resolution
		wantErr bool
	}{
		{"480p", Res480p, false},
		{"720p", Res720p, false},
		{"1080p", Res1080p, false},
		{"", Res720p, false}, // empty defaults to 720p
		{"4k", Res720p, true},
	}

	for _, tc := range cases {
		got, err := ParseResolution(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseResolution(%q): expected error, got nil", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseResolution(%q): unexpected error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseResolution(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestFrameValid(t *testing.T) {
	var nilFrame *Frame
	if nilFrame.Valid() {
		t.Error("nil frame reported valid")
	}
	if (&Frame{Width: 640, Height: 480}).Valid() {
		t.Error("frame without data reported valid")
	}
	if !(&Frame{Width: 2, Height: 2, Data: make([]byte, 12)}).Valid() {
		t.Error("well-formed frame reported invalid")
	}
}

// TestSyntheticSourceEmitsFrames validates the synthetic source produces
// correctly sized RGB frames with monotonic sequence numbers and trace IDs.
func TestSyntheticSourceEmitsFrames(t *testing.T) {
	src := NewSyntheticSource(Res480p, 30, "test")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frames, err := src.Start(ctx)
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer src.Stop()

	var prev uint64
	for i := 0; i < 3; i++ {
		select {
		case frame := <-frames:
			if !frame.Valid() {
				t.Fatalf("frame %d invalid: %+v", i, frame)
			}
			if want := 640 * 480 * 3; len(frame.Data) != want {
				t.Errorf("frame %d data size = %d, want %d (RGB24)", i, len(frame.Data), want)
			}
			if frame.TraceID == "" {
				t.Errorf("frame %d missing trace id", i)
			}
			if i > 0 && frame.Seq <= prev {
				t.Errorf("frame %d seq %d not after %d", i, frame.Seq, prev)
			}
			prev = frame.Seq
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for frame %d", i)
		}
	}
}

// TestSyntheticSourceStopIdempotent validates Stop() can be called multiple
// times and closes the frame channel.
func TestSyntheticSourceStopIdempotent(t *testing.T) {
	src := NewSyntheticSource(Res480p, 60, "")
	frames, err := src.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	if err := src.Stop(); err != nil {
		t.Fatalf("first Stop() failed: %v", err)
	}
	if err := src.Stop(); err != nil {
		t.Errorf("second Stop() failed: %v", err)
	}

	// Channel must drain and close after Stop.
	for {
		if _, ok := <-frames; !ok {
			break
		}
	}

	if src.Stats().IsRunning {
		t.Error("Stats().IsRunning = true after Stop")
	}
}

// TestSyntheticSourceDoubleStart validates a second Start() is rejected.
func TestSyntheticSourceDoubleStart(t *testing.T) {
	src := NewSyntheticSource(Res480p, 30, "")
	if _, err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer src.Stop()

	if _, err := src.Start(context.Background()); err == nil {
		t.Error("second Start() succeeded, expected error")
	}
}

func TestCalculateFPSStatsStable(t *testing.T) {
	// 31 frames at exactly 100ms intervals → 10 FPS, zero jitter.
	base := time.Now()
	times := make([]time.Time, 31)
	for i := range times {
		times[i] = base.Add(time.Duration(i) * 100 * time.Millisecond)
	}

	stats := CalculateFPSStats(times, 3100*time.Millisecond)

	if stats.FramesReceived != 31 {
		t.Errorf("FramesReceived = %d, want 31", stats.FramesReceived)
	}
	if stats.FPSMean < 9.5 || stats.FPSMean > 10.5 {
		t.Errorf("FPSMean = %.2f, want ~10", stats.FPSMean)
	}
	if !stats.IsStable {
		t.Errorf("IsStable = false for perfectly regular timing (stddev=%.3f)", stats.FPSStdDev)
	}
}

func TestCalculateFPSStatsUnstable(t *testing.T) {
	// Alternating 20ms/500ms intervals → heavy jitter, must not be stable.
	base := time.Now()
	times := []time.Time{base}
	for i := 0; i < 10; i++ {
		step := 20 * time.Millisecond
		if i%2 == 1 {
			step = 500 * time.Millisecond
		}
		times = append(times, times[len(times)-1].Add(step))
	}

	stats := CalculateFPSStats(times, times[len(times)-1].Sub(base))
	if stats.IsStable {
		t.Errorf("IsStable = true for jittery timing (mean=%.2f stddev=%.2f)",
			stats.FPSMean, stats.FPSStdDev)
	}
}

func TestCalculateFPSStatsEmpty(t *testing.T) {
	stats := CalculateFPSStats(nil, time.Second)
	if stats.FramesReceived != 0 || stats.IsStable {
		t.Errorf("empty input: got %+v, want zero stats, not stable", stats)
	}
}

// TestWarmupMeasuresSyntheticSource runs warmup against the synthetic source
// and expects a stable verdict near the configured rate.
func TestWarmupMeasuresSyntheticSource(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping timing-dependent warmup test in short mode")
	}

	src := NewSyntheticSource(Res480p, 50, "")
	frames, err := src.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer src.Stop()

	stats, err := Warmup(context.Background(), frames, 600*time.Millisecond)
	if err != nil {
		t.Fatalf("Warmup() failed: %v", err)
	}

	if stats.FramesReceived < 2 {
		t.Fatalf("FramesReceived = %d, want >= 2", stats.FramesReceived)
	}
	// Generous bounds: CI schedulers jitter the ticker.
	if stats.FPSMean < 20 || stats.FPSMean > 80 {
		t.Errorf("FPSMean = %.2f, want ~50", stats.FPSMean)
	}

	t.Logf("warmup: frames=%d fps_mean=%.2f stddev=%.2f stable=%v",
		stats.FramesReceived, stats.FPSMean, stats.FPSStdDev, stats.IsStable)
}
