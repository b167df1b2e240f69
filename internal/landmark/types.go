// Package landmark defines the data model for facial-landmark observations.
//
// All coordinates are normalized to frame dimensions (frame-fraction, not
// pixels), so observations are resolution-independent and can be compared
// across capture sources.
package landmark

import "time"

// Point is a single normalized facial landmark.
//
// X and Y are fractions of frame width/height in [0, 1]. Z is an optional
// depth estimate relative to frame width; engines that do not produce depth
// leave it zero.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z,omitempty"`
}

// Normalized reports whether the point lies inside the unit square.
// Z is unconstrained (depth is engine-relative).
func (p Point) Normalized() bool {
	return p.X >= 0 && p.X <= 1 && p.Y >= 0 && p.Y <= 1
}

// Observation is one face's detected geometry at one instant.
//
// Landmarks is an ordered sequence with fixed cardinality per engine model
// (468 for the full face mesh). Confidence is in [0, 1]. TimestampMS is
// monotonic milliseconds since the pipeline started, matching the timestamp
// handed to the inference engine for this frame.
type Observation struct {
	Landmarks   []Point `json:"landmarks"`
	Confidence  float64 `json:"confidence"`
	TimestampMS int64   `json:"timestamp_ms"`

	// TraceID links the observation back to the capture frame it was
	// derived from.
	TraceID string `json:"trace_id,omitempty"`
}

// Snapshot is the most recently published sample of the landmark stream.
//
// IMMUTABILITY CONTRACT: a Snapshot is replaced wholesale on each
// publication and never mutated in place. Consumers receive the shared
// pointer and MUST NOT modify it.
//
// Observation is nil when no face was visible in the published sample.
// This is distinct from "no snapshot yet": before the first publication the
// pipeline exposes a nil *Snapshot.
type Snapshot struct {
	Observation *Observation

	// Seq increments by one on every publication.
	Seq uint64

	// PublishedAt is the wall-clock publication time.
	PublishedAt time.Time
}

// HasFace reports whether the published sample contained a detected face.
func (s *Snapshot) HasFace() bool {
	return s != nil && s.Observation != nil
}
