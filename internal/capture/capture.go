// Package capture acquires live video frames for the landmark pipeline.
//
// Philosophy: "Drop frames, never queue. Latency > Completeness."
//
// Sources emit frames on a small buffered channel and drop when the consumer
// falls behind; a stale frame is worse than a missing one for real-time
// engagement analysis. Drops are expected and healthy, not errors.
package capture

import (
	"context"
	"fmt"
	"time"
)

// Frame is a single decoded video frame with metadata.
//
// IMMUTABILITY CONTRACT: Data is shared by reference. Neither the source nor
// any consumer may modify it after the frame has been emitted.
type Frame struct {
	// Seq is the monotonic sequence number assigned by the source.
	Seq uint64
	// Timestamp is when the frame was captured/decoded.
	Timestamp time.Time
	// Width in pixels.
	Width int
	// Height in pixels.
	Height int
	// Data contains raw RGB24 pixel data.
	Data []byte
	// SourceStream identifies the producing source (e.g. "camera", "synthetic").
	SourceStream string
	// TraceID is a unique identifier for correlating a frame with the
	// observations derived from it.
	TraceID string
}

// Valid reports whether the frame carries usable pixel data.
func (f *Frame) Valid() bool {
	return f != nil && len(f.Data) > 0 && f.Width > 0 && f.Height > 0
}

// Stats is a snapshot of source operational state.
type Stats struct {
	// FrameCount is the total number of frames emitted.
	FrameCount uint64
	// FramesDropped counts frames dropped because the channel was full.
	FramesDropped uint64
	// DropRate is the percentage of frames dropped (0-100).
	DropRate float64
	// FPSTarget is the configured target frame rate.
	FPSTarget float64
	// FPSReal is the measured frame rate since Start.
	FPSReal float64
	// SourceStream identifies the source.
	SourceStream string
	// Resolution is the frame resolution (e.g. "1280x720").
	Resolution string
	// IsRunning indicates whether the source is currently producing frames.
	IsRunning bool
}

// Source is the contract for video-frame acquisition.
//
// Implementations must guarantee:
//   - Start() returns promptly; frames arrive asynchronously
//   - the returned channel stays open until Stop()
//   - emission is non-blocking: frames are dropped, never queued
//   - Stop() is idempotent
//   - Stats() is safe to call from any goroutine
type Source interface {
	Start(ctx context.Context) (<-chan Frame, error)
	Stop() error
	Stats() Stats
}

// Resolution enumerates the supported capture resolutions.
type Resolution int

const (
	// Res480p is 640x480.
	Res480p Resolution = iota
	// Res720p is 1280x720 (HD).
	Res720p
	// Res1080p is 1920x1080 (Full HD).
	Res1080p
)

// Dimensions returns the pixel width and height for the resolution.
func (r Resolution) Dimensions() (width, height int) {
	switch r {
	case Res480p:
		return 640, 480
	case Res720p:
		return 1280, 720
	case Res1080p:
		return 1920, 1080
	default:
		// Safe default: 720p
		return 1280, 720
	}
}

// String returns a human-readable name for the resolution.
func (r Resolution) String() string {
	switch r {
	case Res480p:
		return "480p"
	case Res1080p:
		return "1080p"
	default:
		return "720p"
	}
}

// ParseResolution maps a config string ("480p", "720p", "1080p") to a
// Resolution. Unknown values return an error rather than a silent default so
// misconfiguration fails fast.
func ParseResolution(s string) (Resolution, error) {
	switch s {
	case "480p":
		return Res480p, nil
	case "720p", "":
		return Res720p, nil
	case "1080p":
		return Res1080p, nil
	default:
		return Res720p, fmt.Errorf("capture: unknown resolution %q (must be 480p, 720p or 1080p)", s)
	}
}
