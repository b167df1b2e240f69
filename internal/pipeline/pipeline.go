// Package pipeline turns a live video stream into a throttled sequence of
// normalized face-landmark snapshots.
//
// Philosophy: "Drop frames, never queue. Latency > Completeness."
//
// Two responsibilities live here:
//
//   - Resource lifecycle: Initialize acquires the inference engine exactly
//     once, Cleanup releases it. Both are idempotent, and every teardown
//     trigger (stream removal, host disposal, explicit call) funnels into
//     the one Cleanup.
//
//   - Throttled frame processing: ProcessFrame accepts one frame per call
//     at whatever rate the caller runs (nominally a ~60 Hz render loop) and
//     bounds publication to one snapshot per throttle window (~10 Hz by
//     default). Throttled cycles skip inference entirely. A call arriving
//     while another is in flight is dropped, never queued.
//
// Concurrency contract:
//   - Initialize, Cleanup, ProcessFrame, Status and UpdateInputs are safe
//     to call from any goroutine.
//   - ProcessFrame never blocks on another ProcessFrame: the re-entrancy
//     guard drops the late call.
//   - A Cleanup racing an in-flight Initialize or ProcessFrame wins: the
//     late result is discarded and any freshly created handle is closed.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/visiona/facetrack/internal/capture"
	"github.com/visiona/facetrack/internal/engine"
	"github.com/visiona/facetrack/internal/landmark"
)

// DefaultThrottleInterval bounds publication to 10 Hz against an assumed
// 60 Hz call rate.
const DefaultThrottleInterval = 100 * time.Millisecond

// Status is an immutable view of the pipeline for consumers (attention
// scoring, debug overlays, the daemon's stats loop).
type Status struct {
	// State is the lifecycle state.
	State State
	// IsInitialized is true when a valid engine handle exists (state Ready).
	IsInitialized bool
	// IsProcessing is true while a ProcessFrame call is in flight.
	IsProcessing bool
	// Err is the recorded error message, empty when none. Populated by
	// acquisition or processing failures, cleared by the next successful
	// operation or Cleanup.
	Err string
	// Landmarks is the most recent published snapshot, nil before the
	// first publication and after Cleanup.
	Landmarks *landmark.Snapshot
	// PublishCount is the total number of snapshot publications.
	PublishCount uint64
}

// Pipeline is the landmark acquisition core. Create with New.
type Pipeline struct {
	eng      engine.Engine
	opts     engine.Options
	throttle time.Duration

	// start anchors monotonic millisecond timestamps for observations.
	start time.Time

	// inFlight is the ProcessFrame re-entrancy guard.
	inFlight atomic.Bool

	mu            sync.Mutex
	state         State
	handle        engine.Handle
	errMsg        string
	snapshot      *landmark.Snapshot
	streamPresent bool
	enabled       bool
	lastPublished time.Time
	publishSeq    uint64
	publishCount  uint64
	framesDropped uint64
	// gen increments on every Cleanup. An Initialize or ProcessFrame that
	// captured an older gen discards its result instead of publishing into
	// a lifecycle it no longer belongs to.
	gen uint64
}

// New creates a pipeline that acquires handles from eng with opts.
// throttle <= 0 selects DefaultThrottleInterval.
func New(eng engine.Engine, opts engine.Options, throttle time.Duration) *Pipeline {
	if throttle <= 0 {
		throttle = DefaultThrottleInterval
	}
	return &Pipeline{
		eng:      eng,
		opts:     opts,
		throttle: throttle,
		start:    time.Now(),
		state:    Uninitialized,
	}
}

// Initialize acquires the inference engine. Guarded no-op when acquisition
// is already in flight or done (state Initializing or Ready), so callers may
// invoke it on every stream-change without duplicating the resource.
//
// Blocks until acquisition completes; this can take hundreds of milliseconds
// to seconds while the engine loads its model assets. On failure the state
// becomes Error with a recorded message and is NOT retried automatically.
func (p *Pipeline) Initialize(ctx context.Context) error {
	p.mu.Lock()
	if p.state == Initializing || p.state == Ready {
		p.mu.Unlock()
		return nil
	}
	p.state = Initializing
	gen := p.gen
	p.mu.Unlock()

	slog.Info("pipeline: initializing engine",
		"model", p.opts.ModelAssetPath,
		"max_faces", p.opts.MaxFaces,
	)

	handle, err := p.eng.CreateFromOptions(ctx, p.opts)

	p.mu.Lock()
	if p.gen != gen {
		// Cleanup ran while we were acquiring. The lifecycle this handle
		// was created for is over.
		p.mu.Unlock()
		if handle != nil {
			handle.Close()
		}
		slog.Debug("pipeline: discarding engine handle acquired during cleanup")
		return nil
	}

	if err != nil {
		p.state = Error
		p.errMsg = fmt.Sprintf("engine acquisition failed: %v", err)
		p.mu.Unlock()
		slog.Error("pipeline: engine acquisition failed", "error", err)
		return fmt.Errorf("pipeline: engine acquisition failed: %w", err)
	}

	p.handle = handle
	p.state = Ready
	p.errMsg = ""
	p.mu.Unlock()

	slog.Info("pipeline: engine ready")
	return nil
}

// Cleanup releases the engine handle if present, resets state to
// Uninitialized and clears the snapshot and error. Idempotent; safe to call
// before any Initialize, during one, or repeatedly.
func (p *Pipeline) Cleanup() {
	p.mu.Lock()
	handle := p.handle
	hadState := p.state
	p.handle = nil
	p.snapshot = nil
	p.errMsg = ""
	p.state = Uninitialized
	p.lastPublished = time.Time{}
	p.gen++
	p.mu.Unlock()

	if handle != nil {
		if err := handle.Close(); err != nil {
			slog.Error("pipeline: engine close failed", "error", err)
		}
	}
	if hadState != Uninitialized {
		slog.Info("pipeline: cleaned up", "previous_state", hadState.String())
	}
}

// Close releases all resources. Alias for Cleanup, for hosts that tear the
// pipeline down on disposal.
func (p *Pipeline) Close() { p.Cleanup() }

// ProcessFrame runs one acquisition cycle for the given frame.
//
// Silent no-op unless the feature is enabled, the state is Ready and the
// frame is valid, so callers can invoke it unconditionally on every render
// tick. A call arriving while another is in flight is dropped. A throttled
// cycle (within the throttle window of the last publication) skips inference
// entirely.
//
// A detection failure records an error and keeps the previous snapshot; the
// pipeline stays Ready and keeps accepting frames.
func (p *Pipeline) ProcessFrame(frame *capture.Frame) {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.mu.Lock()
		p.framesDropped++
		p.mu.Unlock()
		return
	}
	defer p.inFlight.Store(false)

	p.mu.Lock()
	if !p.enabled || p.state != Ready || !frame.Valid() {
		p.mu.Unlock()
		return
	}

	now := time.Now()
	if !p.lastPublished.IsZero() && now.Sub(p.lastPublished) < p.throttle {
		p.mu.Unlock()
		return
	}

	handle := p.handle
	gen := p.gen
	p.mu.Unlock()

	timestampMS := time.Since(p.start).Milliseconds()
	result, err := handle.DetectForVideo(frame, timestampMS)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen || p.state != Ready {
		// Cleanup raced the detection; its result belongs to a finished
		// lifecycle.
		return
	}

	if err != nil {
		p.errMsg = fmt.Sprintf("frame detection failed: %v", err)
		slog.Warn("pipeline: frame detection failed",
			"frame_seq", frame.Seq,
			"trace_id", frame.TraceID,
			"error", err,
		)
		return
	}

	p.errMsg = ""
	p.publish(result, frame, timestampMS, now)
}

// publish replaces the snapshot wholesale. Caller holds p.mu.
func (p *Pipeline) publish(result *engine.Result, frame *capture.Frame, timestampMS int64, now time.Time) {
	var obs *landmark.Observation
	if len(result.Faces) > 0 {
		face := result.Faces[0]
		obs = &landmark.Observation{
			Landmarks:   face.Landmarks,
			Confidence:  face.Confidence(),
			TimestampMS: timestampMS,
			TraceID:     frame.TraceID,
		}
	}

	p.publishSeq++
	p.publishCount++
	p.lastPublished = now
	p.snapshot = &landmark.Snapshot{
		Observation: obs,
		Seq:         p.publishSeq,
		PublishedAt: now,
	}

	slog.Debug("pipeline: snapshot published",
		"seq", p.publishSeq,
		"has_face", obs != nil,
		"trace_id", frame.TraceID,
	)
}

// UpdateInputs records the stream-presence and enabled inputs and re-evaluates
// the lifecycle rule. The host calls this whenever either input changes.
//
// Level-triggered rule:
//   - stream absent and not Uninitialized  -> Cleanup
//   - stream present, enabled, Uninitialized -> Initialize
//
// The rule never fires out of Error: a failed acquisition is retried only by
// an explicit Initialize call.
//
// Returns the Initialize error when the rule triggered acquisition and it
// failed, nil otherwise.
func (p *Pipeline) UpdateInputs(ctx context.Context, streamPresent, enabled bool) error {
	p.mu.Lock()
	p.streamPresent = streamPresent
	p.enabled = enabled
	p.mu.Unlock()

	return p.Reevaluate(ctx)
}

// Reevaluate applies the level-triggered lifecycle rule against the current
// inputs and state.
func (p *Pipeline) Reevaluate(ctx context.Context) error {
	p.mu.Lock()
	streamPresent := p.streamPresent
	enabled := p.enabled
	state := p.state
	p.mu.Unlock()

	if !streamPresent {
		if state != Uninitialized {
			p.Cleanup()
		}
		return nil
	}
	if enabled && state == Uninitialized {
		return p.Initialize(ctx)
	}
	return nil
}

// Status returns the observable record. The returned snapshot pointer is
// shared: consumers must treat it as immutable.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{
		State:         p.state,
		IsInitialized: p.state == Ready,
		IsProcessing:  p.inFlight.Load(),
		Err:           p.errMsg,
		Landmarks:     p.snapshot,
		PublishCount:  p.publishCount,
	}
}

// FramesDropped reports how many ProcessFrame calls the re-entrancy guard
// dropped.
func (p *Pipeline) FramesDropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.framesDropped
}
