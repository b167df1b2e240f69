package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/visiona/facetrack/internal/capture"
	"github.com/visiona/facetrack/internal/landmark"
)

// ScriptedCall is one step of a Stub's detection script.
type ScriptedCall struct {
	Result *Result
	Err    error
}

// Stub is a deterministic in-process engine for tests and for running the
// daemon without a model. It is both an Engine and the Handle it creates.
//
// Detection results follow a script: call N returns script[N mod len].
// An empty script returns an empty Result (no face) on every call.
type Stub struct {
	mu sync.Mutex

	script      []ScriptedCall
	createErr   error
	createDelay time.Duration
	detectDelay time.Duration

	createCalls int
	detectCalls int
	closeCalls  int
	closed      bool
}

// NewStub returns a stub with an empty script.
func NewStub() *Stub { return &Stub{} }

// Script replaces the detection script.
func (s *Stub) Script(calls ...ScriptedCall) *Stub {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = calls
	return s
}

// FailCreate makes CreateFromOptions fail with err.
func (s *Stub) FailCreate(err error) *Stub {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createErr = err
	return s
}

// DelayCreate makes CreateFromOptions block for d before returning,
// simulating slow model loading.
func (s *Stub) DelayCreate(d time.Duration) *Stub {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createDelay = d
	return s
}

// DelayDetect makes every DetectForVideo call block for d, simulating heavy
// inference.
func (s *Stub) DelayDetect(d time.Duration) *Stub {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detectDelay = d
	return s
}

// CreateFromOptions implements Engine.
func (s *Stub) CreateFromOptions(ctx context.Context, _ Options) (Handle, error) {
	s.mu.Lock()
	s.createCalls++
	delay := s.createDelay
	createErr := s.createErr
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if createErr != nil {
		return nil, createErr
	}

	s.mu.Lock()
	s.closed = false
	s.mu.Unlock()
	return s, nil
}

// DetectForVideo implements Handle, returning the next scripted result.
func (s *Stub) DetectForVideo(frame *capture.Frame, _ int64) (*Result, error) {
	if !frame.Valid() {
		return nil, ErrInvalidFrame
	}

	s.mu.Lock()
	delay := s.detectDelay
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	call := s.detectCalls
	s.detectCalls++

	if len(s.script) == 0 {
		return &Result{}, nil
	}
	step := s.script[call%len(s.script)]
	if step.Err != nil {
		return nil, step.Err
	}
	if step.Result == nil {
		return &Result{}, nil
	}
	return step.Result, nil
}

// Close implements Handle. Idempotent.
func (s *Stub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	s.closed = true
	return nil
}

// CreateCalls reports how many times CreateFromOptions ran.
func (s *Stub) CreateCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createCalls
}

// DetectCalls reports how many times DetectForVideo ran.
func (s *Stub) DetectCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detectCalls
}

// CloseCalls reports how many times Close ran.
func (s *Stub) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

// FaceResult builds a one-face result with n evenly spread landmarks and the
// given auxiliary categories.
func FaceResult(n int, categories ...Category) *Result {
	points := make([]landmark.Point, n)
	for i := range points {
		f := float64(i) / float64(max(n, 1))
		points[i] = landmark.Point{X: f, Y: 1 - f, Z: 0}
	}
	return &Result{Faces: []Face{{Landmarks: points, Categories: categories}}}
}

// NoFaceResult builds an empty result.
func NoFaceResult() *Result { return &Result{} }

// ErrCall builds a script step that fails with the given message.
func ErrCall(msg string) ScriptedCall {
	return ScriptedCall{Err: fmt.Errorf("%s", msg)}
}
