// Package engine abstracts the facial-landmark inference engine behind a
// capability interface: anything that can create a detection handle from
// options satisfies the pipeline, whether it is a worker subprocess, a remote
// service or a deterministic test stub.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/visiona/facetrack/internal/capture"
	"github.com/visiona/facetrack/internal/landmark"
)

var (
	// ErrClosed is returned by DetectForVideo after Close.
	ErrClosed = errors.New("engine: handle closed")
	// ErrInvalidFrame is returned when the frame carries no usable pixel data.
	ErrInvalidFrame = errors.New("engine: invalid frame")
)

// Options configures engine creation.
type Options struct {
	// ModelAssetPath locates the trained landmark model.
	ModelAssetPath string
	// RuntimeAssetSource locates the support runtime assets (URL or local path).
	RuntimeAssetSource string
	// WorkerCommand is the launcher for the worker subprocess.
	WorkerCommand string
	// MaxFaces bounds how many faces the engine tracks per frame.
	MaxFaces int
	// MinConfidence is the detection confidence threshold.
	MinConfidence float64
}

// withDefaults returns a copy with unset fields filled in.
func (o Options) withDefaults() Options {
	if o.MaxFaces <= 0 {
		o.MaxFaces = 1
	}
	if o.MinConfidence <= 0 {
		o.MinConfidence = 0.5
	}
	return o
}

// validate checks the fields a worker subprocess cannot default.
func (o Options) validate() error {
	if o.ModelAssetPath == "" {
		return fmt.Errorf("engine: model_asset_path is required")
	}
	if o.WorkerCommand == "" {
		return fmt.Errorf("engine: worker_command is required")
	}
	return nil
}

// Category is an auxiliary classification output attached to a detected face
// (e.g. blendshape or presence score).
type Category struct {
	Name  string
	Score float64
}

// Face is one detected face: its ordered landmark set plus any auxiliary
// categories the model surfaces.
type Face struct {
	Landmarks  []landmark.Point
	Categories []Category
}

// Confidence derives the face's confidence score: the first auxiliary
// category's score when present, 1.0 otherwise.
func (f *Face) Confidence() float64 {
	if len(f.Categories) > 0 {
		return f.Categories[0].Score
	}
	return 1.0
}

// Result is the outcome of one detection call. Zero faces is a valid result,
// it means no face is currently visible.
type Result struct {
	Faces []Face
}

// Handle is a live engine instance.
//
// Ownership contract: a Handle is owned exclusively by whoever created it.
// DetectForVideo is synchronous and must not be called after Close. Close is
// idempotent.
type Handle interface {
	// DetectForVideo runs landmark detection on one frame. timestampMS is
	// the caller's monotonic timestamp for the frame in milliseconds.
	DetectForVideo(frame *capture.Frame, timestampMS int64) (*Result, error)
	Close() error
}

// Engine creates detection handles.
type Engine interface {
	CreateFromOptions(ctx context.Context, opts Options) (Handle, error)
}
