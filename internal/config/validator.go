package config

import (
	"fmt"
	"regexp"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks if the configuration is valid and fills in defaults
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	// Engine: the worker subprocess needs a model; the stub (empty
	// worker_command) runs without one.
	if cfg.Engine.WorkerCommand != "" && cfg.Engine.ModelAssetPath == "" {
		return fmt.Errorf("engine.model_asset_path is required when engine.worker_command is set")
	}
	if cfg.Engine.MaxFaces < 0 {
		return fmt.Errorf("engine.max_faces must be >= 0")
	}
	if cfg.Engine.MaxFaces == 0 {
		cfg.Engine.MaxFaces = 1 // default: track one face
	}
	if cfg.Engine.MinConfidence < 0 || cfg.Engine.MinConfidence > 1 {
		return fmt.Errorf("engine.min_confidence must be in [0,1]")
	}
	if cfg.Engine.MinConfidence == 0 {
		cfg.Engine.MinConfidence = 0.5
	}

	// Pipeline
	if cfg.Pipeline.ThrottleIntervalMS < 0 {
		return fmt.Errorf("pipeline.throttle_interval_ms must be > 0")
	}
	if cfg.Pipeline.ThrottleIntervalMS == 0 {
		cfg.Pipeline.ThrottleIntervalMS = 100 // 10 Hz publication ceiling
	}

	// Capture
	if cfg.Capture.TargetFPS < 0 {
		return fmt.Errorf("capture.target_fps must be > 0")
	}
	if cfg.Capture.TargetFPS == 0 {
		cfg.Capture.TargetFPS = 30
	}
	switch cfg.Capture.Resolution {
	case "":
		cfg.Capture.Resolution = "720p"
	case "480p", "720p", "1080p":
	default:
		return fmt.Errorf("capture.resolution must be 480p, 720p or 1080p, got %q", cfg.Capture.Resolution)
	}
	if cfg.Capture.WarmupDurationS < 0 {
		return fmt.Errorf("capture.warmup_duration_s must be >= 0")
	}

	return nil
}
