// Package config loads and validates the facetrack YAML configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the complete facetrack configuration
type Config struct {
	InstanceID string         `yaml:"instance_id"`
	SessionID  string         `yaml:"session_id"`
	Engine     EngineConfig   `yaml:"engine"`
	Pipeline   PipelineConfig `yaml:"pipeline"`
	Capture    CaptureConfig  `yaml:"capture"`
}

// EngineConfig contains inference-engine settings
type EngineConfig struct {
	ModelAssetPath     string  `yaml:"model_asset_path"`     // trained landmark model
	RuntimeAssetSource string  `yaml:"runtime_asset_source"` // support runtime, URL or local path
	WorkerCommand      string  `yaml:"worker_command"`       // subprocess launcher; empty -> stub engine
	MaxFaces           int     `yaml:"max_faces"`
	MinConfidence      float64 `yaml:"min_confidence"`
}

// PipelineConfig contains frame-processing settings
type PipelineConfig struct {
	ThrottleIntervalMS int   `yaml:"throttle_interval_ms"` // publication ceiling, default 100
	Enabled            *bool `yaml:"enabled"`              // default true
}

// IsEnabled resolves the enabled flag, defaulting to true when unset.
func (p PipelineConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// CaptureConfig contains video-source settings
type CaptureConfig struct {
	SourceURL       string  `yaml:"source_url"` // rtsp://, /dev/video*, empty -> synthetic
	Resolution      string  `yaml:"resolution"` // 480p, 720p, 1080p
	TargetFPS       float64 `yaml:"target_fps"`
	WarmupDurationS int     `yaml:"warmup_duration_s"`
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
