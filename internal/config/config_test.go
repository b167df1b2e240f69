package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "facetrack.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadCompleteConfig(t *testing.T) {
	path := writeConfig(t, `
instance_id: interview-desk-01
session_id: session-42
engine:
  model_asset_path: models/face_landmarker.task
  runtime_asset_source: assets/vision_runtime
  worker_command: models/run_worker.sh
  max_faces: 2
  min_confidence: 0.7
pipeline:
  throttle_interval_ms: 50
  enabled: true
capture:
  source_url: rtsp://cam.local/stream
  resolution: 1080p
  target_fps: 25
  warmup_duration_s: 3
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.InstanceID != "interview-desk-01" {
		t.Errorf("InstanceID = %q", cfg.InstanceID)
	}
	if cfg.Engine.MaxFaces != 2 || cfg.Engine.MinConfidence != 0.7 {
		t.Errorf("engine config = %+v", cfg.Engine)
	}
	if cfg.Pipeline.ThrottleIntervalMS != 50 || !cfg.Pipeline.IsEnabled() {
		t.Errorf("pipeline config = %+v", cfg.Pipeline)
	}
	if cfg.Capture.Resolution != "1080p" || cfg.Capture.TargetFPS != 25 {
		t.Errorf("capture config = %+v", cfg.Capture)
	}
}

func TestLoadFillsDefaults(t *testing.T) {
	path := writeConfig(t, `
instance_id: desk-01
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Engine.MaxFaces != 1 {
		t.Errorf("default max_faces = %d, want 1", cfg.Engine.MaxFaces)
	}
	if cfg.Engine.MinConfidence != 0.5 {
		t.Errorf("default min_confidence = %v, want 0.5", cfg.Engine.MinConfidence)
	}
	if cfg.Pipeline.ThrottleIntervalMS != 100 {
		t.Errorf("default throttle_interval_ms = %d, want 100", cfg.Pipeline.ThrottleIntervalMS)
	}
	if !cfg.Pipeline.IsEnabled() {
		t.Error("pipeline not enabled by default")
	}
	if cfg.Capture.Resolution != "720p" {
		t.Errorf("default resolution = %q, want 720p", cfg.Capture.Resolution)
	}
	if cfg.Capture.TargetFPS != 30 {
		t.Errorf("default target_fps = %v, want 30", cfg.Capture.TargetFPS)
	}
}

func TestExplicitDisableSurvivesDefaults(t *testing.T) {
	path := writeConfig(t, `
instance_id: desk-01
pipeline:
  enabled: false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Pipeline.IsEnabled() {
		t.Error("enabled: false was overridden by the default")
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"missing instance_id", `session_id: x`},
		{"uppercase instance_id", `instance_id: Desk01`},
		{"worker without model", `
instance_id: desk-01
engine:
  worker_command: run.sh
`},
		{"bad resolution", `
instance_id: desk-01
capture:
  resolution: 4k
`},
		{"confidence out of range", `
instance_id: desk-01
engine:
  min_confidence: 1.5
`},
		{"negative fps", `
instance_id: desk-01
capture:
  target_fps: -5
`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.yaml)); err == nil {
				t.Errorf("Load accepted invalid config (%s)", tc.name)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load succeeded on missing file")
	}
}
