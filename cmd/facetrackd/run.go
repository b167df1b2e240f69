package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/visiona/facetrack/internal/capture"
	"github.com/visiona/facetrack/internal/config"
	"github.com/visiona/facetrack/internal/engine"
	"github.com/visiona/facetrack/internal/pipeline"
)

const statsInterval = 10 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the landmark acquisition pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func run() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("starting facetrackd",
		"instance_id", cfg.InstanceID,
		"session_id", cfg.SessionID,
		"source", cfg.Capture.SourceURL,
		"throttle_ms", cfg.Pipeline.ThrottleIntervalMS,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source, err := buildSource(cfg)
	if err != nil {
		return err
	}

	p := pipeline.New(buildEngine(cfg), engine.Options{
		ModelAssetPath:     cfg.Engine.ModelAssetPath,
		RuntimeAssetSource: cfg.Engine.RuntimeAssetSource,
		WorkerCommand:      cfg.Engine.WorkerCommand,
		MaxFaces:           cfg.Engine.MaxFaces,
		MinConfidence:      cfg.Engine.MinConfidence,
	}, time.Duration(cfg.Pipeline.ThrottleIntervalMS)*time.Millisecond)
	defer p.Close()

	frames, err := source.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start capture source: %w", err)
	}
	defer source.Stop()

	if warmup := time.Duration(cfg.Capture.WarmupDurationS) * time.Second; warmup > 0 {
		stats, err := capture.Warmup(ctx, frames, warmup)
		if err != nil {
			return fmt.Errorf("capture warmup failed: %w", err)
		}
		slog.Info("capture warmup complete",
			"fps_mean", fmt.Sprintf("%.2f", stats.FPSMean),
			"fps_stddev", fmt.Sprintf("%.2f", stats.FPSStdDev),
			"stable", stats.IsStable,
		)
		if !stats.IsStable {
			slog.Warn("capture source is unstable, landmark timing may jitter",
				"fps_target", cfg.Capture.TargetFPS,
				"fps_mean", fmt.Sprintf("%.2f", stats.FPSMean),
			)
		}
	}

	// Stream is live now: the level-triggered rule acquires the engine.
	if err := p.UpdateInputs(ctx, true, cfg.Pipeline.IsEnabled()); err != nil {
		return fmt.Errorf("engine initialization failed: %w", err)
	}

	slog.Info("pipeline running", "state", p.Status().State.String())

	statsTicker := time.NewTicker(statsInterval)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("received shutdown signal")
			return shutdown(p, source)

		case frame, ok := <-frames:
			if !ok {
				// Source gone: stream removal funnels into cleanup.
				slog.Warn("capture source closed, tearing down")
				return shutdown(p, source)
			}
			p.ProcessFrame(&frame)

		case <-statsTicker.C:
			logStats(p, source)
		}
	}
}

// buildSource selects the camera when a source URL is configured, the
// synthetic test pattern otherwise.
func buildSource(cfg *config.Config) (capture.Source, error) {
	res, err := capture.ParseResolution(cfg.Capture.Resolution)
	if err != nil {
		return nil, err
	}

	if cfg.Capture.SourceURL == "" {
		slog.Info("no source_url configured, using synthetic test pattern")
		return capture.NewSyntheticSource(res, cfg.Capture.TargetFPS, "synthetic"), nil
	}

	return capture.NewCameraSource(capture.CameraConfig{
		SourceURL:    cfg.Capture.SourceURL,
		Resolution:   res,
		TargetFPS:    cfg.Capture.TargetFPS,
		SourceStream: cfg.InstanceID,
	})
}

// buildEngine selects the worker subprocess when configured, the in-process
// stub otherwise (no-model mode: pipeline mechanics without inference).
func buildEngine(cfg *config.Config) engine.Engine {
	if cfg.Engine.WorkerCommand == "" {
		slog.Warn("no worker_command configured, using stub engine (no detections)")
		return engine.NewStub()
	}
	return engine.NewSubprocessEngine()
}

// shutdown tears down in reverse order of startup: stream first, then the
// pipeline via its one idempotent cleanup path.
func shutdown(p *pipeline.Pipeline, source capture.Source) error {
	if err := source.Stop(); err != nil {
		slog.Error("capture stop failed", "error", err)
	}
	if err := p.UpdateInputs(context.Background(), false, false); err != nil {
		slog.Error("pipeline teardown failed", "error", err)
	}

	status := p.Status()
	slog.Info("facetrackd stopped",
		"published", status.PublishCount,
		"state", status.State.String(),
	)
	return nil
}

func logStats(p *pipeline.Pipeline, source capture.Source) {
	status := p.Status()
	stats := source.Stats()
	slog.Info("stats",
		"state", status.State.String(),
		"published", status.PublishCount,
		"pipeline_drops", p.FramesDropped(),
		"has_face", status.Landmarks.HasFace(),
		"capture_fps", fmt.Sprintf("%.2f", stats.FPSReal),
		"capture_drop_rate", fmt.Sprintf("%.1f%%", stats.DropRate),
		"error", status.Err,
	)
}
