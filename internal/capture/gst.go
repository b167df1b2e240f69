package capture

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// CameraConfig configures a GStreamer-backed camera source.
type CameraConfig struct {
	// SourceURL is either an rtsp:// URL or a local device path
	// (e.g. /dev/video0).
	SourceURL string
	// Resolution is the target frame resolution.
	Resolution Resolution
	// TargetFPS is the target frame rate (0.1 - 60.0). The pipeline's
	// videorate element drops frames to hold this rate.
	TargetFPS float64
	// SourceStream labels emitted frames (defaults to "camera").
	SourceStream string
}

// CameraSource implements Source using a GStreamer pipeline:
//
//	<src> → decode → videoconvert → videoscale → videorate → capsfilter(RGB) → appsink
//
// The appsink is configured with max-buffers=1 and drop=true so the pipeline
// itself holds only the latest frame.
type CameraSource struct {
	cfg    CameraConfig
	width  int
	height int

	pipeline *gst.Pipeline
	appsink  *app.Sink

	frames chan Frame
	mu     sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Statistics (atomic for thread-safety)
	frameCount    uint64
	framesDropped uint64
	started       time.Time

	// Prevents double-close of the frame channel on repeated Stop
	framesClosed atomic.Bool
}

// NewCameraSource creates a camera source with fail-fast validation.
//
// Returns an error if the URL is empty, the FPS is out of range, or
// GStreamer is not available on this host.
func NewCameraSource(cfg CameraConfig) (*CameraSource, error) {
	if cfg.SourceURL == "" {
		return nil, fmt.Errorf("capture: source URL is required")
	}
	if cfg.TargetFPS < 0.1 || cfg.TargetFPS > 60 {
		return nil, fmt.Errorf("capture: invalid FPS %.2f (must be 0.1-60)", cfg.TargetFPS)
	}
	if cfg.SourceStream == "" {
		cfg.SourceStream = "camera"
	}
	if err := checkGStreamerAvailable(); err != nil {
		return nil, fmt.Errorf("capture: GStreamer not available: %w", err)
	}

	width, height := cfg.Resolution.Dimensions()

	s := &CameraSource{
		cfg:    cfg,
		width:  width,
		height: height,
		frames: make(chan Frame, 10),
	}

	slog.Info("capture: camera source created",
		"url", cfg.SourceURL,
		"resolution", fmt.Sprintf("%dx%d", width, height),
		"target_fps", cfg.TargetFPS,
	)

	return s, nil
}

// Start builds the GStreamer pipeline, moves it to PLAYING and returns the
// frame channel. Frames arrive asynchronously once the pipeline is playing.
func (s *CameraSource) Start(ctx context.Context) (<-chan Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return nil, fmt.Errorf("capture: source already started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = time.Now()

	if err := s.buildPipeline(); err != nil {
		s.cancel()
		s.cancel = nil
		return nil, err
	}

	s.appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: s.onNewSample,
	})

	if err := s.pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("capture: failed to start pipeline: %w", err)
	}

	s.wg.Add(1)
	go s.monitorBus()

	slog.Info("capture: camera source started",
		"url", s.cfg.SourceURL,
		"note", "frames arrive asynchronously once pipeline reaches PLAYING",
	)

	return s.frames, nil
}

// buildPipeline assembles the decode chain for the configured source.
// rtsp:// URLs get an rtspsrc with dynamic-pad linking; anything else is
// treated as a V4L2 device path.
func (s *CameraSource) buildPipeline() error {
	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return fmt.Errorf("capture: failed to create pipeline: %w", err)
	}

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return fmt.Errorf("capture: failed to create videoconvert: %w", err)
	}

	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return fmt.Errorf("capture: failed to create videoscale: %w", err)
	}

	videorate, err := gst.NewElement("videorate")
	if err != nil {
		return fmt.Errorf("capture: failed to create videorate: %w", err)
	}
	videorate.SetProperty("drop-only", true)     // Only drop frames, never duplicate
	videorate.SetProperty("skip-to-first", true) // Skip to first frame on start

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return fmt.Errorf("capture: failed to create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(
		buildFramerateCaps(s.width, s.height, s.cfg.TargetFPS)))

	appsink, err := app.NewAppSink()
	if err != nil {
		return fmt.Errorf("capture: failed to create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)    // Real-time: no clock sync
	appsink.SetProperty("max-buffers", 1) // Keep only latest frame
	appsink.SetProperty("drop", true)

	if strings.HasPrefix(s.cfg.SourceURL, "rtsp://") {
		rtspsrc, err := gst.NewElement("rtspsrc")
		if err != nil {
			return fmt.Errorf("capture: failed to create rtspsrc: %w", err)
		}
		rtspsrc.SetProperty("location", s.cfg.SourceURL)
		rtspsrc.SetProperty("protocols", 4) // TCP only
		rtspsrc.SetProperty("latency", 200)

		depay, err := gst.NewElement("rtph264depay")
		if err != nil {
			return fmt.Errorf("capture: failed to create rtph264depay: %w", err)
		}

		decoder, err := gst.NewElement("avdec_h264")
		if err != nil {
			return fmt.Errorf("capture: failed to create avdec_h264: %w", err)
		}
		decoder.SetProperty("max-threads", 0) // Auto-detect cores

		pipeline.AddMany(rtspsrc, depay, decoder, converter, scaler, videorate, capsfilter, appsink.Element)

		if err := gst.ElementLinkMany(depay, decoder, converter, scaler, videorate, capsfilter, appsink.Element); err != nil {
			return fmt.Errorf("capture: failed to link pipeline elements: %w", err)
		}

		// rtspsrc pads are dynamic: link to the depayloader when they appear.
		rtspsrc.Connect("pad-added", func(self *gst.Element, srcPad *gst.Pad) {
			sinkPad := depay.GetStaticPad("sink")
			if sinkPad == nil {
				slog.Error("capture: failed to get sink pad from depayloader")
				return
			}
			if ret := srcPad.Link(sinkPad); ret != gst.PadLinkOK {
				slog.Error("capture: failed to link rtspsrc pad", "ret", ret)
			}
		})
	} else {
		v4l2src, err := gst.NewElement("v4l2src")
		if err != nil {
			return fmt.Errorf("capture: failed to create v4l2src: %w", err)
		}
		v4l2src.SetProperty("device", s.cfg.SourceURL)

		pipeline.AddMany(v4l2src, converter, scaler, videorate, capsfilter, appsink.Element)

		if err := gst.ElementLinkMany(v4l2src, converter, scaler, videorate, capsfilter, appsink.Element); err != nil {
			return fmt.Errorf("capture: failed to link pipeline elements: %w", err)
		}
	}

	s.pipeline = pipeline
	s.appsink = appsink
	return nil
}

// onNewSample is invoked by GStreamer for each frame reaching the appsink.
// It copies the pixel data (GStreamer reuses the buffer) and emits it
// non-blocking; a full channel drops the frame.
func (s *CameraSource) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		// A single corrupted frame must not kill the stream.
		slog.Warn("capture: failed to pull sample from appsink, skipping frame")
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("capture: failed to get buffer from sample, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("capture: empty buffer received")
		return gst.FlowOK
	}

	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	frame := Frame{
		Seq:          atomic.AddUint64(&s.frameCount, 1),
		Timestamp:    time.Now(),
		Width:        s.width,
		Height:       s.height,
		Data:         frameData,
		SourceStream: s.cfg.SourceStream,
		TraceID:      uuid.New().String(),
	}

	select {
	case s.frames <- frame:
	default:
		atomic.AddUint64(&s.framesDropped, 1)
		slog.Debug("capture: dropping frame, channel full",
			"seq", frame.Seq,
			"trace_id", frame.TraceID,
		)
	}

	return gst.FlowOK
}

// monitorBus watches the pipeline bus for errors and end-of-stream.
func (s *CameraSource) monitorBus() {
	defer s.wg.Done()

	bus := s.pipeline.GetPipelineBus()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
			// Short poll timeout keeps shutdown responsive.
			msg := bus.TimedPop(50 * time.Millisecond)
			if msg == nil {
				continue
			}

			switch msg.Type() {
			case gst.MessageEOS:
				slog.Info("capture: end of stream",
					"uptime", time.Since(s.started),
					"frames", atomic.LoadUint64(&s.frameCount),
				)
				return
			case gst.MessageError:
				gerr := msg.ParseError()
				slog.Error("capture: pipeline error",
					"error", gerr.Error(),
					"debug", gerr.DebugString(),
					"frames", atomic.LoadUint64(&s.frameCount),
				)
				return
			}
		}
	}
}

// Stop shuts the source down: cancels the monitor, tears the pipeline down
// to NULL and closes the frame channel. Idempotent.
func (s *CameraSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	slog.Info("capture: stopping camera source")
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		slog.Warn("capture: stop timeout exceeded, goroutines may still be running")
	}

	if s.pipeline != nil {
		if err := s.pipeline.SetState(gst.StateNull); err != nil {
			slog.Error("capture: failed to set pipeline to NULL", "error", err)
		}
		s.pipeline = nil
		s.appsink = nil
	}

	if s.framesClosed.CompareAndSwap(false, true) {
		close(s.frames)
	}

	slog.Info("capture: camera source stopped",
		"frames_captured", atomic.LoadUint64(&s.frameCount),
		"frames_dropped", atomic.LoadUint64(&s.framesDropped),
		"uptime", time.Since(s.started),
	)

	s.cancel = nil
	s.ctx = nil
	return nil
}

// Stats returns current source statistics.
func (s *CameraSource) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	frameCount := atomic.LoadUint64(&s.frameCount)
	framesDropped := atomic.LoadUint64(&s.framesDropped)

	var fpsReal float64
	if !s.started.IsZero() {
		if uptime := time.Since(s.started).Seconds(); uptime > 0 {
			fpsReal = float64(frameCount) / uptime
		}
	}

	var dropRate float64
	if total := frameCount + framesDropped; total > 0 {
		dropRate = float64(framesDropped) / float64(total) * 100.0
	}

	return Stats{
		FrameCount:    frameCount,
		FramesDropped: framesDropped,
		DropRate:      dropRate,
		FPSTarget:     s.cfg.TargetFPS,
		FPSReal:       fpsReal,
		SourceStream:  s.cfg.SourceStream,
		Resolution:    fmt.Sprintf("%dx%d", s.width, s.height),
		IsRunning:     s.cancel != nil,
	}
}

// checkGStreamerAvailable verifies GStreamer is installed and functional.
// Fail-fast validation, run at construction time.
func checkGStreamerAvailable() error {
	gst.Init(nil)

	elem, err := gst.NewElement("fakesrc")
	if err != nil {
		return fmt.Errorf("GStreamer not available or not properly installed: %w", err)
	}
	elem.SetState(gst.StateNull)
	return nil
}

// buildFramerateCaps builds a caps string locking format, resolution and
// framerate. Fractional rates below 1 Hz become 1/N.
func buildFramerateCaps(width, height int, fps float64) string {
	numerator := 1
	denominator := 1
	if fps < 1.0 {
		denominator = int(1.0 / fps)
	} else {
		numerator = int(fps)
	}
	return fmt.Sprintf("video/x-raw,format=RGB,width=%d,height=%d,framerate=%d/%d",
		width, height, numerator, denominator)
}
