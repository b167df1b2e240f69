package capture

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/image/draw"
)

// patternBase is the resolution the synthetic test pattern is rendered at
// before being scaled to the configured output resolution.
const patternBaseW, patternBaseH = 320, 240

// SyntheticSource generates a moving RGB test pattern at a target FPS.
//
// It exists for tests and for running the daemon without a camera: the
// pattern gives the downstream pipeline realistic frame sizes and timing
// without any capture hardware or GStreamer installation.
type SyntheticSource struct {
	width  int
	height int
	fps    float64
	source string

	framesCh chan Frame
	stopCh   chan struct{}
	wg       sync.WaitGroup

	mu            sync.RWMutex
	seq           uint64
	framesEmitted uint64
	framesDropped uint64
	isRunning     bool
	startTime     time.Time
}

// NewSyntheticSource creates a synthetic source emitting width x height RGB
// frames at the given rate.
func NewSyntheticSource(res Resolution, fps float64, source string) *SyntheticSource {
	if source == "" {
		source = "synthetic"
	}
	width, height := res.Dimensions()
	return &SyntheticSource{
		width:    width,
		height:   height,
		fps:      fps,
		source:   source,
		framesCh: make(chan Frame, 10),
		stopCh:   make(chan struct{}),
	}
}

// Start begins generating frames.
func (m *SyntheticSource) Start(ctx context.Context) (<-chan Frame, error) {
	m.mu.Lock()
	if m.isRunning {
		m.mu.Unlock()
		return nil, fmt.Errorf("capture: synthetic source already running")
	}
	if m.fps <= 0 {
		m.mu.Unlock()
		return nil, fmt.Errorf("capture: invalid synthetic FPS %.2f", m.fps)
	}
	m.isRunning = true
	m.startTime = time.Now()
	m.mu.Unlock()

	slog.Info("capture: synthetic source starting",
		"resolution", fmt.Sprintf("%dx%d", m.width, m.height),
		"fps", m.fps,
	)

	m.wg.Add(1)
	go m.generateFrames(ctx)

	return m.framesCh, nil
}

// Stop stops frame generation and closes the channel. Idempotent.
func (m *SyntheticSource) Stop() error {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return nil
	}
	m.isRunning = false
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()
	close(m.framesCh)

	slog.Info("capture: synthetic source stopped",
		"frames_emitted", m.framesEmitted,
		"duration", time.Since(m.startTime),
	)
	return nil
}

// Stats returns source statistics.
func (m *SyntheticSource) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var fpsReal float64
	if m.framesEmitted > 0 {
		if elapsed := time.Since(m.startTime).Seconds(); elapsed > 0 {
			fpsReal = float64(m.framesEmitted) / elapsed
		}
	}

	var dropRate float64
	if total := m.framesEmitted + m.framesDropped; total > 0 {
		dropRate = float64(m.framesDropped) / float64(total) * 100.0
	}

	return Stats{
		FrameCount:    m.framesEmitted,
		FramesDropped: m.framesDropped,
		DropRate:      dropRate,
		FPSTarget:     m.fps,
		FPSReal:       fpsReal,
		SourceStream:  m.source,
		Resolution:    fmt.Sprintf("%dx%d", m.width, m.height),
		IsRunning:     m.isRunning,
	}
}

// generateFrames emits frames at the target rate until stopped.
func (m *SyntheticSource) generateFrames(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(time.Duration(float64(time.Second) / m.fps))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			frame := m.renderFrame()
			select {
			case m.framesCh <- frame:
				m.mu.Lock()
				m.framesEmitted++
				m.mu.Unlock()
			default:
				// Consumer behind: drop, never queue.
				m.mu.Lock()
				m.framesDropped++
				m.mu.Unlock()
			}
		}
	}
}

// renderFrame draws the test pattern at base resolution, scales it to the
// output resolution and packs it as RGB24.
func (m *SyntheticSource) renderFrame() Frame {
	m.mu.Lock()
	seq := m.seq
	m.seq++
	m.mu.Unlock()

	base := image.NewRGBA(image.Rect(0, 0, patternBaseW, patternBaseH))

	// Diagonal gradient background with a square sweeping horizontally,
	// so consecutive frames differ and motion is visible downstream.
	for y := 0; y < patternBaseH; y++ {
		for x := 0; x < patternBaseW; x++ {
			base.SetRGBA(x, y, color.RGBA{
				R: uint8((x * 255) / patternBaseW),
				G: uint8((y * 255) / patternBaseH),
				B: uint8(((x + y) * 255) / (patternBaseW + patternBaseH)),
				A: 255,
			})
		}
	}
	boxX := int(seq*7) % (patternBaseW - 32)
	for y := patternBaseH/2 - 16; y < patternBaseH/2+16; y++ {
		for x := boxX; x < boxX+32; x++ {
			base.SetRGBA(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}

	scaled := image.NewRGBA(image.Rect(0, 0, m.width, m.height))
	draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), base, base.Bounds(), draw.Src, nil)

	// Repack RGBA → RGB24 (capture contract is raw RGB).
	data := make([]byte, m.width*m.height*3)
	for y := 0; y < m.height; y++ {
		srcRow := scaled.Pix[y*scaled.Stride:]
		dstRow := data[y*m.width*3:]
		for x := 0; x < m.width; x++ {
			dstRow[x*3+0] = srcRow[x*4+0]
			dstRow[x*3+1] = srcRow[x*4+1]
			dstRow[x*3+2] = srcRow[x*4+2]
		}
	}

	return Frame{
		Seq:          seq,
		Timestamp:    time.Now(),
		Width:        m.width,
		Height:       m.height,
		Data:         data,
		SourceStream: m.source,
		TraceID:      uuid.New().String(),
	}
}
