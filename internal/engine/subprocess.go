package engine

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/visiona/facetrack/internal/capture"
	"github.com/visiona/facetrack/internal/landmark"
)

const (
	// writeTimeout bounds a single stdin write so a hung worker cannot
	// block the caller indefinitely.
	writeTimeout = 2 * time.Second
	// stopTimeout is how long Close waits for goroutines before force-killing.
	stopTimeout = 2 * time.Second
	// maxMessageSize guards the length-prefix decoder against a corrupt
	// stream claiming a multi-gigabyte message.
	maxMessageSize = 64 << 20
)

// SubprocessEngine runs the landmark model in a worker subprocess, bridging
// Go and the model runtime over stdin/stdout.
//
// Wire protocol: each message is msgpack with 4-byte big-endian length-prefix
// framing, so both sides can detect message boundaries in the stream.
// DetectForVideo is strictly request/response: one framed request down stdin,
// one framed response back on stdout. The worker's stderr is relayed through
// slog with level mapping.
type SubprocessEngine struct{}

// NewSubprocessEngine returns the production engine.
func NewSubprocessEngine() *SubprocessEngine { return &SubprocessEngine{} }

// CreateFromOptions spawns the worker subprocess and returns a handle once
// the process is running. Spawning loads the model in the worker, which can
// take hundreds of milliseconds to seconds.
func (e *SubprocessEngine) CreateFromOptions(ctx context.Context, opts Options) (Handle, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	h := &subprocessHandle{opts: opts}
	h.ctx, h.cancel = context.WithCancel(context.Background())

	if err := h.spawn(ctx); err != nil {
		h.cancel()
		return nil, err
	}
	return h, nil
}

// subprocessHandle is a live worker process.
type subprocessHandle struct {
	opts Options

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	// ctx governs the process lifetime, not any single request.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	// reqMu serializes request/response exchanges on the pipes.
	reqMu sync.Mutex

	detectCount uint64
	totalMS     uint64
}

// detectRequest is the framed message sent to the worker per frame.
type detectRequest struct {
	FrameData   []byte `msgpack:"frame_data"`
	Width       int    `msgpack:"width"`
	Height      int    `msgpack:"height"`
	TimestampMS int64  `msgpack:"timestamp_ms"`
	Seq         uint64 `msgpack:"seq"`
	TraceID     string `msgpack:"trace_id"`
}

// detectResponse is the worker's framed reply.
type detectResponse struct {
	Faces []struct {
		Landmarks []struct {
			X float64 `msgpack:"x"`
			Y float64 `msgpack:"y"`
			Z float64 `msgpack:"z"`
		} `msgpack:"landmarks"`
		Categories []struct {
			Name  string  `msgpack:"name"`
			Score float64 `msgpack:"score"`
		} `msgpack:"categories"`
	} `msgpack:"faces"`
	Error  string             `msgpack:"error"`
	Timing map[string]float64 `msgpack:"timing"`
}

// spawn starts the worker process and its supervision goroutines.
func (h *subprocessHandle) spawn(ctx context.Context) error {
	args := []string{
		"--model", h.opts.ModelAssetPath,
		"--max-faces", fmt.Sprintf("%d", h.opts.MaxFaces),
		"--confidence", fmt.Sprintf("%.2f", h.opts.MinConfidence),
	}
	if h.opts.RuntimeAssetSource != "" {
		args = append(args, "--runtime", h.opts.RuntimeAssetSource)
	}

	h.cmd = exec.CommandContext(h.ctx, h.opts.WorkerCommand, args...)

	stdin, err := h.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("engine: failed to create stdin pipe: %w", err)
	}
	h.stdin = stdin

	stdout, err := h.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("engine: failed to create stdout pipe: %w", err)
	}
	h.stdout = stdout

	stderr, err := h.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("engine: failed to create stderr pipe: %w", err)
	}
	h.stderr = stderr

	if err := h.cmd.Start(); err != nil {
		return fmt.Errorf("engine: failed to start worker process: %w", err)
	}

	slog.Info("engine: worker process spawned",
		"command", h.opts.WorkerCommand,
		"pid", h.cmd.Process.Pid,
		"model", h.opts.ModelAssetPath,
		"max_faces", h.opts.MaxFaces,
	)

	h.wg.Add(1)
	go h.logStderr()

	h.wg.Add(1)
	go h.waitProcess()

	// Give the worker a chance to fail fast (bad model path, missing
	// runtime) before reporting success to the caller.
	select {
	case <-ctx.Done():
		return fmt.Errorf("engine: creation cancelled: %w", ctx.Err())
	case <-time.After(50 * time.Millisecond):
	}
	if h.cmd.ProcessState != nil {
		return fmt.Errorf("engine: worker exited during startup: %s", h.cmd.ProcessState)
	}
	return nil
}

// DetectForVideo sends the frame to the worker and blocks for its response.
func (h *subprocessHandle) DetectForVideo(frame *capture.Frame, timestampMS int64) (*Result, error) {
	if h.closed.Load() {
		return nil, ErrClosed
	}
	if !frame.Valid() {
		return nil, ErrInvalidFrame
	}

	req := detectRequest{
		FrameData:   frame.Data,
		Width:       frame.Width,
		Height:      frame.Height,
		TimestampMS: timestampMS,
		Seq:         frame.Seq,
		TraceID:     frame.TraceID,
	}
	payload, err := msgpack.Marshal(&req)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to marshal request: %w", err)
	}

	h.reqMu.Lock()
	defer h.reqMu.Unlock()
	if h.closed.Load() {
		return nil, ErrClosed
	}

	if err := h.writeWithTimeout(payload); err != nil {
		return nil, err
	}

	respData, err := readFrame(h.stdout)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to read response: %w", err)
	}

	var resp detectResponse
	if err := msgpack.Unmarshal(respData, &resp); err != nil {
		return nil, fmt.Errorf("engine: failed to unmarshal response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("engine: worker detection failed: %s", resp.Error)
	}

	atomic.AddUint64(&h.detectCount, 1)
	if total, ok := resp.Timing["total_ms"]; ok {
		atomic.AddUint64(&h.totalMS, uint64(total))
	}

	result := &Result{Faces: make([]Face, 0, len(resp.Faces))}
	for _, rf := range resp.Faces {
		face := Face{
			Landmarks:  make([]landmark.Point, 0, len(rf.Landmarks)),
			Categories: make([]Category, 0, len(rf.Categories)),
		}
		for _, p := range rf.Landmarks {
			face.Landmarks = append(face.Landmarks, landmark.Point{X: p.X, Y: p.Y, Z: p.Z})
		}
		for _, c := range rf.Categories {
			face.Categories = append(face.Categories, Category{Name: c.Name, Score: c.Score})
		}
		result.Faces = append(result.Faces, face)
	}
	return result, nil
}

// writeWithTimeout writes one framed message to stdin, bounded by
// writeTimeout so a hung worker surfaces as an error instead of a stall.
func (h *subprocessHandle) writeWithTimeout(payload []byte) error {
	writeErr := make(chan error, 1)
	go func() {
		writeErr <- writeFrame(h.stdin, payload)
	}()

	select {
	case err := <-writeErr:
		if err != nil {
			return fmt.Errorf("engine: failed to write request: %w", err)
		}
		return nil
	case <-time.After(writeTimeout):
		return fmt.Errorf("engine: stdin write timeout (worker may be hung)")
	case <-h.ctx.Done():
		return fmt.Errorf("engine: handle closing during write")
	}
}

// logStderr relays worker stderr through slog, mapping the worker's log
// levels onto ours.
func (h *subprocessHandle) logStderr() {
	defer h.wg.Done()

	scanner := bufio.NewScanner(h.stderr)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "[ERROR]") || strings.Contains(line, "[CRITICAL]"):
			slog.Error("engine: worker error", "log", line)
		case strings.Contains(line, "[WARNING]") || strings.Contains(line, "[WARN]"):
			slog.Warn("engine: worker warning", "log", line)
		default:
			slog.Debug("engine: worker log", "log", line)
		}
	}
}

// waitProcess reaps the worker process to prevent zombies and logs how it
// ended.
func (h *subprocessHandle) waitProcess() {
	defer h.wg.Done()

	if h.cmd == nil || h.cmd.Process == nil {
		return
	}
	err := h.cmd.Wait()

	switch {
	case err == nil:
		slog.Info("engine: worker exited cleanly", "pid", h.cmd.Process.Pid)
	case h.ctx.Err() != nil:
		slog.Debug("engine: worker exited (shutdown)", "pid", h.cmd.Process.Pid)
	default:
		slog.Error("engine: worker exited unexpectedly",
			"pid", h.cmd.Process.Pid,
			"error", err,
		)
	}
}

// Close terminates the worker. Idempotent.
func (h *subprocessHandle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}

	slog.Info("engine: closing worker",
		"detections", atomic.LoadUint64(&h.detectCount),
	)

	h.cancel()
	if h.stdin != nil {
		h.stdin.Close()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(stopTimeout):
		slog.Warn("engine: worker stop timeout, force killing")
		if h.cmd != nil && h.cmd.Process != nil {
			if err := h.cmd.Process.Kill(); err != nil {
				slog.Error("engine: failed to kill worker", "error", err)
			}
		}
	}
	return nil
}

// writeFrame writes one length-prefixed message: 4 bytes big-endian length
// followed by the payload.
func writeFrame(w io.Writer, payload []byte) error {
	prefix := make([]byte, 4)
	binary.BigEndian.PutUint32(prefix, uint32(len(payload)))
	if _, err := w.Write(prefix); err != nil {
		return fmt.Errorf("failed to write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("failed to write payload: %w", err)
	}
	return nil
}

// readFrame reads one length-prefixed message.
func readFrame(r io.Reader) ([]byte, error) {
	prefix := make([]byte, 4)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(prefix)
	if length > maxMessageSize {
		return nil, fmt.Errorf("message length %d exceeds limit %d", length, maxMessageSize)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
