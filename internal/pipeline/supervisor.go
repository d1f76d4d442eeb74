package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/ai"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/metrics"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/service"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/video"
)

const (
	DefaultIdleInterval = 10 * time.Millisecond
	DefaultJoinTimeout  = 5 * time.Second

	stopReasonRequested = "stopped"
)

// Ingestor is the input side of a pipeline
type Ingestor interface {
	Start(ctx context.Context) error
	Stop() error
	LatestFrame() (*video.Frame, bool)
	Done() <-chan struct{}
	Err() error
}

// Encoder is the output side of a pipeline
type Encoder interface {
	Start(ctx context.Context) error
	WriteFrame(frame *video.Frame) error
	Stop() error
}

// Renderer resizes frames and draws the metrics overlay
type Renderer interface {
	Resize(frame *video.Frame, width, height int) (*video.Frame, error)
	Overlay(frame *video.Frame, snap metrics.Snapshot) (*video.Frame, error)
}

// Components are the parts a Supervisor coordinates
type Components struct {
	Ingestor Ingestor
	Encoder  Encoder
	Detector ai.Detector
	Renderer Renderer
}

// Options tune the supervisor loop
type Options struct {
	IdleInterval time.Duration
	JoinTimeout  time.Duration
	FPSWindow    int
	Fs           afero.Fs
	Publisher    service.Publisher
}

func (o Options) withDefaults() Options {
	if o.IdleInterval <= 0 {
		o.IdleInterval = DefaultIdleInterval
	}
	if o.JoinTimeout <= 0 {
		o.JoinTimeout = DefaultJoinTimeout
	}
	if o.FPSWindow < 1 {
		o.FPSWindow = metrics.DefaultFPSWindow
	}
	if o.Fs == nil {
		o.Fs = afero.NewOsFs()
	}
	return o
}

// writeGate admits encoder writes until it is closed. Once close has been
// called no new write begins; close waits for an in-flight write.
type writeGate struct {
	mu     sync.Mutex
	closed atomic.Bool
}

func (g *writeGate) write(enc Encoder, frame *video.Frame) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed.Load() {
		return false, nil
	}
	return true, enc.WriteFrame(frame)
}

// close shuts the gate and waits up to timeout for an in-flight write.
// It reports whether the gate drained in time.
func (g *writeGate) close(timeout time.Duration) bool {
	g.closed.Store(true)

	drained := make(chan struct{})
	go func() {
		g.mu.Lock()
		g.mu.Unlock()
		close(drained)
	}()

	select {
	case <-drained:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Supervisor runs one pipeline: it starts the ingestor and encoder, drives
// the per-frame loop in its own goroutine, and tears everything down on
// Stop or on a fatal error.
type Supervisor struct {
	cfg     Config
	comp    Components
	opts    Options
	logger  *logger.Logger
	tracker *metrics.Tracker

	// lifecycleMu serializes Start, Stop and teardown
	lifecycleMu sync.Mutex

	mu         sync.RWMutex
	state      State
	generation uint64
	runID      string
	startedAt  time.Time
	lastErr    error
	stopReason string
	cancel     context.CancelFunc
	done       chan struct{}
	gate       *writeGate
}

// NewSupervisor validates cfg and returns a stopped supervisor
func NewSupervisor(cfg Config, comp Components, opts Options, log *logger.Logger) (*Supervisor, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if comp.Ingestor == nil || comp.Encoder == nil || comp.Detector == nil || comp.Renderer == nil {
		return nil, configurationError("build pipeline", errors.New("ingestor, encoder, detector and renderer are required"))
	}
	opts = opts.withDefaults()

	return &Supervisor{
		cfg:     cfg,
		comp:    comp,
		opts:    opts,
		logger:  log.Named("supervisor"),
		tracker: metrics.NewTracker(opts.FPSWindow),
		state:   StateStopped,
	}, nil
}

// CheckModel returns a configuration error when the model weights are not
// a regular file on fs
func CheckModel(fs afero.Fs, path string) error {
	info, err := fs.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return configurationError("check model", fmt.Errorf("model weights not found at %s", path))
		}
		return configurationError("check model", fmt.Errorf("failed to stat model weights: %w", err))
	}
	if info.IsDir() {
		return configurationError("check model", fmt.Errorf("model weights path %s is a directory", path))
	}
	return nil
}

// Start brings the pipeline up. It returns ErrAlreadyRunning without side
// effects when the pipeline is already running.
func (s *Supervisor) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	switch s.State() {
	case StateRunning:
		s.logger.Warn("Pipeline already running", "run_id", s.RunID())
		return ErrAlreadyRunning
	case StateStopping:
		// A failed run is still waiting for its teardown
		s.stopLocked(ctx, s.failureReason())
	}

	if err := CheckModel(s.opts.Fs, s.cfg.ModelPath); err != nil {
		return s.startFailed(err)
	}

	if err := s.comp.Ingestor.Start(ctx); err != nil {
		return s.startFailed(&Error{Kind: KindConnection, Op: "connect input", Err: err})
	}

	if err := s.comp.Encoder.Start(ctx); err != nil {
		if stopErr := s.comp.Ingestor.Stop(); stopErr != nil {
			s.logger.Warn("Failed to stop ingestor", "error", stopErr)
		}
		return s.startFailed(&Error{Kind: KindEncoder, Op: "start encoder", Err: err})
	}

	now := time.Now()
	s.tracker.Reset(now)

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	gate := &writeGate{}
	done := make(chan struct{})
	runID := uuid.NewString()

	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.state = StateRunning
	s.runID = runID
	s.startedAt = now
	s.lastErr = nil
	s.stopReason = ""
	s.cancel = cancel
	s.done = done
	s.gate = gate
	s.mu.Unlock()

	go s.loop(loopCtx, gen, gate, done)

	s.logger.Info("Pipeline started",
		"run_id", runID,
		"input", s.cfg.InputURL,
		"output", s.cfg.OutputURL,
		"size", fmt.Sprintf("%dx%d", s.cfg.Width, s.cfg.Height),
		"fps", s.cfg.FPS,
	)
	s.publish(service.EventTypePipelineStarted, map[string]interface{}{
		"run_id": runID,
		"config": s.cfg,
	})
	return nil
}

func (s *Supervisor) startFailed(err error) error {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	s.logger.Error("Failed to start pipeline", "error", err)
	return err
}

// Stop stops the pipeline. It returns ErrNotRunning when there is nothing
// to stop.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	switch s.State() {
	case StateStopped:
		return ErrNotRunning
	case StateStopping:
		s.stopLocked(ctx, s.failureReason())
		return nil
	}

	s.stopLocked(ctx, stopReasonRequested)
	return nil
}

// Close stops a running pipeline and releases the detector
func (s *Supervisor) Close(ctx context.Context) error {
	if err := s.Stop(ctx); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	return s.comp.Detector.Close()
}

// stopLocked tears the current run down. The loop join is bounded by
// JoinTimeout and ctx. Callers hold lifecycleMu.
func (s *Supervisor) stopLocked(ctx context.Context, reason string) {
	s.mu.Lock()
	s.state = StateStopping
	cancel, done, gate, runID := s.cancel, s.done, s.gate, s.runID
	s.cancel = nil
	s.mu.Unlock()

	if gate != nil && !gate.close(s.opts.JoinTimeout) {
		s.logger.Warn("Encoder write still in flight", "run_id", runID)
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(s.opts.JoinTimeout):
			s.logger.Warn("Processing loop did not exit in time",
				"run_id", runID,
				"timeout", s.opts.JoinTimeout,
			)
		case <-ctx.Done():
			s.logger.Warn("Stop deadline reached before processing loop exited", "run_id", runID)
		}
	}

	if err := s.comp.Ingestor.Stop(); err != nil {
		s.logger.Warn("Failed to stop ingestor", "run_id", runID, "error", err)
	}
	if err := s.comp.Encoder.Stop(); err != nil {
		s.logger.Warn("Failed to stop encoder", "run_id", runID, "error", err)
	}

	snap := s.tracker.Snapshot()

	s.mu.Lock()
	s.state = StateStopped
	s.stopReason = reason
	lastErr := s.lastErr
	s.mu.Unlock()

	s.logger.Info("Pipeline stopped",
		"run_id", runID,
		"reason", reason,
		"frames", snap.FramesProcessed,
	)

	data := map[string]interface{}{
		"run_id":   runID,
		"reason":   reason,
		"frames":   snap.FramesProcessed,
		"last_fps": snap.FPS,
	}
	if lastErr != nil {
		data["error"] = lastErr.Error()
	}
	s.publish(service.EventTypePipelineStopped, data)
}

// fail records a fatal error of run gen and schedules its teardown. Errors
// from a run that is no longer current are ignored.
func (s *Supervisor) fail(gen uint64, err error) {
	s.mu.Lock()
	if s.generation != gen || s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	s.state = StateStopping
	s.lastErr = err
	runID := s.runID
	s.mu.Unlock()

	s.logger.Error("Pipeline failed", "run_id", runID, "kind", KindOf(err), "error", err)
	go s.teardown(gen)
}

func (s *Supervisor) teardown(gen uint64) {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.RLock()
	current := s.generation == gen && s.state == StateStopping
	s.mu.RUnlock()
	if !current {
		return
	}
	s.stopLocked(context.Background(), s.failureReason())
}

func (s *Supervisor) failureReason() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastErr == nil {
		return stopReasonRequested
	}
	if kind := KindOf(s.lastErr); kind != "" {
		return string(kind)
	}
	return "error"
}

func (s *Supervisor) loop(ctx context.Context, gen uint64, gate *writeGate, done chan struct{}) {
	defer close(done)

	idle := time.NewTimer(s.opts.IdleInterval)
	defer idle.Stop()

	var lastSeq uint64
	ingestDone := s.comp.Ingestor.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ingestDone:
			err := s.comp.Ingestor.Err()
			if err == nil {
				err = errors.New("input stream closed")
			}
			s.fail(gen, &Error{Kind: KindConnection, Op: "read input", Err: err})
			return
		default:
		}

		frame, ok := s.comp.Ingestor.LatestFrame()
		if !ok || frame.Seq == lastSeq {
			idle.Reset(s.opts.IdleInterval)
			select {
			case <-ctx.Done():
				return
			case <-idle.C:
			}
			continue
		}
		lastSeq = frame.Seq

		if err := s.process(ctx, gate, frame); err != nil {
			s.fail(gen, err)
			return
		}
	}
}

// process runs one frame through resize, detection, drawing, the metrics
// overlay and the encoder
func (s *Supervisor) process(ctx context.Context, gate *writeGate, frame *video.Frame) error {
	start := time.Now()

	resized, err := s.comp.Renderer.Resize(frame, s.cfg.Width, s.cfg.Height)
	if err != nil {
		s.logger.Warn("Dropping frame, resize failed", "seq", frame.Seq, "error", err)
		return nil
	}

	detStart := time.Now()
	detections := s.detect(ctx, resized)
	detTime := time.Since(detStart)

	annotated, err := s.comp.Detector.Draw(resized, detections)
	if err != nil {
		s.logger.Warn("Failed to draw detections", "seq", frame.Seq, "error", err)
		annotated = resized
	}
	processing := time.Since(start)

	out, err := s.comp.Renderer.Overlay(annotated, s.tracker.Snapshot())
	if err != nil {
		s.logger.Warn("Failed to draw metrics overlay", "seq", frame.Seq, "error", err)
		out = annotated
	}

	latency := time.Since(start)
	written, err := gate.write(s.comp.Encoder, out)
	if err != nil {
		return &Error{Kind: KindEncoderPipe, Op: "write frame", Err: err}
	}
	if !written {
		return nil
	}

	s.tracker.Record(time.Now(), metrics.Sample{
		Latency:        latency,
		DetectionTime:  detTime,
		ProcessingTime: processing,
	})
	return nil
}

// detect calls the detector and turns errors and panics into zero
// detections
func (s *Supervisor) detect(ctx context.Context, frame *video.Frame) (detections []ai.Detection) {
	defer func() {
		if r := recover(); r != nil {
			s.detectionFailed(frame, fmt.Errorf("detector panic: %v", r))
			detections = nil
		}
	}()

	var err error
	detections, err = s.comp.Detector.Detect(ctx, frame)
	if err != nil {
		// Cancellation by Stop is not a detector fault
		if ctx.Err() == nil {
			s.detectionFailed(frame, err)
		}
		return nil
	}
	return detections
}

func (s *Supervisor) detectionFailed(frame *video.Frame, err error) {
	derr := &Error{Kind: KindDetection, Op: "detect", Err: err}
	s.logger.Warn("Detection failed, continuing without detections", "seq", frame.Seq, "error", derr)
	s.publish(service.EventTypeDetectionFailed, map[string]interface{}{
		"run_id": s.RunID(),
		"seq":    frame.Seq,
		"error":  err.Error(),
	})
}

func (s *Supervisor) publish(eventType service.EventType, data map[string]interface{}) {
	if s.opts.Publisher == nil {
		return
	}
	s.opts.Publisher.Publish(service.Event{
		Type:   eventType,
		Source: "pipeline",
		Data:   data,
	})
}

// Metrics returns a copy of the current metrics; zero before the first start
func (s *Supervisor) Metrics() metrics.Snapshot {
	return s.tracker.Snapshot()
}

// State returns the lifecycle state
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// RunID returns the id of the current or most recent run
func (s *Supervisor) RunID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runID
}

// StartedAt returns when the current or most recent run started
func (s *Supervisor) StartedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startedAt
}

// StopReason returns why the most recent run stopped
func (s *Supervisor) StopReason() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopReason
}

// LastError returns the error that failed the most recent start or run
func (s *Supervisor) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Config returns the run configuration with defaults applied
func (s *Supervisor) Config() Config {
	return s.cfg
}
