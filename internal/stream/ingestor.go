package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/service"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/video"
)

// ErrExhausted is returned once every reconnect attempt has failed
var ErrExhausted = errors.New("input stream reconnect attempts exhausted")

// State is the connection state of an Ingestor
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config contains ingestor configuration
type Config struct {
	URL               string
	BufferSize        int
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	StopTimeout       time.Duration
}

// Ingestor owns the input connection. A read loop pushes decoded frames
// into a bounded FrameBuffer and reconnects on read failure.
type Ingestor struct {
	cfg       Config
	dialer    Dialer
	buffer    *video.FrameBuffer
	logger    *logger.Logger
	publisher service.Publisher

	mu       sync.Mutex
	state    State
	conn     Conn
	attempts int
	seq      uint64
	started  bool
	stopped  bool
	cancel   context.CancelFunc
	done     chan struct{}
	err      error
}

// NewIngestor creates an ingestor. publisher may be nil.
func NewIngestor(cfg Config, dialer Dialer, publisher service.Publisher, log *logger.Logger) *Ingestor {
	if cfg.BufferSize < 1 {
		cfg.BufferSize = video.DefaultBufferSize
	}
	if cfg.ReconnectAttempts < 1 {
		cfg.ReconnectAttempts = 1
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	return &Ingestor{
		cfg:       cfg,
		dialer:    dialer,
		buffer:    video.NewFrameBuffer(cfg.BufferSize),
		logger:    log.Named("ingestor"),
		publisher: publisher,
		state:     StateDisconnected,
	}
}

// Connect dials the source, retrying up to ReconnectAttempts times with
// ReconnectDelay between attempts
func (in *Ingestor) Connect(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= in.cfg.ReconnectAttempts; attempt++ {
		in.setState(StateConnecting, service.EventTypeStreamConnecting, map[string]interface{}{
			"attempt": attempt,
		})

		in.mu.Lock()
		in.attempts++
		in.mu.Unlock()

		conn, err := in.dialer.Open(ctx, in.cfg.URL)
		if err == nil {
			in.mu.Lock()
			in.conn = conn
			in.mu.Unlock()
			in.setState(StateConnected, service.EventTypeStreamConnected, map[string]interface{}{
				"attempt": attempt,
			})
			in.logger.Info("Connected to input stream", "url", in.cfg.URL, "attempt", attempt)
			return nil
		}

		lastErr = err
		in.logger.Warn("Failed to open input stream",
			"url", in.cfg.URL,
			"attempt", attempt,
			"max_attempts", in.cfg.ReconnectAttempts,
			"error", err,
		)

		if attempt == in.cfg.ReconnectAttempts {
			break
		}

		select {
		case <-time.After(in.cfg.ReconnectDelay):
		case <-ctx.Done():
			in.setState(StateDisconnected, "", nil)
			return ctx.Err()
		}
	}

	in.setState(StateExhausted, service.EventTypeStreamExhausted, map[string]interface{}{
		"attempts": in.cfg.ReconnectAttempts,
		"error":    fmt.Sprint(lastErr),
	})
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, in.cfg.ReconnectAttempts, lastErr)
}

// Start connects and launches the read loop. The loop outlives ctx; it ends
// on Stop or when the source is exhausted. A stopped ingestor may be
// started again.
func (in *Ingestor) Start(ctx context.Context) error {
	in.mu.Lock()
	if in.started && !in.stopped {
		in.mu.Unlock()
		return fmt.Errorf("ingestor already started")
	}
	in.started = false
	in.stopped = false
	in.err = nil
	in.mu.Unlock()
	in.buffer.Clear()

	if err := in.Connect(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	in.mu.Lock()
	in.started = true
	in.cancel = cancel
	in.done = done
	in.mu.Unlock()

	go in.run(runCtx, done)
	return nil
}

func (in *Ingestor) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer in.releaseConn()

	for {
		if ctx.Err() != nil {
			in.setState(StateDisconnected, "", nil)
			return
		}

		in.mu.Lock()
		conn := in.conn
		in.mu.Unlock()

		frame, err := conn.Read()
		if ctx.Err() != nil {
			in.setState(StateDisconnected, "", nil)
			return
		}

		if err != nil {
			in.logger.Warn("Transient read error, reconnecting", "url", in.cfg.URL, "error", err)
			in.releaseConn()
			in.setState(StateDisconnected, service.EventTypeStreamDisconnected, map[string]interface{}{
				"error": err.Error(),
			})

			if err := in.Connect(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				in.logger.Error("Input stream lost", "url", in.cfg.URL, "error", err)
				in.mu.Lock()
				in.err = err
				in.mu.Unlock()
				return
			}
			continue
		}

		in.mu.Lock()
		in.seq++
		frame.Seq = in.seq
		in.mu.Unlock()
		if frame.Timestamp.IsZero() {
			frame.Timestamp = time.Now()
		}
		in.buffer.Push(frame)
	}
}

func (in *Ingestor) releaseConn() {
	in.mu.Lock()
	conn := in.conn
	in.conn = nil
	in.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			in.logger.Debug("Closing input stream", "error", err)
		}
	}
}

func (in *Ingestor) setState(state State, event service.EventType, data map[string]interface{}) {
	in.mu.Lock()
	in.state = state
	in.mu.Unlock()

	if in.publisher != nil && event != "" {
		if data == nil {
			data = map[string]interface{}{}
		}
		data["url"] = in.cfg.URL
		in.publisher.Publish(service.Event{
			Type:   event,
			Source: "ingestor",
			Data:   data,
		})
	}
}

// LatestFrame returns the most recent frame without blocking
func (in *Ingestor) LatestFrame() (*video.Frame, bool) {
	return in.buffer.Latest()
}

// Buffer exposes the frame buffer
func (in *Ingestor) Buffer() *video.FrameBuffer {
	return in.buffer
}

// State returns the current connection state
func (in *Ingestor) State() State {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state
}

// Attempts returns the total number of dial attempts made
func (in *Ingestor) Attempts() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.attempts
}

// Done is closed when the read loop exits. It is nil before Start.
func (in *Ingestor) Done() <-chan struct{} {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.done
}

// Err reports why the read loop exited on its own; nil after Stop
func (in *Ingestor) Err() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.err
}

// Stop cancels the read loop and waits up to StopTimeout for it to release
// the connection. It is safe to call more than once.
func (in *Ingestor) Stop() error {
	in.mu.Lock()
	if !in.started || in.stopped {
		in.mu.Unlock()
		return nil
	}
	in.stopped = true
	cancel, done := in.cancel, in.done
	in.mu.Unlock()

	cancel()

	select {
	case <-done:
		in.logger.Info("Ingestor stopped", "url", in.cfg.URL, "frames", in.frames())
		return nil
	case <-time.After(in.cfg.StopTimeout):
		in.logger.Warn("Ingestor read loop did not exit in time", "timeout", in.cfg.StopTimeout)
		return fmt.Errorf("ingestor did not stop within %v", in.cfg.StopTimeout)
	}
}

func (in *Ingestor) frames() uint64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.seq
}
