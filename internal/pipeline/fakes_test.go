package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/ai"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/metrics"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/service"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/video"
)

const testModelPath = "/models/yolo11n-obb.onnx"

// fakeIngestor hands out a new frame on every LatestFrame call until limit
// frames were produced; after that the last frame is repeated
type fakeIngestor struct {
	mu       sync.Mutex
	limit    uint64
	seq      uint64
	last     *video.Frame
	startErr error
	done     chan struct{}
	err      error
	starts   int
	stops    int
}

func newFakeIngestor(limit uint64) *fakeIngestor {
	return &fakeIngestor{limit: limit}
}

func (f *fakeIngestor) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.done = make(chan struct{})
	f.err = nil
	return nil
}

func (f *fakeIngestor) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeIngestor) LatestFrame() (*video.Frame, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.limit == 0 || f.seq < f.limit {
		f.seq++
		frame := video.NewFrame(4, 2)
		frame.Seq = f.seq
		frame.Timestamp = time.Now()
		f.last = frame
	}
	if f.last == nil {
		return nil, false
	}
	return f.last, true
}

func (f *fakeIngestor) Done() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

func (f *fakeIngestor) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// exhaust ends the fake read loop with err
func (f *fakeIngestor) exhaust(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
	close(f.done)
}

func (f *fakeIngestor) counts() (starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

// fakeEncoder counts writes. With failAt > 0 the failAt-th write and every
// write after it fail with video.ErrBrokenPipe.
type fakeEncoder struct {
	failAt   int64
	startErr error
	block    chan struct{}

	writes  atomic.Int64
	starts  atomic.Int64
	stops   atomic.Int64
	running atomic.Bool
}

func (f *fakeEncoder) Start(ctx context.Context) error {
	f.starts.Add(1)
	if f.startErr != nil {
		return f.startErr
	}
	f.running.Store(true)
	return nil
}

func (f *fakeEncoder) WriteFrame(frame *video.Frame) error {
	n := f.writes.Add(1)
	if f.block != nil {
		<-f.block
	}
	if f.failAt > 0 && n >= f.failAt {
		return video.ErrBrokenPipe
	}
	return nil
}

func (f *fakeEncoder) Stop() error {
	f.stops.Add(1)
	f.running.Store(false)
	return nil
}

// fakeDetector reports one detection per frame. The faultAt-th Detect call
// fails with an error or a panic. With blockUntilCancel every call waits
// for ctx and returns its error.
type fakeDetector struct {
	faultAt          int64
	panics           bool
	blockUntilCancel bool

	calls  atomic.Int64
	closed atomic.Int64

	mu    sync.Mutex
	drawn map[uint64]int
}

func newFakeDetector() *fakeDetector {
	return &fakeDetector{drawn: make(map[uint64]int)}
}

func (f *fakeDetector) Detect(ctx context.Context, frame *video.Frame) ([]ai.Detection, error) {
	n := f.calls.Add(1)
	if f.blockUntilCancel {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if n == f.faultAt {
		if f.panics {
			panic("tensor shape mismatch")
		}
		return nil, errors.New("inference failed")
	}
	return []ai.Detection{{CenterX: 2, CenterY: 1, Width: 2, Height: 1, Confidence: 0.9, ClassName: "car"}}, nil
}

func (f *fakeDetector) Draw(frame *video.Frame, detections []ai.Detection) (*video.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drawn[frame.Seq] = len(detections)
	return frame, nil
}

func (f *fakeDetector) Close() error {
	f.closed.Add(1)
	return nil
}

func (f *fakeDetector) drawnFor(seq uint64) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.drawn[seq]
	return n, ok
}

type fakeRenderer struct {
	overlays atomic.Int64
}

func (r *fakeRenderer) Resize(frame *video.Frame, width, height int) (*video.Frame, error) {
	return frame, nil
}

func (r *fakeRenderer) Overlay(frame *video.Frame, snap metrics.Snapshot) (*video.Frame, error) {
	r.overlays.Add(1)
	return frame, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []service.Event
}

func (p *recordingPublisher) Publish(event service.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) find(eventType service.EventType) (service.Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.events {
		if e.Type == eventType {
			return e, true
		}
	}
	return service.Event{}, false
}

func (p *recordingPublisher) count(eventType service.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type harness struct {
	ingestor  *fakeIngestor
	encoder   *fakeEncoder
	detector  *fakeDetector
	renderer  *fakeRenderer
	publisher *recordingPublisher
	fs        afero.Fs
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, testModelPath, []byte("onnx"), 0644))
	return &harness{
		ingestor:  newFakeIngestor(0),
		encoder:   &fakeEncoder{},
		detector:  newFakeDetector(),
		renderer:  &fakeRenderer{},
		publisher: &recordingPublisher{},
		fs:        fs,
	}
}

func testConfig() Config {
	return Config{
		InputURL:  "rtmp://localhost:1935/live/stream",
		OutputURL: "rtmp://localhost:1935/live/processed",
		ModelPath: testModelPath,
		Width:     4,
		Height:    2,
	}
}

func (h *harness) supervisor(t *testing.T, cfg Config) *Supervisor {
	t.Helper()
	sup, err := NewSupervisor(cfg, Components{
		Ingestor: h.ingestor,
		Encoder:  h.encoder,
		Detector: h.detector,
		Renderer: h.renderer,
	}, Options{
		IdleInterval: time.Millisecond,
		JoinTimeout:  time.Second,
		Fs:           h.fs,
		Publisher:    h.publisher,
	}, logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sup.Close(context.Background()) })
	return sup
}
