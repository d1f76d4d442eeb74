package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/service"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/video"
)

// fakeConn yields frames until failAfter reads, then returns io.EOF
type fakeConn struct {
	reads     atomic.Int64
	failAfter int64
	closed    atomic.Bool
	interval  time.Duration
}

func (c *fakeConn) Read() (*video.Frame, error) {
	n := c.reads.Add(1)
	if c.failAfter > 0 && n > c.failAfter {
		return nil, io.EOF
	}
	if c.interval > 0 {
		time.Sleep(c.interval)
	}
	return video.NewFrame(4, 2), nil
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

// scriptedDialer fails the first `failures` opens and every open from
// `failFrom` on, handing out conns otherwise
type scriptedDialer struct {
	mu         sync.Mutex
	opens      int
	failures   int
	failFrom   int
	alwaysFail bool
	newConn    func() *fakeConn
	conns      []*fakeConn
}

func (d *scriptedDialer) Open(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens++
	if d.alwaysFail || d.opens <= d.failures || (d.failFrom > 0 && d.opens >= d.failFrom) {
		return nil, errors.New("connection refused")
	}
	c := d.newConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *scriptedDialer) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []service.EventType
}

func (p *recordingPublisher) Publish(e service.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e.Type)
}

func (p *recordingPublisher) Types() []service.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]service.EventType(nil), p.events...)
}

func newTestIngestor(dialer Dialer, attempts int, pub service.Publisher) *Ingestor {
	return NewIngestor(Config{
		URL:               "rtmp://localhost/live/stream",
		BufferSize:        10,
		ReconnectAttempts: attempts,
		ReconnectDelay:    0,
		StopTimeout:       time.Second,
	}, dialer, pub, logger.NewNopLogger())
}

func TestIngestor_ConnectExhaustsExactAttempts(t *testing.T) {
	dialer := &scriptedDialer{alwaysFail: true}
	pub := &recordingPublisher{}
	in := newTestIngestor(dialer, 3, pub)

	err := in.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorContains(t, err, "connection refused")

	assert.Equal(t, 3, dialer.Opens())
	assert.Equal(t, 3, in.Attempts())
	assert.Equal(t, StateExhausted, in.State())

	types := pub.Types()
	require.NotEmpty(t, types)
	assert.Equal(t, service.EventTypeStreamExhausted, types[len(types)-1])
}

func TestIngestor_ConnectNoDelayAfterLastAttempt(t *testing.T) {
	dialer := &scriptedDialer{alwaysFail: true}
	in := NewIngestor(Config{
		URL:               "rtmp://x/y",
		ReconnectAttempts: 2,
		ReconnectDelay:    150 * time.Millisecond,
	}, dialer, nil, logger.NewNopLogger())

	start := time.Now()
	require.Error(t, in.Connect(context.Background()))
	elapsed := time.Since(start)

	// One delay between two attempts, none after the last
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
	assert.Less(t, elapsed, 290*time.Millisecond)
}

func TestIngestor_ConnectRecoversBeforeExhaustion(t *testing.T) {
	dialer := &scriptedDialer{failures: 2, newConn: func() *fakeConn { return &fakeConn{} }}
	in := newTestIngestor(dialer, 3, nil)

	require.NoError(t, in.Connect(context.Background()))
	assert.Equal(t, 3, dialer.Opens())
	assert.Equal(t, StateConnected, in.State())
	in.releaseConn()
}

func TestIngestor_ConnectHonoursCancellation(t *testing.T) {
	dialer := &scriptedDialer{alwaysFail: true}
	in := NewIngestor(Config{
		URL:               "rtmp://x/y",
		ReconnectAttempts: 5,
		ReconnectDelay:    time.Hour,
	}, dialer, nil, logger.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	err := in.Connect(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, dialer.Opens())
}

func TestIngestor_ReadLoopFillsBuffer(t *testing.T) {
	dialer := &scriptedDialer{newConn: func() *fakeConn { return &fakeConn{interval: time.Millisecond} }}
	in := newTestIngestor(dialer, 3, nil)

	require.NoError(t, in.Start(context.Background()))

	// Wait until the ring has wrapped at least once
	require.Eventually(t, func() bool {
		latest, ok := in.LatestFrame()
		return ok && in.Buffer().Len() == 10 && latest.Seq > 10
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 10, in.Buffer().Len(), "buffer never grows past its capacity")

	snap := in.Buffer().Snapshot()
	for i := 1; i < len(snap); i++ {
		assert.Greater(t, snap[i].Seq, snap[i-1].Seq)
	}

	require.NoError(t, in.Stop())
	assert.True(t, dialer.conns[0].closed.Load(), "loop must close the connection it owns")
	assert.Nil(t, in.Err())
	assert.Equal(t, StateDisconnected, in.State())
}

func TestIngestor_ReconnectsAfterReadError(t *testing.T) {
	dialer := &scriptedDialer{newConn: func() *fakeConn { return &fakeConn{failAfter: 5, interval: time.Millisecond} }}
	pub := &recordingPublisher{}
	in := newTestIngestor(dialer, 3, pub)

	require.NoError(t, in.Start(context.Background()))
	defer in.Stop()

	assert.Eventually(t, func() bool { return dialer.Opens() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, pub.Types(), service.EventTypeStreamDisconnected)
	assert.Nil(t, in.Err())
}

func TestIngestor_ExhaustionEndsLoop(t *testing.T) {
	// Only the first open succeeds
	dialer := &scriptedDialer{failFrom: 2, newConn: func() *fakeConn { return &fakeConn{failAfter: 3} }}
	in := newTestIngestor(dialer, 2, nil)

	require.NoError(t, in.Start(context.Background()))

	select {
	case <-in.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not exit after exhaustion")
	}

	assert.ErrorIs(t, in.Err(), ErrExhausted)
	assert.Equal(t, StateExhausted, in.State())
	assert.Equal(t, 3, dialer.Opens(), "one successful open plus one failed cycle of 2")
	assert.NoError(t, in.Stop())
}

func TestIngestor_StartFailureLeavesNothingRunning(t *testing.T) {
	dialer := &scriptedDialer{alwaysFail: true}
	in := newTestIngestor(dialer, 2, nil)

	require.Error(t, in.Start(context.Background()))
	assert.Nil(t, in.Done())
	assert.NoError(t, in.Stop())
}

func TestIngestor_StopIdempotent(t *testing.T) {
	dialer := &scriptedDialer{newConn: func() *fakeConn { return &fakeConn{interval: time.Millisecond} }}
	in := newTestIngestor(dialer, 1, nil)

	assert.NoError(t, in.Stop(), "stop before start")
	require.NoError(t, in.Start(context.Background()))
	assert.NoError(t, in.Stop())
	assert.NoError(t, in.Stop())
}

func TestIngestor_LoopOutlivesStartContext(t *testing.T) {
	dialer := &scriptedDialer{newConn: func() *fakeConn { return &fakeConn{interval: time.Millisecond} }}
	in := newTestIngestor(dialer, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, in.Start(ctx))
	cancel()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-in.Done():
		t.Fatal("cancelling the start context must not stop the loop")
	default:
	}
	require.NoError(t, in.Stop())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "exhausted", StateExhausted.String())
}

func TestIsRTSP(t *testing.T) {
	assert.True(t, IsRTSP("rtsp://cam.local:554/stream1"))
	assert.True(t, IsRTSP("RTSPS://cam.local/stream1"))
	assert.False(t, IsRTSP("rtmp://localhost/live/stream"))
	assert.False(t, IsRTSP("testsrc://640x480"))
}

func TestProbeRTSP_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := ProbeRTSP(ctx, "rtsp://127.0.0.1:1/none", 500*time.Millisecond)
	assert.Error(t, err)
}

func TestIngestor_RestartAfterStop(t *testing.T) {
	dialer := &scriptedDialer{newConn: func() *fakeConn { return &fakeConn{interval: time.Millisecond} }}
	in := newTestIngestor(dialer, 1, nil)

	require.NoError(t, in.Start(context.Background()))
	require.Error(t, in.Start(context.Background()), "second start while running")
	require.NoError(t, in.Stop())

	require.NoError(t, in.Start(context.Background()))
	assert.Eventually(t, func() bool { return in.Buffer().Len() > 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, in.Stop())
	assert.Equal(t, 2, dialer.Opens())
}
