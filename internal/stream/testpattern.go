package stream

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/video"
)

// TestPatternScheme selects the synthetic source, e.g. testsrc://640x360?fps=15
const TestPatternScheme = "testsrc"

var errConnClosed = errors.New("stream closed")

// colour bars in BGR
var testBars = [][3]byte{
	{192, 192, 192}, {0, 192, 192}, {192, 192, 0}, {0, 192, 0},
	{192, 0, 192}, {0, 0, 192}, {192, 0, 0}, {16, 16, 16},
}

// TestPatternConfig describes a synthetic source
type TestPatternConfig struct {
	Width  int
	Height int
	FPS    int
}

// ParseTestPattern parses a testsrc:// url. The size defaults to 1280x720
// and the rate to 30fps.
func ParseTestPattern(raw string) (TestPatternConfig, error) {
	cfg := TestPatternConfig{Width: 1280, Height: 720, FPS: 30}

	u, err := url.Parse(raw)
	if err != nil {
		return cfg, fmt.Errorf("invalid test pattern url: %w", err)
	}
	if u.Scheme != TestPatternScheme {
		return cfg, fmt.Errorf("not a test pattern url: %s", raw)
	}

	if u.Host != "" {
		w, h, ok := strings.Cut(strings.ToLower(u.Host), "x")
		if !ok {
			return cfg, fmt.Errorf("invalid test pattern size %q", u.Host)
		}
		if cfg.Width, err = strconv.Atoi(w); err != nil || cfg.Width <= 0 {
			return cfg, fmt.Errorf("invalid test pattern width %q", w)
		}
		if cfg.Height, err = strconv.Atoi(h); err != nil || cfg.Height <= 0 {
			return cfg, fmt.Errorf("invalid test pattern height %q", h)
		}
	}
	if fps := u.Query().Get("fps"); fps != "" {
		if cfg.FPS, err = strconv.Atoi(fps); err != nil || cfg.FPS <= 0 {
			return cfg, fmt.Errorf("invalid test pattern fps %q", fps)
		}
	}
	return cfg, nil
}

// TestPatternDialer opens synthetic colour-bar sources paced at their frame
// rate
func TestPatternDialer() Dialer {
	return DialerFunc(func(ctx context.Context, raw string) (Conn, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cfg, err := ParseTestPattern(raw)
		if err != nil {
			return nil, err
		}
		return newTestPatternConn(cfg), nil
	})
}

type testPatternConn struct {
	cfg    TestPatternConfig
	ticker *time.Ticker
	closed chan struct{}
	once   sync.Once
	n      int
}

func newTestPatternConn(cfg TestPatternConfig) *testPatternConn {
	return &testPatternConn{
		cfg:    cfg,
		ticker: time.NewTicker(time.Second / time.Duration(cfg.FPS)),
		closed: make(chan struct{}),
	}
}

func (c *testPatternConn) Read() (*video.Frame, error) {
	select {
	case <-c.closed:
		return nil, errConnClosed
	case <-c.ticker.C:
	}

	frame := video.NewFrame(c.cfg.Width, c.cfg.Height)
	renderBars(frame, c.n)
	c.n++
	return frame, nil
}

func (c *testPatternConn) Close() error {
	c.once.Do(func() {
		c.ticker.Stop()
		close(c.closed)
	})
	return nil
}

// renderBars paints vertical colour bars with a white marker column that
// moves one step per frame
func renderBars(frame *video.Frame, n int) {
	w, h := frame.Width, frame.Height
	marker := (n * 4) % w

	row := make([]byte, w*video.BytesPerPixel)
	for x := 0; x < w; x++ {
		bar := testBars[x*len(testBars)/w]
		if x >= marker && x < marker+4 {
			bar = [3]byte{255, 255, 255}
		}
		copy(row[x*video.BytesPerPixel:], bar[:])
	}
	for y := 0; y < h; y++ {
		copy(frame.Data[y*len(row):], row)
	}
}

// SchemeDialer routes urls to a dialer by scheme
type SchemeDialer struct {
	fallback Dialer
	schemes  map[string]Dialer
}

// NewSchemeDialer returns a dialer that uses schemes[scheme] when present
// and fallback otherwise
func NewSchemeDialer(fallback Dialer, schemes map[string]Dialer) *SchemeDialer {
	return &SchemeDialer{fallback: fallback, schemes: schemes}
}

// Open implements Dialer
func (d *SchemeDialer) Open(ctx context.Context, raw string) (Conn, error) {
	if scheme, _, ok := strings.Cut(raw, "://"); ok {
		if dialer, found := d.schemes[strings.ToLower(scheme)]; found {
			return dialer.Open(ctx, raw)
		}
	}
	if d.fallback == nil {
		return nil, fmt.Errorf("no dialer for %s", raw)
	}
	return d.fallback.Open(ctx, raw)
}
