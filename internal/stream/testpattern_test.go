package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/video"
)

func TestParseTestPattern(t *testing.T) {
	tests := []struct {
		url     string
		want    TestPatternConfig
		wantErr bool
	}{
		{url: "testsrc://", want: TestPatternConfig{1280, 720, 30}},
		{url: "testsrc://640x360", want: TestPatternConfig{640, 360, 30}},
		{url: "testsrc://320X240?fps=5", want: TestPatternConfig{320, 240, 5}},
		{url: "testsrc://640", wantErr: true},
		{url: "testsrc://0x360", wantErr: true},
		{url: "testsrc://640x360?fps=0", wantErr: true},
		{url: "rtmp://localhost/live", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, err := ParseTestPattern(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTestPatternConn(t *testing.T) {
	conn, err := TestPatternDialer().Open(context.Background(), "testsrc://16x8?fps=200")
	require.NoError(t, err)

	first, err := conn.Read()
	require.NoError(t, err)
	require.NoError(t, first.Validate())
	assert.Equal(t, 16, first.Width)
	assert.Equal(t, 8, first.Height)

	second, err := conn.Read()
	require.NoError(t, err)
	assert.NotEqual(t, first.Data, second.Data, "marker column should move")

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	_, err = conn.Read()
	assert.Error(t, err)
}

func TestTestPatternFeedsIngestor(t *testing.T) {
	in := NewIngestor(Config{
		URL:               "testsrc://32x16?fps=100",
		ReconnectAttempts: 1,
		StopTimeout:       time.Second,
	}, TestPatternDialer(), nil, logger.NewNopLogger())

	require.NoError(t, in.Start(context.Background()))
	defer in.Stop()

	require.Eventually(t, func() bool {
		frame, ok := in.LatestFrame()
		return ok && frame.Seq >= 3
	}, 2*time.Second, 10*time.Millisecond)

	frame, _ := in.LatestFrame()
	assert.Equal(t, video.FrameSize(32, 16), len(frame.Data))
}

func TestSchemeDialer(t *testing.T) {
	var fallbackURL string
	fallback := DialerFunc(func(ctx context.Context, url string) (Conn, error) {
		fallbackURL = url
		return nil, errors.New("no device")
	})
	d := NewSchemeDialer(fallback, map[string]Dialer{TestPatternScheme: TestPatternDialer()})

	conn, err := d.Open(context.Background(), "testsrc://8x8")
	require.NoError(t, err)
	conn.Close()

	_, err = d.Open(context.Background(), "rtmp://localhost/live/stream")
	assert.EqualError(t, err, "no device")
	assert.Equal(t, "rtmp://localhost/live/stream", fallbackURL)

	_, err = NewSchemeDialer(nil, nil).Open(context.Background(), "0")
	assert.Error(t, err)
}
