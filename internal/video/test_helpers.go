package video

import (
	"os/exec"
	"testing"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/logger"
)

func setupTestFFmpeg(t *testing.T) *FFmpegWrapper {
	log := logger.NewNopLogger()
	ffmpeg, err := NewFFmpegWrapper(FFmpegOptions{}, log)
	if err != nil {
		t.Skipf("FFmpeg not available, skipping test: %v", err)
	}
	return ffmpeg
}

// setupScriptEncoder returns a 4x2 encoder whose subprocess is the given
// shell script instead of ffmpeg
func setupScriptEncoder(t *testing.T, script string, stopTimeout time.Duration) *EgressEncoder {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("sh not available, skipping test: %v", err)
	}

	enc := NewEgressEncoder(EncoderConfig{
		OutputURL:   "rtmp://localhost/live/test",
		Width:       4,
		Height:      2,
		FPS:         30,
		Bitrate:     "500k",
		StopTimeout: stopTimeout,
	}, logger.NewNopLogger())
	enc.newCommand = func(name string, args ...string) *exec.Cmd {
		return exec.Command(sh, "-c", script)
	}
	return enc
}

func testFrame(width, height int, seq uint64) *Frame {
	f := NewFrame(width, height)
	f.Seq = seq
	for i := range f.Data {
		f.Data[i] = byte(seq)
	}
	return f
}
