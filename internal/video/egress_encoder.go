package video

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/logger"
)

// H.264 encoders the egress command knows how to drive
const (
	EncoderX264  = "libx264"
	EncoderNVENC = "h264_nvenc"
	EncoderVAAPI = "h264_vaapi"
)

const vaapiDevice = "/dev/dri/renderD128"

var (
	// ErrBrokenPipe is returned once the encoder can no longer accept frames
	ErrBrokenPipe = errors.New("encoder pipe broken")
	// ErrFrameSize is returned for frames that do not match the output size
	ErrFrameSize = errors.New("frame size does not match encoder")
)

// EncoderConfig describes the egress stream
type EncoderConfig struct {
	FFmpegPath  string
	OutputURL   string
	Width       int
	Height      int
	FPS         int
	Bitrate     string
	Codec       string // libx264 when empty
	Preset      string // x264 preset, ultrafast when empty
	LogLevel    string // ffmpeg -loglevel, omitted when empty
	StopTimeout time.Duration
}

// EgressEncoder feeds raw BGR24 frames to an ffmpeg subprocess that encodes
// them to H.264 and publishes the result as FLV
type EgressEncoder struct {
	cfg        EncoderConfig
	logger     *logger.Logger
	newCommand func(name string, args ...string) *exec.Cmd

	writeMu sync.Mutex

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	exited  chan struct{}
	waitErr error
	running bool
	broken  bool
	frames  uint64
}

// NewEgressEncoder creates an encoder. Nothing is spawned until Start.
func NewEgressEncoder(cfg EncoderConfig, log *logger.Logger) *EgressEncoder {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.Codec == "" {
		cfg.Codec = EncoderX264
	}
	if cfg.Preset == "" {
		cfg.Preset = "ultrafast"
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	return &EgressEncoder{
		cfg:        cfg,
		logger:     log.Named("encoder"),
		newCommand: exec.Command,
	}
}

// Args returns the ffmpeg argument list for this encoder
func (e *EgressEncoder) Args() []string {
	c := e.cfg
	args := []string{"-y"}
	if c.LogLevel != "" {
		args = append(args, "-loglevel", c.LogLevel)
	}
	if c.Codec == EncoderVAAPI {
		args = append(args, "-vaapi_device", vaapiDevice)
	}
	args = append(args,
		"-f", "rawvideo",
		"-vcodec", "rawvideo",
		"-pixel_format", "bgr24",
		"-video_size", fmt.Sprintf("%dx%d", c.Width, c.Height),
		"-framerate", strconv.Itoa(c.FPS),
		"-i", "-",
	)

	switch c.Codec {
	case EncoderVAAPI:
		args = append(args, "-vf", "format=nv12,hwupload", "-c:v", c.Codec)
	case EncoderNVENC:
		args = append(args, "-c:v", c.Codec, "-pix_fmt", "yuv420p", "-preset", "p1")
	default:
		args = append(args, "-c:v", c.Codec, "-pix_fmt", "yuv420p", "-preset", c.Preset)
	}

	return append(args,
		"-b:v", c.Bitrate,
		"-maxrate", c.Bitrate,
		"-bufsize", c.Bitrate,
		"-f", "flv",
		c.OutputURL,
	)
}

// Start spawns ffmpeg in its own process group
func (e *EgressEncoder) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return fmt.Errorf("encoder already started")
	}

	cmd := e.newCommand(e.cfg.FFmpegPath, e.Args()...)
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open encoder stdin: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open encoder stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	exited := make(chan struct{})
	e.cmd = cmd
	e.stdin = stdin
	e.exited = exited
	e.waitErr = nil
	e.running = true
	e.broken = false
	e.frames = 0

	go func() {
		e.drainStderr(stderr)
		err := cmd.Wait()
		e.mu.Lock()
		e.waitErr = err
		e.mu.Unlock()
		close(exited)
	}()

	e.logger.Info("Encoder started",
		"pid", cmd.Process.Pid,
		"codec", e.cfg.Codec,
		"size", fmt.Sprintf("%dx%d", e.cfg.Width, e.cfg.Height),
		"fps", e.cfg.FPS,
		"bitrate", e.cfg.Bitrate,
		"output", e.cfg.OutputURL,
	)
	return nil
}

func (e *EgressEncoder) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		e.logger.Debug("ffmpeg", "line", scanner.Text())
	}
}

// WriteFrame writes one frame to the encoder
func (e *EgressEncoder) WriteFrame(frame *Frame) error {
	if frame == nil || frame.Width != e.cfg.Width || frame.Height != e.cfg.Height ||
		len(frame.Data) != FrameSize(e.cfg.Width, e.cfg.Height) {
		return ErrFrameSize
	}

	e.mu.Lock()
	if !e.running || e.broken {
		e.mu.Unlock()
		return ErrBrokenPipe
	}
	select {
	case <-e.exited:
		e.broken = true
		waitErr := e.waitErr
		e.mu.Unlock()
		return fmt.Errorf("%w: ffmpeg exited: %v", ErrBrokenPipe, waitErr)
	default:
	}
	stdin := e.stdin
	e.mu.Unlock()

	e.writeMu.Lock()
	_, err := stdin.Write(frame.Data)
	e.writeMu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.broken = true
		return fmt.Errorf("%w: %v", ErrBrokenPipe, err)
	}
	e.frames++
	return nil
}

// FramesWritten returns the number of frames accepted since Start
func (e *EgressEncoder) FramesWritten() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frames
}

// Running reports whether the subprocess was started and not yet stopped
func (e *EgressEncoder) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Stop closes ffmpeg's stdin and waits for it to flush and exit. After
// StopTimeout the whole process group is killed. Stop is a no-op when the
// encoder never started and is safe to call more than once.
func (e *EgressEncoder) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	cmd, stdin, exited := e.cmd, e.stdin, e.exited
	e.mu.Unlock()

	if err := stdin.Close(); err != nil {
		e.logger.Debug("Closing encoder stdin", "error", err)
	}

	select {
	case <-exited:
	case <-time.After(e.cfg.StopTimeout):
		e.logger.Warn("Encoder did not exit in time, killing process group",
			"pid", cmd.Process.Pid,
			"timeout", e.cfg.StopTimeout,
		)
		if err := killProcessGroup(cmd); err != nil {
			e.logger.Error("Failed to kill encoder", "error", err)
		}
		select {
		case <-exited:
		case <-time.After(e.cfg.StopTimeout):
			return fmt.Errorf("encoder process %d did not exit after kill", cmd.Process.Pid)
		}
	}

	e.mu.Lock()
	waitErr := e.waitErr
	frames := e.frames
	e.mu.Unlock()

	e.logger.Info("Encoder stopped", "frames", frames, "exit_error", waitErr)
	return nil
}
