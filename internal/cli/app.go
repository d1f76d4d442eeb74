package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/ai"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/health"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/pipeline"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/service"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/stream"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/video"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/vision"
)

// app holds what every pipeline run shares: settings, the class table and
// the located ffmpeg binary
type app struct {
	settings *config.Service
	log      *logger.Logger
	fs       afero.Fs
	ffmpeg   *video.FFmpegWrapper // nil when ffmpeg was not found
	classes  *ai.ClassTable
	dialer   stream.Dialer
}

func newApp(settings *config.Service, log *logger.Logger) (*app, error) {
	cfg := settings.Get()
	fs := afero.NewOsFs()

	classes := ai.DefaultClassTable()
	if cfg.Detector.ClassNamesFile != "" {
		table, err := ai.LoadClassTable(fs, cfg.Detector.ClassNamesFile)
		if err != nil {
			return nil, err
		}
		classes = table
	}

	ffmpeg, err := video.NewFFmpegWrapper(video.FFmpegOptions{
		Path:           cfg.Encoder.FFmpegPath,
		DetectHardware: cfg.Encoder.HardwareAccel,
	}, log)
	if err != nil {
		log.Warn("FFmpeg not available, pipelines will fail to start", "error", err)
	}

	return &app{
		settings: settings,
		log:      log,
		fs:       fs,
		ffmpeg:   ffmpeg,
		classes:  classes,
		dialer:   newDialer(),
	}, nil
}

// newDialer opens testsrc:// URLs as a synthetic pattern and everything
// else through OpenCV
func newDialer() stream.Dialer {
	return stream.NewSchemeDialer(vision.CaptureDialer(), map[string]stream.Dialer{
		stream.TestPatternScheme: stream.TestPatternDialer(),
	})
}

// ffmpegChecker avoids handing a typed nil wrapper to the health checker
func (a *app) ffmpegChecker() *health.FFmpegChecker {
	if a.ffmpeg == nil {
		return health.NewFFmpegChecker(nil)
	}
	return health.NewFFmpegChecker(a.ffmpeg)
}

// encoderConfig picks the H.264 encoder for a run
func (a *app) encoderConfig(cfg pipeline.Config, s *config.Config) video.EncoderConfig {
	enc := video.EncoderConfig{
		FFmpegPath:  s.Encoder.FFmpegPath,
		OutputURL:   cfg.OutputURL,
		Width:       cfg.Width,
		Height:      cfg.Height,
		FPS:         cfg.FPS,
		Bitrate:     cfg.Bitrate,
		Codec:       video.EncoderX264,
		Preset:      s.Encoder.Preset,
		LogLevel:    s.Encoder.LogLevel,
		StopTimeout: s.Encoder.StopTimeout,
	}
	if a.ffmpeg != nil {
		enc.FFmpegPath = a.ffmpeg.Path()
		enc.Codec = a.ffmpeg.GetPreferredEncoder(s.Encoder.HardwareAccel)
	}
	return enc
}

// factory builds the components of one pipeline run
func (a *app) factory(ctx context.Context, cfg pipeline.Config, pub service.Publisher) (*pipeline.Supervisor, error) {
	s := a.settings.Get()
	log := a.log.With("input", cfg.InputURL)

	ingestor := stream.NewIngestor(stream.Config{
		URL:               cfg.InputURL,
		BufferSize:        s.Stream.BufferSize,
		ReconnectAttempts: s.Stream.ReconnectAttempts,
		ReconnectDelay:    s.Stream.ReconnectDelay,
		StopTimeout:       s.Stream.StopTimeout,
	}, a.dialer, pub, log)

	encoder := video.NewEgressEncoder(a.encoderConfig(cfg, s), log)

	detector, err := vision.NewOBBDetector(vision.DetectorConfig{
		ModelPath:           cfg.ModelPath,
		Classes:             a.classes,
		ConfidenceThreshold: s.Detector.ConfidenceThreshold,
		IoUThreshold:        s.Detector.IoUThreshold,
		InputSize:           s.Detector.InputSize,
		Backend:             s.Detector.Backend,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}

	sup, err := pipeline.NewSupervisor(cfg, pipeline.Components{
		Ingestor: ingestor,
		Encoder:  encoder,
		Detector: detector,
		Renderer: vision.NewRenderer(),
	}, pipeline.Options{
		IdleInterval: s.Pipeline.IdleInterval,
		JoinTimeout:  s.Pipeline.JoinTimeout,
		FPSWindow:    s.Pipeline.FPSWindow,
		Fs:           a.fs,
		Publisher:    pub,
	}, log)
	if err != nil {
		detector.Close()
		return nil, err
	}
	return sup, nil
}

// ensureWeightsDir creates the weights directory and returns the model
// files found in it
func ensureWeightsDir(fs afero.Fs, dir string, log *logger.Logger) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create weights directory: %w", err)
	}

	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read weights directory: %w", err)
	}

	var models []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".onnx") {
			models = append(models, filepath.Join(dir, e.Name()))
		}
	}
	if len(models) == 0 {
		log.Warn("No model files in weights directory", "dir", dir)
	} else {
		log.Info("Found model files", "dir", dir, "count", len(models))
	}
	return models, nil
}
