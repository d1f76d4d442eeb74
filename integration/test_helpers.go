package integration

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/ai"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/metrics"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/pipeline"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/service"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/state"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/stream"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/video"
)

const testModelPath = "/weights/yolo11n-obb.onnx"

// TestEnvironment provides a test environment for integration tests
type TestEnvironment struct {
	Config   *config.Config
	StateMgr *state.Manager
	Logger   *logger.Logger
	Fs       afero.Fs
	Encoder  *countingEncoder
}

// SetupTestEnvironment creates a test environment with a data directory
// and an in-memory weights file
func SetupTestEnvironment(t *testing.T) *TestEnvironment {
	t.Helper()

	cfg := config.Default()
	cfg.State.DataDir = t.TempDir()
	cfg.State.HistoryLimit = 10
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0

	log := logger.NewNopLogger()

	stateMgr, err := state.NewManager(cfg, log)
	if err != nil {
		t.Fatalf("Failed to create state manager: %v", err)
	}
	t.Cleanup(func() { stateMgr.Close() })

	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, testModelPath, []byte("onnx"), 0644); err != nil {
		t.Fatalf("Failed to write model file: %v", err)
	}

	return &TestEnvironment{
		Config:   cfg,
		StateMgr: stateMgr,
		Logger:   log,
		Fs:       fs,
		Encoder:  &countingEncoder{},
	}
}

// Factory builds supervisors that read the synthetic test pattern and
// write into the environment's encoder
func (e *TestEnvironment) Factory() pipeline.Factory {
	return func(ctx context.Context, cfg pipeline.Config, pub service.Publisher) (*pipeline.Supervisor, error) {
		ingestor := stream.NewIngestor(stream.Config{
			URL:               cfg.InputURL,
			ReconnectAttempts: 1,
			ReconnectDelay:    10 * time.Millisecond,
		}, stream.TestPatternDialer(), pub, e.Logger)

		return pipeline.NewSupervisor(cfg, pipeline.Components{
			Ingestor: ingestor,
			Encoder:  e.Encoder,
			Detector: stubDetector{},
			Renderer: passthroughRenderer{},
		}, pipeline.Options{
			IdleInterval: time.Millisecond,
			JoinTimeout:  time.Second,
			Fs:           e.Fs,
			Publisher:    pub,
		}, e.Logger)
	}
}

// PipelineConfig returns a small pipeline reading the test pattern
func (e *TestEnvironment) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		InputURL:  "testsrc://64x32?fps=60",
		OutputURL: "rtmp://localhost:1935/live/processed",
		ModelPath: testModelPath,
		FPS:       30,
		Width:     64,
		Height:    32,
	}
}

// WaitForCondition waits for a condition to become true
func WaitForCondition(timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		<-ticker.C
	}

	return false
}

// ContextWithTimeout creates a context with timeout for tests
func ContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

type countingEncoder struct {
	writes atomic.Int64
	starts atomic.Int64
	stops  atomic.Int64
}

func (e *countingEncoder) Start(ctx context.Context) error {
	e.starts.Add(1)
	return nil
}

func (e *countingEncoder) WriteFrame(frame *video.Frame) error {
	e.writes.Add(1)
	return nil
}

func (e *countingEncoder) Stop() error {
	e.stops.Add(1)
	return nil
}

type stubDetector struct{}

func (stubDetector) Detect(ctx context.Context, frame *video.Frame) ([]ai.Detection, error) {
	return []ai.Detection{{
		CenterX:    float64(frame.Width) / 2,
		CenterY:    float64(frame.Height) / 2,
		Width:      8,
		Height:     4,
		Confidence: 0.8,
		ClassName:  "ship",
	}}, nil
}

func (stubDetector) Draw(frame *video.Frame, detections []ai.Detection) (*video.Frame, error) {
	return frame, nil
}

func (stubDetector) Close() error { return nil }

type passthroughRenderer struct{}

func (passthroughRenderer) Resize(frame *video.Frame, width, height int) (*video.Frame, error) {
	return frame, nil
}

func (passthroughRenderer) Overlay(frame *video.Frame, snap metrics.Snapshot) (*video.Frame, error) {
	return frame, nil
}
