package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/logger"
	"gopkg.in/yaml.v3"
)

func createTestConfig(t *testing.T, configPath string, cfg *Config) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		t.Fatalf("Failed to marshal config: %v", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
}

func newTestConfig(dataDir string) *Config {
	cfg := &Config{}
	cfg.setDefaults()
	cfg.State.DataDir = dataDir
	return cfg
}

func TestNewService(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	createTestConfig(t, configPath, newTestConfig(tmpDir))

	svc, err := NewService(configPath, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	if svc.Get() == nil {
		t.Fatal("Get() returned nil")
	}
	if svc.Get().State.DataDir != tmpDir {
		t.Errorf("Expected DataDir %s, got %s", tmpDir, svc.Get().State.DataDir)
	}
	if svc.Path() != configPath {
		t.Errorf("Expected path %s, got %s", configPath, svc.Path())
	}
}

func TestNewService_InvalidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	cfg := newTestConfig(tmpDir)
	cfg.Pipeline.Bitrate = "fast"
	createTestConfig(t, configPath, cfg)

	if _, err := NewService(configPath, logger.NewNopLogger()); err == nil {
		t.Fatal("Expected NewService to reject an invalid bitrate")
	}
}

func TestService_ReloadNotifiesWatchers(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	cfg := newTestConfig(tmpDir)
	createTestConfig(t, configPath, cfg)

	svc, err := NewService(configPath, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	var oldFPS, newFPS int
	svc.Watch(func(ctx context.Context, oldConfig, newConfig *Config) error {
		oldFPS = oldConfig.Pipeline.FPS
		newFPS = newConfig.Pipeline.FPS
		// Get must not deadlock inside a watcher
		_ = svc.Get()
		return nil
	})

	cfg.Pipeline.FPS = 25
	createTestConfig(t, configPath, cfg)

	if err := svc.Reload(context.Background()); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	if oldFPS != 30 || newFPS != 25 {
		t.Errorf("Expected watcher to see 30 -> 25, got %d -> %d", oldFPS, newFPS)
	}
	if svc.Get().Pipeline.FPS != 25 {
		t.Errorf("Expected reloaded FPS 25, got %d", svc.Get().Pipeline.FPS)
	}
}

func TestService_ReloadKeepsConfigOnError(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	cfg := newTestConfig(tmpDir)
	createTestConfig(t, configPath, cfg)

	svc, err := NewService(configPath, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	cfg.Pipeline.Width = 1281
	createTestConfig(t, configPath, cfg)

	if err := svc.Reload(context.Background()); err == nil {
		t.Fatal("Expected reload of odd width to fail")
	}
	if svc.Get().Pipeline.Width != 1280 {
		t.Errorf("Expected previous width 1280 to be kept, got %d", svc.Get().Pipeline.Width)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("OBBSTREAM_INPUT_URL", "rtmp://relay/live/cam1")
	t.Setenv("OBBSTREAM_FPS", "15")
	t.Setenv("OBBSTREAM_RECONNECT_DELAY", "750ms")
	t.Setenv("OBBSTREAM_HARDWARE_ACCEL", "yes")
	t.Setenv("OBBSTREAM_CONFIDENCE_THRESHOLD", "0.4")
	t.Setenv("OBBSTREAM_DETECTOR_BACKEND", "CUDA")
	t.Setenv("OBBSTREAM_PORT", "not-a-port")

	cfg := newTestConfig(t.TempDir())
	ApplyEnvOverrides(cfg)

	if cfg.Pipeline.InputURL != "rtmp://relay/live/cam1" {
		t.Errorf("Expected input url from env, got %s", cfg.Pipeline.InputURL)
	}
	if cfg.Pipeline.FPS != 15 {
		t.Errorf("Expected FPS 15, got %d", cfg.Pipeline.FPS)
	}
	if cfg.Stream.ReconnectDelay != 750*time.Millisecond {
		t.Errorf("Expected reconnect delay 750ms, got %v", cfg.Stream.ReconnectDelay)
	}
	if !cfg.Encoder.HardwareAccel {
		t.Error("Expected hardware accel enabled from env")
	}
	if cfg.Detector.ConfidenceThreshold != 0.4 {
		t.Errorf("Expected confidence 0.4, got %v", cfg.Detector.ConfidenceThreshold)
	}
	if cfg.Detector.Backend != "cuda" {
		t.Errorf("Expected backend cuda, got %s", cfg.Detector.Backend)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("Expected invalid port env to be ignored, got %d", cfg.Server.Port)
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		envValue   string
		defaultVal bool
		expected   bool
	}{
		{"", true, true},
		{"", false, false},
		{"true", false, true},
		{"ON", false, true},
		{"0", true, false},
		{"nope", true, false},
	}

	for _, tt := range tests {
		t.Setenv("OBBSTREAM_TEST_BOOL", tt.envValue)
		if got := GetEnvBool("OBBSTREAM_TEST_BOOL", tt.defaultVal); got != tt.expected {
			t.Errorf("GetEnvBool(%q, %v) = %v, want %v", tt.envValue, tt.defaultVal, got, tt.expected)
		}
	}
}
