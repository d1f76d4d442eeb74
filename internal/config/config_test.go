package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_AppliesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlData := `
pipeline:
  input_url: rtmp://localhost:1935/live/stream
  output_url: rtmp://localhost:1935/live/processed
  model_path: weights/yolo11n-obb.onnx
stream:
  reconnect_attempts: 3
`
	if err := os.WriteFile(configPath, []byte(yamlData), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Pipeline.FPS != 30 || cfg.Pipeline.Width != 1280 || cfg.Pipeline.Height != 720 {
		t.Errorf("Unexpected pipeline defaults: %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.Bitrate != "2000k" {
		t.Errorf("Expected default bitrate 2000k, got %s", cfg.Pipeline.Bitrate)
	}
	if cfg.Pipeline.FPSWindow != 30 {
		t.Errorf("Expected default fps window 30, got %d", cfg.Pipeline.FPSWindow)
	}
	if cfg.Stream.ReconnectAttempts != 3 {
		t.Errorf("Expected explicit reconnect attempts 3, got %d", cfg.Stream.ReconnectAttempts)
	}
	if cfg.Stream.ReconnectDelay != 3*time.Second {
		t.Errorf("Expected default reconnect delay 3s, got %v", cfg.Stream.ReconnectDelay)
	}
	if cfg.Stream.BufferSize != 10 {
		t.Errorf("Expected default buffer size 10, got %d", cfg.Stream.BufferSize)
	}
	if cfg.Detector.ConfidenceThreshold != 0.25 || cfg.Detector.IoUThreshold != 0.45 {
		t.Errorf("Unexpected detector defaults: %+v", cfg.Detector)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("Expected default port 8000, got %d", cfg.Server.Port)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected defaults to validate, got: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("Expected error for missing file")
	}
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Log.Format = "xml"
	cfg.Pipeline.Width = 641
	cfg.Pipeline.Bitrate = "2000kbps"
	cfg.Stream.BufferSize = -1
	cfg.Detector.InputSize = 600
	cfg.Pipeline.Autostart = true

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected validation error")
	}

	msg := err.Error()
	for _, want := range []string{
		"invalid log.format",
		"must be even",
		"invalid pipeline.bitrate",
		"stream.buffer_size",
		"detector.input_size",
		"pipeline.input_url is required",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("Expected %q in validation error, got:\n%s", want, msg)
		}
	}
}

func TestValidate_ResolvesWeightsDir(t *testing.T) {
	cfg := Default()
	cfg.State.DataDir = "/var/lib/obbstream"

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if cfg.Pipeline.WeightsDir != "/var/lib/obbstream/weights" {
		t.Errorf("Expected weights dir under data dir, got %s", cfg.Pipeline.WeightsDir)
	}
}

func TestValidBitrate(t *testing.T) {
	for _, ok := range []string{"2000k", "4M", "800000", "1500K"} {
		if !ValidBitrate(ok) {
			t.Errorf("Expected %q to be valid", ok)
		}
	}
	for _, bad := range []string{"", "0k", "2.5M", "k", "-1k"} {
		if ValidBitrate(bad) {
			t.Errorf("Expected %q to be invalid", bad)
		}
	}
}
