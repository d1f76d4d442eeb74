package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var bitratePattern = regexp.MustCompile(`^[1-9][0-9]*[kKmM]?$`)

// ValidBitrate reports whether s is an ffmpeg bitrate such as "2000k" or "4M"
func ValidBitrate(s string) bool {
	return bitratePattern.MatchString(s)
}

// Validate validates the configuration with detailed error messages
func (c *Config) Validate() error {
	var errors []string

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errors = append(errors, fmt.Sprintf("invalid log.level: %s (must be: debug, info, warn, error, fatal)", c.Log.Level))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errors = append(errors, fmt.Sprintf("invalid log.format: %s (must be: text or json)", c.Log.Format))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errors = append(errors, fmt.Sprintf("server.port must be between 1 and 65535, got: %d", c.Server.Port))
	}

	// Pipeline
	if c.Pipeline.FPS <= 0 {
		errors = append(errors, fmt.Sprintf("pipeline.fps must be > 0, got: %d", c.Pipeline.FPS))
	}
	if c.Pipeline.Width <= 0 || c.Pipeline.Height <= 0 {
		errors = append(errors, fmt.Sprintf("pipeline.width and pipeline.height must be > 0, got: %dx%d", c.Pipeline.Width, c.Pipeline.Height))
	} else if c.Pipeline.Width%2 != 0 || c.Pipeline.Height%2 != 0 {
		// yuv420p chroma subsampling needs even dimensions
		errors = append(errors, fmt.Sprintf("pipeline.width and pipeline.height must be even, got: %dx%d", c.Pipeline.Width, c.Pipeline.Height))
	}
	if !ValidBitrate(c.Pipeline.Bitrate) {
		errors = append(errors, fmt.Sprintf("invalid pipeline.bitrate: %q (expected e.g. 2000k or 4M)", c.Pipeline.Bitrate))
	}
	if c.Pipeline.IdleInterval <= 0 {
		errors = append(errors, fmt.Sprintf("pipeline.idle_interval must be > 0, got: %v", c.Pipeline.IdleInterval))
	}
	if c.Pipeline.JoinTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("pipeline.join_timeout must be > 0, got: %v", c.Pipeline.JoinTimeout))
	}
	if c.Pipeline.FPSWindow <= 0 {
		errors = append(errors, fmt.Sprintf("pipeline.fps_window must be > 0, got: %d", c.Pipeline.FPSWindow))
	}
	if c.Pipeline.Autostart {
		if c.Pipeline.InputURL == "" {
			errors = append(errors, "pipeline.input_url is required when pipeline.autostart is enabled")
		}
		if c.Pipeline.OutputURL == "" {
			errors = append(errors, "pipeline.output_url is required when pipeline.autostart is enabled")
		}
		if c.Pipeline.ModelPath == "" {
			errors = append(errors, "pipeline.model_path is required when pipeline.autostart is enabled")
		}
	}

	// Stream
	if c.Stream.BufferSize < 1 {
		errors = append(errors, fmt.Sprintf("stream.buffer_size must be >= 1, got: %d", c.Stream.BufferSize))
	}
	if c.Stream.ReconnectAttempts < 1 {
		errors = append(errors, fmt.Sprintf("stream.reconnect_attempts must be >= 1, got: %d", c.Stream.ReconnectAttempts))
	}
	if c.Stream.ReconnectDelay < 0 {
		errors = append(errors, fmt.Sprintf("stream.reconnect_delay must be >= 0, got: %v", c.Stream.ReconnectDelay))
	}
	if c.Stream.StopTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("stream.stop_timeout must be > 0, got: %v", c.Stream.StopTimeout))
	}

	// Encoder
	if c.Encoder.StopTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("encoder.stop_timeout must be > 0, got: %v", c.Encoder.StopTimeout))
	}

	// Detector
	if c.Detector.ConfidenceThreshold < 0 || c.Detector.ConfidenceThreshold > 1 {
		errors = append(errors, fmt.Sprintf("detector.confidence_threshold must be between 0 and 1, got: %.2f", c.Detector.ConfidenceThreshold))
	}
	if c.Detector.IoUThreshold < 0 || c.Detector.IoUThreshold > 1 {
		errors = append(errors, fmt.Sprintf("detector.iou_threshold must be between 0 and 1, got: %.2f", c.Detector.IoUThreshold))
	}
	if c.Detector.InputSize <= 0 || c.Detector.InputSize%32 != 0 {
		errors = append(errors, fmt.Sprintf("detector.input_size must be a positive multiple of 32, got: %d", c.Detector.InputSize))
	}
	if c.Detector.Backend != "cpu" && c.Detector.Backend != "cuda" {
		errors = append(errors, fmt.Sprintf("invalid detector.backend: %s (must be: cpu or cuda)", c.Detector.Backend))
	}

	// State
	if c.State.DataDir == "" {
		errors = append(errors, "state.data_dir is required")
	}
	if c.State.HistoryLimit <= 0 {
		errors = append(errors, fmt.Sprintf("state.history_limit must be > 0, got: %d", c.State.HistoryLimit))
	}

	if c.Metrics.ProcessInterval <= 0 {
		errors = append(errors, fmt.Sprintf("metrics.process_interval must be > 0, got: %v", c.Metrics.ProcessInterval))
	}

	// Relative weights dir is resolved against the data dir
	if c.Pipeline.WeightsDir != "" && c.State.DataDir != "" {
		if !filepath.IsAbs(c.Pipeline.WeightsDir) && !strings.HasPrefix(c.Pipeline.WeightsDir, "./") {
			c.Pipeline.WeightsDir = filepath.Join(c.State.DataDir, c.Pipeline.WeightsDir)
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}
