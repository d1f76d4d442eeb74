package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/logger"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "OBBSTREAM_"

// Service provides configuration management with environment variable support
type Service struct {
	config     *Config
	configPath string
	logger     *logger.Logger
	mu         sync.RWMutex
	watchers   []ConfigWatcher
}

// ConfigWatcher is called when configuration changes
type ConfigWatcher func(ctx context.Context, oldConfig, newConfig *Config) error

// NewService creates a new configuration service
func NewService(configPath string, log *logger.Logger) (*Service, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial configuration: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Service{
		config:     cfg,
		configPath: configPath,
		logger:     log,
		watchers:   make([]ConfigWatcher, 0),
	}, nil
}

// NewServiceFromConfig wraps an already loaded configuration. Reload
// re-reads configPath when it is set.
func NewServiceFromConfig(cfg *Config, configPath string, log *logger.Logger) *Service {
	return &Service{
		config:     cfg,
		configPath: configPath,
		logger:     log,
		watchers:   make([]ConfigWatcher, 0),
	}
}

// SetLogger replaces the logger used for reload messages
func (s *Service) SetLogger(log *logger.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = log
}

// Get returns the current configuration (thread-safe)
func (s *Service) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Path returns the file the configuration was loaded from
func (s *Service) Path() string {
	return s.configPath
}

// Reload reloads the configuration from file. Watchers run after the lock
// is released so they may call Get.
func (s *Service) Reload(ctx context.Context) error {
	s.mu.Lock()
	oldConfig := s.config

	newConfig, err := Load(s.configPath)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to reload configuration: %w", err)
	}

	ApplyEnvOverrides(newConfig)

	if err := newConfig.Validate(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("invalid reloaded configuration: %w", err)
	}

	s.config = newConfig
	watchers := append([]ConfigWatcher(nil), s.watchers...)
	log := s.logger
	s.mu.Unlock()

	for _, watcher := range watchers {
		if err := watcher(ctx, oldConfig, newConfig); err != nil {
			log.Error("Config watcher error", "error", err)
		}
	}

	log.Info("Configuration reloaded", "path", s.configPath)
	return nil
}

// Watch registers a configuration change watcher
func (s *Service) Watch(watcher ConfigWatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, watcher)
}

// ApplyEnvOverrides applies OBBSTREAM_* environment variable overrides
func ApplyEnvOverrides(cfg *Config) {
	env := func(key string) string { return os.Getenv(EnvPrefix + key) }

	// Log settings
	if val := env("LOG_LEVEL"); val != "" {
		cfg.Log.Level = val
	}
	if val := env("LOG_FORMAT"); val != "" {
		cfg.Log.Format = val
	}
	if val := env("LOG_OUTPUT"); val != "" {
		cfg.Log.Output = val
	}

	// Server settings
	if val := env("HOST"); val != "" {
		cfg.Server.Host = val
	}
	cfg.Server.Port = GetEnvInt(EnvPrefix+"PORT", cfg.Server.Port)

	// Pipeline settings
	if val := env("INPUT_URL"); val != "" {
		cfg.Pipeline.InputURL = val
	}
	if val := env("OUTPUT_URL"); val != "" {
		cfg.Pipeline.OutputURL = val
	}
	if val := env("MODEL_PATH"); val != "" {
		cfg.Pipeline.ModelPath = val
	}
	if val := env("WEIGHTS_DIR"); val != "" {
		cfg.Pipeline.WeightsDir = val
	}
	cfg.Pipeline.FPS = GetEnvInt(EnvPrefix+"FPS", cfg.Pipeline.FPS)
	cfg.Pipeline.Width = GetEnvInt(EnvPrefix+"WIDTH", cfg.Pipeline.Width)
	cfg.Pipeline.Height = GetEnvInt(EnvPrefix+"HEIGHT", cfg.Pipeline.Height)
	if val := env("BITRATE"); val != "" {
		cfg.Pipeline.Bitrate = val
	}
	cfg.Pipeline.Autostart = GetEnvBool(EnvPrefix+"AUTOSTART", cfg.Pipeline.Autostart)

	// Stream settings
	cfg.Stream.BufferSize = GetEnvInt(EnvPrefix+"BUFFER_SIZE", cfg.Stream.BufferSize)
	cfg.Stream.ReconnectAttempts = GetEnvInt(EnvPrefix+"RECONNECT_ATTEMPTS", cfg.Stream.ReconnectAttempts)
	cfg.Stream.ReconnectDelay = GetEnvDuration(EnvPrefix+"RECONNECT_DELAY", cfg.Stream.ReconnectDelay)

	// Encoder settings
	if val := env("FFMPEG_PATH"); val != "" {
		cfg.Encoder.FFmpegPath = val
	}
	cfg.Encoder.HardwareAccel = GetEnvBool(EnvPrefix+"HARDWARE_ACCEL", cfg.Encoder.HardwareAccel)

	// Detector settings
	cfg.Detector.ConfidenceThreshold = GetEnvFloat64(EnvPrefix+"CONFIDENCE_THRESHOLD", cfg.Detector.ConfidenceThreshold)
	cfg.Detector.IoUThreshold = GetEnvFloat64(EnvPrefix+"IOU_THRESHOLD", cfg.Detector.IoUThreshold)
	if val := env("DETECTOR_BACKEND"); val != "" {
		cfg.Detector.Backend = strings.ToLower(val)
	}

	// State settings
	if val := env("DATA_DIR"); val != "" {
		cfg.State.DataDir = val
	}

	cfg.Metrics.Enabled = GetEnvBool(EnvPrefix+"METRICS_ENABLED", cfg.Metrics.Enabled)
}

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// GetEnvBool gets a boolean environment variable
func GetEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	val = strings.ToLower(val)
	return val == "true" || val == "1" || val == "yes" || val == "on"
}

// GetEnvInt gets an integer environment variable
func GetEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return defaultValue
	}
	return result
}

// GetEnvDuration gets a duration environment variable
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	if duration, err := time.ParseDuration(val); err == nil {
		return duration
	}
	return defaultValue
}

// GetEnvFloat64 gets a float64 environment variable
func GetEnvFloat64(key string, defaultValue float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	result, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
	if err != nil {
		return defaultValue
	}
	return result
}
