package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned by Load when no configuration file exists
var ErrNotFound = errors.New("configuration file not found")

// Config represents the application configuration
type Config struct {
	Log      LogConfig      `yaml:"log,omitempty"`
	Server   ServerConfig   `yaml:"server"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Stream   StreamConfig   `yaml:"stream"`
	Encoder  EncoderConfig  `yaml:"encoder"`
	Detector DetectorConfig `yaml:"detector"`
	State    StateConfig    `yaml:"state"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// ServerConfig contains control surface HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// PipelineConfig contains the default pipeline parameters. The control
// surface may override every field per run.
type PipelineConfig struct {
	InputURL     string        `yaml:"input_url"`
	OutputURL    string        `yaml:"output_url"`
	ModelPath    string        `yaml:"model_path"`
	WeightsDir   string        `yaml:"weights_dir"`
	FPS          int           `yaml:"fps"`
	Width        int           `yaml:"width"`
	Height       int           `yaml:"height"`
	Bitrate      string        `yaml:"bitrate"`
	IdleInterval time.Duration `yaml:"idle_interval"`
	JoinTimeout  time.Duration `yaml:"join_timeout"`
	FPSWindow    int           `yaml:"fps_window"`
	Autostart    bool          `yaml:"autostart"`
}

// StreamConfig contains input stream ingest configuration
type StreamConfig struct {
	BufferSize        int           `yaml:"buffer_size"`
	ReconnectAttempts int           `yaml:"reconnect_attempts"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	StopTimeout       time.Duration `yaml:"stop_timeout"`
}

// EncoderConfig contains egress ffmpeg configuration
type EncoderConfig struct {
	FFmpegPath    string        `yaml:"ffmpeg_path"`
	HardwareAccel bool          `yaml:"hardware_accel"`
	Preset        string        `yaml:"preset"`
	LogLevel      string        `yaml:"log_level"`
	StopTimeout   time.Duration `yaml:"stop_timeout"`
}

// DetectorConfig contains OBB detector configuration
type DetectorConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	IoUThreshold        float64 `yaml:"iou_threshold"`
	InputSize           int     `yaml:"input_size"`
	Backend             string  `yaml:"backend"` // cpu or cuda
	ClassNamesFile      string  `yaml:"class_names_file"`
}

// StateConfig contains local persistence configuration
type StateConfig struct {
	DataDir      string `yaml:"data_dir"`
	HistoryLimit int    `yaml:"history_limit"`
}

// MetricsConfig contains Prometheus exporter configuration
type MetricsConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Namespace       string        `yaml:"namespace"`
	ProcessInterval time.Duration `yaml:"process_interval"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg.setDefaults()

	return &cfg, nil
}

// Default returns a configuration populated only with defaults
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	cfg.Metrics.Enabled = true
	return cfg
}

// DatabasePath returns the sqlite database location under the data dir
func (c *Config) DatabasePath() string {
	return filepath.Join(c.State.DataDir, "db", "obbstream.db")
}

// getDefaultConfigPath returns the default configuration file path
func getDefaultConfigPath() string {
	paths := []string{
		"./config/config.dev.yaml",
		"./config/config.yaml",
		"../config/config.dev.yaml",
		"../config/config.yaml",
		"/etc/obbstream/config.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return paths[0]
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	if c.Pipeline.WeightsDir == "" {
		c.Pipeline.WeightsDir = "weights"
	}
	if c.Pipeline.FPS == 0 {
		c.Pipeline.FPS = 30
	}
	if c.Pipeline.Width == 0 {
		c.Pipeline.Width = 1280
	}
	if c.Pipeline.Height == 0 {
		c.Pipeline.Height = 720
	}
	if c.Pipeline.Bitrate == "" {
		c.Pipeline.Bitrate = "2000k"
	}
	if c.Pipeline.IdleInterval == 0 {
		c.Pipeline.IdleInterval = 10 * time.Millisecond
	}
	if c.Pipeline.JoinTimeout == 0 {
		c.Pipeline.JoinTimeout = 5 * time.Second
	}
	if c.Pipeline.FPSWindow == 0 {
		c.Pipeline.FPSWindow = 30
	}

	if c.Stream.BufferSize == 0 {
		c.Stream.BufferSize = 10
	}
	if c.Stream.ReconnectAttempts == 0 {
		c.Stream.ReconnectAttempts = 5
	}
	if c.Stream.ReconnectDelay == 0 {
		c.Stream.ReconnectDelay = 3 * time.Second
	}
	if c.Stream.StopTimeout == 0 {
		c.Stream.StopTimeout = 5 * time.Second
	}

	if c.Encoder.FFmpegPath == "" {
		c.Encoder.FFmpegPath = "ffmpeg"
	}
	if c.Encoder.Preset == "" {
		c.Encoder.Preset = "ultrafast"
	}
	if c.Encoder.LogLevel == "" {
		c.Encoder.LogLevel = "error"
	}
	if c.Encoder.StopTimeout == 0 {
		c.Encoder.StopTimeout = 5 * time.Second
	}

	if c.Detector.ConfidenceThreshold == 0 {
		c.Detector.ConfidenceThreshold = 0.25
	}
	if c.Detector.IoUThreshold == 0 {
		c.Detector.IoUThreshold = 0.45
	}
	if c.Detector.InputSize == 0 {
		c.Detector.InputSize = 640
	}
	if c.Detector.Backend == "" {
		c.Detector.Backend = "cpu"
	}

	if c.State.DataDir == "" {
		c.State.DataDir = "./data"
	}
	if c.State.HistoryLimit == 0 {
		c.State.HistoryLimit = 50
	}

	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "obbstream"
	}
	if c.Metrics.ProcessInterval == 0 {
		c.Metrics.ProcessInterval = 5 * time.Second
	}
}
