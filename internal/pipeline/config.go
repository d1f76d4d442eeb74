package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/config"
)

// Defaults applied to zero-valued Config fields
const (
	DefaultFPS     = 30
	DefaultWidth   = 1280
	DefaultHeight  = 720
	DefaultBitrate = "2000k"
)

// Config describes one pipeline run. It is immutable once a Supervisor has
// been built from it.
type Config struct {
	InputURL  string `json:"input_rtmp_url"`
	OutputURL string `json:"output_rtmp_url"`
	ModelPath string `json:"model_weights_path"`
	FPS       int    `json:"fps"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Bitrate   string `json:"bitrate"`
}

// ConfigFromSettings builds a run config from the service configuration
func ConfigFromSettings(p config.PipelineConfig) Config {
	return Config{
		InputURL:  p.InputURL,
		OutputURL: p.OutputURL,
		ModelPath: p.ModelPath,
		FPS:       p.FPS,
		Width:     p.Width,
		Height:    p.Height,
		Bitrate:   p.Bitrate,
	}
}

// WithDefaults returns a copy with zero fields replaced by defaults
func (c Config) WithDefaults() Config {
	if c.FPS == 0 {
		c.FPS = DefaultFPS
	}
	if c.Width == 0 {
		c.Width = DefaultWidth
	}
	if c.Height == 0 {
		c.Height = DefaultHeight
	}
	if c.Bitrate == "" {
		c.Bitrate = DefaultBitrate
	}
	return c
}

// Validate checks the run config. Problems are reported together as a
// configuration error.
func (c Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.InputURL) == "" {
		errs = append(errs, "input url is required")
	}
	if strings.TrimSpace(c.OutputURL) == "" {
		errs = append(errs, "output url is required")
	}
	if strings.TrimSpace(c.ModelPath) == "" {
		errs = append(errs, "model weights path is required")
	}
	if c.FPS <= 0 {
		errs = append(errs, fmt.Sprintf("fps must be positive, got %d", c.FPS))
	}
	if c.Width <= 0 || c.Height <= 0 {
		errs = append(errs, fmt.Sprintf("invalid resolution %dx%d", c.Width, c.Height))
	} else if c.Width%2 != 0 || c.Height%2 != 0 {
		errs = append(errs, fmt.Sprintf("resolution %dx%d must be even for yuv420p", c.Width, c.Height))
	}
	if !config.ValidBitrate(c.Bitrate) {
		errs = append(errs, fmt.Sprintf("invalid bitrate %q", c.Bitrate))
	}

	if len(errs) > 0 {
		return configurationError("validate", errors.New(strings.Join(errs, "; ")))
	}
	return nil
}
