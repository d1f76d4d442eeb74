// Package cli implements the obbstream command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/logger"
)

// BuildInfo is stamped into the binary at link time
type BuildInfo struct {
	Version   string
	BuildTime string
	GitCommit string
}

var (
	build = BuildInfo{Version: "dev", BuildTime: "unknown", GitCommit: "unknown"}

	// configPath is the --config flag; empty searches the default locations
	configPath string
	// logLevel overrides log.level from the configuration
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:           "obbstream",
	Short:         "Live oriented object detection stream relay",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command tree and returns the process exit code
func Execute(info BuildInfo) int {
	build = info
	rootCmd.Version = info.Version
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
}

// bootstrap loads the configuration and builds the logger from it. Without
// a configuration file the defaults and OBBSTREAM_* overrides are used.
func bootstrap() (*config.Service, *logger.Logger, error) {
	settings, err := config.NewService(configPath, logger.NewNopLogger())
	if err != nil {
		if configPath != "" || !errors.Is(err, config.ErrNotFound) {
			return nil, nil, err
		}
		cfg := config.Default()
		config.ApplyEnvOverrides(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, nil, fmt.Errorf("invalid configuration: %w", err)
		}
		settings = config.NewServiceFromConfig(cfg, "", logger.NewNopLogger())
	}

	cfg := settings.Get()
	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	log, err := logger.New(logger.LogConfig{
		Level:  level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	settings.SetLogger(log.Named("config"))

	return settings, log, nil
}
