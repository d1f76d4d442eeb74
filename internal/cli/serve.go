package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/health"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/metrics"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/pipeline"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/service"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/state"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/web"
)

const sourceProbeTimeout = 3 * time.Second

var serveAutostart bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP control surface",
	Long: `Serve the pipeline control API (/start, /stop, /status), run history,
health checks and Prometheus metrics. SIGHUP reloads the configuration file.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveAutostart, "autostart", false, "Start the configured pipeline immediately")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	settings, log, err := bootstrap()
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg := settings.Get()
	log.Info("Starting obbstream",
		"version", build.Version,
		"build_time", build.BuildTime,
		"git_commit", build.GitCommit,
		"config", settings.Path(),
	)

	a, err := newApp(settings, log)
	if err != nil {
		return err
	}
	if _, err := ensureWeightsDir(a.fs, cfg.Pipeline.WeightsDir, log); err != nil {
		return err
	}

	stateMgr, err := state.NewManager(cfg, log)
	if err != nil {
		return err
	}
	defer stateMgr.Close()

	svcMgr := service.NewManager(log)

	ctrl := pipeline.NewController(
		a.factory,
		pipeline.ConfigFromSettings(cfg.Pipeline),
		cfg.Pipeline.Autostart || serveAutostart,
		a.fs,
		log,
	)

	// Checks follow the running pipeline, or the configured one when idle
	activeConfig := func() pipeline.Config {
		if status := ctrl.Status(); status.Config != nil {
			return *status.Config
		}
		return ctrl.Defaults()
	}

	healthMgr := health.NewManager(log, svcMgr)
	healthMgr.RegisterChecker(health.NewSystemChecker(cfg.State.DataDir))
	healthMgr.RegisterChecker(health.NewDatabaseChecker(stateMgr, stateMgr.Path()))
	healthMgr.RegisterChecker(health.NewModelChecker(a.fs, func() string { return activeConfig().ModelPath }))
	healthMgr.RegisterChecker(a.ffmpegChecker())
	healthMgr.RegisterChecker(health.NewSourceChecker(func() string { return activeConfig().InputURL }, sourceProbeTimeout))

	server := web.NewServer(cfg.Server, ctrl, log)
	server.SetVersion(build.Version)
	server.SetRunStore(stateMgr)
	server.SetHealth(healthMgr)

	// Recorder first so it sees the autostarted run
	svcMgr.Register(state.NewRecorder(stateMgr, cfg.State.HistoryLimit, log))
	if cfg.Metrics.Enabled {
		exporter := metrics.NewExporter(cfg.Metrics.Namespace, ctrl.Snapshot)
		server.SetMetricsHandler(exporter.Handler())
		svcMgr.Register(metrics.NewCollector(exporter, cfg.Metrics.ProcessInterval, log))
	}
	svcMgr.Register(ctrl)
	svcMgr.Register(server)

	settings.Watch(func(ctx context.Context, oldConfig, newConfig *config.Config) error {
		ctrl.SetDefaults(pipeline.ConfigFromSettings(newConfig.Pipeline))
		if oldConfig.Server != newConfig.Server {
			log.Warn("Server settings changed, restart to apply")
		}
		return nil
	})

	if err := startServices(ctx, svcMgr, server.Name(), log); err != nil {
		shutdown(svcMgr, cfg, log)
		return err
	}
	log.Info("Control surface listening", "address", server.Addr())

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-hup:
			if err := settings.Reload(ctx); err != nil {
				log.Error("Failed to reload configuration", "error", err)
			}
		case <-ctx.Done():
			log.Info("Received shutdown signal")
			return shutdown(svcMgr, cfg, log)
		}
	}
}

// startServices tolerates failed auxiliary services as long as the control
// surface came up; /health reports the failed ones.
func startServices(ctx context.Context, svcMgr *service.Manager, required string, log *logger.Logger) error {
	err := svcMgr.Start(ctx)
	if err == nil {
		log.Info("All services started", "count", svcMgr.GetServiceCount())
		return nil
	}
	if status := svcMgr.GetServiceStatus(required); status != nil && status.IsRunning() {
		log.Warn("Running with failed services", "error", err)
		return nil
	}
	return fmt.Errorf("failed to start services: %w", err)
}

func shutdown(svcMgr *service.Manager, cfg *config.Config, log *logger.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := svcMgr.Shutdown(ctx); err != nil {
		return fmt.Errorf("error during shutdown: %w", err)
	}
	log.Info("Shutdown complete")
	return nil
}
