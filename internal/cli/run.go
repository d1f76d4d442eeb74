package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/pipeline"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/service"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/state"
)

var runOpts struct {
	input    string
	output   string
	model    string
	fps      int
	width    int
	height   int
	bitrate  string
	duration time.Duration
	record   bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one pipeline in the foreground",
	Long: `Run a single pipeline without the HTTP control surface. Flags override the
pipeline section of the configuration. The run ends on Ctrl+C, after
--duration, or when the pipeline stops on its own.`,
	Example: `  obbstream run -i rtmp://localhost/live/in -o rtmp://localhost/live/out -m weights/yolo11n-obb.onnx
  obbstream run -i testsrc://640x360?fps=15 -o out.flv -m weights/yolo11n-obb.onnx -d 30s`,
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runOpts.input, "input", "i", "", "Input stream URL")
	f.StringVarP(&runOpts.output, "output", "o", "", "Output stream URL")
	f.StringVarP(&runOpts.model, "model", "m", "", "Path to the ONNX OBB model")
	f.IntVar(&runOpts.fps, "fps", 0, "Output frame rate")
	f.IntVar(&runOpts.width, "width", 0, "Output width")
	f.IntVar(&runOpts.height, "height", 0, "Output height")
	f.StringVar(&runOpts.bitrate, "bitrate", "", "Output bitrate, e.g. 2000k")
	f.DurationVarP(&runOpts.duration, "duration", "d", 0, "Stop after this long (0 runs until interrupted)")
	f.BoolVar(&runOpts.record, "record", true, "Record the run in the local run history")
	rootCmd.AddCommand(runCmd)
}

// runConfig overlays the flags on the configured pipeline
func runConfig(base pipeline.Config) pipeline.Config {
	cfg := base
	if runOpts.input != "" {
		cfg.InputURL = runOpts.input
	}
	if runOpts.output != "" {
		cfg.OutputURL = runOpts.output
	}
	if runOpts.model != "" {
		cfg.ModelPath = runOpts.model
	}
	if runOpts.fps > 0 {
		cfg.FPS = runOpts.fps
	}
	if runOpts.width > 0 {
		cfg.Width = runOpts.width
	}
	if runOpts.height > 0 {
		cfg.Height = runOpts.height
	}
	if runOpts.bitrate != "" {
		cfg.Bitrate = runOpts.bitrate
	}
	return cfg.WithDefaults()
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	settings, log, err := bootstrap()
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg := runConfig(pipeline.ConfigFromSettings(settings.Get().Pipeline))
	if err := cfg.Validate(); err != nil {
		return err
	}

	a, err := newApp(settings, log)
	if err != nil {
		return err
	}

	bus := service.NewEventBus(100)
	defer bus.Close()
	stopped := bus.Subscribe(service.EventTypePipelineStopped)
	defer bus.Unsubscribe(service.EventTypePipelineStopped, stopped)

	if runOpts.record {
		stateMgr, err := state.NewManager(settings.Get(), log)
		if err != nil {
			return err
		}
		defer stateMgr.Close()

		recorder := state.NewRecorder(stateMgr, settings.Get().State.HistoryLimit, log)
		recorder.SetEventBus(bus)
		if err := recorder.Start(ctx); err != nil {
			return err
		}
		defer recorder.Stop(context.Background())
	}

	sup, err := a.factory(ctx, cfg, bus)
	if err != nil {
		return err
	}
	defer sup.Close(context.Background())

	if err := sup.Start(ctx); err != nil {
		return err
	}
	log.Info("Pipeline running", "run_id", sup.RunID(), "output", cfg.OutputURL)

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("obbstream"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("frames"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionThrottle(250*time.Millisecond),
	)
	defer bar.Finish()

	var deadline <-chan time.Time
	if runOpts.duration > 0 {
		timer := time.NewTimer(runOpts.duration)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			snap := sup.Metrics()
			bar.Describe(fmt.Sprintf("%.1f fps, %.0f ms", snap.FPS, snap.LatencyMs))
			_ = bar.Set64(int64(snap.FramesProcessed))
		case <-stopped:
			// The supervisor stopped itself
			if err := sup.LastError(); err != nil {
				return fmt.Errorf("pipeline stopped: %w", err)
			}
			return nil
		case <-deadline:
			return sup.Stop(context.Background())
		case <-ctx.Done():
			return sup.Stop(context.Background())
		}
	}
}
