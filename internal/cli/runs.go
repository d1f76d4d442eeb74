package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/state"
)

var runsOpts struct {
	limit  int
	asJSON bool
}

var runsCmd = &cobra.Command{
	Use:   "runs [id|last]",
	Short: "List recorded pipeline runs",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		settings, log, err := bootstrap()
		if err != nil {
			return err
		}
		defer log.Sync()

		stateMgr, err := state.NewManager(settings.Get(), log)
		if err != nil {
			return err
		}
		defer stateMgr.Close()

		lastID, err := stateMgr.GetSystemState(ctx, state.LastRunKey)
		if err != nil {
			return err
		}

		if len(args) == 1 {
			run, err := lookupRun(ctx, stateMgr, args[0], lastID)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(run)
		}

		runs, err := stateMgr.ListRuns(ctx, runsOpts.limit)
		if err != nil {
			return err
		}
		if runsOpts.asJSON {
			return json.NewEncoder(os.Stdout).Encode(runs)
		}
		return printRuns(os.Stdout, runs, lastID)
	},
}

func init() {
	runsCmd.Flags().IntVarP(&runsOpts.limit, "limit", "n", 20, "Maximum number of runs to list")
	runsCmd.Flags().BoolVar(&runsOpts.asJSON, "json", false, "Print JSON instead of a table")
	rootCmd.AddCommand(runsCmd)
}

type runGetter interface {
	GetRun(ctx context.Context, id string) (*state.Run, error)
}

// lookupRun resolves "last" to the most recently started run
func lookupRun(ctx context.Context, store runGetter, id, lastID string) (*state.Run, error) {
	if id == "last" {
		if lastID == "" {
			return nil, fmt.Errorf("no run has been recorded yet")
		}
		id = lastID
	}
	run, err := store.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("run %s not found", id)
	}
	return run, nil
}

// printRuns writes a table of runs; lastID is marked with an asterisk
func printRuns(w io.Writer, runs []state.Run, lastID string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tDURATION\tFRAMES\tFPS\tREASON\tINPUT")
	for _, r := range runs {
		id := r.ID
		if id == lastID {
			id += "*"
		}
		duration := "running"
		reason := "-"
		if r.StoppedAt != nil {
			duration = r.StoppedAt.Sub(r.StartedAt).Round(time.Second).String()
			reason = r.StopReason
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.1f\t%s\t%s\n",
			id,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			duration,
			r.Frames,
			r.LastFPS,
			reason,
			r.InputURL,
		)
	}
	return tw.Flush()
}
