package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"

	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/metrics"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/pipeline"
)

var ctlOpts struct {
	server   string
	timeout  time.Duration
	interval time.Duration
	start    pipeline.Config
}

// statusResponse mirrors GET /status
type statusResponse struct {
	Status       string            `json:"status"`
	IsProcessing bool              `json:"is_processing"`
	State        string            `json:"state"`
	RunID        string            `json:"run_id"`
	LastError    string            `json:"last_error"`
	Metrics      *metrics.Snapshot `json:"metrics"`
}

type messageResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	RunID   string `json:"run_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

var ctlCmd = &cobra.Command{
	Use:   "ctl",
	Short: "Control a running obbstream server",
}

var ctlStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a pipeline on the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		var out messageResponse
		if err := ctlCall(cmd.Context(), "POST", "/start", ctlOpts.start, &out); err != nil {
			return err
		}
		fmt.Printf("%s: %s (run %s)\n", out.Status, out.Message, out.RunID)
		return nil
	},
}

var ctlStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		var out messageResponse
		if err := ctlCall(cmd.Context(), "POST", "/stop", nil, &out); err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", out.Status, out.Message)
		return nil
	},
}

var ctlStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print pipeline status and metrics as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		var out statusResponse
		if err := ctlCall(cmd.Context(), "GET", "/status", nil, &out); err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

var ctlWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll pipeline metrics until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		ticker := time.NewTicker(ctlOpts.interval)
		defer ticker.Stop()

		for {
			var out statusResponse
			if err := ctlCall(ctx, "GET", "/status", nil, &out); err != nil {
				fmt.Fprintln(os.Stderr, "status:", err)
			} else {
				fmt.Println(formatStatus(out))
			}

			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	},
}

func init() {
	ctlCmd.PersistentFlags().StringVarP(&ctlOpts.server, "server", "s", "http://127.0.0.1:8000", "Control surface base URL")
	ctlCmd.PersistentFlags().DurationVar(&ctlOpts.timeout, "timeout", 30*time.Second, "Request timeout")

	f := ctlStartCmd.Flags()
	f.StringVarP(&ctlOpts.start.InputURL, "input", "i", "", "Input stream URL")
	f.StringVarP(&ctlOpts.start.OutputURL, "output", "o", "", "Output stream URL")
	f.StringVarP(&ctlOpts.start.ModelPath, "model", "m", "", "Model path on the server")
	f.IntVar(&ctlOpts.start.FPS, "fps", 0, "Output frame rate")
	f.IntVar(&ctlOpts.start.Width, "width", 0, "Output width")
	f.IntVar(&ctlOpts.start.Height, "height", 0, "Output height")
	f.StringVar(&ctlOpts.start.Bitrate, "bitrate", "", "Output bitrate, e.g. 2000k")

	ctlWatchCmd.Flags().DurationVar(&ctlOpts.interval, "interval", time.Second, "Polling interval")

	ctlCmd.AddCommand(ctlStartCmd, ctlStopCmd, ctlStatusCmd, ctlWatchCmd)
	rootCmd.AddCommand(ctlCmd)
}

func newControlClient(baseURL string, timeout time.Duration) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
}

// ctlCall sends one request and decodes the reply into out. Error replies
// carry the server's message.
func ctlCall(ctx context.Context, method, path string, body, out interface{}) error {
	return doControl(ctx, newControlClient(ctlOpts.server, ctlOpts.timeout), method, path, body, out)
}

func doControl(ctx context.Context, client *resty.Client, method, path string, body, out interface{}) error {
	var apiErr errorResponse
	req := client.R().
		SetContext(ctx).
		SetResult(out).
		SetError(&apiErr)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	if resp.IsError() {
		if apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode(), apiErr.Error)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode())
	}
	return nil
}

func formatStatus(s statusResponse) string {
	line := fmt.Sprintf("%s %-8s", time.Now().Format("15:04:05"), s.Status)
	if s.Metrics != nil {
		m := s.Metrics
		line += fmt.Sprintf(" fps=%.1f latency=%.0fms detect=%.0fms process=%.0fms frames=%d",
			m.FPS, m.LatencyMs, m.DetectionTimeMs, m.ProcessingTimeMs, m.FramesProcessed)
	}
	if s.LastError != "" {
		line += " error=" + s.LastError
	}
	return line
}
