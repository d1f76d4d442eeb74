package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/stream"
)

var probeTimeout time.Duration

var probeCmd = &cobra.Command{
	Use:   "probe URL",
	Short: "Check that an input source can be opened",
	Long: `Probe an input source. RTSP sources are described without receiving
media; other sources are opened and one frame is read.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
		defer cancel()

		url := args[0]
		if stream.IsRTSP(url) {
			result, err := stream.ProbeRTSP(ctx, url, probeTimeout)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return err
			}
			if !result.HasVideo() {
				return fmt.Errorf("%s has no video media", url)
			}
			return nil
		}

		return probeFrame(ctx, newDialer(), url)
	},
}

func init() {
	probeCmd.Flags().DurationVarP(&probeTimeout, "timeout", "t", 10*time.Second, "Probe timeout")
	rootCmd.AddCommand(probeCmd)
}

// probeFrame opens url through dialer and reads a single frame
func probeFrame(ctx context.Context, dialer stream.Dialer, url string) error {
	start := time.Now()
	conn, err := dialer.Open(ctx, url)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", url, err)
	}
	defer conn.Close()

	frame, err := conn.Read()
	if err != nil {
		return fmt.Errorf("failed to read from %s: %w", url, err)
	}

	fmt.Printf("%s: %dx%d frame in %s\n", url, frame.Width, frame.Height, time.Since(start).Round(time.Millisecond))
	return nil
}
