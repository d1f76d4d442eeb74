package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/video"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("obbstream %s\n", build.Version)
		fmt.Printf("  build time: %s\n", build.BuildTime)
		fmt.Printf("  git commit: %s\n", build.GitCommit)

		ffmpeg, err := video.NewFFmpegWrapper(video.FFmpegOptions{DetectHardware: true}, logger.NewNopLogger())
		if err != nil {
			fmt.Println("  ffmpeg:     not found")
			return
		}
		if v, err := ffmpeg.GetVersion(); err == nil {
			fmt.Printf("  ffmpeg:     %s\n", v)
		}
		fmt.Printf("  encoders:   %s\n", describeEncoders(ffmpeg))
	},
}

type encoderCaps interface {
	GetHardwareAcceleration() video.HardwareAcceleration
	IsCodecAvailable(codec string) bool
}

// describeEncoders lists the H.264 encoders ffmpeg offers, flagging the
// hardware ones that have no usable device
func describeEncoders(caps encoderCaps) string {
	hw := caps.GetHardwareAcceleration()
	candidates := []struct {
		name   string
		device bool
	}{
		{video.EncoderX264, true},
		{video.EncoderNVENC, hw.NVIDIANVENC},
		{video.EncoderVAAPI, hw.IntelQSV},
	}

	var found []string
	for _, c := range candidates {
		if !caps.IsCodecAvailable(c.name) {
			continue
		}
		if !c.device {
			found = append(found, c.name+" (no device)")
			continue
		}
		found = append(found, c.name)
	}
	if len(found) == 0 {
		return "none"
	}
	return strings.Join(found, ", ")
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
