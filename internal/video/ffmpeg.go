package video

import (
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/logger"
)

// FFmpegWrapper locates the ffmpeg binary and reports which H.264 encoders
// it can drive on this host
type FFmpegWrapper struct {
	logger          *logger.Logger
	ffmpegPath      string
	hardwareAccel   HardwareAcceleration
	availableCodecs map[string]bool
	mu              sync.RWMutex
}

// HardwareAcceleration represents available hardware acceleration
type HardwareAcceleration struct {
	IntelQSV    bool // Intel Quick Sync Video via VAAPI
	NVIDIANVENC bool // NVIDIA NVENC
	Software    bool // Software fallback (always available)
}

// FFmpegOptions controls binary lookup and capability probing
type FFmpegOptions struct {
	Path           string // Preferred binary; common locations are tried after it
	DetectHardware bool   // Probe vainfo/nvidia-smi and the encoder list
}

// NewFFmpegWrapper creates a new FFmpeg wrapper
func NewFFmpegWrapper(opts FFmpegOptions, log *logger.Logger) (*FFmpegWrapper, error) {
	wrapper := &FFmpegWrapper{
		logger:          log,
		availableCodecs: make(map[string]bool),
		hardwareAccel:   HardwareAcceleration{Software: true},
	}

	ffmpegPath, err := wrapper.detectFFmpeg(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	wrapper.ffmpegPath = ffmpegPath

	if opts.DetectHardware {
		codecs, err := wrapper.detectEncoders()
		if err != nil {
			log.Warn("Failed to list ffmpeg encoders", "error", err)
		} else {
			wrapper.availableCodecs = codecs
		}
		wrapper.hardwareAccel = wrapper.detectHardwareAcceleration()
	}

	log.Info("FFmpeg wrapper initialized",
		"path", wrapper.ffmpegPath,
		"intel_qsv", wrapper.hardwareAccel.IntelQSV,
		"nvidia_nvenc", wrapper.hardwareAccel.NVIDIANVENC,
	)

	return wrapper, nil
}

// detectFFmpeg finds the FFmpeg executable
func (f *FFmpegWrapper) detectFFmpeg(preferred string) (string, error) {
	paths := []string{"ffmpeg", "/usr/bin/ffmpeg", "/usr/local/bin/ffmpeg"}
	if preferred != "" && preferred != "ffmpeg" {
		paths = append([]string{preferred}, paths...)
	}

	for _, path := range paths {
		cmd := exec.Command(path, "-version")
		if err := cmd.Run(); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("ffmpeg not found in PATH or common locations")
}

// detectHardwareAcceleration detects available hardware acceleration
func (f *FFmpegWrapper) detectHardwareAcceleration() HardwareAcceleration {
	accel := HardwareAcceleration{Software: true}

	if exec.Command("vainfo").Run() == nil && f.availableCodecs["h264_vaapi"] {
		accel.IntelQSV = true
		f.logger.Info("Intel QSV (VAAPI) hardware acceleration detected")
	}

	if exec.Command("nvidia-smi").Run() == nil && f.availableCodecs["h264_nvenc"] {
		accel.NVIDIANVENC = true
		f.logger.Info("NVIDIA NVENC hardware acceleration detected")
	}

	return accel
}

// detectEncoders lists the video encoders compiled into ffmpeg
func (f *FFmpegWrapper) detectEncoders() (map[string]bool, error) {
	output, err := exec.Command(f.ffmpegPath, "-hide_banner", "-encoders").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to get encoders: %w", err)
	}
	return parseCodecList(string(output)), nil
}

// parseCodecList extracts codec names from `ffmpeg -encoders` output. Codec
// rows start with a flag column such as "V....D".
func parseCodecList(output string) map[string]bool {
	codecs := make(map[string]bool)
	for _, line := range strings.Split(output, "\n") {
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		flags := parts[0]
		if len(flags) != 6 || (flags[0] != 'V' && flags[0] != 'A') || parts[1] == "=" {
			continue
		}
		codecs[parts[1]] = true
	}
	return codecs
}

// Path returns the resolved ffmpeg binary
func (f *FFmpegWrapper) Path() string {
	return f.ffmpegPath
}

// GetHardwareAcceleration returns available hardware acceleration
func (f *FFmpegWrapper) GetHardwareAcceleration() HardwareAcceleration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.hardwareAccel
}

// IsCodecAvailable checks if a codec is available
func (f *FFmpegWrapper) IsCodecAvailable(codec string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.availableCodecs[codec]
}

// GetPreferredEncoder returns the preferred H.264 encoder. Hardware encoders
// are only returned when hardware is requested and was detected.
func (f *FFmpegWrapper) GetPreferredEncoder(useHardware bool) string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if useHardware {
		if f.hardwareAccel.NVIDIANVENC {
			return EncoderNVENC
		}
		if f.hardwareAccel.IntelQSV {
			return EncoderVAAPI
		}
	}
	return EncoderX264
}

// GetVersion returns the first line of `ffmpeg -version`
func (f *FFmpegWrapper) GetVersion() (string, error) {
	output, err := exec.Command(f.ffmpegPath, "-version").Output()
	if err != nil {
		return "", fmt.Errorf("failed to get ffmpeg version: %w", err)
	}

	lines := strings.Split(string(output), "\n")
	if len(lines) > 0 && strings.TrimSpace(lines[0]) != "" {
		return strings.TrimSpace(lines[0]), nil
	}

	return "unknown", nil
}
