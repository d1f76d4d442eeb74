package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/spf13/afero"

	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/stream"
)

func newCheck(name string) Check {
	return Check{
		Name:      name,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}
}

// SystemChecker checks free disk space under the data directory and host
// memory pressure
type SystemChecker struct {
	dataDir string
}

func NewSystemChecker(dataDir string) *SystemChecker {
	return &SystemChecker{dataDir: dataDir}
}

func (c *SystemChecker) Name() string {
	return "system"
}

func (c *SystemChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	check.Status = StatusHealthy
	check.Message = "System resources OK"

	if c.dataDir != "" {
		usage, err := disk.UsageWithContext(ctx, c.dataDir)
		if err != nil {
			check.Status = StatusDegraded
			check.Message = fmt.Sprintf("Failed to read disk usage: %v", err)
		} else {
			check.Details["disk_used_percent"] = usage.UsedPercent
			check.Details["disk_free_bytes"] = usage.Free
			if usage.UsedPercent > 95 {
				check.Status = StatusDegraded
				check.Message = "Data directory disk almost full"
			}
		}
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err == nil {
		check.Details["memory_used_percent"] = vm.UsedPercent
		if vm.UsedPercent > 95 && check.Status == StatusHealthy {
			check.Status = StatusDegraded
			check.Message = "Host memory almost exhausted"
		}
	}

	return check
}

// Pinger is satisfied by the state manager
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseChecker checks database connectivity
type DatabaseChecker struct {
	db   Pinger
	path string
}

func NewDatabaseChecker(db Pinger, path string) *DatabaseChecker {
	return &DatabaseChecker{db: db, path: path}
}

func (c *DatabaseChecker) Name() string {
	return "database"
}

func (c *DatabaseChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	check.Details["path"] = c.path

	if c.db == nil {
		check.Status = StatusDegraded
		check.Message = "Database not configured"
		return check
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.db.Ping(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Database ping failed: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Database connection OK"
	return check
}

// ModelChecker checks that the model artifact of the active or configured
// pipeline exists
type ModelChecker struct {
	fs   afero.Fs
	path func() string
}

func NewModelChecker(fs afero.Fs, path func() string) *ModelChecker {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &ModelChecker{fs: fs, path: path}
}

func (c *ModelChecker) Name() string {
	return "model"
}

func (c *ModelChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())

	path := c.path()
	if path == "" {
		check.Status = StatusDegraded
		check.Message = "Model path not configured"
		return check
	}
	check.Details["path"] = path

	info, err := c.fs.Stat(path)
	if err != nil {
		check.Status = StatusUnhealthy
		if os.IsNotExist(err) {
			check.Message = "Model file not found"
		} else {
			check.Message = fmt.Sprintf("Failed to stat model file: %v", err)
		}
		return check
	}
	if info.IsDir() {
		check.Status = StatusUnhealthy
		check.Message = "Model path is a directory"
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Model file present"
	check.Details["size_bytes"] = info.Size()
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".onnx" {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Unexpected model file extension %q", ext)
	}
	return check
}

// Versioner is satisfied by video.FFmpegWrapper
type Versioner interface {
	Path() string
	GetVersion() (string, error)
}

// FFmpegChecker checks that the egress encoder binary runs
type FFmpegChecker struct {
	ffmpeg Versioner
}

// NewFFmpegChecker creates the checker. A nil ffmpeg means the binary was
// not found at start-up.
func NewFFmpegChecker(ffmpeg Versioner) *FFmpegChecker {
	return &FFmpegChecker{ffmpeg: ffmpeg}
}

func (c *FFmpegChecker) Name() string {
	return "ffmpeg"
}

func (c *FFmpegChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())

	if c.ffmpeg == nil {
		check.Status = StatusUnhealthy
		check.Message = "ffmpeg binary not found"
		return check
	}
	check.Details["path"] = c.ffmpeg.Path()

	version, err := c.ffmpeg.GetVersion()
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
		return check
	}

	check.Status = StatusHealthy
	check.Message = "ffmpeg available"
	check.Details["version"] = version
	return check
}

// ProbeFunc describes an RTSP source
type ProbeFunc func(ctx context.Context, url string, timeout time.Duration) (*stream.ProbeResult, error)

// SourceChecker probes the input source of the pipeline. Only RTSP sources
// can be probed without opening a full decoder; other schemes are reported
// as not probed.
type SourceChecker struct {
	url     func() string
	probe   ProbeFunc
	timeout time.Duration
}

func NewSourceChecker(url func() string, timeout time.Duration) *SourceChecker {
	return &SourceChecker{url: url, probe: stream.ProbeRTSP, timeout: timeout}
}

func (c *SourceChecker) Name() string {
	return "source"
}

func (c *SourceChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())

	url := c.url()
	if url == "" {
		check.Status = StatusDegraded
		check.Message = "Input URL not configured"
		return check
	}
	check.Details["url"] = url

	if !stream.IsRTSP(url) {
		check.Status = StatusHealthy
		check.Message = "Source not probed"
		check.Details["probed"] = false
		return check
	}

	result, err := c.probe(ctx, url, c.timeout)
	if err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Source unreachable: %v", err)
		return check
	}
	check.Details["probed"] = true
	check.Details["medias"] = result.Medias
	check.Details["elapsed_ms"] = result.Elapsed.Milliseconds()

	if !result.HasVideo() {
		check.Status = StatusDegraded
		check.Message = "Source has no video media"
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Source reachable"
	return check
}
