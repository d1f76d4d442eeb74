package metrics

import (
	"context"
	"math"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/service"
)

// ProcessStat is one resource sample of this process
type ProcessStat struct {
	CPUPercent float64
	RSSBytes   uint64
}

// Collector samples process resource usage and counts stream and pipeline
// events into the exporter
type Collector struct {
	*service.ServiceBase
	exporter *Exporter
	interval time.Duration
	sample   func(ctx context.Context) (ProcessStat, error)

	mu     sync.RWMutex
	last   ProcessStat
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCollector creates a new process metrics collector
func NewCollector(exporter *Exporter, interval time.Duration, log *logger.Logger) *Collector {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	c := &Collector{
		ServiceBase: service.NewServiceBase("metrics-collector", log),
		exporter:    exporter,
		interval:    interval,
	}
	c.sample = c.sampleSelf
	return c
}

// Start starts the sampling loop and event subscriptions
func (c *Collector) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	if bus := c.GetEventBus(); bus != nil {
		bus.SubscribeWithHandler(ctx, service.EventTypeStreamDisconnected, func(ctx context.Context, event service.Event) error {
			c.exporter.IncDisconnects()
			return nil
		}, nil)
		bus.SubscribeWithHandler(ctx, service.EventTypePipelineStarted, func(ctx context.Context, event service.Event) error {
			c.exporter.IncRuns()
			return nil
		}, nil)
	}

	go c.run(ctx)

	c.GetStatus().SetStatus(service.StatusRunning)
	c.LogInfo("Metrics collector started", "interval", c.interval)
	return nil
}

// Stop stops the collector
func (c *Collector) Stop(ctx context.Context) error {
	if c.cancel == nil {
		return nil
	}
	c.cancel()

	select {
	case <-c.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.GetStatus().SetStatus(service.StatusStopped)
	c.LogInfo("Metrics collector stopped")
	return nil
}

func (c *Collector) run(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.collect(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.collect(ctx)
		}
	}
}

// collect takes one sample and publishes it
func (c *Collector) collect(ctx context.Context) {
	stat, err := c.sample(ctx)
	if err != nil {
		c.LogDebug("Failed to sample process stats", "error", err)
		return
	}

	c.mu.Lock()
	c.last = stat
	c.mu.Unlock()

	c.exporter.ObserveProcess(stat.CPUPercent, stat.RSSBytes)
}

// LastSample returns the most recent process sample
func (c *Collector) LastSample() ProcessStat {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

func (c *Collector) sampleSelf(ctx context.Context) (ProcessStat, error) {
	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return ProcessStat{}, err
	}

	mem, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return ProcessStat{}, err
	}
	cpu, err := proc.CPUPercentWithContext(ctx)
	if err != nil {
		return ProcessStat{}, err
	}

	return ProcessStat{
		CPUPercent: math.Round(cpu*100) / 100,
		RSSBytes:   mem.RSS,
	}, nil
}
