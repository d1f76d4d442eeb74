package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/spf13/afero"

	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/metrics"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/service"
)

// Factory builds the supervisor for one run. pub may be nil.
type Factory func(ctx context.Context, cfg Config, pub service.Publisher) (*Supervisor, error)

// Status is the control-surface view of the pipeline
type Status struct {
	Running   bool              `json:"is_processing"`
	State     State             `json:"state"`
	RunID     string            `json:"run_id,omitempty"`
	Metrics   *metrics.Snapshot `json:"metrics"`
	Config    *Config           `json:"config,omitempty"`
	LastError string            `json:"last_error,omitempty"`
}

// Controller owns at most one pipeline at a time. It is registered as a
// service so the configured pipeline can be started with the server.
type Controller struct {
	*service.ServiceBase

	factory   Factory
	defaults  Config
	autostart bool
	fs        afero.Fs

	// lifecycleMu serializes StartPipeline and StopPipeline
	lifecycleMu sync.Mutex

	mu      sync.RWMutex
	current *Supervisor
	lastErr error
}

// NewController creates a controller. defaults is the configured pipeline
// used by autostart.
func NewController(factory Factory, defaults Config, autostart bool, fs afero.Fs, log *logger.Logger) *Controller {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Controller{
		ServiceBase: service.NewServiceBase("pipeline", log),
		factory:     factory,
		defaults:    defaults,
		autostart:   autostart,
		fs:          fs,
	}
}

// SetDefaults replaces the configured pipeline used by autostart
func (c *Controller) SetDefaults(cfg Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaults = cfg
}

// Defaults returns the configured pipeline
func (c *Controller) Defaults() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defaults
}

// Start implements service.Service. With autostart enabled the configured
// pipeline is started in the background; a failure is logged, kept for
// Status and published as a service error.
func (c *Controller) Start(ctx context.Context) error {
	if !c.autostart {
		return nil
	}

	defaults := c.Defaults()
	go func() {
		c.LogInfo("Autostarting pipeline", "input", defaults.InputURL)
		if err := c.StartPipeline(ctx, defaults); err != nil {
			c.LogError("Autostart failed", err)
			c.PublishEvent(service.EventTypeServiceError, map[string]interface{}{
				"error":     err.Error(),
				"autostart": true,
			})
		}
	}()
	return nil
}

// Stop implements service.Service. It stops the running pipeline and
// releases its detector.
func (c *Controller) Stop(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.mu.RLock()
	sup := c.current
	c.mu.RUnlock()
	if sup == nil {
		return nil
	}
	return sup.Close(ctx)
}

// StartPipeline validates cfg, stops any previous pipeline and starts a new
// one. Configuration problems are reported as KindConfiguration errors.
func (c *Controller) StartPipeline(ctx context.Context, cfg Config) error {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := CheckModel(c.fs, cfg.ModelPath); err != nil {
		return err
	}

	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.mu.RLock()
	prev := c.current
	c.mu.RUnlock()
	if prev != nil {
		if prev.State() != StateStopped {
			c.LogInfo("Stopping previous pipeline", "run_id", prev.RunID())
		}
		if err := prev.Close(ctx); err != nil {
			c.LogError("Failed to release previous pipeline", err, "run_id", prev.RunID())
		}
	}

	sup, err := c.factory(ctx, cfg, c.publisher())
	if err != nil {
		c.setCurrent(nil, err)
		return err
	}

	if err := sup.Start(ctx); err != nil {
		if closeErr := sup.Close(ctx); closeErr != nil {
			c.LogError("Failed to release pipeline", closeErr)
		}
		c.setCurrent(nil, err)
		return err
	}

	c.setCurrent(sup, nil)
	return nil
}

// StopPipeline stops the running pipeline. stopped is false when nothing
// was running.
func (c *Controller) StopPipeline(ctx context.Context) (stopped bool, err error) {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.mu.RLock()
	sup := c.current
	c.mu.RUnlock()
	if sup == nil {
		return false, nil
	}

	if err := sup.Stop(ctx); err != nil {
		if errors.Is(err, ErrNotRunning) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *Controller) setCurrent(sup *Supervisor, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = sup
	c.lastErr = err
}

// publisher avoids handing a typed nil bus to the supervisor
func (c *Controller) publisher() service.Publisher {
	if bus := c.GetEventBus(); bus != nil {
		return bus
	}
	return nil
}

// Status reports the current pipeline. It never waits for a start or stop
// in progress.
func (c *Controller) Status() Status {
	c.mu.RLock()
	sup, lastErr := c.current, c.lastErr
	c.mu.RUnlock()

	status := Status{State: StateStopped}
	if lastErr != nil {
		status.LastError = lastErr.Error()
	}
	if sup == nil {
		return status
	}

	snap := sup.Metrics()
	cfg := sup.Config()
	status.State = sup.State()
	status.Running = status.State == StateRunning
	status.RunID = sup.RunID()
	status.Metrics = &snap
	status.Config = &cfg
	if err := sup.LastError(); err != nil {
		status.LastError = err.Error()
	}
	return status
}

// Snapshot reports the current metrics and whether a pipeline is running.
// It matches metrics.SourceFunc.
func (c *Controller) Snapshot() (metrics.Snapshot, bool) {
	c.mu.RLock()
	sup := c.current
	c.mu.RUnlock()
	if sup == nil {
		return metrics.Snapshot{}, false
	}
	return sup.Metrics(), sup.State() == StateRunning
}
