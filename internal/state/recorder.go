package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/service"
)

// LastRunKey holds the id of the most recently started run
const LastRunKey = "last_run_id"

// Recorder persists pipeline runs from bus events
type Recorder struct {
	*service.ServiceBase
	manager      *Manager
	historyLimit int

	events <-chan service.Event
	done   chan struct{}
}

// NewRecorder creates the run history recorder. historyLimit bounds the
// number of runs kept; zero keeps everything.
func NewRecorder(manager *Manager, historyLimit int, log *logger.Logger) *Recorder {
	return &Recorder{
		ServiceBase:  service.NewServiceBase("run-recorder", log),
		manager:      manager,
		historyLimit: historyLimit,
	}
}

// Start closes runs interrupted by an unclean exit and subscribes to
// pipeline events
func (r *Recorder) Start(ctx context.Context) error {
	recovered, err := r.manager.RecoverState(ctx)
	if err != nil {
		return err
	}
	for _, id := range recovered.Interrupted {
		r.LogInfo("Closed interrupted run", "run_id", id)
	}

	bus := r.GetEventBus()
	if bus == nil {
		return fmt.Errorf("run recorder needs an event bus")
	}

	// One ordered stream, so a run's stop is never handled before its start
	r.events = bus.SubscribeAll()
	r.done = make(chan struct{})
	go r.run(context.WithoutCancel(ctx), r.events)

	r.LogInfo("Run recorder started", "history_limit", r.historyLimit)
	return nil
}

// Stop unsubscribes and waits until events already delivered are written
func (r *Recorder) Stop(ctx context.Context) error {
	if r.events == nil {
		return nil
	}
	if bus := r.GetEventBus(); bus != nil {
		bus.UnsubscribeAll(r.events)
	}

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) run(ctx context.Context, events <-chan service.Event) {
	defer close(r.done)

	for event := range events {
		var err error
		switch event.Type {
		case service.EventTypePipelineStarted:
			err = r.handleStarted(ctx, event)
		case service.EventTypePipelineStopped:
			err = r.handleStopped(ctx, event)
		default:
			continue
		}
		if err != nil {
			r.LogError("Failed to record run event", err, "type", event.Type)
		}
	}
}

// runConfig picks the endpoints out of a pipeline config payload
type runConfig struct {
	InputURL  string `json:"input_rtmp_url"`
	OutputURL string `json:"output_rtmp_url"`
}

func (r *Recorder) handleStarted(ctx context.Context, event service.Event) error {
	id, _ := event.Data["run_id"].(string)
	if id == "" {
		return fmt.Errorf("pipeline.started event without run_id")
	}

	run := Run{ID: id, StartedAt: event.Timestamp}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if cfg, ok := event.Data["config"]; ok {
		raw, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to encode run config: %w", err)
		}
		var endpoints runConfig
		if err := json.Unmarshal(raw, &endpoints); err == nil {
			run.InputURL = endpoints.InputURL
			run.OutputURL = endpoints.OutputURL
		}
		run.Config = raw
	}

	if err := r.manager.SaveRunStarted(ctx, run); err != nil {
		return err
	}
	if err := r.manager.SaveSystemState(ctx, LastRunKey, id); err != nil {
		return err
	}

	if r.historyLimit > 0 {
		pruned, err := r.manager.PruneRuns(ctx, r.historyLimit)
		if err != nil {
			return err
		}
		if pruned > 0 {
			r.LogDebug("Pruned run history", "removed", pruned)
		}
	}
	return nil
}

func (r *Recorder) handleStopped(ctx context.Context, event service.Event) error {
	id, _ := event.Data["run_id"].(string)
	if id == "" {
		return fmt.Errorf("pipeline.stopped event without run_id")
	}

	result := RunResult{StoppedAt: event.Timestamp}
	result.StopReason, _ = event.Data["reason"].(string)
	result.Error, _ = event.Data["error"].(string)
	result.Frames = int64(number(event.Data["frames"]))
	result.LastFPS = number(event.Data["last_fps"])

	if result.StoppedAt.IsZero() {
		result.StoppedAt = time.Now()
	}
	return r.manager.FinishRun(ctx, id, result)
}

func number(v interface{}) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	case float64:
		return n
	case float32:
		return float64(n)
	default:
		return 0
	}
}
