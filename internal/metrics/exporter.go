package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SourceFunc reports the current pipeline metrics and whether a pipeline
// is running
type SourceFunc func() (Snapshot, bool)

// Exporter publishes pipeline and process metrics in Prometheus format
type Exporter struct {
	registry   *prometheus.Registry
	reconnects prometheus.Counter
	runs       prometheus.Counter
	cpuUsage   prometheus.Gauge
	memUsage   prometheus.Gauge
}

// NewExporter registers the obbstream metrics on a private registry.
// Pipeline gauges are read from source at scrape time.
func NewExporter(namespace string, source SourceFunc) *Exporter {
	registry := prometheus.NewRegistry()

	snapshotGauge := func(name, help string, value func(Snapshot) float64) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      name,
			Help:      help,
		}, func() float64 {
			snap, _ := source()
			return value(snap)
		})
	}

	e := &Exporter{
		registry: registry,
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "disconnects_total",
			Help:      "Number of times the input stream was lost",
		}),
		runs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Number of pipeline runs started",
		}),
		cpuUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "cpu_usage_percent",
			Help:      "CPU usage in percent",
		}),
		memUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "resident_memory_bytes",
			Help:      "Resident set size in bytes",
		}),
	}

	registry.MustRegister(
		snapshotGauge("fps", "Frames per second over the last window", func(s Snapshot) float64 { return s.FPS }),
		snapshotGauge("latency_milliseconds", "Latency of the last frame", func(s Snapshot) float64 { return s.LatencyMs }),
		snapshotGauge("detection_milliseconds", "Detection time of the last frame", func(s Snapshot) float64 { return s.DetectionTimeMs }),
		snapshotGauge("processing_milliseconds", "Processing time of the last frame", func(s Snapshot) float64 { return s.ProcessingTimeMs }),
		snapshotGauge("frames_processed", "Frames written to the encoder in the current run", func(s Snapshot) float64 { return float64(s.FramesProcessed) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "running",
			Help:      "1 while a pipeline is running",
		}, func() float64 {
			if _, running := source(); running {
				return 1
			}
			return 0
		}),
		e.reconnects,
		e.runs,
		e.cpuUsage,
		e.memUsage,
	)

	return e
}

// Registry returns the underlying registry
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler serves the exposition format
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{Registry: e.registry})
}

// IncDisconnects counts one lost input stream
func (e *Exporter) IncDisconnects() {
	e.reconnects.Inc()
}

// IncRuns counts one started pipeline run
func (e *Exporter) IncRuns() {
	e.runs.Inc()
}

// ObserveProcess records process resource usage
func (e *Exporter) ObserveProcess(cpuPercent float64, rssBytes uint64) {
	e.cpuUsage.Set(cpuPercent)
	e.memUsage.Set(float64(rssBytes))
}
