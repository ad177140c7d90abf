// Package observability carries the Prometheus metrics and the per-stage
// timing accumulator for the data-loading pipeline.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// loader pipeline.
type Metrics struct {
	FilesRead       prometheus.Counter
	ReadErrors      prometheus.Counter
	SamplesProduced prometheus.Counter
	BatchesProduced prometheus.Counter
	StreamRunning   prometheus.Gauge

	// StageDuration tracks wall time per pipeline stage.
	// Label: stage={read,transform,reorder,convert,device}.
	StageDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all loader metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.FilesRead,
		m.ReadErrors,
		m.SamplesProduced,
		m.BatchesProduced,
		m.StreamRunning,
		m.StageDuration,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, so tests can
// construct loaders repeatedly without "already registered" panics.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		FilesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "maelstrom_loader",
			Name:      "files_read_total",
			Help:      "Total archive files read from disk or generated.",
		}),
		ReadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "maelstrom_loader",
			Name:      "read_errors_total",
			Help:      "Total per-file read failures.",
		}),
		SamplesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "maelstrom_loader",
			Name:      "samples_produced_total",
			Help:      "Total patch samples emitted by the pipeline.",
		}),
		BatchesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "maelstrom_loader",
			Name:      "batches_produced_total",
			Help:      "Total batches handed to the consumer.",
		}),
		StreamRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "maelstrom_loader",
			Name:      "stream_running",
			Help:      "1 while an epoch stream is active, 0 otherwise.",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "maelstrom_loader",
			Name:      "stage_duration_seconds",
			Help:      "Wall time spent per pipeline stage.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}, []string{"stage"}),
	}
}
