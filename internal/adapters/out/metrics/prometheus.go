// Package metrics records run metrics in a Prometheus registry and writes
// them in the node_exporter textfile format.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bnema/dockship/internal/boundaries/out"
)

const namespace = "dockship"

var _ out.MetricsRecorder = (*Recorder)(nil)

// Recorder implements out.MetricsRecorder.
type Recorder struct {
	registry *prometheus.Registry
	path     string

	stepDuration     *prometheus.HistogramVec
	stepsTotal       *prometheus.CounterVec
	layersTotal      *prometheus.CounterVec
	archiveBytes     prometheus.Gauge
	transferredBytes prometheus.Counter
	throughput       prometheus.Gauge
	runsTotal        *prometheus.CounterVec
	runDuration      prometheus.Gauge
	lastSuccess      prometheus.Gauge
}

// NewRecorder creates a recorder. Flush writes to path; an empty path
// keeps the metrics in memory only.
func NewRecorder(path string) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		path:     path,

		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of pipeline steps.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"step"}),
		stepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Total number of executed pipeline steps.",
		}, []string{"step", "result"}),
		layersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "layers_total",
			Help:      "Layers seen by the pruner, by outcome.",
		}, []string{"outcome"}),
		archiveBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "archive_bytes",
			Help:      "Size of the archive shipped to the destination.",
		}),
		transferredBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transferred_bytes_total",
			Help:      "Bytes copied between hosts.",
		}),
		throughput: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transfer_bytes_per_second",
			Help:      "Average throughput of the last transfer.",
		}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of runs.",
		}, []string{"result"}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of the last run.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}),
	}

	r.registry.MustRegister(
		r.stepDuration,
		r.stepsTotal,
		r.layersTotal,
		r.archiveBytes,
		r.transferredBytes,
		r.throughput,
		r.runsTotal,
		r.runDuration,
		r.lastSuccess,
	)
	return r
}

// Gatherer exposes the underlying registry.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

func (r *Recorder) StepCompleted(step string, d time.Duration, failed bool) {
	r.stepDuration.WithLabelValues(step).Observe(d.Seconds())
	r.stepsTotal.WithLabelValues(step, result(!failed)).Inc()
}

func (r *Recorder) LayersPruned(removed, kept, failed int) {
	r.layersTotal.WithLabelValues("removed").Add(float64(removed))
	r.layersTotal.WithLabelValues("kept").Add(float64(kept))
	r.layersTotal.WithLabelValues("failed").Add(float64(failed))
}

func (r *Recorder) ArchiveSize(bytes int64) {
	r.archiveBytes.Set(float64(bytes))
}

func (r *Recorder) BytesTransferred(bytes int64, d time.Duration) {
	r.transferredBytes.Add(float64(bytes))
	if d > 0 {
		r.throughput.Set(float64(bytes) / d.Seconds())
	}
}

func (r *Recorder) RunFinished(success bool, d time.Duration) {
	r.runsTotal.WithLabelValues(result(success)).Inc()
	r.runDuration.Set(d.Seconds())
	if success {
		r.lastSuccess.SetToCurrentTime()
	}
}

// Flush writes the textfile atomically.
func (r *Recorder) Flush() error {
	if r.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(r.path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
