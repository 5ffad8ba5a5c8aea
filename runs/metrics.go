package runs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus collectors for run activity.
type Metrics struct {
	started  prometheus.Counter
	active   prometheus.Gauge
	finished *prometheus.CounterVec
	lines    *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewMetrics registers the run collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		started: f.NewCounter(prometheus.CounterOpts{
			Namespace: "qaflow",
			Name:      "runs_started_total",
			Help:      "Pipeline runs started.",
		}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "qaflow",
			Name:      "runs_active",
			Help:      "Pipeline runs whose process has not been finalized yet.",
		}),
		finished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qaflow",
			Name:      "runs_finished_total",
			Help:      "Pipeline runs finalized, by detected status.",
		}, []string{"status"}),
		lines: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qaflow",
			Name:      "run_lines_total",
			Help:      "Output lines streamed from pipeline processes.",
		}, []string{"stream"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "qaflow",
			Name:      "run_duration_seconds",
			Help:      "Wall time from process start to finalization.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}),
	}
}
