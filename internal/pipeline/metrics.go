package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "trip_planner"

// Metrics are the Prometheus collectors of the pipeline. They are registered
// on the registry handed to NewMetrics, never on the default one.
type Metrics struct {
	runs          *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	items         *prometheus.CounterVec
	lastSuccess   prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	auto := promauto.With(reg)

	return &Metrics{
		runs: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Pipeline runs by final status",
		}, []string{"status"}),

		stageDuration: auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Wall time of each pipeline stage",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"stage"}),

		items: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "items_total",
			Help:      "Items handled per stage by outcome",
		}, []string{"stage", "outcome"}),

		lastSuccess: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run",
		}),
	}
}

func (m *Metrics) observeStage(stage StageReport) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage.Name).Observe(stage.Duration.Seconds())
	m.items.WithLabelValues(stage.Name, "ok").Add(float64(stage.Output))
	if stage.Skipped > 0 {
		m.items.WithLabelValues(stage.Name, "skipped").Add(float64(stage.Skipped))
	}
	if stage.Failed > 0 {
		m.items.WithLabelValues(stage.Name, "failed").Add(float64(stage.Failed))
	}
}

func (m *Metrics) observeRun(status Status, finishedAt time.Time) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(status)).Inc()
	if status == StatusSucceeded {
		m.lastSuccess.Set(float64(finishedAt.Unix()))
	}
}
