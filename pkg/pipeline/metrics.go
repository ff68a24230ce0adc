package pipeline

import (
	"net/http"
	"time"

	"github.com/polisai/rentalprep/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics of the pipeline driver.
type Metrics struct {
	runsTotal   *prometheus.CounterVec
	runDuration *prometheus.HistogramVec

	stepsTotal   *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec

	artifactsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics instance on its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rentalprep_pipeline_runs_total",
				Help: "Total number of pipeline invocations by outcome",
			},
			[]string{"outcome"},
		),

		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rentalprep_pipeline_duration_seconds",
				Help:    "Pipeline invocation duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
			},
			[]string{"outcome"},
		),

		stepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rentalprep_steps_total",
				Help: "Total number of step executions by step and final state",
			},
			[]string{"step", "state"},
		),

		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rentalprep_step_duration_seconds",
				Help:    "Step execution duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
			},
			[]string{"step"},
		),

		artifactsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rentalprep_artifacts_registered_total",
				Help: "Total number of artifact versions registered by step",
			},
			[]string{"step"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.runsTotal,
		m.runDuration,
		m.stepsTotal,
		m.stepDuration,
		m.artifactsTotal,
	)

	return m
}

// RecordRun records a finished pipeline invocation.
func (m *Metrics) RecordRun(outcome domain.PipelineOutcome, duration time.Duration) {
	m.runsTotal.WithLabelValues(string(outcome)).Inc()
	m.runDuration.WithLabelValues(string(outcome)).Observe(duration.Seconds())
}

// RecordStep records a step that left the running state.
func (m *Metrics) RecordStep(step domain.StepID, state domain.StepState, duration time.Duration, artifacts int) {
	m.stepsTotal.WithLabelValues(string(step), string(state)).Inc()
	m.stepDuration.WithLabelValues(string(step)).Observe(duration.Seconds())
	if artifacts > 0 {
		m.artifactsTotal.WithLabelValues(string(step)).Add(float64(artifacts))
	}
}

// RecordSkipped records a step outside the active selection.
func (m *Metrics) RecordSkipped(step domain.StepID) {
	m.stepsTotal.WithLabelValues(string(step), string(domain.StepSkipped)).Inc()
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
