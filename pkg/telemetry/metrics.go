package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	metricsOnce          sync.Once
	metricsInitErr       error
	stepExecutionCounter metric.Int64Counter
	stepFailureCounter   metric.Int64Counter
	stepLatencyHistogram metric.Float64Histogram
	artifactCounter      metric.Int64Counter
)

// StepMetrics captures the fields needed to record step telemetry metrics.
type StepMetrics struct {
	Project   string
	RunGroup  string
	Step      string
	Component string
	State     string
	Duration  time.Duration
	Artifacts int
}

// RecordStepMetrics emits counters and histograms that describe step execution behaviour.
func RecordStepMetrics(ctx context.Context, m StepMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("pipeline.project", m.Project),
		attribute.String("pipeline.run_group", m.RunGroup),
		attribute.String("step.name", m.Step),
		attribute.String("step.component", m.Component),
		attribute.String("step.state", m.State),
	)

	stepExecutionCounter.Add(ctx, 1, attrs)
	if m.Duration > 0 {
		stepLatencyHistogram.Record(ctx, float64(m.Duration)/float64(time.Millisecond), attrs)
	}
	if m.State == "failed" {
		stepFailureCounter.Add(ctx, 1, attrs)
	}
	if m.Artifacts > 0 {
		artifactCounter.Add(ctx, int64(m.Artifacts), attrs)
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter(TracerName)

		stepExecutionCounter, metricsInitErr = meter.Int64Counter(
			"rentalprep.step.executions_total",
			metric.WithDescription("Pipeline step executions partitioned by final state"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		stepFailureCounter, metricsInitErr = meter.Int64Counter(
			"rentalprep.step.failures_total",
			metric.WithDescription("Pipeline steps that ended in failure"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		artifactCounter, metricsInitErr = meter.Int64Counter(
			"rentalprep.step.artifacts_total",
			metric.WithDescription("Artifact versions registered by steps"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		stepLatencyHistogram, metricsInitErr = meter.Float64Histogram(
			"rentalprep.step.duration_ms",
			metric.WithDescription("Observed step execution latency"),
			metric.WithUnit("ms"),
		)
	})

	return metricsInitErr
}

// RecordStepFailure attaches a failure event to span without the full error chain.
func RecordStepFailure(span trace.Span, step string, reason string) {
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent("step.failed", trace.WithAttributes(
		attribute.String("step.name", step),
		attribute.String("step.failure_reason", reason),
	))
}
