package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/polisai/rentalprep/pkg/config"
	"github.com/polisai/rentalprep/pkg/domain"
	"github.com/polisai/rentalprep/pkg/runner"
	"github.com/polisai/rentalprep/pkg/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StepRunner executes a single step invocation.
type StepRunner interface {
	Run(ctx context.Context, inv runner.Invocation) ([]domain.Artifact, error)
}

// RunnerFactory builds the step runner of one invocation. tempDir is the
// scoped directory of that invocation and is removed when it ends.
type RunnerFactory func(tempDir string) (StepRunner, error)

// DriverConfig holds dependencies for creating a Driver.
type DriverConfig struct {
	Config    *config.Config
	NewRunner RunnerFactory
	Logger    *slog.Logger
	// Metrics is optional.
	Metrics *Metrics
}

// Driver runs the active steps of the configured pipeline in order.
type Driver struct {
	cfg       *config.Config
	newRunner RunnerFactory
	logger    *slog.Logger
	metrics   *Metrics
}

// NewDriver validates the configuration and returns a driver.
func NewDriver(cfg DriverConfig) (*Driver, error) {
	if cfg.Config == nil {
		return nil, errors.New("driver requires a configuration")
	}
	if cfg.NewRunner == nil {
		return nil, errors.New("driver requires a runner factory")
	}
	if err := cfg.Config.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		cfg:       cfg.Config,
		newRunner: cfg.NewRunner,
		logger:    logger,
		metrics:   cfg.Metrics,
	}, nil
}

// Run executes one pipeline invocation. The returned report is never nil and
// lists every known step. On failure the error is the failing step's error,
// still matching domain.ErrStepFailed or domain.ErrArtifactNotFound.
func (d *Driver) Run(ctx context.Context) (*domain.Report, error) {
	group := domain.RunGroup{
		Project:      d.cfg.Main.ProjectName,
		Group:        d.cfg.Main.ExperimentName,
		InvocationID: uuid.NewString(),
	}
	if group.Group == "" {
		group.Group = "experiment_" + uuid.NewString()[:8]
	}

	active := ActiveSteps(d.cfg.Main.Steps, d.logger)
	report := newReport(group, active)
	logger := d.logger.With("run_group", group.Group, "invocation_id", group.InvocationID)

	tracer := otel.Tracer(telemetry.TracerName)
	ctx, span := tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("pipeline.project", group.Project),
		attribute.String("pipeline.run_group", group.Group),
		attribute.String("pipeline.invocation_id", group.InvocationID),
		attribute.Int("pipeline.active_steps", len(active)),
	))
	defer span.End()

	err := d.execute(ctx, group, report, logger)

	report.State = domain.PipelineFinished
	report.FinishedAt = time.Now()
	report.Outcome = domain.OutcomeSuccess
	if err != nil {
		report.Outcome = domain.OutcomeFailure
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("pipeline.outcome", string(report.Outcome)))
	if d.metrics != nil {
		d.metrics.RecordRun(report.Outcome, report.FinishedAt.Sub(report.StartedAt))
	}

	if err != nil {
		failed, _ := domain.FailedStep(err)
		logger.Error("pipeline failed", "step", failed, "error", err)
		return report, err
	}
	logger.Info("pipeline finished", "executed", len(report.Executed()), "duration", report.FinishedAt.Sub(report.StartedAt))
	return report, nil
}

func (d *Driver) execute(ctx context.Context, group domain.RunGroup, report *domain.Report, logger *slog.Logger) error {
	tempDir, err := os.MkdirTemp(d.cfg.Storage.TempDir, "rentalprep-*")
	if err != nil {
		return fmt.Errorf("create scoped temp directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tempDir); err != nil {
			logger.Warn("failed to remove scoped temp directory", "path", tempDir, "error", err)
		}
	}()

	stepRunner, err := d.newRunner(tempDir)
	if err != nil {
		return fmt.Errorf("create step runner: %w", err)
	}

	report.State = domain.PipelineInProgress
	logger.Info("pipeline started", "active", activeNames(report))

	if d.metrics != nil {
		for _, entry := range report.Steps {
			if entry.State == domain.StepSkipped {
				d.metrics.RecordSkipped(entry.Step)
			}
		}
	}

	for i := range report.Steps {
		entry := &report.Steps[i]
		if entry.State == domain.StepSkipped {
			continue
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("pipeline interrupted before step %q: %w", entry.Step, err)
		}
		if err := d.runStep(ctx, stepRunner, group, tempDir, entry, logger); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) runStep(ctx context.Context, stepRunner StepRunner, group domain.RunGroup, tempDir string, entry *domain.StepReport, logger *slog.Logger) error {
	step := entry.Step
	component := ComponentLocator(d.cfg, step)
	logger = logger.With("step", step, "component", component)

	tracer := otel.Tracer(telemetry.TracerName)
	ctx, span := tracer.Start(ctx, "pipeline.step", trace.WithAttributes(
		attribute.String("step.name", string(step)),
		attribute.String("step.component", component),
	))
	defer span.End()

	entry.State = domain.StepRunning
	started := time.Now()

	artifacts, err := d.invoke(ctx, stepRunner, group, tempDir, step, component)
	entry.Duration = time.Since(started)

	if err != nil {
		entry.State = domain.StepFailed
		entry.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		telemetry.RecordStepFailure(span, string(step), failureReason(err))
	} else {
		entry.State = domain.StepCompleted
		for _, art := range artifacts {
			entry.Outputs = append(entry.Outputs, art.Ref())
		}
	}
	span.SetAttributes(attribute.String("step.state", string(entry.State)))

	telemetry.RecordStepMetrics(ctx, telemetry.StepMetrics{
		Project:   group.Project,
		RunGroup:  group.Group,
		Step:      string(step),
		Component: component,
		State:     string(entry.State),
		Duration:  entry.Duration,
		Artifacts: len(artifacts),
	})
	if d.metrics != nil {
		d.metrics.RecordStep(step, entry.State, entry.Duration, len(artifacts))
	}

	if err != nil {
		logger.Error("step failed", "duration", entry.Duration, "error", err)
		return err
	}
	logger.Info("step finished", "duration", entry.Duration, "outputs", len(artifacts))
	return nil
}

func (d *Driver) invoke(ctx context.Context, stepRunner StepRunner, group domain.RunGroup, tempDir string, step domain.StepID, component string) ([]domain.Artifact, error) {
	plan, err := planFor(step)
	if err != nil {
		return nil, &domain.StepExecutionError{Step: step, Err: err}
	}
	params, err := plan.params(planContext{cfg: d.cfg, tempDir: tempDir})
	if err != nil {
		return nil, &domain.StepExecutionError{Step: step, Err: err}
	}

	inv := runner.Invocation{
		Step:       step,
		Component:  component,
		EntryPoint: runner.DefaultEntryPoint,
		Params:     params,
		Outputs:    Outputs(d.cfg, step),
		Group:      group,
	}
	return stepRunner.Run(ctx, inv)
}

func newReport(group domain.RunGroup, active []domain.StepID) *domain.Report {
	isActive := make(map[domain.StepID]bool, len(active))
	for _, id := range active {
		isActive[id] = true
	}
	report := &domain.Report{
		InvocationID: group.InvocationID,
		RunGroup:     group.Group,
		State:        domain.PipelineNotStarted,
		StartedAt:    time.Now(),
	}
	for _, id := range domain.KnownSteps() {
		state := domain.StepSkipped
		if isActive[id] {
			state = domain.StepPending
		}
		report.Steps = append(report.Steps, domain.StepReport{Step: id, State: state})
	}
	return report
}

func activeNames(report *domain.Report) []string {
	var names []string
	for _, step := range report.Steps {
		if step.State != domain.StepSkipped {
			names = append(names, string(step.Step))
		}
	}
	return names
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrArtifactNotFound):
		return "artifact_resolution"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "step_execution"
	}
}
