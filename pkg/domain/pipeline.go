package domain

import (
	"strings"
	"time"
)

// StepID identifies one unit of work in the pipeline.
type StepID string

const (
	// StepDownload fetches the raw sample and registers it as sample.csv.
	StepDownload StepID = "download"
	// StepBasicCleaning removes price outliers and out-of-area listings.
	StepBasicCleaning StepID = "basic_cleaning"
	// StepDataCheck validates the cleaned data against quality checks.
	StepDataCheck StepID = "data_check"
	// StepDataSplit produces the trainval and test partitions.
	StepDataSplit StepID = "data_split"
	// StepTrainRandomForest trains and exports the baseline model.
	StepTrainRandomForest StepID = "train_random_forest"
	// StepTestRegressionModel evaluates the model promoted to "prod".
	// It is never part of the "all" selection and must be requested explicitly.
	StepTestRegressionModel StepID = "test_regression_model"
)

// AllStepsToken selects every canonical step.
const AllStepsToken = "all"

var canonicalSteps = []StepID{
	StepDownload,
	StepBasicCleaning,
	StepDataCheck,
	StepDataSplit,
	StepTrainRandomForest,
}

// CanonicalSteps returns the default execution order, which excludes the model
// test step.
func CanonicalSteps() []StepID {
	return append([]StepID(nil), canonicalSteps...)
}

// KnownSteps returns every step identity in execution order, including the
// gated model test step, which always runs last.
func KnownSteps() []StepID {
	return append(CanonicalSteps(), StepTestRegressionModel)
}

// ParseStepID maps a raw identity to a StepID. Surrounding whitespace is ignored.
func ParseStepID(raw string) (StepID, bool) {
	candidate := StepID(strings.TrimSpace(raw))
	for _, id := range KnownSteps() {
		if id == candidate {
			return id, true
		}
	}
	return "", false
}

func (s StepID) String() string {
	return string(s)
}

// StepState is the lifecycle state of a single step within one run.
type StepState string

const (
	StepPending   StepState = "pending"
	StepRunning   StepState = "running"
	StepCompleted StepState = "completed"
	StepFailed    StepState = "failed"
	// StepSkipped marks steps outside the active selection.
	StepSkipped StepState = "skipped"
)

// PipelineState is the lifecycle state of a pipeline invocation.
type PipelineState string

const (
	PipelineNotStarted PipelineState = "not_started"
	PipelineInProgress PipelineState = "in_progress"
	PipelineFinished   PipelineState = "finished"
)

// PipelineOutcome qualifies a finished pipeline.
type PipelineOutcome string

const (
	OutcomeSuccess PipelineOutcome = "success"
	OutcomeFailure PipelineOutcome = "failure"
)

// RunGroup correlates every step of one pipeline invocation in the tracking store.
type RunGroup struct {
	Project      string
	Group        string
	InvocationID string
}

// RunSpec identifies a single tracked run. It is passed explicitly to the
// tracker instead of being published through process environment variables.
type RunSpec struct {
	Project      string
	Group        string
	JobType      string
	InvocationID string
}

// RunStatus is the terminal (or current) status of a tracked run.
type RunStatus string

const (
	RunRunning  RunStatus = "running"
	RunFinished RunStatus = "finished"
	RunFailed   RunStatus = "failed"
)

// StepReport records what happened to one step during an invocation.
type StepReport struct {
	Step     StepID        `json:"step"`
	State    StepState     `json:"state"`
	Duration time.Duration `json:"duration"`
	Outputs  []ArtifactRef `json:"outputs,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Report summarises a pipeline invocation.
type Report struct {
	InvocationID string          `json:"invocation_id"`
	RunGroup     string          `json:"run_group"`
	State        PipelineState   `json:"state"`
	Outcome      PipelineOutcome `json:"outcome,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
	Steps        []StepReport    `json:"steps"`
}

// Step returns the report entry for id, if present.
func (r *Report) Step(id StepID) (*StepReport, bool) {
	for i := range r.Steps {
		if r.Steps[i].Step == id {
			return &r.Steps[i], true
		}
	}
	return nil, false
}

// Executed lists steps that reached Running, in the order they ran.
func (r *Report) Executed() []StepID {
	var out []StepID
	for _, step := range r.Steps {
		if step.State == StepCompleted || step.State == StepFailed || step.State == StepRunning {
			out = append(out, step.Step)
		}
	}
	return out
}
