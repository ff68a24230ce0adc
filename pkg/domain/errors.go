package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors matched with errors.Is by callers.
var (
	ErrConfigInvalid    = errors.New("invalid configuration")
	ErrArtifactNotFound = errors.New("artifact not found")
	ErrStepFailed       = errors.New("step execution failed")
	ErrInvalidBounds    = errors.New("invalid filter bounds")
)

// ConfigurationError reports a missing or invalid setting.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid configuration: %v", e.Err)
	}
	return fmt.Sprintf("invalid configuration %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfigInvalid }

// ArtifactResolutionError reports a name:tag reference that does not resolve.
type ArtifactResolutionError struct {
	Step StepID
	Ref  ArtifactRef
	Err  error
}

func (e *ArtifactResolutionError) Error() string {
	msg := fmt.Sprintf("artifact %s could not be resolved", e.Ref)
	if e.Step != "" {
		msg = fmt.Sprintf("step %q: %s", e.Step, msg)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ArtifactResolutionError) Unwrap() error { return e.Err }

func (e *ArtifactResolutionError) Is(target error) bool { return target == ErrArtifactNotFound }

// StepExecutionError reports that the underlying step failed.
type StepExecutionError struct {
	Step StepID
	Err  error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %q failed: %v", e.Step, e.Err)
}

func (e *StepExecutionError) Unwrap() error { return e.Err }

func (e *StepExecutionError) Is(target error) bool { return target == ErrStepFailed }

// FilterValidationError reports malformed predicate bounds, e.g. min > max.
type FilterValidationError struct {
	Predicate string
	Min       float64
	Max       float64
	Reason    string
}

func (e *FilterValidationError) Error() string {
	return fmt.Sprintf("filter %q bounds [%g, %g]: %s", e.Predicate, e.Min, e.Max, e.Reason)
}

func (e *FilterValidationError) Is(target error) bool { return target == ErrInvalidBounds }

// FailedStep extracts the step identity carried by a pipeline error, if any.
func FailedStep(err error) (StepID, bool) {
	var execErr *StepExecutionError
	if errors.As(err, &execErr) {
		return execErr.Step, true
	}
	var resolveErr *ArtifactResolutionError
	if errors.As(err, &resolveErr) && resolveErr.Step != "" {
		return resolveErr.Step, true
	}
	return "", false
}
