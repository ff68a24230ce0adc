package runner

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/polisai/rentalprep/pkg/domain"
	"github.com/polisai/rentalprep/pkg/tracking"
)

// DefaultEntryPoint is used when an invocation does not name one.
const DefaultEntryPoint = "main"

// Environment variables exported to every external step.
const (
	EnvProject   = "RENTALPREP_PROJECT"
	EnvRunGroup  = "RENTALPREP_RUN_GROUP"
	EnvJobType   = "RENTALPREP_JOB_TYPE"
	EnvOutputDir = "RENTALPREP_OUTPUT_DIR"
	EnvWorkDir   = "RENTALPREP_WORK_DIR"
)

// OutputSpec declares an artifact a step must leave in its output directory.
type OutputSpec struct {
	Name        string
	Type        string
	Description string
}

// Invocation is one request to run a step.
type Invocation struct {
	Step       domain.StepID
	Component  string
	EntryPoint string
	// Params holds scalars (string, numbers, bool) and domain.ArtifactRef values.
	Params  map[string]any
	Outputs []OutputSpec
	Group   domain.RunGroup
}

// Environment is what a step sees while it executes.
type Environment struct {
	Step       domain.StepID
	EntryPoint string
	// Params maps every parameter to its textual value. Artifact references
	// are replaced by the local path of the resolved version.
	Params    map[string]string
	Artifacts map[string]domain.Artifact
	WorkDir   string
	OutputDir string
	Env       []string
	Logger    *slog.Logger
	Run       tracking.Run
}

// Handler executes a built-in step.
type Handler interface {
	Execute(ctx context.Context, env *Environment) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, env *Environment) error

// Execute calls f.
func (f HandlerFunc) Execute(ctx context.Context, env *Environment) error {
	return f(ctx, env)
}

// Param returns the raw value of name.
func (e *Environment) Param(name string) (string, bool) {
	v, ok := e.Params[name]
	return v, ok
}

// String returns a required, non-empty parameter.
func (e *Environment) String(name string) (string, error) {
	v, ok := e.Params[name]
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("missing required parameter %q", name)
	}
	return v, nil
}

// StringOr returns name or fallback when it is unset.
func (e *Environment) StringOr(name, fallback string) string {
	if v, ok := e.Params[name]; ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

// Float parses a required numeric parameter.
func (e *Environment) Float(name string) (float64, error) {
	raw, err := e.String(name)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("parameter %q: %w", name, err)
	}
	return v, nil
}

// Int parses a required integer parameter.
func (e *Environment) Int(name string) (int, error) {
	raw, err := e.String(name)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parameter %q: %w", name, err)
	}
	return v, nil
}

// Artifact returns the resolved artifact bound to name.
func (e *Environment) Artifact(name string) (domain.Artifact, error) {
	art, ok := e.Artifacts[name]
	if !ok {
		return domain.Artifact{}, fmt.Errorf("parameter %q is not an artifact reference", name)
	}
	return art, nil
}

// FormatParam renders a scalar parameter the way it is passed to external steps.
func FormatParam(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	case domain.ArtifactRef:
		return val.String()
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}
