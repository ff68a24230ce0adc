// Package tracking records one run per step invocation, grouped by pipeline run group.
package tracking

import (
	"context"

	"github.com/polisai/rentalprep/pkg/domain"
)

// Tracker opens tracked runs.
type Tracker interface {
	BeginRun(ctx context.Context, spec domain.RunSpec) (Run, error)
}

// Run accumulates configuration and metrics for a single step invocation.
type Run interface {
	ID() string
	LogConfig(values map[string]any) error
	LogMetrics(values map[string]float64) error
	End(status domain.RunStatus) error
}

// Nop returns a tracker that discards everything.
func Nop() Tracker {
	return nopTracker{}
}

type nopTracker struct{}

func (nopTracker) BeginRun(context.Context, domain.RunSpec) (Run, error) {
	return nopRun{}, nil
}

type nopRun struct{}

func (nopRun) ID() string { return "" }
func (nopRun) LogConfig(map[string]any) error { return nil }
func (nopRun) LogMetrics(map[string]float64) error { return nil }
func (nopRun) End(domain.RunStatus) error { return nil }
