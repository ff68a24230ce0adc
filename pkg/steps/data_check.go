package steps

import (
	"context"
	"fmt"

	"github.com/polisai/rentalprep/pkg/dataset"
	"github.com/polisai/rentalprep/pkg/quality"
	"github.com/polisai/rentalprep/pkg/runner"
)

type dataCheckHandler struct {
	gate *quality.Gate
}

func (h *dataCheckHandler) Execute(ctx context.Context, env *runner.Environment) error {
	gate := h.gate
	if gate == nil {
		var err error
		if gate, err = quality.NewGate(ctx); err != nil {
			return err
		}
	}

	csvPath, err := env.String("csv")
	if err != nil {
		return err
	}
	current, err := dataset.ReadFile(csvPath)
	if err != nil {
		return err
	}

	var reference *quality.Summary
	if refPath, ok := env.Param("ref"); ok && refPath != "" {
		ref, err := dataset.ReadFile(refPath)
		if err != nil {
			return err
		}
		summary := quality.Summarize(ref)
		reference = &summary
	}

	th := quality.Thresholds{}
	if th.MinPrice, err = env.Float("min_price"); err != nil {
		return err
	}
	if th.MaxPrice, err = env.Float("max_price"); err != nil {
		return err
	}
	if th.MinRows, err = intOr(env, "min_rows", 0); err != nil {
		return err
	}
	if th.MaxRows, err = intOr(env, "max_rows", 0); err != nil {
		return err
	}

	summary := quality.Summarize(current)
	decision, err := gate.Evaluate(ctx, summary, reference, th)
	if err != nil {
		return err
	}

	passed := 0.0
	if decision.Pass {
		passed = 1
	}
	if err := env.Run.LogMetrics(map[string]float64{
		"rows":       float64(summary.Rows),
		"violations": float64(len(decision.Violations)),
		"passed":     passed,
	}); err != nil {
		env.Logger.Warn("failed to record data check metrics", "error", err)
	}

	for _, v := range decision.Violations {
		env.Logger.Warn("Data check violation", "violation", v)
	}
	if err := decision.Err(); err != nil {
		return err
	}
	env.Logger.Info("Data check passed", "rows", summary.Rows)
	return nil
}

func intOr(env *runner.Environment, name string, fallback int) (int, error) {
	if _, ok := env.Param(name); !ok {
		return fallback, nil
	}
	v, err := env.Int(name)
	if err != nil {
		return 0, fmt.Errorf("data check: %w", err)
	}
	return v, nil
}
