package steps

import (
	"context"
	"path/filepath"

	"github.com/polisai/rentalprep/pkg/cleaning"
	"github.com/polisai/rentalprep/pkg/runner"
)

func basicCleaning(_ context.Context, env *runner.Environment) error {
	input, err := env.String("input_artifact")
	if err != nil {
		return err
	}
	output, err := env.String("output_artifact")
	if err != nil {
		return err
	}
	minPrice, err := env.Float("min_price")
	if err != nil {
		return err
	}
	maxPrice, err := env.Float("max_price")
	if err != nil {
		return err
	}

	summary, err := cleaning.CleanFile(input, filepath.Join(env.OutputDir, output),
		cleaning.Options{MinPrice: minPrice, MaxPrice: maxPrice}, env.Logger)
	if err != nil {
		return err
	}
	return env.Run.LogMetrics(summary.Metrics())
}
