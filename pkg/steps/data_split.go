package steps

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"sort"

	"github.com/polisai/rentalprep/pkg/dataset"
	"github.com/polisai/rentalprep/pkg/domain"
	"github.com/polisai/rentalprep/pkg/runner"
)

// Split output names.
const (
	TrainValArtifact = "trainval_data.csv"
	TestArtifact     = "test_data.csv"
)

// noStratification disables stratified sampling.
const noStratification = "none"

// Split partitions ds into train+validation and test rows. The test share of
// every stratum is round(testSize * stratum size). Row order is preserved in
// both partitions and the same seed always yields the same split.
func Split(ds domain.Dataset, testSize float64, seed int64, stratifyBy string) (domain.Dataset, domain.Dataset, error) {
	if math.IsNaN(testSize) || testSize <= 0 || testSize >= 1 {
		return domain.Dataset{}, domain.Dataset{}, fmt.Errorf("test_size must be in (0, 1), got %g", testSize)
	}
	if stratifyBy != "" && stratifyBy != noStratification && !ds.HasColumn(stratifyBy) {
		return domain.Dataset{}, domain.Dataset{}, fmt.Errorf("stratify_by column %q not found", stratifyBy)
	}

	strata := make(map[string][]int)
	for i, row := range ds.Rows {
		key := ""
		if stratifyBy != "" && stratifyBy != noStratification {
			key = row[stratifyBy]
		}
		strata[key] = append(strata[key], i)
	}
	keys := make([]string, 0, len(strata))
	for k := range strata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	//nolint:gosec // Reproducible sampling, not security sensitive
	rng := rand.New(rand.NewSource(seed))
	isTest := make([]bool, len(ds.Rows))
	for _, k := range keys {
		members := strata[k]
		n := int(math.Round(testSize * float64(len(members))))
		for _, p := range rng.Perm(len(members))[:n] {
			isTest[members[p]] = true
		}
	}

	var trainVal, test []domain.Row
	for i, row := range ds.Rows {
		if isTest[i] {
			test = append(test, row)
		} else {
			trainVal = append(trainVal, row)
		}
	}
	return ds.WithRows(trainVal), ds.WithRows(test), nil
}

func dataSplit(_ context.Context, env *runner.Environment) error {
	input, err := env.String("input_artifact")
	if err != nil {
		return err
	}
	testSize, err := env.Float("test_size")
	if err != nil {
		return err
	}
	seed, err := env.Int("random_seed")
	if err != nil {
		return err
	}
	stratifyBy := env.StringOr("stratify_by", noStratification)

	ds, err := dataset.ReadFile(input)
	if err != nil {
		return err
	}
	env.Logger.Info("Splitting data", "rows", ds.Len(), "test_size", testSize, "stratify_by", stratifyBy,
		"val_size", env.StringOr("val_size", ""))

	trainVal, test, err := Split(ds, testSize, int64(seed), stratifyBy)
	if err != nil {
		return err
	}
	if err := dataset.WriteFile(filepath.Join(env.OutputDir, TrainValArtifact), trainVal); err != nil {
		return err
	}
	if err := dataset.WriteFile(filepath.Join(env.OutputDir, TestArtifact), test); err != nil {
		return err
	}
	return env.Run.LogMetrics(map[string]float64{
		"trainval_rows": float64(trainVal.Len()),
		"test_rows":     float64(test.Len()),
	})
}
