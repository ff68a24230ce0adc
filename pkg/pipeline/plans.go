package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/polisai/rentalprep/pkg/config"
	"github.com/polisai/rentalprep/pkg/domain"
	"github.com/polisai/rentalprep/pkg/runner"
	"github.com/polisai/rentalprep/pkg/steps"
)

// Artifact names exchanged between steps.
const (
	SampleArtifact = "sample.csv"
	CleanArtifact  = "clean_sample.csv"

	// ReferenceAlias marks the cleaned sample data_check compares against.
	ReferenceAlias = "reference"
	// ProdAlias marks the model promoted for testing.
	ProdAlias = "prod"

	// RandomForestConfigFile is written into the scoped temp dir for training.
	RandomForestConfigFile = "rf_config.json"
)

// planContext is what a plan may read while building an invocation.
type planContext struct {
	cfg     *config.Config
	tempDir string
}

// stepPlan derives the parameters and declared outputs of one step.
type stepPlan struct {
	params  func(pc planContext) (map[string]any, error)
	outputs func(cfg *config.Config) []runner.OutputSpec
}

var plans = map[domain.StepID]stepPlan{
	domain.StepDownload: {
		params: func(pc planContext) (map[string]any, error) {
			return map[string]any{
				"sample":               pc.cfg.ETL.Sample,
				"artifact_name":        SampleArtifact,
				"artifact_type":        "raw_data",
				"artifact_description": "Raw file as downloaded",
			}, nil
		},
		outputs: func(*config.Config) []runner.OutputSpec {
			return []runner.OutputSpec{{Name: SampleArtifact, Type: "raw_data", Description: "Raw file as downloaded"}}
		},
	},
	domain.StepBasicCleaning: {
		params: func(pc planContext) (map[string]any, error) {
			return map[string]any{
				"input_artifact":     domain.Ref(SampleArtifact, domain.TagLatest),
				"output_artifact":    CleanArtifact,
				"output_type":        "clean_sample",
				"output_description": "Data with outliers and null values removed",
				"min_price":          pc.cfg.ETL.MinPrice,
				"max_price":          pc.cfg.ETL.MaxPrice,
			}, nil
		},
		outputs: func(*config.Config) []runner.OutputSpec {
			return []runner.OutputSpec{{Name: CleanArtifact, Type: "clean_sample", Description: "Data with outliers and null values removed"}}
		},
	},
	domain.StepDataCheck: {
		params: func(pc planContext) (map[string]any, error) {
			return map[string]any{
				"csv":          domain.Ref(CleanArtifact, domain.TagLatest),
				"ref":          domain.Ref(CleanArtifact, ReferenceAlias),
				"kl_threshold": pc.cfg.DataCheck.KLThreshold,
				"ks_alpha":     pc.cfg.DataCheck.KSAlpha,
				"min_price":    pc.cfg.ETL.MinPrice,
				"max_price":    pc.cfg.ETL.MaxPrice,
				"min_rows":     pc.cfg.DataCheck.MinRows,
				"max_rows":     pc.cfg.DataCheck.MaxRows,
			}, nil
		},
	},
	domain.StepDataSplit: {
		params: func(pc planContext) (map[string]any, error) {
			return map[string]any{
				"input_artifact": domain.Ref(CleanArtifact, domain.TagLatest),
				"test_size":      pc.cfg.Modeling.TestSize,
				"val_size":       pc.cfg.Modeling.ValSize,
				"random_seed":    pc.cfg.Modeling.RandomSeed,
				"stratify_by":    pc.cfg.Modeling.StratifyBy,
			}, nil
		},
		outputs: func(*config.Config) []runner.OutputSpec {
			return []runner.OutputSpec{
				{Name: steps.TrainValArtifact, Type: "segregated_data", Description: "Train and validation data"},
				{Name: steps.TestArtifact, Type: "segregated_data", Description: "Test data"},
			}
		},
	},
	domain.StepTrainRandomForest: {
		params: func(pc planContext) (map[string]any, error) {
			rfConfig, err := writeRandomForestConfig(pc.tempDir, pc.cfg.Modeling.RandomForest)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"trainval_artifact":  domain.Ref(steps.TrainValArtifact, domain.TagLatest),
				"rf_config":          rfConfig,
				"output_artifact":    pc.cfg.Modeling.ExportArtifact,
				"random_seed":        pc.cfg.Modeling.RandomSeed,
				"val_size":           pc.cfg.Modeling.ValSize,
				"stratify_by":        pc.cfg.Modeling.StratifyBy,
				"max_tfidf_features": pc.cfg.Modeling.MaxTFIDFFeatures,
			}, nil
		},
		outputs: func(cfg *config.Config) []runner.OutputSpec {
			return []runner.OutputSpec{{Name: cfg.Modeling.ExportArtifact, Type: "model_export", Description: "Random Forest pipeline export"}}
		},
	},
	domain.StepTestRegressionModel: {
		params: func(pc planContext) (map[string]any, error) {
			return map[string]any{
				"mlflow_model":  domain.Ref(pc.cfg.Modeling.ExportArtifact, ProdAlias),
				"test_artifact": domain.Ref(steps.TestArtifact, domain.TagLatest),
			}, nil
		},
	},
}

// planFor returns the plan registered for step.
func planFor(step domain.StepID) (stepPlan, error) {
	plan, ok := plans[step]
	if !ok {
		return stepPlan{}, fmt.Errorf("no plan registered for step %q", step)
	}
	return plan, nil
}

// Outputs returns the artifacts step is expected to register under cfg.
func Outputs(cfg *config.Config, step domain.StepID) []runner.OutputSpec {
	plan, ok := plans[step]
	if !ok || plan.outputs == nil {
		return nil
	}
	return plan.outputs(cfg)
}

// ComponentLocator returns the locator the driver dispatches step to. An
// entry in main.components wins; built-in steps default to builtin:// and the
// rest to a directory under the components repository.
func ComponentLocator(cfg *config.Config, step domain.StepID) string {
	if loc, ok := cfg.Main.Components[string(step)]; ok && loc != "" {
		return loc
	}
	for _, id := range steps.Builtins() {
		if id == step {
			return steps.Locator(step)
		}
	}
	return filepath.Join(cfg.Main.ComponentsRepository, string(step))
}

func writeRandomForestConfig(dir string, hyperparameters map[string]any) (string, error) {
	if hyperparameters == nil {
		hyperparameters = map[string]any{}
	}
	data, err := json.MarshalIndent(hyperparameters, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode random forest config: %w", err)
	}
	path := filepath.Join(dir, RandomForestConfigFile)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write random forest config: %w", err)
	}
	return path, nil
}
