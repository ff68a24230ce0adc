package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/polisai/rentalprep/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pipelineYAML = `
main:
  project_name: nyc_airbnb
  experiment_name: development
  steps: all
  components_repository: ./components
  data_source: https://example.com/data
  step_timeout: 30m
  components:
    train_random_forest: ./src/train_random_forest
etl:
  sample: sample2.csv
  min_price: 10
  max_price: 350
data_check:
  kl_threshold: 0.2
  ks_alpha: 0.05
modeling:
  test_size: 0.2
  val_size: 0.2
  random_seed: 42
  stratify_by: neighbourhood_group
  max_tfidf_features: 30
  export_artifact: random_forest_export
  random_forest:
    n_estimators: 200
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFromFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, pipelineYAML))
	require.NoError(t, err)

	assert.Equal(t, "nyc_airbnb", cfg.Main.ProjectName)
	assert.Equal(t, "all", cfg.Main.Steps)
	assert.Equal(t, 30*time.Minute, cfg.Main.StepTimeout)
	assert.Equal(t, "./src/train_random_forest", cfg.Main.Components["train_random_forest"])
	assert.Equal(t, "sample2.csv", cfg.ETL.Sample)
	assert.Equal(t, 30, cfg.Modeling.MaxTFIDFFeatures)
	assert.Equal(t, 200, cfg.Modeling.RandomForest["n_estimators"])
	assert.NotContains(t, cfg.Modeling.RandomForest, "max_depth", "a file block replaces the default hyperparameters")
	assert.Equal(t, 15000, cfg.DataCheck.MinRows)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestRandomForestOverrideKeepsDefaultsWithoutFileBlock(t *testing.T) {
	cfg, err := Load(writeConfig(t, "main:\n  project_name: nyc_airbnb\n"), "modeling.random_forest.max_depth=20")
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Modeling.RandomForest["max_depth"])
	assert.Equal(t, Default().Modeling.RandomForest["n_estimators"], cfg.Modeling.RandomForest["n_estimators"])
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestOverridesTakePrecedence(t *testing.T) {
	t.Setenv("RENTALPREP_STEPS", "download")
	t.Setenv("RENTALPREP_LOG_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, pipelineYAML), "main.steps=download,basic_cleaning", "etl.min_price=20", "modeling.stratify_by=none")
	require.NoError(t, err)

	assert.Equal(t, "download,basic_cleaning", cfg.Main.Steps, "command line beats environment")
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 20.0, cfg.ETL.MinPrice)
	assert.Equal(t, "none", cfg.Modeling.StratifyBy)
}

func TestLoadRejectsInvalidConfiguration(t *testing.T) {
	tests := []struct {
		name      string
		overrides []string
		field     string
	}{
		{"inverted price bounds", []string{"etl.min_price=400"}, "etl"},
		{"empty steps", []string{"main.steps="}, "main"},
		{"unknown component step", []string{"main.components.predict=./x"}, "main"},
		{"test size", []string{"modeling.test_size=1.5"}, "modeling"},
		{"ks alpha", []string{"data_check.ks_alpha=0"}, "data_check"},
		{"row bounds", []string{"data_check.max_rows=10"}, "data_check"},
		{"log level", []string{"logging.level=loud"}, "logging"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load("", tc.overrides...)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrConfigInvalid)

			var cfgErr *domain.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tc.field, cfgErr.Field)
		})
	}
}

func TestInvertedPriceBoundsCarryFilterError(t *testing.T) {
	_, err := Load("", "etl.min_price=400", "etl.max_price=10")
	assert.ErrorIs(t, err, domain.ErrInvalidBounds)
}

func TestLoadRejectsMalformedInput(t *testing.T) {
	_, err := Load("", "no-equals-sign")
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)

	_, err = Load("", "etl.min_price=cheap")
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)

	_, err = Load(writeConfig(t, "etl:\n  min_prize: 10\n"))
	assert.ErrorIs(t, err, domain.ErrConfigInvalid, "unknown keys are rejected")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSetDotted(t *testing.T) {
	tree := map[string]any{"etl": "flat"}
	assert.Error(t, setDotted(tree, "etl.min_price", "1"))
	assert.Error(t, setDotted(tree, "main..steps", "all"))

	require.NoError(t, setDotted(tree, "modeling.random_forest.max_depth", "20"))
	rf := tree["modeling"].(map[string]any)["random_forest"].(map[string]any)
	assert.Equal(t, 20, rf["max_depth"])
}
