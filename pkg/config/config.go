// Package config provides configuration structures and loading logic for the pipeline.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/polisai/rentalprep/pkg/domain"
	"github.com/polisai/rentalprep/pkg/filter"
	"gopkg.in/yaml.v3"
)

// Config holds the pipeline configuration. It is read once per run and
// treated as immutable afterwards.
type Config struct {
	Main      MainConfig      `yaml:"main"`
	ETL       ETLConfig       `yaml:"etl"`
	DataCheck DataCheckConfig `yaml:"data_check"`
	Modeling  ModelingConfig  `yaml:"modeling"`

	Storage   StorageConfig   `yaml:"storage"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// MainConfig selects steps and locates their components.
type MainConfig struct {
	ProjectName    string `yaml:"project_name"`
	ExperimentName string `yaml:"experiment_name"`
	// Steps is "all" or a comma separated list of step names.
	Steps                string `yaml:"steps"`
	ComponentsRepository string `yaml:"components_repository"`
	DataSource           string `yaml:"data_source"`
	// Components overrides the locator of individual steps.
	Components  map[string]string `yaml:"components"`
	StepTimeout time.Duration     `yaml:"step_timeout"`
	// Container enables the Dagger runtime for manifests that request it.
	Container bool `yaml:"container"`
}

// ETLConfig drives download and cleaning.
type ETLConfig struct {
	Sample   string  `yaml:"sample"`
	MinPrice float64 `yaml:"min_price"`
	MaxPrice float64 `yaml:"max_price"`
}

// DataCheckConfig parameterises the data_check step.
type DataCheckConfig struct {
	KLThreshold float64 `yaml:"kl_threshold"`
	KSAlpha     float64 `yaml:"ks_alpha"`
	MinRows     int     `yaml:"min_rows"`
	MaxRows     int     `yaml:"max_rows"`
}

// ModelingConfig parameterises data_split, training and model testing.
type ModelingConfig struct {
	TestSize         float64        `yaml:"test_size"`
	ValSize          float64        `yaml:"val_size"`
	RandomSeed       int            `yaml:"random_seed"`
	StratifyBy       string         `yaml:"stratify_by"`
	MaxTFIDFFeatures int            `yaml:"max_tfidf_features"`
	ExportArtifact   string         `yaml:"export_artifact"`
	// RandomForest is written verbatim to rf_config.json. A block in the
	// config file replaces the defaults rather than merging with them.
	RandomForest     map[string]any `yaml:"random_forest"`
}

// StorageConfig locates the artifact store and run records.
type StorageConfig struct {
	ArtifactDir string `yaml:"artifact_dir"`
	TrackingDir string `yaml:"tracking_dir"`
	// TempDir is the parent of the per-run scoped directory. Empty selects the OS default.
	TempDir string `yaml:"temp_dir"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	ServiceName  string `yaml:"service_name"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the configuration used for keys absent from the file.
func Default() *Config {
	return &Config{
		Main: MainConfig{
			ProjectName:          "nyc_airbnb",
			ExperimentName:       "development",
			Steps:                domain.AllStepsToken,
			ComponentsRepository: "components",
			Components:           map[string]string{},
		},
		ETL: ETLConfig{
			Sample:   "sample1.csv",
			MinPrice: 10,
			MaxPrice: 350,
		},
		DataCheck: DataCheckConfig{
			KLThreshold: 0.2,
			KSAlpha:     0.05,
			MinRows:     15000,
			MaxRows:     1000000,
		},
		Modeling: ModelingConfig{
			TestSize:         0.2,
			ValSize:          0.2,
			RandomSeed:       42,
			StratifyBy:       "neighbourhood_group",
			MaxTFIDFFeatures: 5,
			ExportArtifact:   "random_forest_export",
			RandomForest: map[string]any{
				"n_estimators":      100,
				"max_depth":         15,
				"min_samples_split": 4,
				"min_samples_leaf":  3,
				"n_jobs":            -1,
				"criterion":         "squared_error",
				"max_features":      0.5,
				"oob_score":         true,
			},
		},
		Storage: StorageConfig{
			ArtifactDir: ".rentalprep/artifacts",
			TrackingDir: ".rentalprep/runs",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "rentalprep",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// envOverrides maps environment variables onto dotted configuration keys.
var envOverrides = []struct {
	env string
	key string
}{
	{"RENTALPREP_STEPS", "main.steps"},
	{"RENTALPREP_DATA_SOURCE", "main.data_source"},
	{"RENTALPREP_COMPONENTS_REPOSITORY", "main.components_repository"},
	{"RENTALPREP_STORAGE_DIR", "storage.artifact_dir"},
	{"RENTALPREP_TRACKING_DIR", "storage.tracking_dir"},
	{"RENTALPREP_TEMP_DIR", "storage.temp_dir"},
	{"RENTALPREP_OTLP_ENDPOINT", "telemetry.otlp_endpoint"},
	{"RENTALPREP_OTLP_INSECURE", "telemetry.insecure"},
	{"RENTALPREP_LOG_LEVEL", "logging.level"},
	{"RENTALPREP_LOG_PRETTY", "logging.pretty"},
}

// Load reads configuration from a file, then applies environment variable
// overrides and finally the dotted key=value overrides, in that order of
// precedence. An empty path loads the defaults.
func Load(path string, overrides ...string) (*Config, error) {
	tree := map[string]any{}
	if path != "" {
		//nolint:gosec // Config file path is controlled by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return nil, &domain.ConfigurationError{Err: fmt.Errorf("failed to parse config file %s: %w", path, err)}
		}
		if tree == nil {
			tree = map[string]any{}
		}
	}
	// A random_forest block in the file is the complete hyperparameter set.
	fileForest := hasForestBlock(tree)

	for _, o := range envOverrides {
		if val, ok := os.LookupEnv(o.env); ok && val != "" {
			if err := setDotted(tree, o.key, val); err != nil {
				return nil, &domain.ConfigurationError{Field: o.env, Err: err}
			}
		}
	}
	for _, override := range overrides {
		key, val, ok := strings.Cut(override, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, &domain.ConfigurationError{Field: override, Err: errors.New("override must have the form key=value")}
		}
		if err := setDotted(tree, strings.TrimSpace(key), val); err != nil {
			return nil, &domain.ConfigurationError{Field: key, Err: err}
		}
	}

	cfg := Default()
	if fileForest {
		cfg.Modeling.RandomForest = nil
	}
	if err := decodeTree(tree, cfg); err != nil {
		return nil, &domain.ConfigurationError{Err: err}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func hasForestBlock(tree map[string]any) bool {
	modeling, ok := tree["modeling"].(map[string]any)
	if !ok {
		return false
	}
	_, ok = modeling["random_forest"]
	return ok
}

func decodeTree(tree map[string]any, cfg *Config) error {
	data, err := yaml.Marshal(tree)
	if err != nil {
		return fmt.Errorf("encode configuration: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode configuration: %w", err)
	}
	return nil
}

// setDotted assigns raw, parsed as a YAML scalar, at a dotted path in tree.
func setDotted(tree map[string]any, key, raw string) error {
	parts := strings.Split(key, ".")
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("invalid key %q", key)
		}
	}

	var value any
	if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
		value = raw
	}
	if value == nil {
		value = raw
	}

	node := tree
	for _, p := range parts[:len(parts)-1] {
		child, ok := node[p].(map[string]any)
		if !ok {
			if existing, present := node[p]; present && existing != nil {
				return fmt.Errorf("key %q is not a section", p)
			}
			child = map[string]any{}
			node[p] = child
		}
		node = child
	}
	node[parts[len(parts)-1]] = value
	return nil
}

// Validate performs comprehensive validation of the entire configuration
func (c *Config) Validate() error {
	if err := c.Main.Validate(); err != nil {
		return &domain.ConfigurationError{Field: "main", Err: err}
	}
	if err := c.ETL.Validate(); err != nil {
		return &domain.ConfigurationError{Field: "etl", Err: err}
	}
	if err := c.DataCheck.Validate(); err != nil {
		return &domain.ConfigurationError{Field: "data_check", Err: err}
	}
	if err := c.Modeling.Validate(); err != nil {
		return &domain.ConfigurationError{Field: "modeling", Err: err}
	}
	if err := c.Storage.Validate(); err != nil {
		return &domain.ConfigurationError{Field: "storage", Err: err}
	}
	if err := c.Logging.Validate(); err != nil {
		return &domain.ConfigurationError{Field: "logging", Err: err}
	}
	return nil
}

// Validate checks the step selection and component overrides.
func (c MainConfig) Validate() error {
	if strings.TrimSpace(c.ProjectName) == "" {
		return errors.New("project_name is required")
	}
	if strings.TrimSpace(c.Steps) == "" {
		return errors.New("steps is required")
	}
	for name, locator := range c.Components {
		if _, ok := domain.ParseStepID(name); !ok {
			return fmt.Errorf("components: unknown step %q", name)
		}
		if strings.TrimSpace(locator) == "" {
			return fmt.Errorf("components: empty locator for %q", name)
		}
	}
	if c.StepTimeout < 0 {
		return errors.New("step_timeout must not be negative")
	}
	return nil
}

// Validate checks the cleaning bounds with the same rules the filter applies.
func (c ETLConfig) Validate() error {
	if strings.TrimSpace(c.Sample) == "" {
		return errors.New("sample is required")
	}
	if _, err := filter.PriceRange(c.MinPrice, c.MaxPrice); err != nil {
		return err
	}
	return nil
}

// Validate checks the data check thresholds.
func (c DataCheckConfig) Validate() error {
	if c.KLThreshold < 0 {
		return errors.New("kl_threshold must not be negative")
	}
	if c.KSAlpha <= 0 || c.KSAlpha >= 1 {
		return errors.New("ks_alpha must be in (0, 1)")
	}
	if c.MinRows < 0 {
		return errors.New("min_rows must not be negative")
	}
	if c.MaxRows != 0 && c.MaxRows < c.MinRows {
		return fmt.Errorf("max_rows %d is below min_rows %d", c.MaxRows, c.MinRows)
	}
	return nil
}

// Validate checks split fractions and training settings.
func (c ModelingConfig) Validate() error {
	if c.TestSize <= 0 || c.TestSize >= 1 {
		return errors.New("test_size must be in (0, 1)")
	}
	if c.ValSize < 0 || c.ValSize >= 1 {
		return errors.New("val_size must be in [0, 1)")
	}
	if strings.TrimSpace(c.StratifyBy) == "" {
		return errors.New(`stratify_by is required (use "none" to disable)`)
	}
	if c.MaxTFIDFFeatures <= 0 {
		return errors.New("max_tfidf_features must be positive")
	}
	if strings.TrimSpace(c.ExportArtifact) == "" {
		return errors.New("export_artifact is required")
	}
	return nil
}

// Validate checks storage locations.
func (c StorageConfig) Validate() error {
	if strings.TrimSpace(c.ArtifactDir) == "" {
		return errors.New("artifact_dir is required")
	}
	if strings.TrimSpace(c.TrackingDir) == "" {
		return errors.New("tracking_dir is required")
	}
	return nil
}

// Validate checks the log level.
func (c LoggingConfig) Validate() error {
	switch strings.ToLower(c.Level) {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("unknown level %q", c.Level)
	}
}
