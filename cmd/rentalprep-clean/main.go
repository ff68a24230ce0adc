// Package main is the entry point for the rentalprep-clean binary.
// It runs the basic cleaning component outside the pipeline driver.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/polisai/rentalprep/pkg/cleaning"
	"github.com/polisai/rentalprep/pkg/config"
	"github.com/polisai/rentalprep/pkg/domain"
	"github.com/polisai/rentalprep/pkg/logging"
	"github.com/polisai/rentalprep/pkg/runner"
	"github.com/polisai/rentalprep/pkg/storage"
	"github.com/polisai/rentalprep/pkg/tracking"
	"github.com/spf13/cobra"
)

// CLIConfig holds the parsed flags
type CLIConfig struct {
	InputArtifact     string
	OutputArtifact    string
	OutputType        string
	OutputDescription string
	MinPrice          float64
	MaxPrice          float64
	OutputDir         string
	ConfigPath        string
	LogLevel          string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for rentalprep-clean
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rentalprep-clean",
		Short: "Remove price outliers and out-of-area listings from a sample",
		Long: `Download an artifact, drop rows whose price is outside [min_price, max_price]
or whose coordinates fall outside New York City, and register the result.

The input is an artifact reference (name:tag) or a local file path. When an
output directory is given, either with --output_dir or RENTALPREP_OUTPUT_DIR,
the cleaned file is written there for the pipeline runner to register.
Otherwise it is registered in the artifact store directly.

Example:
  rentalprep-clean --input_artifact sample.csv:latest --output_artifact clean_sample.csv \
    --output_type clean_sample --output_description "Cleaned data" --min_price 10 --max_price 350`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runClean,
	}

	flags := rootCmd.Flags()
	flags.String("input_artifact", "", "Input artifact reference or file")
	flags.String("output_artifact", "", "Name of the cleaned artifact")
	flags.String("output_type", "", "Type of the cleaned artifact")
	flags.String("output_description", "", "Description of the cleaned artifact")
	flags.Float64("min_price", 0, "Minimum nightly price to keep")
	flags.Float64("max_price", 0, "Maximum nightly price to keep")
	flags.String("output_dir", os.Getenv(runner.EnvOutputDir), "Write the output here instead of registering it")
	flags.StringP("config", "c", "", "Path to configuration file (YAML) locating the artifact store")
	flags.StringP("log-level", "l", "info", "Log level (debug, info, warn, error)")
	for _, name := range []string{"input_artifact", "output_artifact", "output_type", "output_description", "min_price", "max_price"} {
		_ = rootCmd.MarkFlagRequired(name)
	}

	return rootCmd
}

// parseCLIConfig reads every flag into a CLIConfig
func parseCLIConfig(cmd *cobra.Command) (*CLIConfig, error) {
	flags := cmd.Flags()
	cli := &CLIConfig{}
	var err error
	strs := []struct {
		name string
		dst  *string
	}{
		{"input_artifact", &cli.InputArtifact},
		{"output_artifact", &cli.OutputArtifact},
		{"output_type", &cli.OutputType},
		{"output_description", &cli.OutputDescription},
		{"output_dir", &cli.OutputDir},
		{"config", &cli.ConfigPath},
		{"log-level", &cli.LogLevel},
	}
	for _, s := range strs {
		if *s.dst, err = flags.GetString(s.name); err != nil {
			return nil, fmt.Errorf("failed to get %s flag: %w", s.name, err)
		}
	}
	if cli.MinPrice, err = flags.GetFloat64("min_price"); err != nil {
		return nil, fmt.Errorf("failed to get min_price flag: %w", err)
	}
	if cli.MaxPrice, err = flags.GetFloat64("max_price"); err != nil {
		return nil, fmt.Errorf("failed to get max_price flag: %w", err)
	}
	return cli, nil
}

func runClean(cmd *cobra.Command, _ []string) error {
	cli, err := parseCLIConfig(cmd)
	if err != nil {
		return err
	}
	logger := logging.NewLogger(logging.Config{Level: cli.LogLevel})
	ctx := cmd.Context()

	opts := cleaning.Options{MinPrice: cli.MinPrice, MaxPrice: cli.MaxPrice}
	if _, err := opts.Predicates(); err != nil {
		return err
	}

	var store storage.ArtifactStore
	var tracker tracking.Tracker = tracking.Nop()
	if cli.OutputDir == "" || !isLocalFile(cli.InputArtifact) {
		cfg, err := config.Load(cli.ConfigPath)
		if err != nil {
			return err
		}
		fileStore, err := storage.NewFileArtifactStore(cfg.Storage.ArtifactDir)
		if err != nil {
			return fmt.Errorf("failed to open artifact store: %w", err)
		}
		store = fileStore
		if cli.OutputDir == "" {
			fileTracker, err := tracking.NewFileTracker(cfg.Storage.TrackingDir)
			if err != nil {
				return fmt.Errorf("failed to open run tracker: %w", err)
			}
			tracker = fileTracker
		}
	}

	input, err := resolveInput(ctx, store, cli.InputArtifact)
	if err != nil {
		return err
	}

	run, err := tracker.BeginRun(ctx, runSpecFromEnv())
	if err != nil {
		return fmt.Errorf("failed to begin tracked run: %w", err)
	}
	logConfig(run, map[string]any{
		"input_artifact":  cli.InputArtifact,
		"output_artifact": cli.OutputArtifact,
		"min_price":       cli.MinPrice,
		"max_price":       cli.MaxPrice,
	}, logger)

	outputDir := cli.OutputDir
	if outputDir == "" {
		tmp, err := os.MkdirTemp("", "rentalprep-clean-*")
		if err != nil {
			endRun(run, domain.RunFailed, logger)
			return fmt.Errorf("failed to create scratch directory: %w", err)
		}
		defer os.RemoveAll(tmp)
		outputDir = tmp
	}
	output := filepath.Join(outputDir, cli.OutputArtifact)

	summary, err := cleaning.CleanFile(input, output, opts, logger)
	if err != nil {
		endRun(run, domain.RunFailed, logger)
		return err
	}
	logMetrics(run, summary.Metrics(), logger)

	if cli.OutputDir == "" {
		art, err := store.Put(ctx, storage.PutRequest{
			Name:        cli.OutputArtifact,
			Type:        cli.OutputType,
			Description: cli.OutputDescription,
			File:        output,
		})
		if err != nil {
			endRun(run, domain.RunFailed, logger)
			return fmt.Errorf("failed to register %s: %w", cli.OutputArtifact, err)
		}
		logger.Info("Registered cleaned artifact", "artifact", art.Ref().String(), "rows", summary.RowsOut)
	}

	endRun(run, domain.RunFinished, logger)
	return nil
}

// Tracking failures are logged and never fail the cleaning itself.
func logConfig(run tracking.Run, values map[string]any, logger *slog.Logger) {
	if err := run.LogConfig(values); err != nil {
		logger.Warn("failed to record step configuration", "error", err)
	}
}

func logMetrics(run tracking.Run, values map[string]float64, logger *slog.Logger) {
	if err := run.LogMetrics(values); err != nil {
		logger.Warn("failed to record cleaning metrics", "error", err)
	}
}

func endRun(run tracking.Run, status domain.RunStatus, logger *slog.Logger) {
	if err := run.End(status); err != nil {
		logger.Warn("failed to close tracked run", "error", err)
	}
}

// resolveInput returns a local path for raw, which is either an existing file
// or an artifact reference resolved through store.
func resolveInput(ctx context.Context, store storage.ArtifactStore, raw string) (string, error) {
	if isLocalFile(raw) {
		return raw, nil
	}
	ref, err := domain.ParseArtifactRef(raw)
	if err != nil {
		return "", &domain.ConfigurationError{Field: "input_artifact", Err: err}
	}
	if store == nil {
		return "", fmt.Errorf("input artifact %s requires an artifact store", ref)
	}
	art, err := store.Get(ctx, ref)
	if err != nil {
		return "", &domain.ArtifactResolutionError{Step: domain.StepBasicCleaning, Ref: ref, Err: err}
	}
	return art.Path, nil
}

func isLocalFile(raw string) bool {
	info, err := os.Stat(raw)
	return err == nil && !info.IsDir()
}

// runSpecFromEnv reads the tracking identity the runner exports to components.
func runSpecFromEnv() domain.RunSpec {
	spec := domain.RunSpec{
		Project: os.Getenv(runner.EnvProject),
		Group:   os.Getenv(runner.EnvRunGroup),
		JobType: os.Getenv(runner.EnvJobType),
	}
	if spec.Project == "" {
		spec.Project = config.Default().Main.ProjectName
	}
	if spec.Group == "" {
		spec.Group = "standalone"
	}
	if spec.JobType == "" {
		spec.JobType = string(domain.StepBasicCleaning)
	}
	return spec
}
