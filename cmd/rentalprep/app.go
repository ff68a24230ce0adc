package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/polisai/rentalprep/pkg/config"
	"github.com/polisai/rentalprep/pkg/domain"
	"github.com/polisai/rentalprep/pkg/logging"
	"github.com/polisai/rentalprep/pkg/pipeline"
	"github.com/polisai/rentalprep/pkg/quality"
	"github.com/polisai/rentalprep/pkg/runner"
	"github.com/polisai/rentalprep/pkg/steps"
	"github.com/polisai/rentalprep/pkg/storage"
	"github.com/polisai/rentalprep/pkg/telemetry"
	"github.com/polisai/rentalprep/pkg/tracking"
	"github.com/spf13/cobra"
)

// CLIConfig holds the parsed persistent flags
type CLIConfig struct {
	ConfigPath string
	LogLevel   string
	Pretty     bool
	Steps      string
	Overrides  []string
}

// parseCLIConfig reads the persistent flags and the dotted overrides in args.
func parseCLIConfig(cmd *cobra.Command, args []string) (*CLIConfig, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	// The default file is optional, an explicit one is not.
	if !cmd.Flags().Changed("config") {
		if _, statErr := os.Stat(configPath); errors.Is(statErr, os.ErrNotExist) {
			configPath = ""
		}
	}

	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}
	pretty, err := cmd.Flags().GetBool("pretty")
	if err != nil {
		return nil, fmt.Errorf("failed to get pretty flag: %w", err)
	}

	cli := &CLIConfig{
		ConfigPath: configPath,
		LogLevel:   logLevel,
		Pretty:     pretty,
		Overrides:  append([]string(nil), args...),
	}
	if cmd.Flags().Lookup("steps") != nil {
		if cli.Steps, err = cmd.Flags().GetString("steps"); err != nil {
			return nil, fmt.Errorf("failed to get steps flag: %w", err)
		}
	}
	return cli, nil
}

// load reads the configuration with the flag driven overrides applied last.
func (c *CLIConfig) load() (*config.Config, error) {
	overrides := append([]string(nil), c.Overrides...)
	if c.Steps != "" {
		overrides = append(overrides, "main.steps="+c.Steps)
	}
	if c.LogLevel != "" {
		overrides = append(overrides, "logging.level="+c.LogLevel)
	}
	if c.Pretty {
		overrides = append(overrides, "logging.pretty=true")
	}
	return config.Load(c.ConfigPath, overrides...)
}

// newLogger builds the process logger from configuration.
func newLogger(cfg *config.Config) *slog.Logger {
	logger := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty,
	})
	slog.SetDefault(logger)
	return logger
}

// openStore opens the artifact store configured in cfg.
func openStore(cfg *config.Config) (*storage.FileArtifactStore, error) {
	store, err := storage.NewFileArtifactStore(cfg.Storage.ArtifactDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact store: %w", err)
	}
	return store, nil
}

// setupTelemetry installs the tracer provider and returns its shutdown function.
func setupTelemetry(ctx context.Context, cfg *config.Config) (func(context.Context) error, error) {
	return telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
		ResourceTags: map[string]string{
			"pipeline.project": cfg.Main.ProjectName,
		},
	})
}

// runPipeline wires the stores, the step runner and the driver and runs one
// pipeline invocation.
func runPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *pipeline.Metrics) (*domain.Report, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	tracker, err := tracking.NewFileTracker(cfg.Storage.TrackingDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open run tracker: %w", err)
	}
	gate, err := quality.NewGate(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare data quality gate: %w", err)
	}

	var container runner.ContainerRunner
	if cfg.Main.Container {
		container = runner.NewDaggerExecutor(logger, os.Stderr)
	}

	registry := runner.NewRegistry()
	steps.Register(registry, steps.Dependencies{
		DataSource: cfg.Main.DataSource,
		Gate:       gate,
		Logger:     logger,
	})

	driver, err := pipeline.NewDriver(pipeline.DriverConfig{
		Config: cfg,
		NewRunner: func(tempDir string) (pipeline.StepRunner, error) {
			return runner.New(runner.Options{
				Store:     store,
				Tracker:   tracker,
				Registry:  registry,
				Container: container,
				Logger:    logger,
				TempDir:   tempDir,
				Timeout:   cfg.Main.StepTimeout,
			})
		},
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		return nil, err
	}
	return driver.Run(ctx)
}

// startMetricsServer serves /metrics on addr until the returned stop function is called.
func startMetricsServer(addr string, metrics *pipeline.Metrics, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Serving metrics", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server error", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Error during metrics server shutdown", "error", err)
		}
	}
}
