package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/polisai/rentalprep/pkg/config"
	"github.com/polisai/rentalprep/pkg/pipeline"
	"github.com/spf13/cobra"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [key=value...]",
		Short: "Re-run the pipeline whenever the configuration file changes",
		Long: `Run the pipeline, then run it again every time the configuration file is
written. Each run reads the configuration once; a change during a run is
picked up by the next one. Invalid configurations are logged and skipped.`,
		Args: cobra.ArbitraryArgs,
		RunE: runWatch,
	}
	cmd.Flags().String("steps", "", "Comma separated steps to run, or \"all\"")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address")
	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	cli, err := parseCLIConfig(cmd, args)
	if err != nil {
		return err
	}
	if cli.ConfigPath == "" {
		return errors.New("watch requires a configuration file")
	}
	cfg, err := cli.load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := setupTelemetry(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialise telemetry: %w", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("Telemetry shutdown error", "error", err)
		}
	}()

	metrics := pipeline.NewMetrics()
	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		stopMetrics := startMetricsServer(addr, metrics, logger)
		defer stopMetrics()
	}

	watcher, err := config.NewWatcher(cli.ConfigPath, logger)
	if err != nil {
		return fmt.Errorf("failed to watch configuration: %w", err)
	}
	defer watcher.Close()

	out := cmd.OutOrStdout()
	for {
		report, runErr := runPipeline(ctx, cfg, logger, metrics)
		if report != nil {
			printReport(out, report)
		}
		if runErr != nil {
			logger.Error("Pipeline run failed", "error", runErr)
		}

		logger.Info("Waiting for configuration changes", "path", watcher.Path())
		next, ok := waitForConfig(ctx, watcher, cli, logger)
		if !ok {
			logger.Info("Watch stopped")
			return nil
		}
		cfg = next
		logger.Info("Configuration changed, re-running pipeline")
	}
}

// waitForConfig blocks until the watched file yields a valid configuration or
// ctx is done.
func waitForConfig(ctx context.Context, watcher *config.Watcher, cli *CLIConfig, logger *slog.Logger) (*config.Config, bool) {
	for {
		select {
		case <-ctx.Done():
			return nil, false
		case <-watcher.Changes():
		}
		cfg, err := cli.load()
		if err != nil {
			logger.Error("Ignoring invalid configuration", "path", watcher.Path(), "error", err)
			continue
		}
		return cfg, true
	}
}
