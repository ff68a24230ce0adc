package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/polisai/rentalprep/pkg/domain"
	"github.com/polisai/rentalprep/pkg/pipeline"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [key=value...]",
		Short: "Run the pipeline once",
		Long: `Run the active pipeline steps once and exit.

Arguments are dotted configuration overrides applied after the file and the
RENTALPREP_* environment, for example main.steps=download,basic_cleaning.`,
		Args: cobra.ArbitraryArgs,
		RunE: runOnce,
	}
	cmd.Flags().String("steps", "", "Comma separated steps to run, or \"all\"")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address while running")
	cmd.Flags().String("report", "", "Write the JSON run report to this file")
	return cmd
}

func runOnce(cmd *cobra.Command, args []string) error {
	cli, err := parseCLIConfig(cmd, args)
	if err != nil {
		return err
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

	report, runErr := runPipeline(ctx, cfg, logger, metrics)
	if path, _ := cmd.Flags().GetString("report"); path != "" && report != nil {
		if err := writeReport(path, report); err != nil {
			logger.Error("Failed to write run report", "path", path, "error", err)
		}
	}
	if report != nil {
		printReport(cmd.OutOrStdout(), report)
	}
	return runErr
}

func writeReport(path string, report *domain.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

func printReport(w io.Writer, report *domain.Report) {
	fmt.Fprintf(w, "run group %s (%s): %s\n", report.RunGroup, report.InvocationID, report.Outcome)
	for _, step := range report.Steps {
		if step.State == domain.StepSkipped {
			continue
		}
		line := fmt.Sprintf("  %-22s %-9s %s", step.Step, step.State, step.Duration.Round(1e6))
		for _, out := range step.Outputs {
			line += " " + out.String()
		}
		fmt.Fprintln(w, line)
	}
}
