// Package main is the entry point for the rentalprep binary.
// It runs the rental listings data pipeline and manages its artifacts.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	defaultConfigPath = "config.yaml"
	defaultLogLevel   = "info"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for rentalprep
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rentalprep",
		Short: "Data preparation pipeline for short-term rental price models",
		Long: `rentalprep downloads a rental listings sample, cleans it, validates it,
splits it and hands the result to the model training components.

Every step registers its outputs as versioned artifacts and every invocation
is tracked under one run group.

Example:
  rentalprep run --config config.yaml main.steps=download,basic_cleaning etl.min_price=20`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", defaultConfigPath, "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("pretty", false, "Human readable log output")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newStepsCmd())
	rootCmd.AddCommand(newArtifactsCmd())

	return rootCmd
}
