package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/polisai/rentalprep/pkg/domain"
	"github.com/polisai/rentalprep/pkg/pipeline"
	"github.com/spf13/cobra"
)

func newStepsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "steps [key=value...]",
		Short: "List pipeline steps in execution order with their components",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := parseCLIConfig(cmd, args)
			if err != nil {
				return err
			}
			cfg, err := cli.load()
			if err != nil {
				return err
			}

			active := make(map[domain.StepID]bool)
			for _, id := range pipeline.ActiveSteps(cfg.Main.Steps, newLogger(cfg)) {
				active[id] = true
			}
			canonical := make(map[domain.StepID]bool)
			for _, id := range domain.CanonicalSteps() {
				canonical[id] = true
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STEP\tIN ALL\tACTIVE\tCOMPONENT")
			for _, id := range domain.KnownSteps() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", id, yesNo(canonical[id]), yesNo(active[id]), pipeline.ComponentLocator(cfg, id))
			}
			return w.Flush()
		},
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
