package main

import (
	"github.com/spf13/cobra"

	"github.com/renalreg/timeline-sync/internal/model"
)

var treatmentsCmd = &cobra.Command{
	Use:   "treatments",
	Short: "Run the dialysis treatment pipeline only",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipelines(cmd, model.KindTreatment)
	},
}

func init() {
	addRunFlags(treatmentsCmd)
	rootCmd.AddCommand(treatmentsCmd)
}
