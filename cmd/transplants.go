package main

import (
	"github.com/spf13/cobra"

	"github.com/renalreg/timeline-sync/internal/model"
)

var transplantsCmd = &cobra.Command{
	Use:   "transplants",
	Short: "Run the transplant pipeline only",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipelines(cmd, model.KindTransplant)
	},
}

func init() {
	addRunFlags(transplantsCmd)
	rootCmd.AddCommand(transplantsCmd)
}
