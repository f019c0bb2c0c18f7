package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/renalreg/timeline-sync/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "timeline-sync",
	Short: "Clinical timeline reconciliation for radar",
	Long:  "Pulls treatment and transplant timelines from UKRDC, the UK Renal Registry and the NHSBT list, reconciles them with what radar holds, and writes the canonical episodes back.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
