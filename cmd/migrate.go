package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/renalreg/timeline-sync/internal/runlog"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply timeline schema migrations",
	Long:  "Applies pending SQL migrations for the timeline schema (run log and write-failure audit) in lexicographic order.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := radarPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := runlog.Migrate(ctx, pool); err != nil {
			return eris.Wrap(err, "migrate")
		}

		zap.L().Info("all migrations applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
