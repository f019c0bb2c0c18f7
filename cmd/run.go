package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/renalreg/timeline-sync/internal/model"
	"github.com/renalreg/timeline-sync/internal/pipeline"
	"github.com/renalreg/timeline-sync/internal/runlog"
)

var (
	runDryRun   bool
	runSnapshot string
	runPatients []int64
	runNoAudit  bool
	runProfile  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run both reconciliation pipelines",
	Long:  "Extracts from every source once, then reconciles treatments and transplants in turn.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipelines(cmd)
	},
}

// addRunFlags registers the flags shared by run, treatments and transplants.
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&runDryRun, "dry-run", false, "reconcile but skip all writes")
	cmd.Flags().StringVar(&runSnapshot, "snapshot", "", "replay a captured snapshot instead of the live sources")
	cmd.Flags().Int64SliceVar(&runPatients, "patients", nil, "restrict the run to these radar patient ids")
	cmd.Flags().BoolVar(&runNoAudit, "no-audit", false, "skip the xlsx audit workbook")
	cmd.Flags().StringVar(&runProfile, "profile", "", "reconciliation profile file (default from config)")
}

// runPipelines executes the given pipelines and prints a per-run summary.
// Partial results are printed even when a later pipeline fails.
func runPipelines(cmd *cobra.Command, kinds ...model.EpisodeKind) error {
	ctx := cmd.Context()

	env, err := initPipeline(ctx, pipeline.Options{
		DryRun:       runDryRun,
		Patients:     runPatients,
		SnapshotPath: runSnapshot,
	})
	if err != nil {
		return err
	}
	defer env.Close()

	if err := runlog.Migrate(ctx, env.Radar); err != nil {
		return eris.Wrap(err, "migrate run log")
	}

	results, runErr := env.Pipeline.Run(ctx, kinds...)
	for _, res := range results {
		fmt.Printf("%s %s: %d new, %d updates, %d failed\n",
			res.Pipeline, res.RunID,
			res.Counts["new"], res.Counts["updates"], res.Counts["failed"])
	}
	return runErr
}

func init() {
	addRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}
