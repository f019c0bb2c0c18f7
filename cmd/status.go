package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/renalreg/timeline-sync/internal/runlog"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent pipeline runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := radarPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		runs, err := runlog.New(pool).Recent(ctx, statusLimit)
		if err != nil {
			return eris.Wrap(err, "status")
		}

		if len(runs) == 0 {
			zap.L().Info("no runs recorded, start one with 'timeline-sync run'")
			return nil
		}

		formatRuns(os.Stdout, runs)
		return nil
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "maximum runs to show")
	rootCmd.AddCommand(statusCmd)
}

// formatRuns writes a tabular view of runs to w.
func formatRuns(out io.Writer, runs []runlog.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPIPELINE\tSTATUS\tSTARTED\tDURATION\tNEW\tUPDATES\tFAILED\tERROR")
	_, _ = fmt.Fprintln(w, "--\t--------\t------\t-------\t--------\t---\t-------\t------\t-----")

	for _, r := range runs {
		dur := "-"
		if r.FinishedAt != nil {
			dur = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}

		errMsg := ""
		if r.Error != "" {
			errMsg = truncate(r.Error, 60)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			shortID(r.ID),
			r.Pipeline,
			r.Status,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
			r.Counts["new"],
			r.Counts["updates"],
			r.Counts["failed"],
			errMsg,
		)
	}
	_ = w.Flush()
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
