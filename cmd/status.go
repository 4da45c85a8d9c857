package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ev-readiness/pipeline/internal/promotion"
)

var statusCycleID string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show refresh-cycle change log entries",
	Long:  "Display the state transitions recorded for the most recent cycle, or for a specific cycle id.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		cycleID := statusCycleID
		if cycleID == "" {
			latest, err := env.ChangeLog.Latest(ctx)
			if err != nil {
				return eris.Wrap(err, "status: load latest cycle")
			}
			if latest == nil {
				zap.L().Info("no refresh cycles recorded")
				return nil
			}
			cycleID = latest.CycleID
		}

		entries, err := env.ChangeLog.ListForCycle(ctx, cycleID)
		if err != nil {
			return eris.Wrap(err, "status: load cycle entries")
		}
		if len(entries) == 0 {
			zap.L().Info("no entries found for cycle", zap.String("cycle_id", cycleID))
			return nil
		}

		formatChangeLog(os.Stdout, entries)
		return nil
	},
}

func formatChangeLog(out io.Writer, entries []promotion.Entry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCYCLE\tSTATE\tOUTCOME\tSTARTED\tCOMPLETED")
	_, _ = fmt.Fprintln(w, "--\t-----\t-----\t-------\t-------\t---------")

	for _, e := range entries {
		completed := ""
		if e.CompletedAt != nil {
			completed = e.CompletedAt.Format("15:04:05")
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			e.ID, shortCycleID(e.CycleID), e.State, e.Outcome,
			e.StartedAt.Format("15:04:05"), completed)
	}
	_ = w.Flush()
}

func shortCycleID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	statusCmd.Flags().StringVar(&statusCycleID, "cycle-id", "", "show entries for a specific cycle (default: most recent)")
	rootCmd.AddCommand(statusCmd)
}
