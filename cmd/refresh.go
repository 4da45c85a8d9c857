package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ev-readiness/pipeline/internal/promotion"
)

var refreshMaxZipChunks int

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Run one tick of the refresh cycle",
	Long:  "Drives ingestion, change detection, aggregation, and promotion through one tick of the state machine, exiting with a code that reflects the outcome (§6/§7).",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		outcome, err := env.Coordinator.Run(ctx, refreshMaxZipChunks)
		class := promotion.Classify(err)
		if err == nil && outcome.Outcome != "" {
			class = outcome.Outcome
		}
		code := exitCodeForClassification(class)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(outcome)

		if err != nil {
			zap.L().Error("refresh cycle failed",
				zap.String("cycle_id", outcome.CycleID),
				zap.Error(err),
			)
			os.Exit(code)
		}

		zap.L().Info("refresh cycle complete",
			zap.String("cycle_id", outcome.CycleID),
			zap.String("final_state", string(outcome.FinalState)),
			zap.Bool("promoted", outcome.Promoted),
		)
		if code != 0 {
			os.Exit(code)
		}
		return nil
	},
}

// exitCodeForClassification maps the §7 error taxonomy onto the shell
// exit codes §6 names for the trigger surface.
func exitCodeForClassification(class string) int {
	switch class {
	case "ok":
		return 0
	case "cycle-in-progress":
		return 2
	case "upstream-error":
		return 3
	case "promotion-failed":
		return 4
	case "partial-completion":
		return 5
	default:
		return 1
	}
}

func init() {
	refreshCmd.Flags().IntVar(&refreshMaxZipChunks, "max-zip-chunks", 0, "ZIP chunks to drain this tick (0 drains the whole residual set)")
	rootCmd.AddCommand(refreshCmd)
}
