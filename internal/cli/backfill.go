package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"perf-trend-alerts/internal/app"
)

var (
	backfillDays   int
	backfillDryRun bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Mirror recent run reports into Postgres",
	RunE: func(cmd *cobra.Command, args []string) error {
		if backfillDays < 0 {
			return fmt.Errorf("--days cannot be negative")
		}

		opts := app.BackfillOptions{
			Days:   backfillDays,
			DryRun: backfillDryRun,
		}

		return getApp().Backfill(cmd.Context(), opts)
	},
}

func init() {
	backfillCmd.Flags().IntVar(&backfillDays, "days", 0, "Days to mirror (defaults to analysis.days)")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Fetch without writing to storage")
}
