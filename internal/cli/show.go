package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"perf-trend-alerts/internal/app"
)

var (
	showLimit      int
	showFailedOnly bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent verdicts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:      showLimit,
			FailedOnly: showFailedOnly,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of verdicts to display")
	showCmd.Flags().BoolVar(&showFailedOnly, "failed", false, "Only display failed checks")
}
