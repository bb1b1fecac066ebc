package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	simulateMetric   string
	simulateObserved float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Send a synthetic degradation alert through the configured channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateObserved <= 0 {
			return errors.New("--observed must be greater than 0")
		}
		return getApp().SimulateAlert(cmd.Context(), simulateMetric, simulateObserved)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateMetric, "metric", "", "Metric name shown in the alert")
	simulateCmd.Flags().Float64Var(&simulateObserved, "observed", 10, "Observed trend in percent")
}
