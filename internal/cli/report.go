package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"perf-trend-alerts/internal/app"
)

var (
	mergeOut       string
	notifyReport   string
	notifyBuildURL string
)

var mergeCmd = &cobra.Command{
	Use:   "merge --out merged.xml report.xml [report.xml...]",
	Short: "Merge JUnit reports into one",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if mergeOut == "" {
			return errors.New("--out must be provided")
		}
		summary, err := getApp().Merge(args, mergeOut)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "tests: %d failures: %d errors: %d\n", summary.Tests, summary.Failures, summary.Errors)
		return nil
	},
}

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Notify configured channels when a report holds failures",
	RunE: func(cmd *cobra.Command, args []string) error {
		sent, err := getApp().Notify(cmd.Context(), app.NotifyOptions{
			ReportPath: notifyReport,
			BuildURL:   notifyBuildURL,
		})
		if err != nil {
			return err
		}
		if sent {
			fmt.Fprintln(cmd.OutOrStdout(), "performance degradation notification sent")
		}
		return nil
	},
}

func init() {
	mergeCmd.Flags().StringVar(&mergeOut, "out", "", "Path of the merged report")

	notifyCmd.Flags().StringVar(&notifyReport, "report", "", "Report to inspect (defaults to report.merge_file)")
	notifyCmd.Flags().StringVar(&notifyBuildURL, "build-url", "", "CI build URL linked from the alert (defaults to alerting.build_url)")
}
