package cli

import (
	"github.com/spf13/cobra"

	"perf-trend-alerts/internal/app"
)

var analyzeFlags struct {
	outputDir        string
	mergeFile        string
	persist          bool
	notify           bool
	failOnRegression bool
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze the trailing window and write JUnit reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()
		opts := analyzeOptions(cmd, a)
		opts.FailOnRegression = analyzeFlags.failOnRegression
		_, err := a.Analyze(cmd.Context(), opts)
		return err
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-run the analysis on the configured interval",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()
		return a.Watch(cmd.Context(), analyzeOptions(cmd, a))
	},
}

// analyzeOptions resolves flags shared by analyze and watch; unset flags
// fall back to configuration.
func analyzeOptions(cmd *cobra.Command, a *app.App) app.AnalyzeOptions {
	opts := app.AnalyzeOptions{
		OutputDir: analyzeFlags.outputDir,
		MergeFile: analyzeFlags.mergeFile,
		Persist:   a.Config.Report.Persist,
		Notify:    a.Config.Alerting.Enabled,
	}
	if cmd.Flags().Changed("persist") {
		opts.Persist = analyzeFlags.persist
	}
	if cmd.Flags().Changed("notify") {
		opts.Notify = analyzeFlags.notify
	}
	return opts
}

func init() {
	for _, c := range []*cobra.Command{analyzeCmd, watchCmd} {
		c.Flags().StringVar(&analyzeFlags.outputDir, "output-dir", "", "Directory for per-branch reports (defaults to config)")
		c.Flags().StringVar(&analyzeFlags.mergeFile, "merge-file", "", "Also merge the written reports into this file")
		c.Flags().BoolVar(&analyzeFlags.persist, "persist", false, "Store the run and its verdicts in Postgres")
		c.Flags().BoolVar(&analyzeFlags.notify, "notify", false, "Notify configured channels when a check fails")
	}
	analyzeCmd.Flags().BoolVar(&analyzeFlags.failOnRegression, "fail-on-regression", false, "Exit non-zero when any check fails")
}
