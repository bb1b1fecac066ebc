package app

import (
	"context"
	"errors"
	"fmt"

	"perf-trend-alerts/internal/report"
)

// Merge combines report files into out and returns the merged counters.
func (a *App) Merge(paths []string, out string) (report.Summary, error) {
	if out == "" {
		return report.Summary{}, errors.New("merge output path is required")
	}
	merged, err := report.MergeFiles(paths)
	if err != nil {
		return report.Summary{}, fmt.Errorf("merge reports: %w", err)
	}
	if err := report.WriteFile(out, merged); err != nil {
		return report.Summary{}, fmt.Errorf("write merged report: %w", err)
	}

	summary := merged.Summary()
	a.Logger.Info().
		Int("files", len(paths)).
		Int("tests", summary.Tests).
		Int("failures", summary.Failures).
		Int("errors", summary.Errors).
		Str("out", out).
		Msg("reports merged")
	return summary, nil
}

// Notify raises an alert when the report at opts.ReportPath holds failures.
// It reports whether an alert was sent.
func (a *App) Notify(ctx context.Context, opts NotifyOptions) (bool, error) {
	if opts.ReportPath == "" {
		opts.ReportPath = a.Config.Report.MergeFile
	}
	if opts.ReportPath == "" {
		return false, errors.New("report path is required")
	}
	if opts.BuildURL == "" {
		opts.BuildURL = a.Config.Alerting.BuildURL
	}

	suite, err := report.ReadFile(opts.ReportPath)
	if err != nil {
		return false, err
	}
	summary := suite.Summary()
	if !summary.Failed() {
		a.Logger.Info().Int("tests", summary.Tests).Msg("no performance degradation; nothing to notify")
		return false, nil
	}

	var failures []string
	for _, c := range suite.Cases {
		switch {
		case c.Failure != nil:
			failures = append(failures, c.Failure.Message)
		case c.Error != nil:
			failures = append(failures, c.Error.Message)
		}
	}

	if err := a.notify(ctx, failures, opts.BuildURL); err != nil {
		return false, err
	}
	return a.Config.Alerting.Enabled && a.newNotifier() != nil, nil
}
