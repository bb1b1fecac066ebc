package app

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"perf-trend-alerts/internal/alerting"
	"perf-trend-alerts/internal/analysis"
	"perf-trend-alerts/internal/report"
	"perf-trend-alerts/internal/storage"
	"perf-trend-alerts/internal/verdict"
)

// Analyze runs the pipeline once, writes one report per branch and, when
// configured, the merged report, the audit rows and the notifications.
func (a *App) Analyze(ctx context.Context, opts AnalyzeOptions) (analysis.Outcome, error) {
	if opts.OutputDir == "" {
		opts.OutputDir = a.Config.Report.OutputDir
	}
	if opts.MergeFile == "" {
		opts.MergeFile = a.Config.Report.MergeFile
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return analysis.Outcome{}, err
	}
	if closeStore != nil {
		defer closeStore()
	}
	if opts.Persist && store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; verdicts will not be persisted")
	}

	out, err := a.analyze(ctx, store, opts)
	if err != nil {
		return out, err
	}
	if opts.FailOnRegression && out.Failed() {
		return out, fmt.Errorf("%w: %d failed checks", ErrRegressionFound, len(verdict.Failures(out.Verdicts)))
	}
	return out, nil
}

func (a *App) analyze(ctx context.Context, store *storage.Store, opts AnalyzeOptions) (analysis.Outcome, error) {
	source, closeSource, err := a.openSource(ctx, store)
	if err != nil {
		return analysis.Outcome{}, err
	}
	defer closeSource()

	analyzer, err := a.newAnalyzer(source)
	if err != nil {
		return analysis.Outcome{}, err
	}

	out, err := analyzer.Run(ctx)
	if err != nil {
		return analysis.Outcome{}, err
	}

	paths, err := report.WriteDir(opts.OutputDir, out.Suites())
	if err != nil {
		return out, fmt.Errorf("write reports: %w", err)
	}
	a.Logger.Info().Int("files", len(paths)).Str("dir", opts.OutputDir).Msg("reports written")

	if opts.MergeFile != "" {
		if err := a.writeMerge(paths, opts.MergeFile); err != nil {
			return out, err
		}
	}

	if opts.Persist && store != nil {
		run := newRunRecord(analyzer.Options(), out)
		saved, err := store.InsertRun(ctx, run)
		if err != nil {
			return out, fmt.Errorf("persist run: %w", err)
		}
		a.Logger.Info().Int64("run_id", saved.ID).Int("verdicts", len(saved.Verdicts)).Msg("run persisted")

		if retention := a.Config.Report.Retention; retention > 0 {
			cutoff := time.Now().UTC().Add(-retention)
			if err := store.DeleteRunsBefore(ctx, cutoff); err != nil {
				a.Logger.Error().Err(err).Time("cutoff", cutoff).Msg("failed to prune old runs")
			}
		}
	}

	if opts.Notify && out.Failed() {
		if err := a.notify(ctx, failureMessages(out.Verdicts), a.Config.Alerting.BuildURL); err != nil {
			a.Logger.Error().Err(err).Msg("failed to dispatch alert")
		}
	}

	return out, nil
}

// writeMerge refreshes the merged report. A run without reports still
// overwrites it with an empty aggregate so notify never reads a stale result.
func (a *App) writeMerge(paths []string, out string) error {
	if len(paths) > 0 {
		_, err := a.Merge(paths, out)
		return err
	}
	if err := report.WriteFile(out, report.Merge()); err != nil {
		return fmt.Errorf("write merged report: %w", err)
	}
	a.Logger.Info().Str("out", out).Msg("no reports to merge; merged report reset")
	return nil
}

func newRunRecord(opts analysis.Options, out analysis.Outcome) storage.RunRecord {
	run := storage.RunRecord{
		StartedAt: out.StartedAt,
		Days:      opts.Days,
		Window:    opts.Window,
		Algorithm: string(opts.Algorithm),
		Failed:    out.Failed(),
		Verdicts:  make([]storage.VerdictRecord, 0, len(out.Verdicts)),
	}
	for _, v := range out.Verdicts {
		run.Verdicts = append(run.Verdicts, storage.VerdictRecord{
			Branch:       v.Branch,
			Metric:       v.Metric,
			Check:        string(v.Check),
			Kind:         string(v.Kind),
			ObservedPct:  decimal.NewFromFloat(v.ObservedPct).Round(4),
			ThresholdPct: decimal.NewFromFloat(v.ThresholdPct),
		})
	}
	return run
}

func failureMessages(verdicts []verdict.Verdict) []string {
	failed := verdict.Failures(verdicts)
	out := make([]string, 0, len(failed))
	for _, v := range failed {
		out = append(out, v.Branch+": "+v.Message())
	}
	return out
}

func (a *App) notify(ctx context.Context, failures []string, buildURL string) error {
	if !a.Config.Alerting.Enabled {
		a.Logger.Debug().Msg("alerting disabled; skip notification")
		return nil
	}
	notifier := a.newNotifier()
	if notifier == nil {
		a.Logger.Warn().Msg("alerting enabled but no channel configured")
		return nil
	}
	return notifier.Notify(ctx, alerting.Notification{
		Date:     time.Now().UTC(),
		BuildURL: buildURL,
		Failures: failures,
	})
}
