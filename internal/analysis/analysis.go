// Package analysis runs the fetch, smooth, trend and classify pipeline over
// one snapshot of the metric store.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"perf-trend-alerts/internal/config"
	"perf-trend-alerts/internal/metricstore"
	"perf-trend-alerts/internal/report"
	"perf-trend-alerts/internal/series"
	"perf-trend-alerts/internal/smoothing"
	"perf-trend-alerts/internal/trend"
	"perf-trend-alerts/internal/verdict"
)

// Options fix the parameters of a run.
type Options struct {
	Days          int
	Window        int
	Algorithm     smoothing.Algorithm
	Beta          float64
	Normalization trend.Normalization
	Variant       trend.Variant
	Thresholds    verdict.Thresholds
	Filter        metricstore.Filter
	Exclusions    metricstore.Exclusions
}

// OptionsFromConfig maps validated configuration onto run options.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	algo, err := smoothing.ParseAlgorithm(cfg.Analysis.Algorithm)
	if err != nil {
		return Options{}, err
	}
	norm, err := trend.ParseNormalization(cfg.Analysis.TrendNormalization)
	if err != nil {
		return Options{}, err
	}
	variant, err := trend.ParseVariant(cfg.Analysis.SustainedVariant)
	if err != nil {
		return Options{}, err
	}

	exclusions := make(metricstore.Exclusions, 0, len(cfg.Analysis.Exclusions))
	for _, ex := range cfg.Analysis.Exclusions {
		p, err := metricstore.ParseExclusion(ex.Match, ex.Value)
		if err != nil {
			return Options{}, err
		}
		exclusions = append(exclusions, p)
	}

	return Options{
		Days:          cfg.Analysis.Days,
		Window:        cfg.Analysis.Window,
		Algorithm:     algo,
		Beta:          cfg.Analysis.Beta,
		Normalization: norm,
		Variant:       variant,
		Thresholds: verdict.Thresholds{
			InstantPct:   cfg.Thresholds.InstantPct,
			SustainedPct: cfg.Thresholds.SustainedPct,
		},
		Filter:     metricstore.Filter{MetricType: cfg.Store.MetricType},
		Exclusions: exclusions,
	}, nil
}

// Outcome is the result of one run.
type Outcome struct {
	StartedAt time.Time
	Elapsed   time.Duration
	Fetched   int
	Excluded  int
	Dropped   int
	Skipped   int
	Series    []series.Series
	Results   []trend.Result
	Verdicts  []verdict.Verdict
}

// Failed reports whether any verdict failed.
func (o Outcome) Failed() bool {
	return verdict.AnyFailures(o.Verdicts)
}

// Suites renders the verdicts as one JUnit suite per branch.
func (o Outcome) Suites() []report.Suite {
	return report.FromVerdicts(o.Verdicts, o.Elapsed)
}

// Analyzer evaluates every eligible (branch, metric) series of a snapshot.
type Analyzer struct {
	source    metricstore.Source
	opts      Options
	smoother  smoothing.Smoother
	evaluator trend.Evaluator
	now       func() time.Time
	logger    zerolog.Logger
}

// New validates options and builds an Analyzer over source.
func New(source metricstore.Source, opts Options, logger zerolog.Logger) (*Analyzer, error) {
	if source == nil {
		return nil, errors.New("metric source not configured")
	}
	if opts.Days <= 0 {
		return nil, fmt.Errorf("days must be positive, got %d", opts.Days)
	}
	smoother, err := smoothing.New(opts.Algorithm, opts.Window, opts.Beta)
	if err != nil {
		return nil, err
	}

	return &Analyzer{
		source:   source,
		opts:     opts,
		smoother: smoother,
		evaluator: trend.Evaluator{
			Window:        opts.Window,
			Normalization: opts.Normalization,
			Variant:       opts.Variant,
		},
		now:    time.Now,
		logger: logger.With().Str("component", "analysis").Logger(),
	}, nil
}

// Options returns the parameters the analyzer was built with.
func (a *Analyzer) Options() Options {
	return a.opts
}

// Run fetches one snapshot and classifies every series in it. A store
// failure aborts the run without partial results.
func (a *Analyzer) Run(ctx context.Context) (Outcome, error) {
	started := a.now()
	out := Outcome{StartedAt: started.UTC()}

	records, err := a.source.Fetch(ctx, a.opts.Days, a.opts.Filter)
	if err != nil {
		return Outcome{}, fmt.Errorf("fetch measurements: %w", err)
	}
	out.Fetched = len(records)

	kept := a.opts.Exclusions.Apply(records)
	out.Excluded = len(records) - len(kept)

	out.Dropped = series.Dropped(kept, a.opts.Window)
	out.Series = series.Build(kept, a.opts.Window)

	for _, s := range out.Series {
		res, err := a.evaluate(s)
		if errors.Is(err, smoothing.ErrInsufficientHistory) || errors.Is(err, trend.ErrInsufficientHistory) {
			out.Skipped++
			a.logger.Debug().Err(err).Str("branch", s.Branch).Str("metric", s.Metric).Msg("series skipped")
			continue
		}
		if err != nil {
			return Outcome{}, fmt.Errorf("evaluate %s/%s: %w", s.Branch, s.Metric, err)
		}
		out.Results = append(out.Results, res)
	}

	out.Verdicts = verdict.ClassifyAll(out.Results, a.opts.Thresholds)
	out.Elapsed = a.now().Sub(started)

	a.logger.Info().
		Int("fetched", out.Fetched).
		Int("excluded", out.Excluded).
		Int("series", len(out.Series)).
		Int("dropped", out.Dropped).
		Int("skipped", out.Skipped).
		Int("verdicts", len(out.Verdicts)).
		Int("failures", len(verdict.Failures(out.Verdicts))).
		Dur("elapsed", out.Elapsed).
		Msg("analysis complete")

	return out, nil
}

// Smooth applies the configured smoother to one series.
func (a *Analyzer) Smooth(s series.Series) ([]float64, error) {
	return a.smoother.Smooth(s.Values())
}

func (a *Analyzer) evaluate(s series.Series) (trend.Result, error) {
	smoothed, err := a.Smooth(s)
	if err != nil {
		return trend.Result{}, err
	}
	return a.evaluator.Evaluate(s.Branch, s.Metric, smoothed)
}
