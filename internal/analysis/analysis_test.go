package analysis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perf-trend-alerts/internal/config"
	"perf-trend-alerts/internal/metricstore"
	"perf-trend-alerts/internal/smoothing"
	"perf-trend-alerts/internal/trend"
	"perf-trend-alerts/internal/verdict"
)

type fakeSource struct {
	records []metricstore.Record
	err     error
	days    int
	filter  metricstore.Filter
}

func (f *fakeSource) Fetch(_ context.Context, days int, filter metricstore.Filter) ([]metricstore.Record, error) {
	f.days = days
	f.filter = filter
	return f.records, f.err
}

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func records(branch, metric string, values ...float64) []metricstore.Record {
	out := make([]metricstore.Record, len(values))
	for i, v := range values {
		out[i] = metricstore.Record{
			Branch:    branch,
			Metric:    metric,
			Timestamp: epoch.Add(time.Duration(i) * time.Hour),
			Value:     v,
		}
	}
	return out
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func defaultOptions() Options {
	return Options{
		Days:          20,
		Window:        10,
		Algorithm:     smoothing.AlgorithmSMA,
		Normalization: trend.NormalizeFirst,
		Variant:       trend.VariantWindowMin,
		Thresholds:    verdict.Thresholds{InstantPct: 3, SustainedPct: 15},
		Filter:        metricstore.Filter{MetricType: metricstore.HTTPMetricType},
	}
}

func TestRunFlagsInstantStep(t *testing.T) {
	values := append(repeat(1, 19), 2)
	src := &fakeSource{records: records("master", "login", values...)}

	a, err := New(src, defaultOptions(), zerolog.Nop())
	require.NoError(t, err)

	out, err := a.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 20, src.days)
	assert.Equal(t, metricstore.HTTPMetricType, src.filter.MetricType)
	require.Len(t, out.Results, 1)
	assert.InDelta(t, 10, out.Results[0].InstantPct, 1e-9)
	require.True(t, out.Results[0].HasSustained())
	assert.Equal(t, 1, out.Results[0].RunLength)

	require.Len(t, out.Verdicts, 2)
	assert.Equal(t, verdict.InstantDegradation, out.Verdicts[0].Kind)
	assert.Equal(t, verdict.Pass, out.Verdicts[1].Kind)
	assert.True(t, out.Failed())

	suites := out.Suites()
	require.Len(t, suites, 1)
	assert.Equal(t, "Test_master", suites[0].Name)
	assert.Equal(t, 1, suites[0].Failures)
}

func TestRunConstantSeriesPasses(t *testing.T) {
	for _, algo := range []smoothing.Algorithm{smoothing.AlgorithmSMA, smoothing.AlgorithmEMA, smoothing.AlgorithmHoltWinters} {
		opts := defaultOptions()
		opts.Algorithm = algo
		opts.Beta = 0.3

		a, err := New(&fakeSource{records: records("master", "login", repeat(5, 25)...)}, opts, zerolog.Nop())
		require.NoError(t, err)

		out, err := a.Run(context.Background())
		require.NoError(t, err, algo)
		require.Len(t, out.Verdicts, 1, algo)
		assert.Equal(t, verdict.Pass, out.Verdicts[0].Kind, algo)
		assert.Equal(t, 0.0, out.Verdicts[0].ObservedPct, algo)
		assert.False(t, out.Failed(), algo)
	}
}

func TestRunDropsShortSeriesAndExclusions(t *testing.T) {
	var recs []metricstore.Record
	recs = append(recs, records("master", "login", repeat(1, 20)...)...)
	recs = append(recs, records("master", "short", repeat(1, 19)...)...)
	recs = append(recs, records("master", "Loop.sleep", repeat(1, 20)...)...)

	opts := defaultOptions()
	opts.Exclusions = metricstore.Exclusions{metricstore.NameHasPrefix("Loop.")}

	a, err := New(&fakeSource{records: recs}, opts, zerolog.Nop())
	require.NoError(t, err)

	out, err := a.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 59, out.Fetched)
	assert.Equal(t, 20, out.Excluded)
	assert.Equal(t, 1, out.Dropped)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "login", out.Results[0].Metric)
}

func TestRunOrdersByBranchThenMetric(t *testing.T) {
	var recs []metricstore.Record
	recs = append(recs, records("release", "b", repeat(1, 20)...)...)
	recs = append(recs, records("master", "b", repeat(1, 20)...)...)
	recs = append(recs, records("master", "a", repeat(1, 20)...)...)

	a, err := New(&fakeSource{records: recs}, defaultOptions(), zerolog.Nop())
	require.NoError(t, err)

	out, err := a.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, out.Verdicts, 3)
	assert.Equal(t, []string{"master/a", "master/b", "release/b"}, []string{
		out.Verdicts[0].Branch + "/" + out.Verdicts[0].Metric,
		out.Verdicts[1].Branch + "/" + out.Verdicts[1].Metric,
		out.Verdicts[2].Branch + "/" + out.Verdicts[2].Metric,
	})
}

func TestRunStoreFailureIsFatal(t *testing.T) {
	src := &fakeSource{err: errors.Join(metricstore.ErrStoreUnavailable, errors.New("connection refused"))}

	a, err := New(src, defaultOptions(), zerolog.Nop())
	require.NoError(t, err)

	out, err := a.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, metricstore.ErrStoreUnavailable))
	assert.Empty(t, out.Verdicts)
}

func TestNewRejectsBadOptions(t *testing.T) {
	opts := defaultOptions()
	opts.Window = 0
	_, err := New(&fakeSource{}, opts, zerolog.Nop())
	assert.Error(t, err)

	opts = defaultOptions()
	opts.Days = 0
	_, err = New(&fakeSource{}, opts, zerolog.Nop())
	assert.Error(t, err)

	_, err = New(nil, defaultOptions(), zerolog.Nop())
	assert.Error(t, err)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := &config.Config{
		Store: config.StoreConfig{MetricType: "http_metric"},
		Analysis: config.AnalysisConfig{
			Days:       20,
			Window:     10,
			Algorithm:  "holt_winters",
			Beta:       0.3,
			Exclusions: []config.ExclusionConfig{{Match: "equals", Value: "Login.Flow"}},
		},
		Thresholds: config.ThresholdsConfig{InstantPct: 3, SustainedPct: 15},
	}

	opts, err := OptionsFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, smoothing.AlgorithmHoltWinters, opts.Algorithm)
	assert.Equal(t, trend.NormalizeFirst, opts.Normalization)
	assert.Equal(t, trend.VariantWindowMin, opts.Variant)
	assert.Equal(t, "http_metric", opts.Filter.MetricType)
	require.Len(t, opts.Exclusions, 1)
	assert.True(t, opts.Exclusions.Excluded("Login.Flow"))

	cfg.Analysis.Exclusions = []config.ExclusionConfig{{Match: "regex", Value: ".*"}}
	_, err = OptionsFromConfig(cfg)
	assert.Error(t, err)
}
