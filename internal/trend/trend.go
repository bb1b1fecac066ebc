// Package trend derives instantaneous and sustained trend percentages from a
// smoothed series.
package trend

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInsufficientHistory is returned when a smoothed series has fewer than
// two values.
var ErrInsufficientHistory = errors.New("insufficient history for trend")

// Normalization selects the denominator of a relative change.
type Normalization string

const (
	// NormalizeFirst divides the delta by the earlier point.
	NormalizeFirst Normalization = "first"
	// NormalizeMean divides the delta by the mean of both points.
	NormalizeMean Normalization = "mean"
)

// ParseNormalization resolves a configured normalization name.
func ParseNormalization(name string) (Normalization, error) {
	switch Normalization(strings.ToLower(strings.TrimSpace(name))) {
	case NormalizeFirst, "":
		return NormalizeFirst, nil
	case NormalizeMean:
		return NormalizeMean, nil
	default:
		return "", fmt.Errorf("unknown trend normalization %q", name)
	}
}

// Variant selects the baseline of the sustained trend.
type Variant string

const (
	// VariantWindowMin compares the minimum of the last window values with
	// the last value.
	VariantWindowMin Variant = "window_min"
	// VariantRunSpan compares the first and last values of the rising run.
	VariantRunSpan Variant = "run_span"
)

// ParseVariant resolves a configured sustained-trend variant.
func ParseVariant(name string) (Variant, error) {
	switch Variant(strings.ToLower(strings.TrimSpace(name))) {
	case VariantWindowMin, "":
		return VariantWindowMin, nil
	case VariantRunSpan:
		return VariantRunSpan, nil
	default:
		return "", fmt.Errorf("unknown sustained trend variant %q", name)
	}
}

// Relative returns the relative change from y1 to y2. A zero denominator
// yields 0.
func Relative(y1, y2 float64, norm Normalization) float64 {
	base := y1
	if norm == NormalizeMean {
		base = (y1 + y2) / 2
	}
	if base == 0 {
		return 0
	}
	return (y2 - y1) / base
}

// Instant returns the relative change between the two most recent values,
// in percent.
func Instant(values []float64, norm Normalization) (float64, error) {
	n := len(values)
	if n < 2 {
		return 0, fmt.Errorf("%w: %d values", ErrInsufficientHistory, n)
	}
	return Relative(values[n-2], values[n-1], norm) * 100, nil
}

// RisingRun counts the trailing steps where each value is strictly greater
// than its predecessor.
func RisingRun(values []float64) int {
	run := 0
	for i := len(values) - 1; i > 0; i-- {
		if !(values[i] > values[i-1]) {
			break
		}
		run++
	}
	return run
}

// Sustained returns the relative creep of the trailing rising run in percent.
// ok is false when the series does not end with a rising step.
func Sustained(values []float64, window int, norm Normalization, variant Variant) (pct float64, run int, ok bool) {
	run = RisingRun(values)
	if run == 0 {
		return 0, 0, false
	}

	last := values[len(values)-1]
	var base float64
	switch variant {
	case VariantRunSpan:
		base = values[len(values)-1-run]
	default:
		base = minTail(values, window)
	}
	return Relative(base, last, norm) * 100, run, true
}

func minTail(values []float64, window int) float64 {
	start := len(values) - window
	if window <= 0 || start < 0 {
		start = 0
	}
	lowest := values[start]
	for _, v := range values[start+1:] {
		if v < lowest {
			lowest = v
		}
	}
	return lowest
}

// Result is the trend of one (branch, metric) pair.
type Result struct {
	Branch       string
	Metric       string
	InstantPct   float64
	SustainedPct *float64
	RunLength    int
}

// HasSustained reports whether a rising run was found.
func (r Result) HasSustained() bool {
	return r.SustainedPct != nil
}

// Evaluator computes Results with fixed parameters.
type Evaluator struct {
	Window        int
	Normalization Normalization
	Variant       Variant
}

// Evaluate derives both trends from a smoothed value sequence.
func (e Evaluator) Evaluate(branch, metric string, smoothed []float64) (Result, error) {
	instant, err := Instant(smoothed, e.Normalization)
	if err != nil {
		return Result{}, err
	}

	res := Result{Branch: branch, Metric: metric, InstantPct: instant}
	if pct, run, ok := Sustained(smoothed, e.Window, e.Normalization, e.Variant); ok {
		res.SustainedPct = &pct
		res.RunLength = run
	}
	return res, nil
}
