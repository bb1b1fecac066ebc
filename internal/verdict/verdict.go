// Package verdict classifies trend results against pass/fail thresholds.
package verdict

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"perf-trend-alerts/internal/trend"
)

// Check names which trend a verdict was computed from.
type Check string

const (
	CheckInstant   Check = "instant"
	CheckSustained Check = "sustained"
)

// Kind is the outcome of one check.
type Kind string

const (
	Pass                 Kind = "pass"
	InstantDegradation   Kind = "instant_degradation"
	SustainedDegradation Kind = "sustained_degradation"
)

// Thresholds are the maximum tolerated trends in percent. A trend equal to
// the threshold passes.
type Thresholds struct {
	InstantPct   float64
	SustainedPct float64
}

// Verdict is the result of one check on one (branch, metric) pair.
type Verdict struct {
	Branch       string
	Metric       string
	Check        Check
	Kind         Kind
	ObservedPct  float64
	ThresholdPct float64
}

// Failed reports whether the check did not pass.
func (v Verdict) Failed() bool {
	return v.Kind != Pass
}

// Name is a stable identifier of the check, unique within a branch.
func (v Verdict) Name() string {
	return string(v.Check) + "_" + strings.ReplaceAll(v.Metric, ".", "_")
}

// Message describes the observed trend against its threshold.
func (v Verdict) Message() string {
	observed := FormatPct(v.ObservedPct)
	threshold := FormatPct(v.ThresholdPct)
	switch v.Kind {
	case InstantDegradation:
		return fmt.Sprintf("Instant performance degradation for %q is %s%% (threshold %s%%)", v.Metric, observed, threshold)
	case SustainedDegradation:
		return fmt.Sprintf("Long time performance degradation for %q is %s%% (threshold %s%%)", v.Metric, observed, threshold)
	default:
		return fmt.Sprintf("%s trend for %q is %s%% (threshold %s%%)", v.Check, v.Metric, observed, threshold)
	}
}

// FormatPct renders a percentage with two decimals.
func FormatPct(pct float64) string {
	return decimal.NewFromFloat(pct).StringFixed(2)
}

// Classify emits the instant verdict and, when the result has a rising run,
// the sustained verdict.
func Classify(res trend.Result, th Thresholds) []Verdict {
	out := make([]Verdict, 0, 2)

	instant := Verdict{
		Branch:       res.Branch,
		Metric:       res.Metric,
		Check:        CheckInstant,
		Kind:         Pass,
		ObservedPct:  res.InstantPct,
		ThresholdPct: th.InstantPct,
	}
	if res.InstantPct > th.InstantPct {
		instant.Kind = InstantDegradation
	}
	out = append(out, instant)

	if res.SustainedPct != nil {
		sustained := Verdict{
			Branch:       res.Branch,
			Metric:       res.Metric,
			Check:        CheckSustained,
			Kind:         Pass,
			ObservedPct:  *res.SustainedPct,
			ThresholdPct: th.SustainedPct,
		}
		if *res.SustainedPct > th.SustainedPct {
			sustained.Kind = SustainedDegradation
		}
		out = append(out, sustained)
	}
	return out
}

// ClassifyAll classifies every result in order.
func ClassifyAll(results []trend.Result, th Thresholds) []Verdict {
	out := make([]Verdict, 0, 2*len(results))
	for _, res := range results {
		out = append(out, Classify(res, th)...)
	}
	return out
}

// AnyFailures reports whether at least one verdict is not Pass.
func AnyFailures(verdicts []Verdict) bool {
	for _, v := range verdicts {
		if v.Failed() {
			return true
		}
	}
	return false
}

// Failures returns the failed verdicts in order.
func Failures(verdicts []Verdict) []Verdict {
	var out []Verdict
	for _, v := range verdicts {
		if v.Failed() {
			out = append(out, v)
		}
	}
	return out
}
