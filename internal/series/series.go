// Package series groups measurement records into per-branch, per-metric
// chronological series.
package series

import (
	"sort"
	"time"

	"perf-trend-alerts/internal/metricstore"
)

// Point is one timestamped value of a series.
type Point struct {
	Timestamp time.Time
	Value     float64
}

// Series holds the chronologically ordered points of one metric on one
// branch.
type Series struct {
	Branch string
	Metric string
	Points []Point
}

// Values returns the point values in order.
func (s Series) Values() []float64 {
	values := make([]float64, len(s.Points))
	for i, p := range s.Points {
		values[i] = p.Value
	}
	return values
}

// Len returns the number of points.
func (s Series) Len() int { return len(s.Points) }

// MinLength is the history needed for a stable average plus a prior
// reference point.
func MinLength(window int) int {
	return 2 * window
}

type key struct {
	branch string
	metric string
}

// Build groups records by branch then metric and drops series shorter than
// MinLength(window). The result is ordered by branch then metric and does not
// depend on the input order.
func Build(records []metricstore.Record, window int) []Series {
	groups := make(map[key][]Point)
	for _, r := range records {
		k := key{branch: r.Branch, metric: r.Metric}
		groups[k] = append(groups[k], Point{Timestamp: r.Timestamp, Value: r.Value})
	}

	minLen := MinLength(window)
	out := make([]Series, 0, len(groups))
	for k, points := range groups {
		if len(points) < minLen {
			continue
		}
		sort.Slice(points, func(i, j int) bool {
			if !points[i].Timestamp.Equal(points[j].Timestamp) {
				return points[i].Timestamp.Before(points[j].Timestamp)
			}
			return points[i].Value < points[j].Value
		})
		out = append(out, Series{Branch: k.branch, Metric: k.metric, Points: points})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Branch != out[j].Branch {
			return out[i].Branch < out[j].Branch
		}
		return out[i].Metric < out[j].Metric
	})
	return out
}

// Dropped counts the (branch, metric) groups that Build discards.
func Dropped(records []metricstore.Record, window int) int {
	counts := make(map[key]int)
	for _, r := range records {
		counts[key{branch: r.Branch, metric: r.Metric}]++
	}
	dropped := 0
	for _, n := range counts {
		if n < MinLength(window) {
			dropped++
		}
	}
	return dropped
}

// Find returns the series for a branch and metric.
func Find(all []Series, branch, metric string) (Series, bool) {
	for _, s := range all {
		if s.Branch == branch && s.Metric == metric {
			return s, true
		}
	}
	return Series{}, false
}
