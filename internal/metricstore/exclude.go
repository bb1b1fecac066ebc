package metricstore

import (
	"fmt"
	"strings"
)

// Predicate reports whether a metric name should be excluded.
type Predicate func(metric string) bool

// NameEquals excludes one exact metric name.
func NameEquals(name string) Predicate {
	return func(metric string) bool { return metric == name }
}

// NameHasPrefix excludes a metric family.
func NameHasPrefix(prefix string) Predicate {
	return func(metric string) bool { return strings.HasPrefix(metric, prefix) }
}

// Exclusions is an ordered set of predicates over metric names.
type Exclusions []Predicate

// ParseExclusion builds a predicate from its configured form.
func ParseExclusion(match, value string) (Predicate, error) {
	switch strings.ToLower(match) {
	case "equals":
		return NameEquals(value), nil
	case "prefix":
		return NameHasPrefix(value), nil
	default:
		return nil, fmt.Errorf("unknown exclusion match %q", match)
	}
}

// Excluded reports whether any predicate matches the metric.
func (e Exclusions) Excluded(metric string) bool {
	for _, p := range e {
		if p(metric) {
			return true
		}
	}
	return false
}

// Apply returns the records whose metric is not excluded.
func (e Exclusions) Apply(records []Record) []Record {
	if len(e) == 0 {
		return records
	}
	kept := make([]Record, 0, len(records))
	for _, r := range records {
		if !e.Excluded(r.Metric) {
			kept = append(kept, r)
		}
	}
	return kept
}
