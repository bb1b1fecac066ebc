package report

import "fmt"

// Merge sums the counters of the given suites and concatenates their cases.
func Merge(suites ...Suite) Suite {
	merged := Suite{}
	for _, s := range suites {
		merged.Tests += s.Tests
		merged.Failures += s.Failures
		merged.Errors += s.Errors
		merged.Time += s.Time
		merged.Cases = append(merged.Cases, s.Cases...)
	}
	return merged
}

// MergeFiles reads every report file in order and merges them.
func MergeFiles(paths []string) (Suite, error) {
	if len(paths) == 0 {
		return Suite{}, fmt.Errorf("no report files to merge")
	}
	suites := make([]Suite, 0, len(paths))
	for _, p := range paths {
		s, err := ReadFile(p)
		if err != nil {
			return Suite{}, err
		}
		suites = append(suites, s)
	}
	return Merge(suites...), nil
}
