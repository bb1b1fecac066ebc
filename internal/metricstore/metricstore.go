// Package metricstore reads performance-test measurements from the external
// time-series store.
package metricstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrStoreUnavailable wraps every failure of the bulk query. It is fatal for
// a run; callers must not retry silently.
var ErrStoreUnavailable = errors.New("metric store unavailable")

// HTTPMetricType marks documents whose metric is an HTTP transaction.
const HTTPMetricType = "http_metric"

// Document is a raw run-report entry as stored.
type Document struct {
	Branch       string
	Build        string
	MetricType   string
	Name         string
	NameWithTest string
	Datetime     time.Time
	Median       float64
}

// Record is one observed sample of a metric on a branch.
type Record struct {
	Branch    string
	Metric    string
	Timestamp time.Time
	Value     float64
}

// Filter narrows the bulk query.
type Filter struct {
	// MetricType restricts documents to one metric_type; empty matches all.
	MetricType string
}

// Source fetches the trailing days of measurements in one bulk query.
type Source interface {
	Fetch(ctx context.Context, days int, filter Filter) ([]Record, error)
}

// DocumentSource exposes the raw documents behind a Source, for mirroring.
type DocumentSource interface {
	FetchDocuments(ctx context.Context, days int, filter Filter) ([]Document, error)
}

var perfSuffix = regexp.MustCompile(`_perf\d+$`)

// NormalizeBranch merges perf-run variants of a branch: when the branch
// equals the build, a trailing _perf<digits> suffix is stripped.
func NormalizeBranch(branch, build string) string {
	if branch != build {
		return branch
	}
	return perfSuffix.ReplaceAllString(branch, "")
}

// ResolveName picks the test-qualified name for HTTP transaction metrics.
func ResolveName(doc Document) string {
	if doc.MetricType == HTTPMetricType {
		return doc.NameWithTest
	}
	return doc.Name
}

// ToRecord converts a stored document to a Record.
func (d Document) ToRecord() Record {
	return Record{
		Branch:    NormalizeBranch(d.Branch, d.Build),
		Metric:    ResolveName(d),
		Timestamp: d.Datetime,
		Value:     d.Median,
	}
}

// ToRecords converts documents in order.
func ToRecords(docs []Document) []Record {
	records := make([]Record, 0, len(docs))
	for _, doc := range docs {
		records = append(records, doc.ToRecord())
	}
	return records
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp accepts RFC3339, zone-less ISO timestamps (read as UTC)
// and epoch milliseconds.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return ts.UTC(), nil
		}
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", raw)
}

func validateDays(days int) error {
	if days <= 0 {
		return fmt.Errorf("time window must be positive, got %d days", days)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
