package metricstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/rs/zerolog"
)

// InfluxOptions parameterise the InfluxDB v2 source.
type InfluxOptions struct {
	URL          string
	Token        string
	Org          string
	Bucket       string
	Measurement  string
	MaxDocuments int
	Timeout      time.Duration
}

// Influx reads measurements written as points tagged with branch, build,
// metric_type, name and name_with_test, carrying a median field.
type Influx struct {
	opts   InfluxOptions
	client influxdb2.Client
	query  api.QueryAPI
	logger zerolog.Logger
}

// NewInflux builds an InfluxDB source.
func NewInflux(opts InfluxOptions, logger zerolog.Logger) (*Influx, error) {
	if opts.URL == "" || opts.Bucket == "" {
		return nil, fmt.Errorf("influxdb url and bucket must be configured")
	}
	if opts.Measurement == "" {
		opts.Measurement = "run_reports"
	}
	if opts.MaxDocuments <= 0 {
		opts.MaxDocuments = 50000
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}

	client := influxdb2.NewClient(opts.URL, opts.Token)
	return &Influx{
		opts:   opts,
		client: client,
		query:  client.QueryAPI(opts.Org),
		logger: logger.With().Str("component", "store_influxdb").Logger(),
	}, nil
}

// Close releases the HTTP resources of the client.
func (i *Influx) Close() {
	if i == nil || i.client == nil {
		return
	}
	i.client.Close()
}

// Fetch runs one Flux query over the trailing days.
func (i *Influx) Fetch(ctx context.Context, days int, filter Filter) ([]Record, error) {
	docs, err := i.FetchDocuments(ctx, days, filter)
	if err != nil {
		return nil, err
	}
	return ToRecords(docs), nil
}

// FetchDocuments returns the raw run reports behind Fetch.
func (i *Influx) FetchDocuments(ctx context.Context, days int, filter Filter) ([]Document, error) {
	if err := validateDays(days); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, i.opts.Timeout)
	defer cancel()

	result, err := i.query.Query(ctx, fluxQuery(i.opts, days, filter))
	if err != nil {
		return nil, unavailable("flux query", err)
	}
	if result == nil {
		return nil, nil
	}
	defer result.Close()

	docs := make([]Document, 0)
	for result.Next() {
		rec := result.Record()
		value, ok := rec.Value().(float64)
		if !ok {
			continue
		}
		docs = append(docs, Document{
			Branch:       tagValue(rec.ValueByKey("branch")),
			Build:        tagValue(rec.ValueByKey("build")),
			MetricType:   tagValue(rec.ValueByKey("metric_type")),
			Name:         tagValue(rec.ValueByKey("name")),
			NameWithTest: tagValue(rec.ValueByKey("name_with_test")),
			Datetime:     rec.Time().UTC(),
			Median:       value,
		})
	}
	if result.Err() != nil {
		return nil, unavailable("read flux result", result.Err())
	}

	i.logger.Debug().Int("documents", len(docs)).Int("days", days).Msg("run reports fetched")
	return docs, nil
}

func fluxQuery(opts InfluxOptions, days int, filter Filter) string {
	var b strings.Builder
	fmt.Fprintf(&b, "from(bucket: %q)\n", opts.Bucket)
	fmt.Fprintf(&b, "  |> range(start: -%dd)\n", days)
	fmt.Fprintf(&b, "  |> filter(fn: (r) => r._measurement == %q and r._field == \"median\")\n", opts.Measurement)
	if filter.MetricType != "" {
		fmt.Fprintf(&b, "  |> filter(fn: (r) => r.metric_type == %q)\n", filter.MetricType)
	}
	b.WriteString("  |> group()\n")
	fmt.Fprintf(&b, "  |> limit(n: %d)\n", opts.MaxDocuments)
	return b.String()
}

func tagValue(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

var (
	_ Source         = (*Influx)(nil)
	_ DocumentSource = (*Influx)(nil)
)
