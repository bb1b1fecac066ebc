package metricstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/rs/zerolog"
)

// ElasticOptions parameterise the Elasticsearch source.
type ElasticOptions struct {
	Addresses    []string
	Index        string
	Username     string
	Password     string
	MaxDocuments int
	Timeout      time.Duration
}

// Elastic reads run reports from an Elasticsearch index.
type Elastic struct {
	opts   ElasticOptions
	client *elasticsearch.Client
	logger zerolog.Logger
}

// NewElastic builds an Elasticsearch source. Client retries are disabled:
// a failed query fails the run.
func NewElastic(opts ElasticOptions, logger zerolog.Logger) (*Elastic, error) {
	if opts.Index == "" {
		return nil, fmt.Errorf("elasticsearch index not configured")
	}
	if opts.MaxDocuments <= 0 {
		opts.MaxDocuments = 50000
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    opts.Addresses,
		Username:     opts.Username,
		Password:     opts.Password,
		DisableRetry: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	return &Elastic{
		opts:   opts,
		client: client,
		logger: logger.With().Str("component", "store_elasticsearch").Logger(),
	}, nil
}

// Fetch runs one capped search over the trailing days.
func (e *Elastic) Fetch(ctx context.Context, days int, filter Filter) ([]Record, error) {
	docs, err := e.FetchDocuments(ctx, days, filter)
	if err != nil {
		return nil, err
	}
	return ToRecords(docs), nil
}

// FetchDocuments returns the raw run reports behind Fetch.
func (e *Elastic) FetchDocuments(ctx context.Context, days int, filter Filter) ([]Document, error) {
	if err := validateDays(days); err != nil {
		return nil, err
	}

	body, err := json.Marshal(searchBody(days, filter))
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(e.opts.Index),
		e.client.Search.WithBody(bytes.NewReader(body)),
		e.client.Search.WithSize(e.opts.MaxDocuments),
	)
	if err != nil {
		return nil, unavailable("search", err)
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, unavailable("read search response", err)
	}
	if res.IsError() {
		return nil, unavailable("search", parseSearchError(res.StatusCode, payload))
	}

	docs, total, err := decodeHits(payload)
	if err != nil {
		return nil, unavailable("decode search response", err)
	}
	if total > len(docs) {
		e.logger.Warn().Int("total", total).Int("returned", len(docs)).
			Msg("search result capped by max_documents")
	}

	e.logger.Debug().Int("documents", len(docs)).Int("days", days).Msg("run reports fetched")
	return docs, nil
}

func searchBody(days int, filter Filter) map[string]any {
	clauses := []any{
		map[string]any{
			"range": map[string]any{
				"datetime": map[string]any{"gte": fmt.Sprintf("now-%dd/d", days)},
			},
		},
	}
	if filter.MetricType != "" {
		clauses = append(clauses, map[string]any{
			"match": map[string]any{"metric_type": filter.MetricType},
		})
	}
	return map[string]any{
		"query": map[string]any{
			"bool": map[string]any{"filter": clauses},
		},
	}
}

type searchResponse struct {
	Hits struct {
		Total json.RawMessage `json:"total"`
		Hits  []struct {
			Source runReport `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

type runReport struct {
	Branch       string          `json:"branch"`
	Build        string          `json:"build"`
	MetricType   string          `json:"metric_type"`
	Name         string          `json:"name"`
	NameWithTest string          `json:"name_with_test"`
	Datetime     json.RawMessage `json:"datetime"`
	Median       float64         `json:"median"`
}

func decodeHits(payload []byte) ([]Document, int, error) {
	var parsed searchResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, 0, err
	}

	docs := make([]Document, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		src := hit.Source
		ts, err := ParseTimestamp(strings.Trim(string(src.Datetime), `"`))
		if err != nil {
			return nil, 0, err
		}
		docs = append(docs, Document{
			Branch:       src.Branch,
			Build:        src.Build,
			MetricType:   src.MetricType,
			Name:         src.Name,
			NameWithTest: src.NameWithTest,
			Datetime:     ts,
			Median:       src.Median,
		})
	}
	return docs, totalHits(parsed.Hits.Total), nil
}

// totalHits reads hits.total in both the 6.x (number) and 7.x+ (object) form.
func totalHits(raw json.RawMessage) int {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var obj struct {
		Value int `json:"value"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Value
	}
	return 0
}

func parseSearchError(status int, payload []byte) error {
	var apiErr struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Error.Reason != "" {
		return fmt.Errorf("elasticsearch error (%d): %s: %s", status, apiErr.Error.Type, apiErr.Error.Reason)
	}
	if len(payload) > 0 {
		return fmt.Errorf("elasticsearch error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("elasticsearch error (%d)", status)
}

var (
	_ Source         = (*Elastic)(nil)
	_ DocumentSource = (*Elastic)(nil)
)
