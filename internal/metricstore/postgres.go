package metricstore

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// DocumentReader is the slice of the Postgres store used as a metric source.
type DocumentReader interface {
	ListDocumentsSince(ctx context.Context, since time.Time, metricType string, limit int) ([]Document, error)
}

// Postgres reads mirrored run reports from the measurements table.
type Postgres struct {
	reader       DocumentReader
	maxDocuments int
	now          func() time.Time
	logger       zerolog.Logger
}

// NewPostgres wraps a document reader as a Source.
func NewPostgres(reader DocumentReader, maxDocuments int, logger zerolog.Logger) *Postgres {
	if maxDocuments <= 0 {
		maxDocuments = 50000
	}
	return &Postgres{
		reader:       reader,
		maxDocuments: maxDocuments,
		now:          time.Now,
		logger:       logger.With().Str("component", "store_postgres").Logger(),
	}
}

// Fetch lists documents recorded since the start of the day N days ago, the
// same bound the Elasticsearch query rounds to.
func (p *Postgres) Fetch(ctx context.Context, days int, filter Filter) ([]Record, error) {
	docs, err := p.FetchDocuments(ctx, days, filter)
	if err != nil {
		return nil, err
	}
	return ToRecords(docs), nil
}

// FetchDocuments returns the mirrored documents behind Fetch.
func (p *Postgres) FetchDocuments(ctx context.Context, days int, filter Filter) ([]Document, error) {
	if err := validateDays(days); err != nil {
		return nil, err
	}

	since := p.now().UTC().AddDate(0, 0, -days).Truncate(24 * time.Hour)
	docs, err := p.reader.ListDocumentsSince(ctx, since, filter.MetricType, p.maxDocuments)
	if err != nil {
		return nil, unavailable("list measurements", err)
	}

	p.logger.Debug().Int("documents", len(docs)).Time("since", since).Msg("run reports fetched")
	return docs, nil
}

var (
	_ Source         = (*Postgres)(nil)
	_ DocumentSource = (*Postgres)(nil)
)
