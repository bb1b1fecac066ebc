package app

import (
	"context"
	"errors"
	"fmt"

	"perf-trend-alerts/internal/config"
	"perf-trend-alerts/internal/metricstore"
)

// Backfill mirrors the trailing days of run reports from the configured
// store into the Postgres measurements table.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	if a.Config.Store.Backend == config.BackendPostgres {
		return errors.New("backfill needs an elasticsearch or influxdb store.backend")
	}
	days := opts.Days
	if days <= 0 {
		days = a.Config.Analysis.Days
	}

	source, closeSource, err := a.openSource(ctx, nil)
	if err != nil {
		return err
	}
	defer closeSource()

	docSource, ok := source.(metricstore.DocumentSource)
	if !ok {
		return fmt.Errorf("store backend %q cannot list raw documents", a.Config.Store.Backend)
	}

	docs, err := docSource.FetchDocuments(ctx, days, metricstore.Filter{MetricType: a.Config.Store.MetricType})
	if err != nil {
		return err
	}

	if opts.DryRun {
		a.Logger.Warn().Int("documents", len(docs)).Int("days", days).Msg("backfill dry-run: nothing written")
		return nil
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn not configured; cannot backfill")
	}
	defer closeStore()

	written, err := store.UpsertDocuments(ctx, docs)
	if err != nil {
		return err
	}
	total, err := store.CountDocuments(ctx)
	if err != nil {
		return err
	}

	a.Logger.Info().Int("written", written).Int64("total", total).Int("days", days).Msg("backfill complete")
	return nil
}
