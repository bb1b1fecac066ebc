package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"perf-trend-alerts/internal/metricstore"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	schemaSQL = `CREATE TABLE IF NOT EXISTS measurements (
        branch         TEXT        NOT NULL,
        build          TEXT        NOT NULL,
        metric_type    TEXT        NOT NULL,
        name           TEXT        NOT NULL,
        name_with_test TEXT        NOT NULL DEFAULT '',
        recorded_at    TIMESTAMPTZ NOT NULL,
        median         DOUBLE PRECISION NOT NULL,
        PRIMARY KEY (branch, build, metric_type, name, name_with_test, recorded_at)
    );
    CREATE INDEX IF NOT EXISTS measurements_recorded_at_idx ON measurements (recorded_at);
    CREATE TABLE IF NOT EXISTS analysis_runs (
        id         BIGSERIAL   PRIMARY KEY,
        started_at TIMESTAMPTZ NOT NULL,
        days       INTEGER     NOT NULL,
        window_len INTEGER     NOT NULL,
        algorithm  TEXT        NOT NULL,
        failed     BOOLEAN     NOT NULL,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE TABLE IF NOT EXISTS verdicts (
        id            BIGSERIAL   PRIMARY KEY,
        run_id        BIGINT      NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
        branch        TEXT        NOT NULL,
        metric        TEXT        NOT NULL,
        check_kind    TEXT        NOT NULL,
        kind          TEXT        NOT NULL,
        observed_pct  NUMERIC     NOT NULL,
        threshold_pct NUMERIC     NOT NULL,
        created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	upsertMeasurementSQL = `INSERT INTO measurements (
        branch,
        build,
        metric_type,
        name,
        name_with_test,
        recorded_at,
        median
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (branch, build, metric_type, name, name_with_test, recorded_at) DO UPDATE
    SET median = EXCLUDED.median;`

	listMeasurementsSinceSQL = `SELECT
        branch,
        build,
        metric_type,
        name,
        name_with_test,
        recorded_at,
        median
    FROM measurements
    WHERE recorded_at >= $1
      AND ($2 = '' OR metric_type = $2)
    ORDER BY recorded_at DESC
    LIMIT $3;`

	countMeasurementsSQL = `SELECT COUNT(*) FROM measurements;`

	insertRunSQL = `INSERT INTO analysis_runs (
        started_at,
        days,
        window_len,
        algorithm,
        failed
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    RETURNING id, created_at;`

	insertVerdictSQL = `INSERT INTO verdicts (
        run_id,
        branch,
        metric,
        check_kind,
        kind,
        observed_pct,
        threshold_pct
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    );`

	listRecentVerdictsSQL = `SELECT
        id,
        run_id,
        branch,
        metric,
        check_kind,
        kind,
        observed_pct::text,
        threshold_pct::text,
        created_at
    FROM verdicts
    WHERE ($2 = false OR kind <> 'pass')
    ORDER BY created_at DESC, id DESC
    LIMIT $1;`

	deleteRunsBeforeSQL = `DELETE FROM analysis_runs WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// MeasurementStore mirrors run reports into Postgres.
type MeasurementStore interface {
	metricstore.DocumentReader
	UpsertDocuments(ctx context.Context, docs []metricstore.Document) (int, error)
	CountDocuments(ctx context.Context) (int64, error)
}

// VerdictStore persists analysis runs and their verdicts.
type VerdictStore interface {
	InsertRun(ctx context.Context, run RunRecord) (RunRecord, error)
	ListRecentVerdicts(ctx context.Context, limit int, failedOnly bool) ([]VerdictRecord, error)
	DeleteRunsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to measurements and verdicts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Migrate creates the tables when missing.
func (s *Store) Migrate(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// the session lock also goes away with the connection
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// UpsertDocuments writes documents in a single batch and returns how many
// were sent.
func (s *Store) UpsertDocuments(ctx context.Context, docs []metricstore.Document) (int, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, d := range docs {
		batch.Queue(upsertMeasurementSQL,
			d.Branch,
			d.Build,
			d.MetricType,
			d.Name,
			d.NameWithTest,
			d.Datetime,
			d.Median,
		)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()
	for i := range docs {
		if _, err := results.Exec(); err != nil {
			return i, fmt.Errorf("upsert measurement %d: %w", i, err)
		}
	}
	return len(docs), nil
}

// ListDocumentsSince lists mirrored run reports recorded since a point in time,
// newest first so a capped listing keeps the most recent samples.
func (s *Store) ListDocumentsSince(ctx context.Context, since time.Time, metricType string, limit int) ([]metricstore.Document, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listMeasurementsSinceSQL, since, metricType, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list measurements since: %w", queryErr)
	}
	defer rows.Close()

	docs := make([]metricstore.Document, 0)
	for rows.Next() {
		var d metricstore.Document
		if err := rows.Scan(
			&d.Branch,
			&d.Build,
			&d.MetricType,
			&d.Name,
			&d.NameWithTest,
			&d.Datetime,
			&d.Median,
		); err != nil {
			return nil, err
		}
		d.Datetime = d.Datetime.UTC()
		docs = append(docs, d)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return docs, nil
}

// CountDocuments counts mirrored run reports.
func (s *Store) CountDocuments(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countMeasurementsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count measurements: %w", scanErr)
	}
	return count, nil
}

// InsertRun stores a run and its verdicts in one transaction.
func (s *Store) InsertRun(ctx context.Context, run RunRecord) (RunRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return RunRecord{}, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return RunRecord{}, fmt.Errorf("begin insert run: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tx.QueryRow(ctx, insertRunSQL,
		run.StartedAt,
		run.Days,
		run.Window,
		run.Algorithm,
		run.Failed,
	).Scan(&run.ID, &run.CreatedAt); err != nil {
		return RunRecord{}, fmt.Errorf("insert run: %w", err)
	}

	for i := range run.Verdicts {
		v := &run.Verdicts[i]
		v.RunID = run.ID
		if _, err := tx.Exec(ctx, insertVerdictSQL,
			v.RunID,
			v.Branch,
			v.Metric,
			v.Check,
			v.Kind,
			v.ObservedPct.String(),
			v.ThresholdPct.String(),
		); err != nil {
			return RunRecord{}, fmt.Errorf("insert verdict: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return RunRecord{}, fmt.Errorf("commit insert run: %w", err)
	}
	return run, nil
}

// ListRecentVerdicts lists the most recent verdicts, optionally failures only.
func (s *Store) ListRecentVerdicts(ctx context.Context, limit int, failedOnly bool) ([]VerdictRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentVerdictsSQL, limit, failedOnly)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent verdicts: %w", queryErr)
	}
	defer rows.Close()

	out := make([]VerdictRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanVerdict(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// DeleteRunsBefore deletes historical runs and, by cascade, their verdicts.
func (s *Store) DeleteRunsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteRunsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete runs before: %w", execErr)
	}
	return nil
}

func scanVerdict(rows pgx.Rows) (VerdictRecord, error) {
	var (
		rec          VerdictRecord
		observedStr  sql.NullString
		thresholdStr sql.NullString
	)
	if err := rows.Scan(
		&rec.ID,
		&rec.RunID,
		&rec.Branch,
		&rec.Metric,
		&rec.Check,
		&rec.Kind,
		&observedStr,
		&thresholdStr,
		&rec.CreatedAt,
	); err != nil {
		return VerdictRecord{}, err
	}

	var err error
	rec.ObservedPct, err = parseDecimal(observedStr)
	if err != nil {
		return VerdictRecord{}, fmt.Errorf("parse observed pct: %w", err)
	}
	rec.ThresholdPct, err = parseDecimal(thresholdStr)
	if err != nil {
		return VerdictRecord{}, fmt.Errorf("parse threshold pct: %w", err)
	}
	return rec, nil
}

func parseDecimal(v sql.NullString) (decimal.Decimal, error) {
	if !v.Valid {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(v.String)
}

var (
	_ MeasurementStore = (*Store)(nil)
	_ VerdictStore     = (*Store)(nil)
	_ AdvisoryLocker   = (*Store)(nil)
)
