package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// RunRecord summarises one analysis run for auditing.
type RunRecord struct {
	ID        int64
	StartedAt time.Time
	Days      int
	Window    int
	Algorithm string
	Failed    bool
	Verdicts  []VerdictRecord
	CreatedAt time.Time
}

// VerdictRecord is a persisted pass/fail verdict.
type VerdictRecord struct {
	ID           int64
	RunID        int64
	Branch       string
	Metric       string
	Check        string
	Kind         string
	ObservedPct  decimal.Decimal
	ThresholdPct decimal.Decimal
	CreatedAt    time.Time
}
