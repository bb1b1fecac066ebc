package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"perf-trend-alerts/internal/analysis"
	"perf-trend-alerts/internal/scheduler"
)

// Watch re-runs the analysis on the scheduler until interrupted. Each run
// takes a fresh snapshot; with a database configured, an advisory lock keeps
// concurrent watchers from overlapping.
func (a *App) Watch(ctx context.Context, opts AnalyzeOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if opts.OutputDir == "" {
		opts.OutputDir = a.Config.Report.OutputDir
	}
	if opts.MergeFile == "" {
		opts.MergeFile = a.Config.Report.MergeFile
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	var locker analysis.Locker
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence and locking disabled")
	} else {
		locker = store
		defer closeStore()
	}

	sched, err := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		Align:        a.Config.Scheduler.AlignToBucket,
		Immediate:    true,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)
	if err != nil {
		return err
	}

	lockKey := a.Config.Scheduler.AdvisoryLockKey
	job := func(ctx context.Context, at time.Time) error {
		ran, err := analysis.WithLock(ctx, locker, lockKey, func(ctx context.Context) error {
			_, err := a.analyze(ctx, store, opts)
			return err
		})
		if err == nil && !ran {
			a.Logger.Debug().Time("slot", at).Msg("skip run because advisory lock held elsewhere")
		}
		return err
	}

	a.Logger.Info().Dur("interval", a.Config.Scheduler.Interval).Msg("starting watch")
	err = sched.Run(ctx, job)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("watch terminated with error")
		return err
	}

	a.Logger.Info().Msg("watch stopped")
	return nil
}
