// Package scheduler re-runs a job on a fixed cadence.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Job is one scheduled unit of work. at is the slot the run belongs to.
type Job func(ctx context.Context, at time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval time.Duration
	// Align snaps runs to multiples of Interval since the Unix epoch, so a
	// 24h interval fires at midnight UTC.
	Align bool
	// Immediate runs the job once before waiting for the first slot.
	Immediate    bool
	StartupDelay time.Duration
}

// Scheduler drives periodic execution of one job.
type Scheduler struct {
	opts   Options
	now    func() time.Time
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	if opts.Interval <= 0 {
		return nil, errors.New("scheduler interval must be positive")
	}
	return &Scheduler{
		opts:   opts,
		now:    time.Now,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}, nil
}

// Run blocks, invoking job at every slot until ctx is cancelled. Job errors
// are logged and do not stop the loop.
func (s *Scheduler) Run(ctx context.Context, job Job) error {
	if s.opts.StartupDelay > 0 {
		if err := sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	if s.opts.Immediate {
		s.execute(ctx, job, s.now().UTC())
	}

	next := s.nextSlot(s.now().UTC())
	for {
		delay := next.Sub(s.now())
		if delay < 0 {
			s.logger.Warn().Time("slot", next).Dur("late", -delay).Msg("slot missed, rescheduling")
			next = s.nextSlot(s.now().UTC())
			delay = next.Sub(s.now())
		}

		s.logger.Debug().Time("next_run", next).Msg("waiting for next run")
		if err := sleep(ctx, delay); err != nil {
			return err
		}

		s.execute(ctx, job, s.slotStart(next))
		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) execute(ctx context.Context, job Job, at time.Time) {
	s.logger.Info().Time("slot", at).Msg("executing scheduled run")
	if err := job(ctx, at); err != nil {
		s.logger.Error().Err(err).Time("slot", at).Msg("scheduled run failed")
	}
}

func (s *Scheduler) nextSlot(now time.Time) time.Time {
	if !s.opts.Align {
		return now.Add(s.opts.Interval)
	}
	slot := now.Truncate(s.opts.Interval)
	if !slot.After(now) {
		slot = slot.Add(s.opts.Interval)
	}
	return slot
}

func (s *Scheduler) slotStart(t time.Time) time.Time {
	if !s.opts.Align {
		return t
	}
	return t.Truncate(s.opts.Interval)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
