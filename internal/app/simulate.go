package app

import (
	"context"
	"errors"
	"time"

	"perf-trend-alerts/internal/alerting"
	"perf-trend-alerts/internal/verdict"
)

// SimulateAlert pushes a synthetic degradation through the configured
// notifiers. An empty metric defaults to "simulated".
func (a *App) SimulateAlert(ctx context.Context, metric string, observedPct float64) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is not enabled")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no alert channel configured")
	}

	if metric == "" {
		metric = "simulated"
	}
	v := verdict.Verdict{
		Branch:       "simulation",
		Metric:       metric,
		Check:        verdict.CheckInstant,
		Kind:         verdict.InstantDegradation,
		ObservedPct:  observedPct,
		ThresholdPct: a.Config.Thresholds.InstantPct,
	}

	a.Logger.Info().Str("metric", metric).Float64("observed_pct", observedPct).Msg("sending simulated alert")
	return notifier.Notify(ctx, alerting.Notification{
		Date:     time.Now().UTC(),
		BuildURL: a.Config.Alerting.BuildURL,
		Failures: failureMessages([]verdict.Verdict{v}),
	})
}
