package alerting

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"
)

// Notification carries what collaborators need to raise a regression alert.
type Notification struct {
	Date     time.Time
	BuildURL string
	Failures []string
}

// Notifier defines alert delivery.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, note Notification) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func day(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.Format("2006-01-02")
}

// consoleURL resolves "console" against the build URL the way a browser
// would, so a job URL with a trailing slash points at its console output.
func consoleURL(buildURL string) string {
	base, err := url.Parse(buildURL)
	if err != nil || buildURL == "" {
		return buildURL
	}
	return base.ResolveReference(&url.URL{Path: "console"}).String()
}

func trimBase(raw string) string {
	return strings.TrimRight(raw, "/")
}

var _ Notifier = Multi(nil)
