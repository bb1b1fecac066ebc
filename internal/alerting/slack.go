package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// SlackNotifier posts to a Slack notification service webhook.
type SlackNotifier struct {
	webhookURL string
	channel    string
	username   string
	client     *http.Client
	logger     zerolog.Logger
}

// NewSlackNotifier constructs the Slack notifier.
func NewSlackNotifier(webhookURL, channel, username string, timeout time.Duration, logger zerolog.Logger) *SlackNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if username == "" {
		username = "perftrend"
	}
	return &SlackNotifier{
		webhookURL: webhookURL,
		channel:    channel,
		username:   username,
		client:     &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "alert_slack").Logger(),
	}
}

// Notify posts the degradation message. The service must answer 2xx with an
// "ok" body.
func (n *SlackNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"text":     renderSlackMessage(note),
		"username": n.username,
		"channel":  n.channel,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send slack request: %w", err)
	}
	defer resp.Body.Close()

	text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	reply := strings.TrimSpace(string(text))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !strings.EqualFold(reply, "ok") {
		return fmt.Errorf("performance degradation notification wasn't sent: %d %s", resp.StatusCode, reply)
	}

	n.logger.Info().Str("channel", n.channel).Int("failures", len(note.Failures)).Msg("alert sent (Slack)")
	return nil
}

func renderSlackMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("I found performance degradation at %s.", day(note.Date)))
	if note.BuildURL != "" {
		builder.WriteString(fmt.Sprintf(" You can see more here: %s", consoleURL(note.BuildURL)))
	}
	for _, f := range note.Failures {
		builder.WriteString("\n- ")
		builder.WriteString(f)
	}
	return builder.String()
}

var _ Notifier = (*SlackNotifier)(nil)
