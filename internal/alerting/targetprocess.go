package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// TargetprocessNotifier opens one bug per day in Targetprocess and comments
// on it for every further regression found that day.
type TargetprocessNotifier struct {
	baseURL string
	token   string
	project string
	tags    string
	client  *http.Client
	logger  zerolog.Logger
}

// NewTargetprocessNotifier constructs the bug tracker notifier.
func NewTargetprocessNotifier(baseURL, token, project, tags string, timeout time.Duration, logger zerolog.Logger) *TargetprocessNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TargetprocessNotifier{
		baseURL: trimBase(baseURL),
		token:   token,
		project: project,
		tags:    tags,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "alert_targetprocess").Logger(),
	}
}

type tpEntity struct {
	ID         int64  `json:"Id"`
	Name       string `json:"Name"`
	EntityType *struct {
		ID int64 `json:"Id"`
	} `json:"EntityType,omitempty"`
}

// BugName is the name of the daily degradation bug.
func BugName(date time.Time) string {
	return fmt.Sprintf("Performance degradation. %s", day(date))
}

// Notify creates the daily bug or comments on the existing one.
func (n *TargetprocessNotifier) Notify(ctx context.Context, note Notification) error {
	name := BugName(note.Date)
	description := fmt.Sprintf("<!--markdown-->[Details](%s)", note.BuildURL)

	bugs, err := n.list(ctx, "Bugs", fmt.Sprintf("(Name eq '%s')", name), "[Id,Name,EntityType[Id]]")
	if err != nil {
		return err
	}

	if len(bugs) == 0 {
		projects, err := n.list(ctx, "Projects", fmt.Sprintf("(Name eq '%s')", n.project), "[Id,Name]")
		if err != nil {
			return err
		}
		if len(projects) == 0 {
			return fmt.Errorf("targetprocess project %q not found", n.project)
		}
		bug := map[string]any{
			"name":        name,
			"description": description,
			"project":     map[string]any{"id": projects[0].ID},
			"tags":        n.tags,
		}
		if err := n.post(ctx, "Bugs", bug); err != nil {
			return err
		}
		n.logger.Info().Str("bug", name).Msg("alert sent (Targetprocess bug created)")
		return nil
	}

	existing := bugs[0]
	if existing.EntityType == nil {
		return errors.New("targetprocess bug without entity type")
	}
	comment := map[string]any{
		"description": description,
		"general": map[string]any{
			"id":         existing.ID,
			"entityType": map[string]any{"id": existing.EntityType.ID},
		},
	}
	if err := n.post(ctx, "Comments", comment); err != nil {
		return err
	}
	n.logger.Info().Int64("bug_id", existing.ID).Msg("alert sent (Targetprocess comment)")
	return nil
}

func (n *TargetprocessNotifier) endpoint(collection string, params url.Values) string {
	params.Set("format", "json")
	params.Set("token", n.token)
	return fmt.Sprintf("%s/api/v1/%s?%s", n.baseURL, collection, params.Encode())
}

func (n *TargetprocessNotifier) list(ctx context.Context, collection, where, include string) ([]tpEntity, error) {
	params := url.Values{}
	params.Set("where", where)
	params.Set("include", include)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.endpoint(collection, params), nil)
	if err != nil {
		return nil, fmt.Errorf("create targetprocess request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	var result struct {
		Items []tpEntity `json:"Items"`
	}
	if err := n.do(req, &result); err != nil {
		return nil, fmt.Errorf("list targetprocess %s: %w", strings.ToLower(collection), err)
	}
	return result.Items, nil
}

func (n *TargetprocessNotifier) post(ctx context.Context, collection string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal targetprocess payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint(collection, url.Values{}), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create targetprocess request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if err := n.do(req, nil); err != nil {
		return fmt.Errorf("post targetprocess %s: %w", strings.ToLower(collection), err)
	}
	return nil
}

func (n *TargetprocessNotifier) do(req *http.Request, out any) error {
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(payload, out)
}

var _ Notifier = (*TargetprocessNotifier)(nil)
