// Package slack delivers escalation notifications to Slack via incoming
// webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/beacon/internal/alert"
	"github.com/linnemanlabs/beacon/internal/notify"
)

const httpTimeout = 10 * time.Second

// Notifier posts escalation notifications to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a new Slack notifier.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// Notify posts one escalation message to the configured webhook.
func (n *Notifier) Notify(ctx context.Context, msg notify.Notification) error {
	body, err := json.Marshal(buildMessage(msg))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(msg notify.Notification) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(msg),
			{"type": "divider"},
			fieldsBlock(msg),
			{"type": "divider"},
			contextBlock(msg),
		},
	}
}

func headerBlock(msg notify.Notification) map[string]any {
	text := fmt.Sprintf("%s Incident Escalation (tier %d): %s", severityEmoji(msg.Severity), msg.Tier, msg.Title)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(msg notify.Notification) map[string]any {
	age := time.Since(msg.CreatedAt).Round(time.Second)

	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Target:* %s", msg.Target),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Service:* %s", msg.Service),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Severity:* %s", msg.Severity),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Unacknowledged for:* %s", age),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func contextBlock(msg notify.Notification) map[string]any {
	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("beacon • incident %s • %s", msg.IncidentID, time.Now().UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func severityEmoji(severity alert.Severity) string {
	switch severity {
	case alert.SeverityCritical:
		return "\U0001f534" // red circle
	case alert.SeverityHigh:
		return "\U0001f7e0" // orange circle
	case alert.SeverityMedium:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}
