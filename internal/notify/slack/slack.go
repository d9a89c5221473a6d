// Package slack sends run summaries to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/vulnhalla/internal/scheduler"
	"github.com/linnemanlabs/vulnhalla/internal/triage"
)

const httpTimeout = 10 * time.Second

// Notifier posts run summaries to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// Send posts a run summary to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, summary *scheduler.Summary) error {
	if n.webhookURL == "" {
		return nil
	}

	msg := buildMessage(summary)

	body, err := json.Marshal(msg)
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

func buildMessage(s *scheduler.Summary) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(s),
			{"type": "divider"},
			fieldsBlock(s),
			{"type": "divider"},
			contextBlock(s),
		},
	}
}

func headerBlock(s *scheduler.Summary) map[string]any {
	emoji := runEmoji(s)
	text := fmt.Sprintf("%s Triage run complete: %d issues", emoji, s.Total)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(s *scheduler.Summary) map[string]any {
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*True positives:* %d", s.Verdicts[triage.VerdictTruePositive]),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*False positives:* %d", s.Verdicts[triage.VerdictFalsePositive]),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Needs more data:* %d", s.Verdicts[triage.VerdictNeedsMoreData]),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Unresolved:* %d", s.Verdicts[triage.VerdictUnresolved]),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Skipped:* %d", s.Skipped),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Failed:* %d", s.Failed),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func contextBlock(s *scheduler.Summary) map[string]any {
	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("vulnhalla • run %s • %.1fs", s.RunID, s.Elapsed.Seconds()),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func runEmoji(s *scheduler.Summary) string {
	switch {
	case s.Verdicts[triage.VerdictTruePositive] > 0:
		return "\U0001f534" // red circle
	case s.Failed > 0:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}
