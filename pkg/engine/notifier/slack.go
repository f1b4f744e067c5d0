// Package notifier posts scan results to a Slack incoming webhook.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/surpriz/cloud-waste-sub010/pkg/store"
)

// HighImpactMonthly is the monthly waste above which the report carries an
// alert section.
const HighImpactMonthly = 500.0

// SlackClient handles Slack notifications.
type SlackClient struct {
	WebhookURL string
	Channel    string // Optional: Override default channel
	HTTP       *http.Client
}

func NewSlackClient(webhookURL string, channel string) *SlackClient {
	return &SlackClient{
		WebhookURL: webhookURL,
		Channel:    channel,
		HTTP:       &http.Client{Timeout: 10 * time.Second},
	}
}

// SendScanReport posts the summary of a finished job. It is a no-op without a
// webhook.
func (s *SlackClient) SendScanReport(ctx context.Context, job *store.ScanJob) error {
	if s.WebhookURL == "" {
		return nil
	}
	return s.send(ctx, s.constructPayload(job))
}

func (s *SlackClient) constructPayload(job *store.ScanJob) map[string]interface{} {
	sum := job.Summary
	statusIcon := "🟢"
	switch {
	case job.Status == store.JobFailed:
		statusIcon = "❌"
	case sum.EstimatedMonthlyWaste > HighImpactMonthly:
		statusIcon = "🔴"
	case sum.OrphansFound > 0:
		statusIcon = "🟡"
	}

	blocks := []map[string]interface{}{
		{
			"type": "header",
			"text": map[string]interface{}{
				"type": "plain_text",
				"text": fmt.Sprintf("%s Orphaned resources: %s", statusIcon, job.AccountID),
			},
		},
		{
			"type": "context",
			"elements": []map[string]interface{}{
				{
					"type": "mrkdwn",
					"text": fmt.Sprintf("*Scan:* %s | *Status:* %s | *Finished:* %s",
						job.ID, job.Status, job.CompletedAt.UTC().Format("2006-01-02 15:04 MST")),
				},
			},
		},
		{"type": "divider"},
		{
			"type": "section",
			"fields": []map[string]interface{}{
				{"type": "mrkdwn", "text": fmt.Sprintf("*Monthly waste:*\n$%.2f", sum.EstimatedMonthlyWaste)},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Wasted to date:*\n$%.2f", sum.EstimatedCumulativeWaste)},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Resources scanned:*\n%d", sum.ResourcesScanned)},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Orphans:*\n%d", sum.OrphansFound)},
			},
		},
	}

	if sum.EstimatedMonthlyWaste > HighImpactMonthly {
		blocks = append(blocks, map[string]interface{}{
			"type": "section",
			"text": map[string]interface{}{
				"type": "mrkdwn",
				"text": "⚠️ *High Financial Impact Detected*\nReview the findings of this account.",
			},
		})
	}
	if job.ErrorMessage != "" {
		blocks = append(blocks, map[string]interface{}{
			"type": "context",
			"elements": []map[string]interface{}{
				{"type": "mrkdwn", "text": job.ErrorMessage},
			},
		})
	}

	payload := map[string]interface{}{"blocks": blocks}
	if s.Channel != "" {
		payload["channel"] = s.Channel
	}
	return payload
}

func (s *SlackClient) send(ctx context.Context, payload map[string]interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal slack payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("received non-200 status from slack: %d", resp.StatusCode)
	}
	return nil
}
