package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/copperline-io/opswatch/internal/models"
)

// SlackSender delivers alerts to a Slack incoming webhook. It reads
// webhook_url from the channel config.
type SlackSender struct {
	httpClient *http.Client
}

// NewSlackSender creates a Slack sender.
func NewSlackSender() *SlackSender {
	return &SlackSender{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Type returns the slack channel type.
func (s *SlackSender) Type() models.ChannelType {
	return models.ChannelSlack
}

// slackMessage is the incoming-webhook payload.
type slackMessage struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color  string       `json:"color,omitempty"`
	Fields []slackField `json:"fields,omitempty"`
	Footer string       `json:"footer,omitempty"`
	TS     int64        `json:"ts,omitempty"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// Send posts the alert to the configured webhook.
func (s *SlackSender) Send(ctx context.Context, alert *models.Alert, channel *models.NotificationChannel) error {
	webhookURL := channel.Config["webhook_url"]
	if webhookURL == "" {
		return fmt.Errorf("slack channel %q: webhook_url is required", channel.ID)
	}

	payload := slackMessage{
		Text: alert.Message,
		Attachments: []slackAttachment{{
			Color: severityColor(alert.Severity),
			Fields: []slackField{
				{Title: "Device", Value: alert.DeviceID, Short: true},
				{Title: "Metric", Value: alert.Metric, Short: true},
				{Title: "Current Value", Value: fmt.Sprintf("%g", alert.CurrentValue), Short: true},
				{Title: "Threshold", Value: fmt.Sprintf("%g", alert.Threshold), Short: true},
				{Title: "Triggered At", Value: alert.TriggeredAt.UTC().Format(time.RFC3339), Short: false},
			},
			Footer: "OpsWatch",
			TS:     alert.TriggeredAt.Unix(),
		}},
	}

	return postJSON(ctx, s.httpClient, webhookURL, payload, nil)
}

// severityColor maps alert severity to a Slack attachment color.
func severityColor(severity models.Severity) string {
	switch severity {
	case models.SeverityInfo:
		return "#0099ff"
	case models.SeverityWarning:
		return "#ff9900"
	case models.SeverityError:
		return "#ff0000"
	case models.SeverityCritical:
		return "#990000"
	default:
		return "#999999"
	}
}

// postJSON marshals payload and POSTs it, treating any non-2xx response as
// an error. Extra headers are applied to the request when provided.
func postJSON(ctx context.Context, client *http.Client, url string, payload any, headers map[string]string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
