package notifier

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/copperline-io/opswatch/internal/models"
)

// WebhookSender delivers alerts to an arbitrary HTTP endpoint. It reads url
// and an optional secret (used to sign the body) from the channel config.
type WebhookSender struct {
	httpClient *http.Client
}

// NewWebhookSender creates a webhook sender.
func NewWebhookSender() *WebhookSender {
	return &WebhookSender{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Type returns the webhook channel type.
func (w *WebhookSender) Type() models.ChannelType {
	return models.ChannelWebhook
}

// webhookPayload is the body posted to the endpoint.
type webhookPayload struct {
	Event     string        `json:"event"`
	Alert     *models.Alert `json:"alert"`
	Timestamp time.Time     `json:"timestamp"`
}

// Send posts the alert to the configured URL. When a secret is configured,
// the request carries an X-OpsWatch-Signature header with the hex-encoded
// HMAC-SHA256 of the body.
func (w *WebhookSender) Send(ctx context.Context, alert *models.Alert, channel *models.NotificationChannel) error {
	url := channel.Config["url"]
	if url == "" {
		return fmt.Errorf("webhook channel %q: url is required", channel.ID)
	}

	payload := webhookPayload{
		Event:     "alert.triggered",
		Alert:     alert,
		Timestamp: time.Now().UTC(),
	}

	var headers map[string]string
	if secret := channel.Config["secret"]; secret != "" {
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		headers = map[string]string{
			"X-OpsWatch-Signature": hex.EncodeToString(mac.Sum(nil)),
		}
	}

	return postJSON(ctx, w.httpClient, url, payload, headers)
}
