package notifier

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/copperline-io/opswatch/internal/models"
)

// SMSSender delivers alerts through an HTTP SMS gateway. It reads
// gateway_url and phone_numbers (comma-separated) from the channel config;
// the concrete provider sits behind the gateway.
type SMSSender struct {
	httpClient *http.Client
}

// NewSMSSender creates an SMS sender.
func NewSMSSender() *SMSSender {
	return &SMSSender{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Type returns the sms channel type.
func (s *SMSSender) Type() models.ChannelType {
	return models.ChannelSMS
}

// smsPayload is the body posted to the SMS gateway.
type smsPayload struct {
	To   []string `json:"to"`
	Body string   `json:"body"`
}

// Send posts a short-form alert to the gateway.
func (s *SMSSender) Send(ctx context.Context, alert *models.Alert, channel *models.NotificationChannel) error {
	gatewayURL := channel.Config["gateway_url"]
	if gatewayURL == "" {
		return fmt.Errorf("sms channel %q: gateway_url is required", channel.ID)
	}
	numbers := splitList(channel.Config["phone_numbers"])
	if len(numbers) == 0 {
		return fmt.Errorf("sms channel %q: at least one phone number is required", channel.ID)
	}

	payload := smsPayload{
		To:   numbers,
		Body: fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Severity)), alert.Message),
	}
	return postJSON(ctx, s.httpClient, gatewayURL, payload, nil)
}

// PushSender delivers alerts through an HTTP push-notification gateway. It
// reads gateway_url and tokens (comma-separated) from the channel config.
type PushSender struct {
	httpClient *http.Client
}

// NewPushSender creates a push sender.
func NewPushSender() *PushSender {
	return &PushSender{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Type returns the push channel type.
func (p *PushSender) Type() models.ChannelType {
	return models.ChannelPush
}

// pushPayload is the body posted to the push gateway.
type pushPayload struct {
	Tokens []string          `json:"tokens"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

// Send posts the alert to the gateway.
func (p *PushSender) Send(ctx context.Context, alert *models.Alert, channel *models.NotificationChannel) error {
	gatewayURL := channel.Config["gateway_url"]
	if gatewayURL == "" {
		return fmt.Errorf("push channel %q: gateway_url is required", channel.ID)
	}
	tokens := splitList(channel.Config["tokens"])
	if len(tokens) == 0 {
		return fmt.Errorf("push channel %q: at least one token is required", channel.ID)
	}

	payload := pushPayload{
		Tokens: tokens,
		Title:  fmt.Sprintf("%s Alert", strings.ToUpper(string(alert.Severity))),
		Body:   alert.Message,
		Data: map[string]string{
			"alertId":  alert.ID,
			"deviceId": alert.DeviceID,
			"severity": string(alert.Severity),
		},
	}
	return postJSON(ctx, p.httpClient, gatewayURL, payload, nil)
}

// defaultSenders returns one sender per supported channel type.
func defaultSenders() []Sender {
	return []Sender{
		NewEmailSender(),
		NewSlackSender(),
		NewWebhookSender(),
		NewSMSSender(),
		NewPushSender(),
	}
}
