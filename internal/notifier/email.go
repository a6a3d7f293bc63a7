package notifier

import (
	"context"
	"fmt"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/copperline-io/opswatch/internal/models"
)

// EmailSender delivers alerts over SMTP. It reads host, port, username,
// password, from, and recipients (comma-separated) from the channel config.
type EmailSender struct{}

// NewEmailSender creates an email sender.
func NewEmailSender() *EmailSender {
	return &EmailSender{}
}

// Type returns the email channel type.
func (e *EmailSender) Type() models.ChannelType {
	return models.ChannelEmail
}

// Send sends the alert to all configured recipients.
func (e *EmailSender) Send(ctx context.Context, alert *models.Alert, channel *models.NotificationChannel) error {
	cfg := channel.Config
	host := cfg["host"]
	from := cfg["from"]
	if host == "" || from == "" {
		return fmt.Errorf("email channel %q: host and from are required", channel.ID)
	}

	port := 587
	if p := cfg["port"]; p != "" {
		parsed, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("email channel %q: invalid port %q", channel.ID, p)
		}
		port = parsed
	}

	recipients := splitList(cfg["recipients"])
	if len(recipients) == 0 {
		return fmt.Errorf("email channel %q: at least one recipient is required", channel.ID)
	}

	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Severity)), alert.Message)
	msg := buildEmailMessage(from, recipients, subject, alert)

	var auth smtp.Auth
	if cfg["username"] != "" && cfg["password"] != "" {
		auth = smtp.PlainAuth("", cfg["username"], cfg["password"], host)
	}

	addr := fmt.Sprintf("%s:%d", host, port)

	// smtp.SendMail has no context support; run it in a goroutine so the
	// dispatch timeout still applies.
	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, from, recipients, msg)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send mail: %w", err)
		}
		return nil
	}
}

func buildEmailMessage(from string, to []string, subject string, alert *models.Alert) []byte {
	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", from))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(to, ", ")))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(fmt.Sprintf("Alert: %s\r\n", alert.Message))
	msg.WriteString(fmt.Sprintf("Severity: %s\r\n", strings.ToUpper(string(alert.Severity))))
	msg.WriteString(fmt.Sprintf("Device: %s\r\n", alert.DeviceID))
	msg.WriteString(fmt.Sprintf("Metric: %s\r\n", alert.Metric))
	msg.WriteString(fmt.Sprintf("Current value: %g\r\n", alert.CurrentValue))
	msg.WriteString(fmt.Sprintf("Threshold: %g\r\n", alert.Threshold))
	msg.WriteString(fmt.Sprintf("Triggered at: %s\r\n", alert.TriggeredAt.UTC().Format("2006-01-02 15:04:05 MST")))
	msg.WriteString("\r\nThis is an automated alert from OpsWatch.\r\n")
	return []byte(msg.String())
}

// splitList splits a comma-separated config value, trimming whitespace and
// dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
