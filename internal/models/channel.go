package models

import "fmt"

// ChannelType identifies the delivery mechanism of a notification channel.
type ChannelType string

const (
	ChannelEmail   ChannelType = "email"
	ChannelSlack   ChannelType = "slack"
	ChannelWebhook ChannelType = "webhook"
	ChannelSMS     ChannelType = "sms"
	ChannelPush    ChannelType = "push"
)

// NotificationChannel is a configured destination for alert notifications.
// Config is an opaque bag interpreted by the channel-type-specific sender.
type NotificationChannel struct {
	ID             string            `json:"id" yaml:"id"`
	Type           ChannelType       `json:"type" yaml:"type"`
	Name           string            `json:"name" yaml:"name"`
	Config         map[string]string `json:"config" yaml:"config"`
	Enabled        bool              `json:"enabled" yaml:"enabled"`
	OrganizationID string            `json:"organizationId" yaml:"organization_id"`
}

// Validate checks the channel for configuration errors.
func (c *NotificationChannel) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("channel id is required")
	}
	switch c.Type {
	case ChannelEmail, ChannelSlack, ChannelWebhook, ChannelSMS, ChannelPush:
	default:
		return fmt.Errorf("invalid channel type %q for channel %q", c.Type, c.ID)
	}
	if c.OrganizationID == "" {
		return fmt.Errorf("organization id is required for channel %q", c.ID)
	}
	return nil
}
