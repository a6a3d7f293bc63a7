package models

import (
	"fmt"
	"time"
)

// Severity represents alert severity level.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Condition is a comparison operator applied to a metric value against a
// rule threshold.
type Condition string

const (
	ConditionGT  Condition = "gt"
	ConditionGTE Condition = "gte"
	ConditionLT  Condition = "lt"
	ConditionLTE Condition = "lte"
	ConditionEQ  Condition = "eq"
)

// Text returns the human-readable form of the condition, used in alert
// messages. Unknown conditions are returned verbatim.
func (c Condition) Text() string {
	switch c {
	case ConditionGT:
		return "greater than"
	case ConditionGTE:
		return "greater than or equal to"
	case ConditionLT:
		return "less than"
	case ConditionLTE:
		return "less than or equal to"
	case ConditionEQ:
		return "equal to"
	default:
		return string(c)
	}
}

// AlertRule is a persisted condition checked against incoming metric samples.
type AlertRule struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	// DeviceID scopes the rule to one device. Empty means the rule applies
	// to every device in the organization.
	DeviceID  string    `json:"deviceId,omitempty" yaml:"device_id,omitempty"`
	Metric    string    `json:"metric" yaml:"metric"`
	Condition Condition `json:"condition" yaml:"condition"`
	Threshold float64   `json:"threshold" yaml:"threshold"`
	// Duration is how long the condition must hold continuously before the
	// rule fires, in seconds. Zero fires on the first matching sample.
	Duration int      `json:"duration,omitempty" yaml:"duration,omitempty"`
	Severity Severity `json:"severity" yaml:"severity"`
	Enabled  bool     `json:"enabled" yaml:"enabled"`
	OrganizationID string `json:"organizationId" yaml:"organization_id"`
	// NotificationChannels lists channel ids to notify when the rule fires.
	NotificationChannels []string `json:"notificationChannels,omitempty" yaml:"notification_channels,omitempty"`
	// Cooldown is the minimum time between firings of this rule, in seconds.
	Cooldown int `json:"cooldown,omitempty" yaml:"cooldown,omitempty"`
}

// Validate checks the rule for configuration errors.
func (r *AlertRule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if r.Name == "" {
		return fmt.Errorf("rule name is required for rule %q", r.ID)
	}
	if r.Metric == "" {
		return fmt.Errorf("metric is required for rule %q", r.Name)
	}
	switch r.Condition {
	case ConditionGT, ConditionGTE, ConditionLT, ConditionLTE, ConditionEQ:
	default:
		return fmt.Errorf("invalid condition %q for rule %q", r.Condition, r.Name)
	}
	if r.OrganizationID == "" {
		return fmt.Errorf("organization id is required for rule %q", r.Name)
	}
	if r.Duration < 0 {
		return fmt.Errorf("duration must not be negative for rule %q", r.Name)
	}
	if r.Cooldown < 0 {
		return fmt.Errorf("cooldown must not be negative for rule %q", r.Name)
	}
	return nil
}

// DurationWindow returns the duration requirement as a time.Duration.
func (r *AlertRule) DurationWindow() time.Duration {
	return time.Duration(r.Duration) * time.Second
}

// CooldownWindow returns the cooldown as a time.Duration.
func (r *AlertRule) CooldownWindow() time.Duration {
	return time.Duration(r.Cooldown) * time.Second
}

// Alert is created by the evaluator when a rule fires. Resolution fields are
// written by an external surface and never touched by the evaluator.
type Alert struct {
	ID             string     `json:"id"`
	RuleID         string     `json:"ruleId"`
	DeviceID       string     `json:"deviceId"`
	Metric         string     `json:"metric"`
	Severity       Severity   `json:"severity"`
	Message        string     `json:"message"`
	CurrentValue   float64    `json:"currentValue"`
	Threshold      float64    `json:"threshold"`
	Condition      string     `json:"condition"`
	TriggeredAt    time.Time  `json:"triggeredAt"`
	ResolvedAt     *time.Time `json:"resolvedAt,omitempty"`
	ResolvedBy     string     `json:"resolvedBy,omitempty"`
	ResolutionNote string     `json:"resolutionNote,omitempty"`
	IsResolved     bool       `json:"isResolved"`
	OrganizationID string     `json:"organizationId"`
}
