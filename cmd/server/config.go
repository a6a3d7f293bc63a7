// Package main provides the OpsWatch server CLI.
package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/copperline-io/opswatch/internal/models"
	"github.com/copperline-io/opswatch/internal/notifier"
)

// Config represents the server configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Alerting      AlertingConfig      `yaml:"alerting"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Verbose       bool                `yaml:"-"` // set via CLI flag
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Address        string `yaml:"address"`          // HTTP listen address (default: :8080)
	AccessTokenTTL int    `yaml:"access_token_ttl"` // JWT TTL in minutes (default: 15)
}

// AlertingConfig contains rule evaluation settings.
type AlertingConfig struct {
	RulesFile  string `yaml:"rules_file"`  // YAML file with alert rules (optional)
	WatchRules bool   `yaml:"watch_rules"` // reload rules_file when it changes
}

// NotificationsConfig contains dispatcher settings.
type NotificationsConfig struct {
	RateLimit RateLimitConfig               `yaml:"rate_limit"`
	Channels  []*models.NotificationChannel `yaml:"channels"`
}

// RateLimitConfig mirrors the dispatcher's rate limit settings. Enabled is
// a pointer so that an omitted field defaults to on, matching the
// dispatcher; only an explicit "enabled: false" turns the limiter off.
type RateLimitConfig struct {
	Enabled   *bool `yaml:"enabled"`
	PerMinute int   `yaml:"per_minute"`
	Burst     int   `yaml:"burst"`
}

// SchedulerConfig contains script execution settings.
type SchedulerConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"` // simultaneous running scripts (default: 10)
	RetentionDays int `yaml:"retention_days"` // keep finished executions this long (default: 30)
	PurgeInterval int `yaml:"purge_interval"` // minutes between purge runs (default: 60)
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.AccessTokenTTL == 0 {
		c.Server.AccessTokenTTL = 15
	}
	if c.Notifications.RateLimit.Enabled == nil {
		enabled := true
		c.Notifications.RateLimit.Enabled = &enabled
	}
	if c.Notifications.RateLimit.PerMinute == 0 {
		c.Notifications.RateLimit.PerMinute = 60
	}
	if c.Notifications.RateLimit.Burst == 0 {
		c.Notifications.RateLimit.Burst = 10
	}
	if c.Scheduler.MaxConcurrent == 0 {
		c.Scheduler.MaxConcurrent = 10
	}
	if c.Scheduler.RetentionDays == 0 {
		c.Scheduler.RetentionDays = 30
	}
	if c.Scheduler.PurgeInterval == 0 {
		c.Scheduler.PurgeInterval = 60
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if c.Scheduler.MaxConcurrent < 0 {
		return fmt.Errorf("scheduler.max_concurrent must not be negative")
	}
	if c.Scheduler.RetentionDays < 0 {
		return fmt.Errorf("scheduler.retention_days must not be negative")
	}
	for i, ch := range c.Notifications.Channels {
		if ch == nil {
			return fmt.Errorf("notifications.channels[%d] is empty", i)
		}
		if err := ch.Validate(); err != nil {
			return fmt.Errorf("notifications.channels[%d]: %w", i, err)
		}
	}
	return nil
}

// dispatcherRateLimit converts the config section into dispatcher settings.
func (c *Config) dispatcherRateLimit() notifier.RateLimitConfig {
	rl := c.Notifications.RateLimit
	return notifier.RateLimitConfig{
		Enabled:   rl.Enabled == nil || *rl.Enabled,
		PerMinute: rl.PerMinute,
		Burst:     rl.Burst,
	}
}

// retention returns the execution retention window.
func (c *Config) retention() time.Duration {
	return time.Duration(c.Scheduler.RetentionDays) * 24 * time.Hour
}

// purgeInterval returns how often old executions are purged.
func (c *Config) purgeInterval() time.Duration {
	return time.Duration(c.Scheduler.PurgeInterval) * time.Minute
}
