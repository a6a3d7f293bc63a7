package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Address != ":8080" {
		t.Errorf("address = %q, want :8080", cfg.Server.Address)
	}
	if cfg.Scheduler.MaxConcurrent != 10 {
		t.Errorf("max_concurrent = %d, want 10", cfg.Scheduler.MaxConcurrent)
	}
	if cfg.Scheduler.RetentionDays != 30 {
		t.Errorf("retention_days = %d, want 30", cfg.Scheduler.RetentionDays)
	}
	if cfg.Notifications.RateLimit.PerMinute != 60 {
		t.Errorf("per_minute = %d, want 60", cfg.Notifications.RateLimit.PerMinute)
	}
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":9090"
alerting:
  rules_file: "rules.yaml"
  watch_rules: true
notifications:
  rate_limit:
    enabled: true
    per_minute: 30
  channels:
    - id: ops-slack
      type: slack
      name: Ops Slack
      enabled: true
      organization_id: org-1
      config:
        webhook_url: https://hooks.slack.example/T000
scheduler:
  max_concurrent: 4
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Server.Address != ":9090" {
		t.Errorf("address = %q, want :9090", cfg.Server.Address)
	}
	if !cfg.Alerting.WatchRules {
		t.Error("watch_rules not set")
	}
	if cfg.Scheduler.MaxConcurrent != 4 {
		t.Errorf("max_concurrent = %d, want 4", cfg.Scheduler.MaxConcurrent)
	}
	// Unset fields keep their defaults.
	if cfg.Scheduler.RetentionDays != 30 {
		t.Errorf("retention_days = %d, want default 30", cfg.Scheduler.RetentionDays)
	}
	if cfg.Notifications.RateLimit.Burst != 10 {
		t.Errorf("burst = %d, want default 10", cfg.Notifications.RateLimit.Burst)
	}

	if len(cfg.Notifications.Channels) != 1 {
		t.Fatalf("got %d channels, want 1", len(cfg.Notifications.Channels))
	}
	ch := cfg.Notifications.Channels[0]
	if ch.ID != "ops-slack" || ch.Config["webhook_url"] == "" {
		t.Errorf("channel = %+v", ch)
	}
}

func TestRateLimitDefaultsToEnabled(t *testing.T) {
	// Omitting the rate_limit block must not silently disable the limiter.
	path := writeConfig(t, `
server:
  address: ":8080"
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !cfg.dispatcherRateLimit().Enabled {
		t.Error("rate limiter disabled when rate_limit block is omitted")
	}

	path = writeConfig(t, `
notifications:
  rate_limit:
    enabled: false
`)
	cfg, err = LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.dispatcherRateLimit().Enabled {
		t.Error("explicit enabled: false was ignored")
	}
}

func TestLoadConfigRejectsInvalidChannel(t *testing.T) {
	path := writeConfig(t, `
notifications:
  channels:
    - id: broken
      type: carrier-pigeon
      organization_id: org-1
`)
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for invalid channel type")
	}
}

func TestLoadConfigRejectsBadYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a map")
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for malformed yaml")
	}
}
