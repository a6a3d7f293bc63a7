package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  url: http://localhost:8080
  token: test-token
agent:
  device_id: device-42
  interval: 30s
  disk_path: /var
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Server.URL != "http://localhost:8080" {
		t.Errorf("url = %q", cfg.Server.URL)
	}
	if cfg.Agent.DeviceID != "device-42" {
		t.Errorf("device_id = %q", cfg.Agent.DeviceID)
	}
	if cfg.Agent.Interval != 30*time.Second {
		t.Errorf("interval = %v, want 30s", cfg.Agent.Interval)
	}
	if cfg.Agent.DiskPath != "/var" {
		t.Errorf("disk_path = %q", cfg.Agent.DiskPath)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  url: http://localhost:8080
  token: test-token
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	hostname, _ := os.Hostname()
	if cfg.Agent.DeviceID != hostname {
		t.Errorf("device_id = %q, want hostname %q", cfg.Agent.DeviceID, hostname)
	}
	if cfg.Agent.Interval != 60*time.Second {
		t.Errorf("interval = %v, want 60s", cfg.Agent.Interval)
	}
	if cfg.Agent.DiskPath != "/" {
		t.Errorf("disk_path = %q, want /", cfg.Agent.DiskPath)
	}
}

func TestLoadConfigTokenFromEnv(t *testing.T) {
	t.Setenv("OPSWATCH_AGENT_TOKEN", "env-token")

	path := writeConfig(t, `
server:
  url: http://localhost:8080
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Token != "env-token" {
		t.Errorf("token = %q, want env-token", cfg.Server.Token)
	}
}

func TestLoadConfigRequiresServerURL(t *testing.T) {
	path := writeConfig(t, `
server:
  token: test-token
`)
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for missing server url")
	}
}

func TestLoadConfigMissing(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/agent.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}
