// Package main provides the OpsWatch agent CLI.
package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the agent configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Agent  AgentConfig  `yaml:"agent"`
}

// ServerConfig contains server connection settings.
type ServerConfig struct {
	URL   string `yaml:"url"`   // base URL, e.g. http://localhost:8080
	Token string `yaml:"token"` // JWT issued for this agent
}

// AgentConfig contains agent settings.
type AgentConfig struct {
	DeviceID string        `yaml:"device_id"` // optional, defaults to hostname
	Interval time.Duration `yaml:"interval"`  // collection interval (default: 60s)
	DiskPath string        `yaml:"disk_path"` // mount point to sample (default: /)
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

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.Server.Token == "" {
		c.Server.Token = os.Getenv("OPSWATCH_AGENT_TOKEN")
	}
	if c.Agent.DeviceID == "" {
		hostname, _ := os.Hostname()
		c.Agent.DeviceID = hostname
	}
	if c.Agent.Interval <= 0 {
		c.Agent.Interval = 60 * time.Second
	}
	if c.Agent.DiskPath == "" {
		c.Agent.DiskPath = "/"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server.url is required")
	}
	if c.Server.Token == "" {
		return fmt.Errorf("server.token is required (or set OPSWATCH_AGENT_TOKEN)")
	}
	if c.Agent.DeviceID == "" {
		return fmt.Errorf("agent.device_id is required")
	}
	return nil
}
