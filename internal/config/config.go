// Package config loads and validates the orchestrator configuration from
// YAML or JSON5 files, with $include composition and environment variable
// expansion.
package config

import (
	"fmt"
	"strings"

	"github.com/canopyhq/graphpilot/internal/agent"
	"github.com/canopyhq/graphpilot/internal/agent/providers"
	"github.com/canopyhq/graphpilot/internal/graph"
	"github.com/canopyhq/graphpilot/internal/observability"
	"github.com/canopyhq/graphpilot/internal/ratelimit"
)

// Config is the root configuration document.
type Config struct {
	Agent     agent.Config               `yaml:"agent" json:"agent"`
	Anthropic providers.AnthropicConfig  `yaml:"anthropic" json:"anthropic"`
	Graph     graph.Config               `yaml:"graph" json:"graph"`
	RateLimit ratelimit.Config           `yaml:"rate_limit" json:"rate_limit"`
	Audit     AuditConfig                `yaml:"audit" json:"audit"`
	Log       observability.LogConfig    `yaml:"log" json:"log"`
	Metrics   MetricsConfig              `yaml:"metrics" json:"metrics"`

	// Credential identifies the caller for rate limiting and audit.
	Credential CredentialConfig `yaml:"credential" json:"credential"`

	// ResultBudget caps tool result payloads fed back to the model, in bytes.
	ResultBudget int `yaml:"result_budget" json:"result_budget"`
}

// AuditConfig configures the audit trail.
type AuditConfig struct {
	// Path is the SQLite database file. Empty uses an in-memory store.
	Path string `yaml:"path" json:"path"`

	// RetentionDays is how long records are kept before the daily purge.
	RetentionDays int `yaml:"retention_days" json:"retention_days"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Listen  string `yaml:"listen" json:"listen"`
}

// CredentialConfig identifies the caller.
type CredentialConfig struct {
	ID               string `yaml:"id" json:"id"`
	Name             string `yaml:"name" json:"name"`
	RateLimitPerHour int    `yaml:"rate_limit_per_hour" json:"rate_limit_per_hour"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		Agent:     agent.DefaultConfig(),
		Graph:     graph.DefaultConfig(),
		RateLimit: ratelimit.DefaultConfig(),
		Audit: AuditConfig{
			RetentionDays: 90,
		},
		Log: observability.LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:9090",
		},
		Credential: CredentialConfig{
			ID: "default",
		},
	}
}

// Load reads, merges, and validates the configuration at path.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadLenient reads and merges the configuration without validating it.
// Offline commands (audit inspection) use this so a missing API key does
// not block them.
func LoadLenient(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.Agent.MaxTurns <= 0 {
		c.Agent.MaxTurns = d.Agent.MaxTurns
	}
	if c.Audit.RetentionDays <= 0 {
		c.Audit.RetentionDays = d.Audit.RetentionDays
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = d.Metrics.Listen
	}
	if c.Credential.ID == "" {
		c.Credential.ID = d.Credential.ID
	}
}

// Validate reports configuration errors that would only surface later at
// an awkward time, like the first backend call.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Anthropic.APIKey) == "" {
		problems = append(problems, "anthropic.api_key is required (set ANTHROPIC_API_KEY and use ${ANTHROPIC_API_KEY})")
	}
	if strings.TrimSpace(c.Graph.URL) == "" {
		problems = append(problems, "graph.url is required")
	}
	if c.Credential.RateLimitPerHour < 0 {
		problems = append(problems, "credential.rate_limit_per_hour must not be negative")
	}
	if c.ResultBudget < 0 {
		problems = append(problems, "result_budget must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}
