// Package tracker assembles the CSP tracker service: configuration,
// router, operator API and the violation report endpoint.
package tracker

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AuthConfig protects the operator surface with HTTP Basic Auth. The
// password is stored as a bcrypt hash, never in the clear.
type AuthConfig struct {
	User         string `yaml:"user"`
	PasswordHash string `yaml:"password_hash"`
}

// Config is the top-level tracker configuration.
type Config struct {
	// Enabled gates CSP header emission; the report endpoint and the
	// operator API stay up regardless.
	Enabled    bool   `yaml:"enabled"`
	ReportOnly bool   `yaml:"report_only"`
	Listen     string `yaml:"listen"`
	DBPath     string `yaml:"db_path"`
	RedisURL   string `yaml:"redis_url"`

	CacheTTL         time.Duration `yaml:"cache_ttl"`
	ReportSampling   float64       `yaml:"report_sampling"`
	ReportThrottling float64       `yaml:"report_throttling"`
	ReportMaxBytes   int64         `yaml:"report_max_bytes"`

	DefaultRules       map[string][]string `yaml:"default_rules"`
	DirectiveDowngrade map[string]string   `yaml:"directive_downgrade"`

	Auth AuthConfig `yaml:"auth"`
}

// DefaultConfig returns the baseline configuration: report-only mode,
// every response sampled, nothing throttled, and the starter rule set
// from https://content-security-policy.com/.
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		ReportOnly:       true,
		Listen:           ":8080",
		DBPath:           "csptracker.db",
		CacheTTL:         time.Hour,
		ReportSampling:   1.0,
		ReportThrottling: 0.0,
		ReportMaxBytes:   64 * 1024,
		DefaultRules: map[string][]string{
			"default-src": {"'none'"},
			"base-uri":    {"'self'"},
			"connect-src": {"'self'"},
			"form-action": {"'self'"},
			"font-src":    {"'self'"},
			"img-src":     {"'self'"},
			"script-src":  {"'self'"},
			"style-src":   {"'self'"},
		},
		DirectiveDowngrade: map[string]string{
			"script-src-elem": "script-src",
			"script-src-attr": "script-src",
			"style-src-elem":  "style-src",
			"style-src-attr":  "style-src",
		},
	}
}

// LoadConfigFile reads a YAML configuration file over the defaults, so
// absent keys keep their default values.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations that would misbehave silently.
func (c Config) Validate() error {
	if c.ReportSampling < 0 || c.ReportSampling > 1 {
		return fmt.Errorf("report_sampling %v out of range [0,1]", c.ReportSampling)
	}
	if c.ReportThrottling < 0 || c.ReportThrottling > 1 {
		return fmt.Errorf("report_throttling %v out of range [0,1]", c.ReportThrottling)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache_ttl must be positive, got %v", c.CacheTTL)
	}
	if c.ReportMaxBytes <= 0 {
		return fmt.Errorf("report_max_bytes must be positive, got %d", c.ReportMaxBytes)
	}
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.Auth.User != "" && c.Auth.PasswordHash == "" {
		return fmt.Errorf("auth.password_hash is required when auth.user is set")
	}
	return nil
}
