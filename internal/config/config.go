// Package config provides configuration loading and management for the sync
// engine.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	Upstream UpstreamConfig  `yaml:"upstream"`
	Database *DatabaseConfig `yaml:"database,omitempty"`
	Sync     SyncConfig      `yaml:"sync"`
	Notifier NotifierConfig  `yaml:"notifier"`
	Metrics  MetricsConfig   `yaml:"metrics"`
}

// UpstreamConfig defines how to reach the upstream source system
type UpstreamConfig struct {
	// BaseURL is the upstream API base URL, e.g. "https://pos.example.com/api"
	BaseURL string `yaml:"baseUrl"`

	// APIKeyFile is the path to a file containing the upstream API key
	APIKeyFile string `yaml:"apiKeyFile,omitempty"`

	// Timeout is the per-request timeout (e.g. "30s")
	Timeout string `yaml:"timeout,omitempty"`
}

// GetAPIKey returns the upstream API key using the following priority:
// 1. Read from APIKeyFile if specified
// 2. Read from SYNCFORGE_UPSTREAM_API_KEY environment variable
func (u *UpstreamConfig) GetAPIKey() (string, error) {
	if u.APIKeyFile != "" {
		cleanPath := filepath.Clean(u.APIKeyFile)
		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read API key from file %s: %w", u.APIKeyFile, err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	if envKey := os.Getenv("SYNCFORGE_UPSTREAM_API_KEY"); envKey != "" {
		return envKey, nil
	}

	return "", fmt.Errorf(
		"no upstream API key configured: set apiKeyFile or SYNCFORGE_UPSTREAM_API_KEY environment variable",
	)
}

// GetTimeout parses the configured request timeout; zero means default.
func (u *UpstreamConfig) GetTimeout() (time.Duration, error) {
	if u.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(u.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid upstream timeout: %w", err)
	}
	return d, nil
}

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	// Host is the database server hostname or IP address
	Host string `yaml:"host"`

	// Port is the database server port
	Port int `yaml:"port"`

	// User is the database username
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password.
	// The file should contain only the password with optional trailing
	// whitespace.
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxConns is the maximum number of pooled connections
	MaxConns int32 `yaml:"maxConns,omitempty"`

	// ConnMaxLifetime is the maximum lifetime of a connection (e.g., "1h", "30m")
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`
}

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from SYNCFORGE_DATABASE_PASSWORD environment variable
//
// The password from file will have leading/trailing whitespace trimmed.
func (d *DatabaseConfig) GetPassword() (string, error) {
	if d.PasswordFile != "" {
		cleanPath := filepath.Clean(d.PasswordFile)

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", d.PasswordFile, err)
		}

		return strings.TrimSpace(string(data)), nil
	}

	if envPassword := os.Getenv("SYNCFORGE_DATABASE_PASSWORD"); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no database password configured: set passwordFile or SYNCFORGE_DATABASE_PASSWORD environment variable",
	)
}

// GetConnectionString builds a PostgreSQL connection string with proper
// password handling. The password is URL-escaped to handle special
// characters safely.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	escapedPassword := url.QueryEscape(password)

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, escapedPassword, d.Host, d.Port, d.Database, sslMode,
	), nil
}

// SyncConfig tunes the reconciliation engine and its jobs
type SyncConfig struct {
	// Entities lists the entity types to sync; empty means all built-ins
	Entities []string `yaml:"entities,omitempty"`

	// BatchSize is the persistence batch size; 0 uses the engine default
	BatchSize int `yaml:"batchSize,omitempty"`

	// MaxAttempts bounds retries per sync cycle; 0 uses the default
	MaxAttempts int `yaml:"maxAttempts,omitempty"`

	// BaseDelay is the backoff unit between retries (e.g. "2s")
	BaseDelay string `yaml:"baseDelay,omitempty"`
}

// GetBaseDelay parses the configured backoff unit; zero means default.
func (s *SyncConfig) GetBaseDelay() (time.Duration, error) {
	if s.BaseDelay == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s.BaseDelay)
	if err != nil {
		return 0, fmt.Errorf("invalid sync base delay: %w", err)
	}
	return d, nil
}

// NotifierConfig configures the order state-transition poller
type NotifierConfig struct {
	// Enabled toggles the notifier loop
	Enabled bool `yaml:"enabled"`

	// Interval is the poll interval (e.g. "15s")
	Interval string `yaml:"interval,omitempty"`

	// Branches scopes the poll to these branch identifiers
	Branches []string `yaml:"branches,omitempty"`

	// Statuses is the notify-worthy status set; empty uses the defaults
	Statuses []int `yaml:"statuses,omitempty"`

	// WebhookURL receives one POST per qualifying transition
	WebhookURL string `yaml:"webhookUrl,omitempty"`
}

// GetInterval parses the configured poll interval; zero means default.
func (n *NotifierConfig) GetInterval() (time.Duration, error) {
	if n.Interval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(n.Interval)
	if err != nil {
		return 0, fmt.Errorf("invalid notifier interval: %w", err)
	}
	return d, nil
}

// MetricsConfig configures OTLP metric export
type MetricsConfig struct {
	// Enabled toggles metric export
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP HTTP endpoint, host:port
	Endpoint string `yaml:"endpoint,omitempty"`

	// Insecure disables TLS for the exporter
	Insecure bool `yaml:"insecure,omitempty"`
}

// Load reads and validates the configuration
func Load(opts ...Option) (*Config, error) {
	loader := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loader); err != nil {
			return nil, err
		}
	}

	if loader.path == "" {
		return nil, fmt.Errorf("no configuration source provided")
	}

	// #nosec G304 -- path was validated by WithConfigPath
	data, err := os.ReadFile(loader.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration for missing or inconsistent fields
func (c *Config) Validate() error {
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream base URL is required")
	}
	parsed, err := url.Parse(c.Upstream.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("upstream base URL is not a valid URL: %s", c.Upstream.BaseURL)
	}
	if _, err := c.Upstream.GetTimeout(); err != nil {
		return err
	}

	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port == 0 {
		return fmt.Errorf("database port is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database user is required")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if _, err := c.Sync.GetBaseDelay(); err != nil {
		return err
	}
	if c.Sync.BatchSize < 0 {
		return fmt.Errorf("sync batch size cannot be negative")
	}

	if c.Notifier.Enabled {
		if c.Notifier.WebhookURL == "" {
			return fmt.Errorf("notifier webhook URL is required when the notifier is enabled")
		}
		if _, err := c.Notifier.GetInterval(); err != nil {
			return err
		}
	}

	if c.Metrics.Enabled && c.Metrics.Endpoint == "" {
		return fmt.Errorf("metrics endpoint is required when metrics are enabled")
	}

	return nil
}
