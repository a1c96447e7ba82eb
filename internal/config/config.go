// Package config loads and validates the keywatch YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/foxzi/keywatch/internal/ratelimit"
	"github.com/foxzi/keywatch/internal/rotation"
)

// Config is the main configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	API       APIConfig       `yaml:"api"`
	Storage   StorageConfig   `yaml:"storage"`
	Identity  IdentityConfig  `yaml:"identity"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Attention AttentionConfig `yaml:"attention"`
	Rotation  RotationConfig  `yaml:"rotation"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Geo       GeoConfig       `yaml:"geo"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains server-wide settings.
type ServerConfig struct {
	Hostname string `yaml:"hostname"`
}

// APIConfig contains HTTP API settings.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`

	// AdminTokenHash is the bcrypt hash of the admin bearer token.
	// Empty disables the admin surface entirely.
	AdminTokenHash string `yaml:"admin_token_hash"`

	// AdminAllowedIPs restricts admin endpoints by client address.
	AdminAllowedIPs []string `yaml:"admin_allowed_ips"`
}

// StorageConfig contains database settings.
type StorageConfig struct {
	Path      string           `yaml:"path"`
	Retention *RetentionConfig `yaml:"retention,omitempty"`
}

// RetentionConfig controls report log cleanup.
type RetentionConfig struct {
	// MaxReportAge deletes reports older than this. Zero keeps forever.
	MaxReportAge    time.Duration `yaml:"max_report_age"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// IdentityConfig contains hashing salts. KeySalt feeds the key
// identity digest; ReporterSalt feeds the reporter fingerprint.
type IdentityConfig struct {
	KeySalt      string `yaml:"key_salt"`
	ReporterSalt string `yaml:"reporter_salt"`
}

// LifecycleConfig contains state machine settings.
type LifecycleConfig struct {
	// NewKeyMaxAge is how long a key stays "new" before aging to
	// "active". Default 30 days.
	NewKeyMaxAge time.Duration `yaml:"new_key_max_age"`
}

// AttentionConfig contains attention feed settings.
type AttentionConfig struct {
	Window   time.Duration `yaml:"window"`
	MaxItems int           `yaml:"max_items"`
}

// RotationConfig contains featured rotation defaults and the
// popularity score weights.
type RotationConfig struct {
	Schedule       string  `yaml:"schedule"`
	Criteria       string  `yaml:"criteria"`
	ViewWeight     float64 `yaml:"view_weight"`
	DownloadWeight float64 `yaml:"download_weight"`
}

// RateLimitConfig contains per-reporter submission limits.
type RateLimitConfig struct {
	Enabled     bool             `yaml:"enabled"`
	PerReporter ratelimit.Config `yaml:"per_reporter"`
}

// GeoConfig contains location cache settings.
type GeoConfig struct {
	CacheTTL   time.Duration `yaml:"cache_ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled    bool     `yaml:"enabled"`
	ListenAddr string   `yaml:"listen_addr"`
	Path       string   `yaml:"path"`
	AllowedIPs []string `yaml:"allowed_ips"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads, defaults, and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}

	if c.Storage.Path == "" {
		c.Storage.Path = "/var/lib/keywatch/keywatch.db"
	}
	if c.Storage.Retention == nil {
		c.Storage.Retention = &RetentionConfig{}
	}
	if c.Storage.Retention.CleanupInterval == 0 {
		c.Storage.Retention.CleanupInterval = time.Hour
	}

	if c.Lifecycle.NewKeyMaxAge == 0 {
		c.Lifecycle.NewKeyMaxAge = 30 * 24 * time.Hour
	}

	if c.Attention.Window == 0 {
		c.Attention.Window = 30 * 24 * time.Hour
	}
	if c.Attention.MaxItems == 0 {
		c.Attention.MaxItems = 20
	}

	if c.Rotation.Schedule == "" {
		c.Rotation.Schedule = string(rotation.ScheduleWeekly)
	}
	if c.Rotation.Criteria == "" {
		c.Rotation.Criteria = string(rotation.CriteriaHighestWorkingKeys)
	}
	if c.Rotation.ViewWeight == 0 && c.Rotation.DownloadWeight == 0 {
		c.Rotation.ViewWeight = 1
		c.Rotation.DownloadWeight = 3
	}

	if c.Geo.CacheTTL == 0 {
		c.Geo.CacheTTL = time.Hour
	}
	if c.Geo.MaxEntries == 0 {
		c.Geo.MaxEntries = 10000
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Identity.KeySalt == "" {
		return fmt.Errorf("identity.key_salt is required")
	}
	if c.Identity.ReporterSalt == "" {
		return fmt.Errorf("identity.reporter_salt is required")
	}

	if _, err := rotation.ParseSchedule(c.Rotation.Schedule); err != nil {
		return fmt.Errorf("invalid rotation.schedule: %w", err)
	}
	if _, err := rotation.ParseCriteria(c.Rotation.Criteria); err != nil {
		return fmt.Errorf("invalid rotation.criteria: %w", err)
	}

	if c.RateLimit.Enabled &&
		c.RateLimit.PerReporter.ReportsPerHour <= 0 &&
		c.RateLimit.PerReporter.ReportsPerDay <= 0 {
		return fmt.Errorf("rate_limit.per_reporter must set reports_per_hour or reports_per_day when enabled")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	return nil
}
