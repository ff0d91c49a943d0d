// Copyright 2025 CommerceKit Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RemoteConfig holds the authoritative service endpoints and credentials.
// Kind selects the snapshot gateway: "http" goes through the query API,
// "postgres" reads the authoritative database directly.
type RemoteConfig struct {
	Kind        string        `yaml:"kind"`
	BaseURL     string        `yaml:"base_url"`
	PostgresDSN string        `yaml:"postgres_dsn"`
	FeedURL     string        `yaml:"feed_url"`
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenTTL    time.Duration `yaml:"token_ttl"`
}

// ReplicaConfig holds the local replica database configuration
type ReplicaConfig struct {
	Path string `yaml:"path"`
}

// SyncConfig holds sweep and event-handling tuning
type SyncConfig struct {
	Interval       time.Duration `yaml:"interval"`
	GracePeriod    time.Duration `yaml:"grace_period"`
	FetchTimeout   time.Duration `yaml:"fetch_timeout"`
	CleanupTimeout time.Duration `yaml:"cleanup_timeout"`
}

// AdminConfig holds the local admin endpoint configuration. Metrics and the
// status endpoint share one listener; status requires a bearer token minted
// from admin_secret.
type AdminConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Addr        string `yaml:"addr"`
	AdminSecret string `yaml:"admin_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config represents the complete daemon configuration
type Config struct {
	TenantID  string        `yaml:"tenant_id"`
	ReplicaID string        `yaml:"replica_id"`
	Remote    RemoteConfig  `yaml:"remote"`
	Replica   ReplicaConfig `yaml:"replica"`
	Sync      SyncConfig    `yaml:"sync"`
	Admin     AdminConfig   `yaml:"admin"`
	Logging   LoggingConfig `yaml:"logging"`
}

// LoadConfig loads configuration from a file
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for unspecified configuration
func setDefaults(cfg *Config) {
	if cfg.Remote.Kind == "" {
		cfg.Remote.Kind = "http"
	}
	if cfg.Remote.TokenTTL == 0 {
		cfg.Remote.TokenTTL = 15 * time.Minute
	}
	if cfg.Replica.Path == "" {
		cfg.Replica.Path = "storesync.db"
	}
	if cfg.Sync.Interval == 0 {
		cfg.Sync.Interval = 5 * time.Minute
	}
	if cfg.Sync.GracePeriod == 0 {
		cfg.Sync.GracePeriod = 500 * time.Millisecond
	}
	if cfg.Sync.FetchTimeout == 0 {
		cfg.Sync.FetchTimeout = 30 * time.Second
	}
	if cfg.Sync.CleanupTimeout == 0 {
		cfg.Sync.CleanupTimeout = 5 * time.Second
	}
	if cfg.Admin.Addr == "" {
		cfg.Admin.Addr = "127.0.0.1:9465"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	switch c.Remote.Kind {
	case "http":
		if c.Remote.BaseURL == "" {
			return fmt.Errorf("remote.base_url is required")
		}
	case "postgres":
		if c.Remote.PostgresDSN == "" {
			return fmt.Errorf("remote.postgres_dsn is required")
		}
	default:
		return fmt.Errorf("remote.kind must be \"http\" or \"postgres\", got %q", c.Remote.Kind)
	}
	if c.Remote.FeedURL == "" {
		return fmt.Errorf("remote.feed_url is required")
	}
	if c.Remote.JWTSecret == "" {
		return fmt.Errorf("remote.jwt_secret is required")
	}
	if c.Admin.Enabled && c.Admin.AdminSecret == "" {
		return fmt.Errorf("admin.admin_secret is required when admin.enabled is true")
	}
	return nil
}
