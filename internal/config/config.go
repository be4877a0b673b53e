package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AccessToken maps one operator bearer token to a caller name for the
// query/admin allow-list.
type AccessToken struct {
	Name  string `yaml:"name"`
	Token string `yaml:"token"`
}

// RateLimitConfig configures the per-caller token bucket on the public
// ingestion endpoint.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// APIConfig holds the HTTP server settings.
type APIConfig struct {
	ListenAddr   string          `yaml:"listen_addr"`
	MaxBodyBytes int64           `yaml:"max_body_bytes"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`
	AccessTokens []AccessToken   `yaml:"access_tokens"`
}

// MongoConfig holds connection settings for the rollup document store.
type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// ClickHouseConfig holds connection settings for the event log.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// RollupStoreConfig selects and configures the rollup backend.
type RollupStoreConfig struct {
	Type  string      `yaml:"type"` // "mongo" or "memory"
	Mongo MongoConfig `yaml:"mongo"`
}

// EventStoreConfig selects and configures the event log backend.
type EventStoreConfig struct {
	Type       string           `yaml:"type"` // "clickhouse" or "memory"
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

// NATSConfig holds the event transport settings for the collector.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// CompactionConfig holds the rollup compaction schedule.
type CompactionConfig struct {
	Interval     string `yaml:"interval"`
	MinuteCutoff string `yaml:"minute_cutoff"`
	HourCutoff   string `yaml:"hour_cutoff"`
	BatchSize    int    `yaml:"batch_size"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	API        APIConfig         `yaml:"api"`
	Rollups    RollupStoreConfig `yaml:"rollups"`
	Events     EventStoreConfig  `yaml:"events"`
	NATS       NATSConfig        `yaml:"nats"`
	Compaction CompactionConfig  `yaml:"compaction"`
}

// LoadConfig reads the configuration from a YAML file and returns a Config struct.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}
	cfg.applyDefaults()

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8470"
	}
	if c.API.MaxBodyBytes == 0 {
		c.API.MaxBodyBytes = 32 << 10
	}
	if c.API.RateLimit.PerSecond == 0 {
		c.API.RateLimit.PerSecond = 20
	}
	if c.API.RateLimit.Burst == 0 {
		c.API.RateLimit.Burst = 40
	}
	if c.Rollups.Type == "" {
		c.Rollups.Type = "memory"
	}
	if c.Events.Type == "" {
		c.Events.Type = "memory"
	}
	if c.NATS.Subject == "" {
		c.NATS.Subject = "sitespectra.events"
	}
	if c.Compaction.Interval == "" {
		c.Compaction.Interval = "5m"
	}
	if c.Compaction.MinuteCutoff == "" {
		c.Compaction.MinuteCutoff = "10m"
	}
	if c.Compaction.HourCutoff == "" {
		c.Compaction.HourCutoff = "2h"
	}
	if c.Compaction.BatchSize == 0 {
		c.Compaction.BatchSize = 500
	}
}
