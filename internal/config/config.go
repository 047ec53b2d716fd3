// Package config loads the message store's YAML configuration (spec §6).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chatlogd/chatlogd/internal/msgstore"
)

// Config is the on-disk configuration for the store (spec §6 keys).
type Config struct {
	Database string `yaml:"database"`

	RetentionDaysChannel      int `yaml:"retention_days_channel"`
	RetentionDaysPM           int `yaml:"retention_days_pm"`
	RetentionCleanupInterval  int `yaml:"retention_cleanup_interval"` // minutes

	CacheSizeKB   int   `yaml:"cache_size_kb"`
	MmapSizeBytes int64 `yaml:"mmap_size_bytes"`
}

// defaults mirrors spec §6's stated defaults.
func (c *Config) setDefaults() {
	if c.RetentionCleanupInterval == 0 {
		c.RetentionCleanupInterval = 1440
	}
	if c.CacheSizeKB == 0 {
		c.CacheSizeKB = 2000
	}
}

// Load reads and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.setDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	return &c, nil
}

// Validate rejects configurations that violate spec §4.5's constraints:
// the database path must be set, retention days must be non-negative, and
// the cleanup interval must be positive.
func (c *Config) Validate() error {
	if c.Database == "" {
		return fmt.Errorf("database path must not be empty")
	}
	if c.RetentionDaysChannel < 0 {
		return fmt.Errorf("retention_days_channel must be >= 0")
	}
	if c.RetentionDaysPM < 0 {
		return fmt.Errorf("retention_days_pm must be >= 0")
	}
	if c.RetentionCleanupInterval <= 0 {
		return fmt.Errorf("retention_cleanup_interval must be > 0")
	}
	return nil
}

// ToOptions converts the loaded config into msgstore.Open's Options.
func (c *Config) ToOptions() msgstore.Options {
	return msgstore.Options{
		Path:                     c.Database,
		RetentionDaysChannel:     c.RetentionDaysChannel,
		RetentionDaysPM:          c.RetentionDaysPM,
		RetentionCleanupInterval: time.Duration(c.RetentionCleanupInterval) * time.Minute,
		CacheSizeKB:              c.CacheSizeKB,
		MmapSizeBytes:            c.MmapSizeBytes,
	}
}
