// Package config holds the single configuration record recognized by the
// orchestrator (spec section 6, "Environment/config").
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the process-wide configuration record. Durations are plain
// integers in the YAML file (seconds, except ReviewDefaultDeadlineMinutes
// in minutes) and are converted to time.Duration by the DefaultTimeout,
// CacheTTL and ReviewDefaultDeadline accessors, not on load, matching the
// teacher's plain-struct YAML config style (internal/agents/config.go).
type Config struct {
	PersistDirectory             string  `yaml:"persist_directory"`
	EmbeddingModelName           string  `yaml:"embedding_model_name"`
	MaxQueueSize                 int     `yaml:"max_queue_size"`
	DefaultTimeoutSeconds        int     `yaml:"default_timeout_seconds"`
	CacheTTLSeconds              int     `yaml:"cache_ttl_seconds"`
	AnomalyThresholdSigma        float64 `yaml:"anomaly_threshold_sigma"`
	ReviewDefaultDeadlineMinutes int     `yaml:"review_default_deadline_minutes"`
}

// Default returns a Config populated with the system's default values.
func Default() *Config {
	return &Config{
		PersistDirectory:             "./data/knowledge",
		EmbeddingModelName:           "hash-bow-v1",
		MaxQueueSize:                 1000,
		DefaultTimeoutSeconds:        30,
		CacheTTLSeconds:              60,
		AnomalyThresholdSigma:        3.0,
		ReviewDefaultDeadlineMinutes: 5,
	}
}

// Load reads a YAML config file, falling back to defaults for any field
// left zero-valued in the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var fromFile Config
	if err := yaml.Unmarshal(data, &fromFile); err != nil {
		return nil, err
	}

	merge(cfg, &fromFile)
	return cfg, nil
}

func merge(base, override *Config) {
	if override.PersistDirectory != "" {
		base.PersistDirectory = override.PersistDirectory
	}
	if override.EmbeddingModelName != "" {
		base.EmbeddingModelName = override.EmbeddingModelName
	}
	if override.MaxQueueSize != 0 {
		base.MaxQueueSize = override.MaxQueueSize
	}
	if override.DefaultTimeoutSeconds != 0 {
		base.DefaultTimeoutSeconds = override.DefaultTimeoutSeconds
	}
	if override.CacheTTLSeconds != 0 {
		base.CacheTTLSeconds = override.CacheTTLSeconds
	}
	if override.AnomalyThresholdSigma != 0 {
		base.AnomalyThresholdSigma = override.AnomalyThresholdSigma
	}
	if override.ReviewDefaultDeadlineMinutes != 0 {
		base.ReviewDefaultDeadlineMinutes = override.ReviewDefaultDeadlineMinutes
	}
}

// DefaultTimeout returns DefaultTimeoutSeconds as a time.Duration.
func (c *Config) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutSeconds) * time.Second
}

// CacheTTL returns CacheTTLSeconds as a time.Duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// ReviewDefaultDeadline returns ReviewDefaultDeadlineMinutes as a time.Duration.
func (c *Config) ReviewDefaultDeadline() time.Duration {
	return time.Duration(c.ReviewDefaultDeadlineMinutes) * time.Minute
}
