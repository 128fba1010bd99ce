package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/zavora-ai/imagegen/core/infra/schema"
	"gopkg.in/yaml.v3"
)

// Overlay is the optional YAML file layered over the environment.
type Overlay struct {
	RateLimit struct {
		Limit    int   `yaml:"limit"`
		WindowMs int64 `yaml:"window_ms"`
		SweepMs  int64 `yaml:"sweep_ms"`
	} `yaml:"rate_limit"`
	Storage struct {
		DataDir       string `yaml:"data_dir"`
		RemoteTier    string `yaml:"remote_tier"`
		Bucket        string `yaml:"bucket"`
		RedisURL      string `yaml:"redis_url"`
		RemoteTimeout string `yaml:"remote_timeout"`
		PublicRead    *bool  `yaml:"public_read"`
	} `yaml:"storage"`
	Retention struct {
		Count    *int   `yaml:"count"`
		Interval string `yaml:"interval"`
	} `yaml:"retention"`
}

// ApplyOverlayFile reads path and applies it to cfg.
func ApplyOverlayFile(cfg *Config, path string) error {
	// #nosec G304 -- config path is operator-provided.
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config overlay: %w", err)
	}
	return ApplyOverlay(cfg, data)
}

// ApplyOverlay validates YAML bytes against the config schema and applies every set field.
func ApplyOverlay(cfg *Config, data []byte) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	var payload any
	if err := yaml.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse config overlay: %w", err)
	}
	v, err := schema.Embedded(schema.Config)
	if err != nil {
		return err
	}
	if err := v.Validate(payload); err != nil {
		return fmt.Errorf("validate config overlay: %w", err)
	}
	var ov Overlay
	if err := yaml.Unmarshal(data, &ov); err != nil {
		return fmt.Errorf("decode config overlay: %w", err)
	}

	if ov.RateLimit.Limit > 0 {
		cfg.RateLimit = ov.RateLimit.Limit
	}
	if ov.RateLimit.WindowMs > 0 {
		cfg.RateWindow = time.Duration(ov.RateLimit.WindowMs) * time.Millisecond
	}
	if ov.RateLimit.SweepMs > 0 {
		cfg.RateSweepInterval = time.Duration(ov.RateLimit.SweepMs) * time.Millisecond
	}
	if ov.Storage.DataDir != "" {
		cfg.DataDir = ov.Storage.DataDir
	}
	if ov.Storage.RemoteTier != "" {
		cfg.RemoteTier = strings.ToLower(ov.Storage.RemoteTier)
	}
	if ov.Storage.Bucket != "" {
		cfg.Bucket = ov.Storage.Bucket
	}
	if ov.Storage.PublicRead != nil {
		cfg.GCSPublicRead = *ov.Storage.PublicRead
	}
	if ov.Storage.RedisURL != "" {
		cfg.RedisURL = ov.Storage.RedisURL
	}
	if ov.Storage.RemoteTimeout != "" {
		d, err := time.ParseDuration(ov.Storage.RemoteTimeout)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid storage.remote_timeout %q", ov.Storage.RemoteTimeout)
		}
		cfg.RemoteTimeout = d
	}
	if ov.Retention.Count != nil {
		cfg.RetentionCount = *ov.Retention.Count
	}
	if ov.Retention.Interval != "" {
		if ov.Retention.Interval == "0" {
			cfg.RetentionInterval = 0
		} else {
			d, err := time.ParseDuration(ov.Retention.Interval)
			if err != nil || d < 0 {
				return fmt.Errorf("invalid retention.interval %q", ov.Retention.Interval)
			}
			cfg.RetentionInterval = d
		}
	}
	return nil
}
