package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultRateLimit         = 10
	defaultRateWindow        = 60 * time.Second
	defaultRateSweep         = time.Hour
	defaultDataDir           = "data"
	defaultRemoteTier        = RemoteTierGCS
	defaultRedisURL          = "redis://localhost:6379"
	defaultRemoteTimeout     = 30 * time.Second
	defaultRetentionCount    = 100
	defaultRetentionInterval = 24 * time.Hour
	defaultHTTPAddr          = ":8081"
	defaultMetricsAddr       = ":9092"

	envAppEnv            = "IMAGEGEN_ENV"
	envNodeEnv           = "NODE_ENV"
	envRateLimit         = "RATE_LIMIT"
	envRateWindowMs      = "RATE_LIMIT_WINDOW_MS"
	envRateSweepMs       = "RATE_LIMIT_SWEEP_MS"
	envDataDir           = "DATA_DIR"
	envRemoteTier        = "REMOTE_TIER"
	envRedisURL          = "REDIS_URL"
	envRemoteTimeout     = "REMOTE_TIMEOUT"
	envRetentionCount    = "RETENTION_COUNT"
	envRetentionInterval = "RETENTION_INTERVAL"
	envNatsURL           = "NATS_URL"
	envHTTPAddr          = "GATEWAY_HTTP_ADDR"
	envMetricsAddr       = "GATEWAY_METRICS_ADDR"
	envConfigPath        = "CONFIG_PATH"
	envGCSPublicRead     = "GCS_PUBLIC_READ"
	envAllowedOrigins    = "IMAGEGEN_ALLOWED_ORIGINS"
)

// Remote tier backends.
const (
	RemoteTierGCS   = "gcs"
	RemoteTierRedis = "redis"
	RemoteTierNone  = "none"
)

// LookupFunc resolves a configuration key; os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Config holds runtime configuration for the gateway, governor and artifact store.
type Config struct {
	Env               string
	RateLimit         int
	RateWindow        time.Duration
	RateSweepInterval time.Duration
	DataDir           string
	RemoteTier        string
	Bucket            string
	GCSPublicRead     bool
	Credentials       Credentials
	RedisURL          string
	RemoteTimeout     time.Duration
	RetentionCount    int
	RetentionInterval time.Duration
	NatsURL           string
	HTTPAddr          string
	MetricsAddr       string
	AllowedOrigins    []string
	ConfigPath        string
}

// Production reports whether the deployment flag selects production resources.
func (c *Config) Production() bool {
	return c != nil && c.Env == "production"
}

// MetadataDir is where descriptor records live.
func (c *Config) MetadataDir() string {
	return c.DataDir + string(os.PathSeparator) + "metadata"
}

// ImagesDir is the local artifact tier.
func (c *Config) ImagesDir() string {
	return c.DataDir + string(os.PathSeparator) + "images"
}

// Load returns configuration from the process environment, applying the
// optional YAML overlay named by CONFIG_PATH.
func Load() (*Config, error) {
	cfg := LoadFrom(os.LookupEnv)
	if cfg.ConfigPath == "" {
		return cfg, nil
	}
	if err := ApplyOverlayFile(cfg, cfg.ConfigPath); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadFrom builds a Config from an arbitrary lookup; defaults fill anything unset or invalid.
func LoadFrom(lookup LookupFunc) *Config {
	if lookup == nil {
		lookup = func(string) (string, bool) { return "", false }
	}
	cfg := &Config{
		Env:               appEnv(lookup),
		RateLimit:         intValue(lookup, envRateLimit, defaultRateLimit),
		RateWindow:        millisValue(lookup, envRateWindowMs, defaultRateWindow),
		RateSweepInterval: millisValue(lookup, envRateSweepMs, defaultRateSweep),
		DataDir:           stringValue(lookup, envDataDir, defaultDataDir),
		RemoteTier:        strings.ToLower(stringValue(lookup, envRemoteTier, defaultRemoteTier)),
		Bucket:            BucketName(lookup),
		GCSPublicRead:     boolValue(lookup, envGCSPublicRead, true),
		Credentials:       ResolveCredentials(lookup),
		RedisURL:          stringValue(lookup, envRedisURL, defaultRedisURL),
		RemoteTimeout:     durationValue(lookup, envRemoteTimeout, defaultRemoteTimeout),
		RetentionCount:    countValue(lookup, envRetentionCount, defaultRetentionCount),
		RetentionInterval: durationValue(lookup, envRetentionInterval, defaultRetentionInterval),
		NatsURL:           stringValue(lookup, envNatsURL, ""),
		HTTPAddr:          stringValue(lookup, envHTTPAddr, defaultHTTPAddr),
		MetricsAddr:       stringValue(lookup, envMetricsAddr, defaultMetricsAddr),
		AllowedOrigins:    listValue(lookup, envAllowedOrigins),
		ConfigPath:        stringValue(lookup, envConfigPath, ""),
	}
	// RETENTION_INTERVAL=0 disables the periodic cleanup.
	if raw, ok := lookup(envRetentionInterval); ok && strings.TrimSpace(raw) == "0" {
		cfg.RetentionInterval = 0
	}
	return cfg
}

// Validate reports configuration that cannot produce a working service.
func (c *Config) Validate() error {
	if c.RateLimit <= 0 {
		return fmt.Errorf("rate limit must be positive")
	}
	if c.RateWindow <= 0 {
		return fmt.Errorf("rate window must be positive")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data dir required")
	}
	switch c.RemoteTier {
	case RemoteTierGCS:
		if c.Bucket == "" {
			return fmt.Errorf("gcs remote tier requires a bucket")
		}
	case RemoteTierRedis, RemoteTierNone:
	default:
		return fmt.Errorf("unknown remote tier %q", c.RemoteTier)
	}
	if c.RetentionCount < 0 {
		return fmt.Errorf("retention count must not be negative")
	}
	return nil
}

func appEnv(lookup LookupFunc) string {
	if v := stringValue(lookup, envAppEnv, ""); v != "" {
		return strings.ToLower(v)
	}
	return strings.ToLower(stringValue(lookup, envNodeEnv, "development"))
}

func stringValue(lookup LookupFunc, key, fallback string) string {
	if raw, ok := lookup(key); ok {
		if v := strings.TrimSpace(raw); v != "" {
			return v
		}
	}
	return fallback
}

func intValue(lookup LookupFunc, key string, fallback int) int {
	if raw, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func listValue(lookup LookupFunc, key string) []string {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// countValue accepts zero, unlike intValue.
func countValue(lookup LookupFunc, key string, fallback int) int {
	if raw, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && parsed >= 0 {
			return parsed
		}
	}
	return fallback
}

func boolValue(lookup LookupFunc, key string, fallback bool) bool {
	if raw, ok := lookup(key); ok {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(raw)); err == nil {
			return parsed
		}
	}
	return fallback
}

func millisValue(lookup LookupFunc, key string, fallback time.Duration) time.Duration {
	if raw, ok := lookup(key); ok {
		if parsed, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil && parsed > 0 {
			return time.Duration(parsed) * time.Millisecond
		}
	}
	return fallback
}

func durationValue(lookup LookupFunc, key string, fallback time.Duration) time.Duration {
	if raw, ok := lookup(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(raw)); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
