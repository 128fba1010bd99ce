package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func mapLookup(m map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestLoadFromDefaults(t *testing.T) {
	cfg := LoadFrom(mapLookup(nil))
	if cfg.RateLimit != defaultRateLimit {
		t.Fatalf("expected default rate limit, got %d", cfg.RateLimit)
	}
	if cfg.RateWindow != defaultRateWindow {
		t.Fatalf("expected default window, got %s", cfg.RateWindow)
	}
	if cfg.RateSweepInterval != time.Hour {
		t.Fatalf("expected hourly sweep, got %s", cfg.RateSweepInterval)
	}
	if cfg.RemoteTier != RemoteTierGCS {
		t.Fatalf("expected gcs remote tier")
	}
	if cfg.Bucket != defaultBucket {
		t.Fatalf("expected non-production bucket, got %s", cfg.Bucket)
	}
	if cfg.Production() {
		t.Fatalf("expected non-production env")
	}
	if cfg.RetentionCount != defaultRetentionCount || cfg.RetentionInterval != defaultRetentionInterval {
		t.Fatalf("unexpected retention defaults")
	}
	if !cfg.GCSPublicRead {
		t.Fatalf("expected public read by default")
	}
	if cfg.MetadataDir() != filepath.Join("data", "metadata") || cfg.ImagesDir() != filepath.Join("data", "images") {
		t.Fatalf("unexpected data dirs: %s %s", cfg.MetadataDir(), cfg.ImagesDir())
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate: %v", err)
	}
}

func TestLoadFromOverrides(t *testing.T) {
	cfg := LoadFrom(mapLookup(map[string]string{
		envRateLimit:         "5",
		envRateWindowMs:      "1500",
		envRateSweepMs:       "60000",
		envDataDir:           "/srv/imagegen",
		envRemoteTier:        "REDIS",
		envRedisURL:          "redis://cache:6379/2",
		envRemoteTimeout:     "5s",
		envRetentionCount:    "20",
		envRetentionInterval: "0",
		envNatsURL:           "nats://bus:4222",
		envGCSPublicRead:     "false",
		envAllowedOrigins:    "https://app.example, ,https://admin.example",
	}))
	if cfg.RateLimit != 5 || cfg.RateWindow != 1500*time.Millisecond || cfg.RateSweepInterval != time.Minute {
		t.Fatalf("unexpected rate settings: %+v", cfg)
	}
	if cfg.DataDir != "/srv/imagegen" || cfg.RemoteTier != RemoteTierRedis || cfg.RedisURL != "redis://cache:6379/2" {
		t.Fatalf("unexpected storage settings: %+v", cfg)
	}
	if cfg.RemoteTimeout != 5*time.Second {
		t.Fatalf("unexpected remote timeout: %s", cfg.RemoteTimeout)
	}
	if cfg.RetentionCount != 20 || cfg.RetentionInterval != 0 {
		t.Fatalf("unexpected retention: %d %s", cfg.RetentionCount, cfg.RetentionInterval)
	}
	if cfg.NatsURL != "nats://bus:4222" {
		t.Fatalf("unexpected nats url")
	}
	if cfg.GCSPublicRead {
		t.Fatalf("expected public read disabled")
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[0] != "https://app.example" || cfg.AllowedOrigins[1] != "https://admin.example" {
		t.Fatalf("unexpected origins: %v", cfg.AllowedOrigins)
	}
}

func TestLoadFromRetentionCountZero(t *testing.T) {
	cfg := LoadFrom(mapLookup(map[string]string{envRetentionCount: "0"}))
	if cfg.RetentionCount != 0 {
		t.Fatalf("expected retention count 0 to be kept, got %d", cfg.RetentionCount)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("retention count 0 should validate: %v", err)
	}
	cfg = LoadFrom(mapLookup(map[string]string{envRetentionCount: "-1"}))
	if cfg.RetentionCount != defaultRetentionCount {
		t.Fatalf("expected negative count to fall back, got %d", cfg.RetentionCount)
	}
}

func TestLoadFromInvalidNumbersFallBack(t *testing.T) {
	cfg := LoadFrom(mapLookup(map[string]string{
		envRateLimit:     "-3",
		envRateWindowMs:  "soon",
		envRemoteTimeout: "never",
	}))
	if cfg.RateLimit != defaultRateLimit || cfg.RateWindow != defaultRateWindow || cfg.RemoteTimeout != defaultRemoteTimeout {
		t.Fatalf("expected fallbacks, got %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	cfg := LoadFrom(mapLookup(nil))
	cfg.RemoteTier = "ftp"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unknown tier error")
	}
	cfg = LoadFrom(mapLookup(nil))
	cfg.RateLimit = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected rate limit error")
	}
	cfg = LoadFrom(mapLookup(nil))
	cfg.Bucket = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected bucket error")
	}
}

func TestResolveCredentials(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want Credentials
	}{
		{
			name: "production ignores key file",
			env:  map[string]string{envNodeEnv: "production", envCredentialsFile: "/keys/sa.json"},
			want: Credentials{Source: CredentialsPlatformDefault},
		},
		{
			name: "explicit key file",
			env:  map[string]string{envCredentialsFile: "/keys/sa.json"},
			want: Credentials{Source: CredentialsExplicit, KeyFile: "/keys/sa.json"},
		},
		{
			name: "fallback",
			env:  map[string]string{envNodeEnv: "development"},
			want: Credentials{Source: CredentialsFallbackDefault},
		},
		{
			name: "app env wins over node env",
			env:  map[string]string{envAppEnv: "staging", envNodeEnv: "production", envCredentialsFile: "/k.json"},
			want: Credentials{Source: CredentialsExplicit, KeyFile: "/k.json"},
		},
	}
	for _, tc := range cases {
		if got := ResolveCredentials(mapLookup(tc.env)); got != tc.want {
			t.Fatalf("%s: got %+v want %+v", tc.name, got, tc.want)
		}
	}
}

func TestBucketName(t *testing.T) {
	if got := BucketName(mapLookup(map[string]string{envNodeEnv: "production"})); got != defaultProductionBucket {
		t.Fatalf("unexpected production default: %s", got)
	}
	if got := BucketName(mapLookup(map[string]string{envNodeEnv: "production", envProductionBucket: "prod-images", envBucket: "dev-images"})); got != "prod-images" {
		t.Fatalf("unexpected production bucket: %s", got)
	}
	if got := BucketName(mapLookup(map[string]string{envBucket: "dev-images"})); got != "dev-images" {
		t.Fatalf("unexpected dev bucket: %s", got)
	}
}

func TestApplyOverlay(t *testing.T) {
	cfg := LoadFrom(mapLookup(nil))
	data := []byte(`
rate_limit:
  limit: 5
  window_ms: 30000
storage:
  remote_tier: none
  remote_timeout: 2s
  public_read: false
retention:
  count: 0
  interval: 12h
`)
	if err := ApplyOverlay(cfg, data); err != nil {
		t.Fatalf("apply overlay: %v", err)
	}
	if cfg.RateLimit != 5 || cfg.RateWindow != 30*time.Second {
		t.Fatalf("unexpected rate overlay: %+v", cfg)
	}
	if cfg.RemoteTier != RemoteTierNone || cfg.RemoteTimeout != 2*time.Second || cfg.GCSPublicRead {
		t.Fatalf("unexpected storage overlay: %+v", cfg)
	}
	if cfg.RetentionCount != 0 || cfg.RetentionInterval != 12*time.Hour {
		t.Fatalf("unexpected retention overlay: %+v", cfg)
	}
	if cfg.DataDir != defaultDataDir {
		t.Fatalf("unset overlay fields must keep env values")
	}
}

func TestApplyOverlayRejectsInvalid(t *testing.T) {
	cfg := LoadFrom(mapLookup(nil))
	if err := ApplyOverlay(cfg, []byte("rate_limit:\n  limit: 0\n")); err == nil {
		t.Fatalf("expected schema violation for zero limit")
	}
	if err := ApplyOverlay(cfg, []byte("storage:\n  remote_tier: s3\n")); err == nil {
		t.Fatalf("expected schema violation for unknown tier")
	}
	if err := ApplyOverlay(cfg, []byte("rate_limit: [")); err == nil {
		t.Fatalf("expected yaml parse error")
	}
	if err := ApplyOverlay(cfg, []byte("storage:\n  remote_timeout: later\n")); err == nil {
		t.Fatalf("expected duration error")
	}
	if err := ApplyOverlay(cfg, nil); err != nil {
		t.Fatalf("empty overlay should be a no-op: %v", err)
	}
}

func TestLoadWithOverlayFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imagegen.yaml")
	if err := os.WriteFile(path, []byte("retention:\n  count: 7\n"), 0o600); err != nil {
		t.Fatalf("write overlay: %v", err)
	}
	t.Setenv(envConfigPath, path)
	t.Setenv(envRateLimit, "3")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RetentionCount != 7 || cfg.RateLimit != 3 {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	t.Setenv(envConfigPath, filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatalf("expected missing overlay error")
	}
}
