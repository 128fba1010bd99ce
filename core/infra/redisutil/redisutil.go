package redisutil

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	envRedisTLSCA         = "REDIS_TLS_CA"
	envRedisTLSCert       = "REDIS_TLS_CERT"
	envRedisTLSKey        = "REDIS_TLS_KEY"
	envRedisTLSInsecure   = "REDIS_TLS_INSECURE"
	envRedisTLSServerName = "REDIS_TLS_SERVER_NAME"
	envRedisClusterAddrs  = "REDIS_CLUSTER_ADDRESSES"

	defaultPingTimeout = 2 * time.Second
)

// Connect builds a client for url and verifies it answers PING.
func Connect(ctx context.Context, url string) (redis.UniversalClient, error) {
	client, err := newClient(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

// newClient creates a Redis universal client with optional TLS and clustering support.
func newClient(url string) (redis.UniversalClient, error) {
	opts, err := parseOptions(url)
	if err != nil {
		return nil, err
	}
	addrs := addrList(os.Getenv(envRedisClusterAddrs))
	if len(addrs) == 0 {
		addrs = []string{opts.Addr}
	}
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:     addrs,
		Username:  opts.Username,
		Password:  opts.Password,
		DB:        opts.DB,
		TLSConfig: opts.TLSConfig,
	}), nil
}

// parseOptions parses a Redis URL and applies TLS settings from the environment.
func parseOptions(url string) (*redis.Options, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	cfg, err := tlsConfigFromEnv(opts.TLSConfig)
	if err != nil {
		return nil, err
	}
	opts.TLSConfig = cfg
	return opts, nil
}

func tlsConfigFromEnv(existing *tls.Config) (*tls.Config, error) {
	caPath := strings.TrimSpace(os.Getenv(envRedisTLSCA))
	certPath := strings.TrimSpace(os.Getenv(envRedisTLSCert))
	keyPath := strings.TrimSpace(os.Getenv(envRedisTLSKey))
	serverName := strings.TrimSpace(os.Getenv(envRedisTLSServerName))
	insecure := truthy(os.Getenv(envRedisTLSInsecure))

	if caPath == "" && certPath == "" && keyPath == "" && serverName == "" && !insecure {
		return existing, nil
	}

	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if existing != nil {
		cfg = existing.Clone()
	}
	if serverName != "" {
		cfg.ServerName = serverName
	}
	if insecure {
		// #nosec G402 -- operator opt-in for self-signed development brokers.
		cfg.InsecureSkipVerify = true
	}
	if caPath != "" {
		// #nosec G304 -- CA path is operator-provided.
		pem, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("redis tls ca read: %w", err)
		}
		pool := cfg.RootCAs
		if pool == nil {
			pool = x509.NewCertPool()
		}
		if ok := pool.AppendCertsFromPEM(pem); !ok {
			return nil, fmt.Errorf("redis tls ca parse: %s", caPath)
		}
		cfg.RootCAs = pool
	}
	if certPath != "" || keyPath != "" {
		if certPath == "" || keyPath == "" {
			return nil, fmt.Errorf("redis tls cert/key must be set together")
		}
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("redis tls keypair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

func truthy(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func addrList(raw string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if addr := strings.TrimSpace(part); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}
