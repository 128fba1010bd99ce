package bus

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
)

const (
	envNATSTLSCA       = "NATS_TLS_CA"
	envNATSTLSCert     = "NATS_TLS_CERT"
	envNATSTLSKey      = "NATS_TLS_KEY"
	envNATSTLSInsecure = "NATS_TLS_INSECURE"
)

// natsTLSConfigFromEnv returns nil when no TLS variables are set.
func natsTLSConfigFromEnv() (*tls.Config, error) {
	caPath := strings.TrimSpace(os.Getenv(envNATSTLSCA))
	certPath := strings.TrimSpace(os.Getenv(envNATSTLSCert))
	keyPath := strings.TrimSpace(os.Getenv(envNATSTLSKey))
	insecure := truthy(os.Getenv(envNATSTLSInsecure))
	if caPath == "" && certPath == "" && keyPath == "" && !insecure {
		return nil, nil
	}

	cfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: insecure} // #nosec G402 -- opt-in for dev clusters.
	if caPath != "" {
		pem, err := os.ReadFile(caPath) // #nosec G304 -- operator-supplied path.
		if err != nil {
			return nil, fmt.Errorf("read nats ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("nats ca %s: no certificates", caPath)
		}
		cfg.RootCAs = pool
	}
	if certPath != "" || keyPath != "" {
		if certPath == "" || keyPath == "" {
			return nil, fmt.Errorf("%s and %s must be set together", envNATSTLSCert, envNATSTLSKey)
		}
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("load nats client cert: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}
