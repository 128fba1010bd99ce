package gateway

import (
	"context"
	"fmt"

	"github.com/zavora-ai/imagegen/core/infra/artifacts"
	"github.com/zavora-ai/imagegen/core/infra/buildinfo"
	"github.com/zavora-ai/imagegen/core/infra/bus"
	"github.com/zavora-ai/imagegen/core/infra/config"
	"github.com/zavora-ai/imagegen/core/infra/logging"
	infraMetrics "github.com/zavora-ai/imagegen/core/infra/metrics"
	"github.com/zavora-ai/imagegen/core/ratelimit"
)

const metricsNamespace = "imagegen"

// Run wires the governor, the artifact store and the HTTP surface from cfg and
// serves until ctx is done.
func Run(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	prom := infraMetrics.NewProm(metricsNamespace)

	gov, err := ratelimit.New(ratelimit.Options{
		Limit:         cfg.RateLimit,
		Window:        cfg.RateWindow,
		SweepInterval: cfg.RateSweepInterval,
		Observe:       prom.ObserveDecision,
	})
	if err != nil {
		return err
	}

	hub := NewHub()
	notifiers := artifacts.Notifiers{hub}
	var busStatus BusStatus
	if cfg.NatsURL != "" {
		pub, err := bus.NewPublisher(cfg.NatsURL)
		if err != nil {
			logging.Error(logComponent, "nats unavailable; artifact events stay local", "url", cfg.NatsURL, "error", err)
		} else {
			defer pub.Close()
			notifiers = append(notifiers, pub)
			busStatus = pub
		}
	}

	index, err := artifacts.NewMetadataIndex(cfg.MetadataDir())
	if err != nil {
		return err
	}
	store, err := artifacts.NewTieredStore(artifacts.Options{
		Local:         artifacts.NewLocalTier(cfg.ImagesDir()),
		Index:         index,
		Remote:        buildRemote(ctx, cfg),
		RemoteTimeout: cfg.RemoteTimeout,
		Notifier:      notifiers,
		Metrics:       prom,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error(logComponent, "close remote tier failed", "error", err)
		}
	}()
	if err := store.Init(); err != nil {
		return err
	}

	srv, err := New(Options{
		Store:          store,
		Governor:       gov,
		Hub:            hub,
		Metrics:        infraMetrics.NewGatewayProm(metricsNamespace),
		Init:           store.Init,
		DefaultRetain:  &cfg.RetentionCount,
		Build:          buildinfo.Current(),
		Bus:            busStatus,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	if err != nil {
		return err
	}

	go gov.Run(ctx)
	go hub.Run(ctx)
	if cfg.RetentionInterval > 0 {
		logging.Info(logComponent, "retention scheduled", "retain", cfg.RetentionCount, "interval", cfg.RetentionInterval)
		go store.RunRetention(ctx, cfg.RetentionCount, cfg.RetentionInterval)
	}
	return srv.Serve(ctx, cfg.HTTPAddr, cfg.MetricsAddr)
}

// buildRemote returns nil when the remote tier is disabled or cannot be
// reached at startup; the store then serves everything from the local tier.
func buildRemote(ctx context.Context, cfg *config.Config) artifacts.RemoteTier {
	switch cfg.RemoteTier {
	case config.RemoteTierNone:
		logging.Info(logComponent, "remote tier disabled")
		return nil
	case config.RemoteTierRedis:
		tier, err := artifacts.NewRedisTier(ctx, cfg.RedisURL, artifacts.DefaultLocalURLPrefix)
		if err != nil {
			logging.Error(logComponent, "redis remote tier unavailable; local only", "error", err)
			return nil
		}
		logging.Info(logComponent, "remote tier ready", "tier", tier.Name())
		return tier
	default:
		keyFile := ""
		if cfg.Credentials.Source == config.CredentialsExplicit {
			keyFile = cfg.Credentials.KeyFile
		}
		tier, err := artifacts.NewGCSTier(ctx, cfg.Bucket, keyFile, cfg.GCSPublicRead)
		if err != nil {
			logging.Error(logComponent, "gcs remote tier unavailable; local only", "bucket", cfg.Bucket, "error", err)
			return nil
		}
		logging.Info(logComponent, "remote tier ready", "tier", tier.Name(), "credentials", string(cfg.Credentials.Source))
		return tier
	}
}
