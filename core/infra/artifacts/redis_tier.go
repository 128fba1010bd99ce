package artifacts

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zavora-ai/imagegen/core/infra/redisutil"
)

const (
	defaultRedisURL     = "redis://localhost:6379"
	envArtifactRedisTTL = "ARTIFACT_REDIS_TTL"
	metaContentType     = "content_type"
	metaFieldPrefix     = "meta:"
)

// RedisTier keeps artifact bytes in Redis for deployments without object storage.
// Objects are served back through the gateway, so URL points at publicBase.
type RedisTier struct {
	client     redis.UniversalClient
	publicBase string
	ttl        time.Duration
}

// NewRedisTier connects to url. publicBase prefixes filenames in URL.
func NewRedisTier(ctx context.Context, url, publicBase string) (*RedisTier, error) {
	if url == "" {
		url = defaultRedisURL
	}
	client, err := redisutil.Connect(ctx, url)
	if err != nil {
		return nil, err
	}
	return &RedisTier{
		client:     client,
		publicBase: publicBase,
		ttl:        parseDurationEnv(envArtifactRedisTTL, 0),
	}, nil
}

func (t *RedisTier) Name() string { return "redis" }

func (t *RedisTier) Upload(ctx context.Context, filename string, content []byte, meta UploadMeta) error {
	fields := map[string]any{metaContentType: meta.ContentType}
	for k, v := range meta.Metadata {
		fields[metaFieldPrefix+k] = v
	}
	pipe := t.client.TxPipeline()
	pipe.Set(ctx, objectKey(filename), content, t.ttl)
	pipe.Del(ctx, objectMetaKey(filename))
	pipe.HSet(ctx, objectMetaKey(filename), fields)
	if t.ttl > 0 {
		pipe.Expire(ctx, objectMetaKey(filename), t.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis upload %s: %w", filename, err)
	}
	return nil
}

func (t *RedisTier) Delete(ctx context.Context, filename string) error {
	if err := t.client.Del(ctx, objectKey(filename), objectMetaKey(filename)).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", filename, err)
	}
	return nil
}

func (t *RedisTier) Read(ctx context.Context, filename string) ([]byte, string, error) {
	pipe := t.client.Pipeline()
	contentCmd := pipe.Get(ctx, objectKey(filename))
	typeCmd := pipe.HGet(ctx, objectMetaKey(filename), metaContentType)
	_, _ = pipe.Exec(ctx)

	content, err := contentCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("redis read %s: %w", filename, err)
	}
	contentType, _ := typeCmd.Result()
	return content, contentType, nil
}

// Metadata returns the provider-level metadata stored with filename.
func (t *RedisTier) Metadata(ctx context.Context, filename string) (UploadMeta, error) {
	fields, err := t.client.HGetAll(ctx, objectMetaKey(filename)).Result()
	if err != nil {
		return UploadMeta{}, err
	}
	if len(fields) == 0 {
		return UploadMeta{}, ErrNotFound
	}
	meta := UploadMeta{ContentType: fields[metaContentType], Metadata: map[string]string{}}
	for k, v := range fields {
		if name, ok := strings.CutPrefix(k, metaFieldPrefix); ok {
			meta.Metadata[name] = v
		}
	}
	return meta, nil
}

func (t *RedisTier) URL(filename string) string {
	return t.publicBase + url.PathEscape(filename)
}

// Close closes the underlying Redis client.
func (t *RedisTier) Close() error {
	if t == nil || t.client == nil {
		return nil
	}
	return t.client.Close()
}

func parseDurationEnv(key string, fallback time.Duration) time.Duration {
	if raw := strings.TrimSpace(os.Getenv(key)); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func objectKey(filename string) string {
	return "art:" + filename
}

func objectMetaKey(filename string) string {
	return "art:meta:" + filename
}
