package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

const (
	gcsPublicBase = "https://storage.googleapis.com"
	aclPublicRead = "publicRead"
)

// GCSTier mirrors artifacts into a Cloud Storage bucket.
type GCSTier struct {
	client     *storage.Client
	bucket     string
	publicRead bool
}

// NewGCSTier opens a client for bucket. keyFile selects explicit service-account
// credentials; empty uses the platform default chain. With publicRead each object
// is uploaded with the publicRead ACL so URL resolves without auth; without it the
// bucket itself must grant public read.
func NewGCSTier(ctx context.Context, bucket, keyFile string, publicRead bool, extra ...option.ClientOption) (*GCSTier, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, fmt.Errorf("gcs bucket required")
	}
	opts := make([]option.ClientOption, 0, len(extra)+1)
	if keyFile != "" {
		opts = append(opts, option.WithCredentialsFile(keyFile))
	}
	opts = append(opts, extra...)
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	return &GCSTier{client: client, bucket: bucket, publicRead: publicRead}, nil
}

func (t *GCSTier) Name() string { return "gcs:" + t.bucket }

func (t *GCSTier) Upload(ctx context.Context, filename string, content []byte, meta UploadMeta) error {
	w := t.client.Bucket(t.bucket).Object(filename).NewWriter(ctx)
	w.ContentType = meta.ContentType
	w.Metadata = meta.Metadata
	if t.publicRead {
		w.PredefinedACL = aclPublicRead
	}
	if _, err := w.Write(content); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write %s: %w", filename, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs upload %s: %w", filename, err)
	}
	return nil
}

func (t *GCSTier) Delete(ctx context.Context, filename string) error {
	err := t.client.Bucket(t.bucket).Object(filename).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs delete %s: %w", filename, err)
	}
	return nil
}

func (t *GCSTier) Read(ctx context.Context, filename string) ([]byte, string, error) {
	r, err := t.client.Bucket(t.bucket).Object(filename).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("gcs read %s: %w", filename, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("gcs read %s: %w", filename, err)
	}
	return data, r.Attrs.ContentType, nil
}

func (t *GCSTier) URL(filename string) string {
	return gcsPublicBase + "/" + t.bucket + "/" + url.PathEscape(filename)
}

func (t *GCSTier) Close() error {
	return t.client.Close()
}
