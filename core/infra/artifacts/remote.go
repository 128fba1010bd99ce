package artifacts

import (
	"context"
	"time"
)

// UploadMeta is attached to a remote object as provider-level metadata.
type UploadMeta struct {
	ContentType string
	Metadata    map[string]string
}

// RemoteTier is the durable, publicly served copy of artifact bytes. Every call
// is bounded by the context the store passes in.
type RemoteTier interface {
	Name() string
	Upload(ctx context.Context, filename string, content []byte, meta UploadMeta) error
	Delete(ctx context.Context, filename string) error
	// Read returns the bytes and content type, or ErrNotFound.
	Read(ctx context.Context, filename string) ([]byte, string, error)
	// URL is the externally resolvable location of filename.
	URL(filename string) string
	Close() error
}

// uploadResult makes the non-fatal remote policy an explicit branch in Save.
type uploadResult struct {
	tier Tier
	err  error
}

func uploadMeta(req SaveRequest, at time.Time) UploadMeta {
	md := map[string]string{"generatedAt": at.UTC().Format(time.RFC3339Nano)}
	if req.Prompt != nil {
		md["prompt"] = *req.Prompt
	}
	return UploadMeta{ContentType: req.MimeType, Metadata: md}
}
