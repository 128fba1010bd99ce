package artifacts

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/zavora-ai/imagegen/core/infra/logging"
	"github.com/zavora-ai/imagegen/core/infra/metrics"
)

const (
	// DefaultLocalURLPrefix is where the gateway serves the local tier.
	DefaultLocalURLPrefix = "/api/v1/images/files/"
	defaultRemoteTimeout  = 30 * time.Second
	logComponent          = "artifacts"
)

// Event kinds published after state changes.
const (
	EventSaved   = "saved"
	EventDeleted = "deleted"
)

// Event describes a saved or deleted artifact.
type Event struct {
	Kind     string     `json:"kind"`
	Artifact Descriptor `json:"artifact"`
	At       time.Time  `json:"at"`
}

// Notifier receives store events. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// Notifiers fans an event out to several notifiers.
type Notifiers []Notifier

func (n Notifiers) Notify(ctx context.Context, ev Event) {
	for _, x := range n {
		if x != nil {
			x.Notify(ctx, ev)
		}
	}
}

// Options configure a TieredStore.
type Options struct {
	Local          *LocalTier
	Index          *MetadataIndex
	Remote         RemoteTier // nil keeps artifacts local-only
	RemoteTimeout  time.Duration
	LocalURLPrefix string
	Now            func() time.Time
	Notifier       Notifier
	Metrics        metrics.StoreMetrics
}

// TieredStore writes artifacts to the local tier first and mirrors them to a
// remote tier on a best-effort basis. The metadata index is the only authority
// on whether an artifact exists.
type TieredStore struct {
	local         *LocalTier
	index         *MetadataIndex
	remote        RemoteTier
	remoteTimeout time.Duration
	localPrefix   string
	now           func() time.Time
	notifier      Notifier
	metrics       metrics.StoreMetrics
}

var _ Store = (*TieredStore)(nil)

// NewTieredStore validates opts and returns a store.
func NewTieredStore(opts Options) (*TieredStore, error) {
	if opts.Local == nil {
		return nil, fmt.Errorf("local tier required")
	}
	if opts.Index == nil {
		return nil, fmt.Errorf("metadata index required")
	}
	s := &TieredStore{
		local:         opts.Local,
		index:         opts.Index,
		remote:        opts.Remote,
		remoteTimeout: opts.RemoteTimeout,
		localPrefix:   opts.LocalURLPrefix,
		now:           opts.Now,
		notifier:      opts.Notifier,
		metrics:       opts.Metrics,
	}
	if s.remoteTimeout <= 0 {
		s.remoteTimeout = defaultRemoteTimeout
	}
	if s.localPrefix == "" {
		s.localPrefix = DefaultLocalURLPrefix
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.metrics == nil {
		s.metrics = metrics.Noop{}
	}
	return s, nil
}

// Init creates the local directories.
func (s *TieredStore) Init() error {
	if err := s.index.Init(); err != nil {
		return fmt.Errorf("init metadata dir: %w", err)
	}
	if err := s.local.Init(); err != nil {
		return fmt.Errorf("init artifacts dir: %w", err)
	}
	logging.Info(logComponent, "initialized directories", "metadata", s.index.Dir(), "artifacts", s.local.Dir())
	return nil
}

// Close releases the remote tier.
func (s *TieredStore) Close() error {
	if s.remote == nil {
		return nil
	}
	return s.remote.Close()
}

// Save persists content and returns its descriptor. Only a local failure fails
// the call; the remote tier is best effort.
func (s *TieredStore) Save(ctx context.Context, content []byte, req SaveRequest) (*Descriptor, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if req.MimeType == "" {
		req.MimeType = "image/png"
	}
	if req.Naming == "" {
		req.Naming = NamingPromptTime
	}
	now := s.now().UTC()
	filename := Filename(req.Naming, content, req.Prompt, req.MimeType, now)
	existed := s.local.Exists(filename)

	if err := s.local.Write(filename, content); err != nil {
		s.metrics.IncSaveFailed()
		logging.Error(logComponent, "local write failed", "filename", filename, "error", err)
		return nil, fmt.Errorf("%w: %s: %v", ErrLocalWrite, filename, err)
	}

	up := s.upload(ctx, filename, content, req, now)
	link := s.localURL(filename)
	if up.tier == TierRemote {
		link = s.remote.URL(filename)
	}

	d := Descriptor{
		ID:        uuid.NewString(),
		Prompt:    req.Prompt,
		CreatedAt: now,
		Filename:  filename,
		MimeType:  req.MimeType,
		Size:      int64(len(content)),
		URL:       link,
	}
	if err := s.index.Put(d); err != nil {
		s.metrics.IncSaveFailed()
		logging.Error(logComponent, "metadata write failed", "id", d.ID, "error", err)
		s.rollback(ctx, filename, existed, up.tier)
		return nil, fmt.Errorf("%w: metadata %s: %v", ErrLocalWrite, d.ID, err)
	}
	s.metrics.IncSave(string(up.tier))
	logging.Info(logComponent, "saved", "id", d.ID, "filename", filename, "size", d.Size, "tier", up.tier)
	s.notify(ctx, EventSaved, d)
	return &d, nil
}

// rollback removes the binaries of a save whose record was never written. A
// file that was already present, or that another record names, stays.
func (s *TieredStore) rollback(ctx context.Context, filename string, existed bool, tier Tier) {
	if existed {
		return
	}
	if inUse, err := s.filenameInUse(filename, ""); err == nil && inUse {
		return
	}
	if err := s.local.Delete(filename); err != nil {
		logging.Error(logComponent, "rollback local delete failed", "filename", filename, "error", err)
	}
	if tier != TierRemote {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, s.remoteTimeout)
	defer cancel()
	if err := s.remote.Delete(rctx, filename); err != nil {
		logging.Error(logComponent, "rollback remote delete failed", "filename", filename, "remote", s.remote.Name(), "error", err)
	}
}

// filenameInUse reports whether any record other than exceptID names filename.
func (s *TieredStore) filenameInUse(filename, exceptID string) (bool, error) {
	all, _, err := s.index.Scan()
	if err != nil {
		return false, err
	}
	for _, d := range all {
		if d.Filename == filename && d.ID != exceptID {
			return true, nil
		}
	}
	return false, nil
}

func (s *TieredStore) upload(ctx context.Context, filename string, content []byte, req SaveRequest, at time.Time) uploadResult {
	if s.remote == nil {
		return uploadResult{tier: TierLocal}
	}
	rctx, cancel := context.WithTimeout(ctx, s.remoteTimeout)
	defer cancel()
	if err := s.remote.Upload(rctx, filename, content, uploadMeta(req, at)); err != nil {
		logging.Error(logComponent, "remote upload failed; serving from local tier", "filename", filename, "remote", s.remote.Name(), "error", err)
		return uploadResult{tier: TierLocal, err: err}
	}
	return uploadResult{tier: TierRemote}
}

// Get returns the descriptor for id, or ErrNotFound.
func (s *TieredStore) Get(_ context.Context, id string) (*Descriptor, error) {
	return s.index.Get(id)
}

// List returns up to limit descriptors, newest first; limit <= 0 means all.
// Corrupt records are logged and skipped.
func (s *TieredStore) List(_ context.Context, limit int) ([]Descriptor, error) {
	all, corrupt, err := s.index.Scan()
	if err != nil {
		return nil, err
	}
	for _, c := range corrupt {
		s.metrics.IncCorruptRecord()
		logging.Error(logComponent, "skipping corrupt metadata record", "key", c.Key, "error", c.Err)
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Delete removes the artifact. Binary deletions are best effort; the call
// succeeds once the metadata record is gone. Binaries that another record still
// names are kept.
func (s *TieredStore) Delete(ctx context.Context, id string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	d, err := s.index.Get(id)
	if errors.Is(err, ErrNotFound) {
		s.metrics.IncDelete("not_found")
		return ErrNotFound
	}
	if err != nil {
		// An unreadable record still names the artifact; drop it so it stops
		// resurfacing, even though its binaries cannot be located.
		logging.Error(logComponent, "deleting unreadable metadata record", "id", id, "error", err)
		if derr := s.index.Delete(id); derr != nil {
			s.metrics.IncDelete("error")
			return fmt.Errorf("delete metadata %s: %w", id, derr)
		}
		s.metrics.IncDelete("ok")
		return nil
	}

	switch inUse, err := s.filenameInUse(d.Filename, d.ID); {
	case err != nil:
		logging.Error(logComponent, "cannot check shared filename; keeping binaries", "id", id, "filename", d.Filename, "error", err)
	case inUse:
		logging.Info(logComponent, "binary shared with another record; keeping it", "id", id, "filename", d.Filename)
	default:
		s.deleteBinaries(ctx, id, d.Filename)
	}
	if err := s.index.Delete(id); err != nil {
		s.metrics.IncDelete("error")
		logging.Error(logComponent, "metadata delete failed", "id", id, "error", err)
		return fmt.Errorf("delete metadata %s: %w", id, err)
	}
	s.metrics.IncDelete("ok")
	logging.Info(logComponent, "deleted", "id", id, "filename", d.Filename)
	s.notify(ctx, EventDeleted, *d)
	return nil
}

func (s *TieredStore) deleteBinaries(ctx context.Context, id, filename string) {
	if err := s.local.Delete(filename); err != nil {
		logging.Error(logComponent, "local delete failed", "id", id, "filename", filename, "error", err)
	}
	if s.remote == nil {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, s.remoteTimeout)
	defer cancel()
	if err := s.remote.Delete(rctx, filename); err != nil {
		logging.Error(logComponent, "remote delete failed", "id", id, "filename", filename, "remote", s.remote.Name(), "error", err)
	}
}

// Cleanup deletes everything older than the retain newest artifacts and returns
// how many were targeted. Individual failures are logged, not counted.
func (s *TieredStore) Cleanup(ctx context.Context, retain int) (int, error) {
	if retain < 0 {
		return 0, fmt.Errorf("retention count must not be negative")
	}
	all, err := s.List(ctx, 0)
	if err != nil {
		return 0, err
	}
	if len(all) <= retain {
		return 0, nil
	}
	targets := all[retain:]
	for _, d := range targets {
		if ctx != nil && ctx.Err() != nil {
			logging.Error(logComponent, "cleanup interrupted", "error", ctx.Err())
			break
		}
		if err := s.Delete(ctx, d.ID); err != nil && !errors.Is(err, ErrNotFound) {
			logging.Error(logComponent, "cleanup delete failed", "id", d.ID, "error", err)
		}
	}
	s.metrics.AddCleanupDeleted(len(targets))
	logging.Info(logComponent, "cleanup complete", "retain", retain, "targeted", len(targets))
	return len(targets), nil
}

// Open reads filename from the local tier, falling back to the remote tier.
func (s *TieredStore) Open(ctx context.Context, filename string) ([]byte, string, error) {
	data, err := s.local.Read(filename)
	if err == nil {
		return data, "", nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, "", err
	}
	if s.remote == nil || !validName(filename) {
		return nil, "", ErrNotFound
	}
	if ctx == nil {
		ctx = context.Background()
	}
	rctx, cancel := context.WithTimeout(ctx, s.remoteTimeout)
	defer cancel()
	return s.remote.Read(rctx, filename)
}

// RunRetention calls Cleanup every interval until ctx is done.
func (s *TieredStore) RunRetention(ctx context.Context, retain int, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Cleanup(ctx, retain); err != nil {
				logging.Error(logComponent, "scheduled cleanup failed", "error", err)
			}
		}
	}
}

func (s *TieredStore) localURL(filename string) string {
	return s.localPrefix + url.PathEscape(filename)
}

func (s *TieredStore) notify(ctx context.Context, kind string, d Descriptor) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, Event{Kind: kind, Artifact: d, At: s.now().UTC()})
}
