package artifacts

import (
	"context"
	"crypto/md5" // #nosec G501 -- content addressing, not a security boundary.
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNotFound reports an unknown artifact id; it is not a failure.
	ErrNotFound = errors.New("artifact not found")
	// ErrLocalWrite wraps failures on the local tier, the durability floor of Save.
	ErrLocalWrite = errors.New("artifact local write failed")
	// ErrInvalidID rejects ids that cannot name a metadata record.
	ErrInvalidID = errors.New("invalid artifact id")
)

// NamingPolicy decides how Save derives an artifact filename.
type NamingPolicy string

const (
	// NamingContentHash hashes the bytes, so identical uploads share one filename.
	NamingContentHash NamingPolicy = "content-hash"
	// NamingPromptTime hashes the prompt plus the save time in milliseconds.
	// Two saves of one prompt within the same millisecond collide and the last
	// local write wins; each still gets its own descriptor id.
	NamingPromptTime NamingPolicy = "prompt-time"
)

// Tier identifies where an artifact is served from.
type Tier string

const (
	TierRemote Tier = "remote"
	TierLocal  Tier = "local"
)

// Descriptor is the metadata record of one stored artifact. Records are never
// updated in place.
type Descriptor struct {
	ID        string    `json:"id"`
	Prompt    *string   `json:"prompt"`
	CreatedAt time.Time `json:"createdAt"`
	Filename  string    `json:"filename"`
	MimeType  string    `json:"mimeType"`
	Size      int64     `json:"size"`
	URL       string    `json:"url"`
}

// SaveRequest carries the caller-supplied context for Save.
type SaveRequest struct {
	Prompt   *string
	MimeType string
	Naming   NamingPolicy
}

// Store persists artifacts and their descriptors.
type Store interface {
	Save(ctx context.Context, content []byte, req SaveRequest) (*Descriptor, error)
	Get(ctx context.Context, id string) (*Descriptor, error)
	List(ctx context.Context, limit int) ([]Descriptor, error)
	Delete(ctx context.Context, id string) error
	Cleanup(ctx context.Context, retain int) (int, error)
	// Open returns the bytes behind filename from whichever tier has them.
	Open(ctx context.Context, filename string) ([]byte, string, error)
}

// Filename derives the artifact filename under policy.
func Filename(policy NamingPolicy, content []byte, prompt *string, mimeType string, at time.Time) string {
	var sum [md5.Size]byte
	switch policy {
	case NamingPromptTime:
		seed := ""
		if prompt != nil {
			seed = *prompt
		}
		sum = md5.Sum([]byte(seed + strconv.FormatInt(at.UnixMilli(), 10))) // #nosec G401
	default:
		sum = md5.Sum(content) // #nosec G401
	}
	return hex.EncodeToString(sum[:]) + "." + Extension(mimeType)
}

// Extension maps a MIME type to a file extension.
func Extension(mimeType string) string {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	switch mt {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	}
	_, sub, ok := strings.Cut(mt, "/")
	if !ok || sub == "" || strings.ContainsAny(sub, `/\.`) {
		return "bin"
	}
	if i := strings.IndexByte(sub, '+'); i > 0 {
		sub = sub[:i]
	}
	return sub
}

func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && !strings.ContainsRune(name, 0)
}
