package artifacts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalTier stores artifact bytes as files named by filename.
type LocalTier struct {
	dir string
}

// NewLocalTier returns a tier rooted at dir; the directory is created on first write.
func NewLocalTier(dir string) *LocalTier {
	return &LocalTier{dir: dir}
}

// Dir returns the root directory.
func (t *LocalTier) Dir() string { return t.dir }

// Init creates the root directory.
func (t *LocalTier) Init() error {
	return os.MkdirAll(t.dir, 0o755)
}

// Write stores content under filename. Bytes land in a temp file that is renamed
// into place, so readers never observe a partial artifact.
func (t *LocalTier) Write(filename string, content []byte) error {
	if !validName(filename) {
		return fmt.Errorf("invalid filename %q", filename)
	}
	return writeFileAtomic(t.dir, filename, content, 0o644)
}

// Read returns the bytes stored under filename. Dot names are never served;
// in-flight temp files use them.
func (t *LocalTier) Read(filename string) ([]byte, error) {
	if !validName(filename) || strings.HasPrefix(filename, ".") {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(filepath.Join(t.dir, filename))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

// Exists reports whether filename is present.
func (t *LocalTier) Exists(filename string) bool {
	if !validName(filename) {
		return false
	}
	_, err := os.Stat(filepath.Join(t.dir, filename))
	return err == nil
}

// Delete removes filename; a missing file is not an error.
func (t *LocalTier) Delete(filename string) error {
	if !validName(filename) {
		return fmt.Errorf("invalid filename %q", filename)
	}
	err := os.Remove(filepath.Join(t.dir, filename))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func writeFileAtomic(dir, name string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		cleanup()
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
