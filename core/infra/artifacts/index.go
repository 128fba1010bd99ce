package artifacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zavora-ai/imagegen/core/infra/schema"
)

const recordExt = ".json"

// CorruptRecord describes a metadata record that could not be used.
type CorruptRecord struct {
	Key string
	Err error
}

// MetadataIndex keeps one JSON record per artifact id in a directory.
type MetadataIndex struct {
	dir       string
	validator *schema.Validator
}

// NewMetadataIndex returns an index rooted at dir.
func NewMetadataIndex(dir string) (*MetadataIndex, error) {
	v, err := schema.Embedded(schema.Descriptor)
	if err != nil {
		return nil, err
	}
	return &MetadataIndex{dir: dir, validator: v}, nil
}

// Dir returns the record directory.
func (x *MetadataIndex) Dir() string { return x.dir }

// Init creates the record directory.
func (x *MetadataIndex) Init() error {
	return os.MkdirAll(x.dir, 0o755)
}

// Put writes the record for d.ID.
func (x *MetadataIndex) Put(d Descriptor) error {
	if !validName(d.ID) {
		return ErrInvalidID
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal descriptor: %w", err)
	}
	return writeFileAtomic(x.dir, d.ID+recordExt, data, 0o644)
}

// Get reads the record for id.
func (x *MetadataIndex) Get(id string) (*Descriptor, error) {
	if !validName(id) {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(filepath.Join(x.dir, id+recordExt))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read descriptor %s: %w", id, err)
	}
	d, err := x.decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode descriptor %s: %w", id, err)
	}
	return d, nil
}

// Delete removes the record for id; a missing record is not an error.
func (x *MetadataIndex) Delete(id string) error {
	if !validName(id) {
		return ErrInvalidID
	}
	err := os.Remove(filepath.Join(x.dir, id+recordExt))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Scan reads every record, newest first. Records that fail to parse or validate
// are returned separately instead of aborting the scan.
func (x *MetadataIndex) Scan() ([]Descriptor, []CorruptRecord, error) {
	entries, err := os.ReadDir(x.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read metadata dir: %w", err)
	}
	out := make([]Descriptor, 0, len(entries))
	var corrupt []CorruptRecord
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, recordExt) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(x.dir, name))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				// Deleted between ReadDir and ReadFile.
				continue
			}
			corrupt = append(corrupt, CorruptRecord{Key: name, Err: err})
			continue
		}
		d, err := x.decode(data)
		if err != nil {
			corrupt = append(corrupt, CorruptRecord{Key: name, Err: err})
			continue
		}
		out = append(out, *d)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, corrupt, nil
}

func (x *MetadataIndex) decode(data []byte) (*Descriptor, error) {
	if err := x.validator.Validate(data); err != nil {
		return nil, err
	}
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}
