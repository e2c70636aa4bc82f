package queue

import (
	"fmt"
	"os"
	"path/filepath"
)

// BlobStore holds queued artifact bytes on disk, one file per queue item,
// named by the item's generated id rather than the user-visible filename so
// two articles titled identically can never collide.
type BlobStore struct {
	dir string
}

// NewBlobStore creates the storage directory if needed.
func NewBlobStore(dir string) (*BlobStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &BlobStore{dir: dir}, nil
}

// Path returns the on-disk location for an item id.
func (b *BlobStore) Path(id string) string {
	return filepath.Join(b.dir, id)
}

// Write stores an artifact's bytes.
func (b *BlobStore) Write(id string, data []byte) error {
	if err := os.WriteFile(b.Path(id), data, 0644); err != nil {
		return fmt.Errorf("failed to write blob %s: %w", id, err)
	}
	return nil
}

// Read loads an artifact's bytes.
func (b *BlobStore) Read(id string) ([]byte, error) {
	data, err := os.ReadFile(b.Path(id))
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", id, err)
	}
	return data, nil
}

// Remove deletes one blob. A missing file is not an error: the record is
// what decides whether an item exists.
func (b *BlobStore) Remove(id string) error {
	err := os.Remove(b.Path(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove blob %s: %w", id, err)
	}
	return nil
}

// Clear wipes the entire directory's contents so no orphan can survive a
// corrupted record set.
func (b *BlobStore) Clear() error {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return fmt.Errorf("failed to read blob directory: %w", err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(b.dir, entry.Name())); err != nil {
			return fmt.Errorf("failed to remove %s: %w", entry.Name(), err)
		}
	}
	return nil
}
