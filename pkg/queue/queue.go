// Package queue is the durable outbound mailbox: artifacts that could not
// be sent immediately (device unreachable) wait here, content-addressed on
// disk with their metadata in SQLite, until a batch or single send drains
// them.
package queue

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// RecordStore is the opaque source-record collaborator: the queue only ever
// sets status flags on it, keyed by source id.
type RecordStore interface {
	MarkSent(sourceID string) error
	MarkError(sourceID, msg string) error
}

// ErrDuplicateURL reports that the candidate URL already has a queued item.
// What to do about it (skip, inform the user) is the caller's decision.
var ErrDuplicateURL = fmt.Errorf("url already queued")

// Queue couples the record store and the blob store so that a backing file
// and its record are always created and destroyed together.
type Queue struct {
	store  *Store
	blobs  *BlobStore
	logger *log.Logger
}

// EnqueueRequest carries the metadata for a new queue item.
type EnqueueRequest struct {
	SourceID string
	Title    string
	Filename string
	URL      string
	Folder   string // optional destination override, e.g. "feed/<domain>"
}

// New creates a Queue over the given stores.
func New(store *Store, blobs *BlobStore, logger *log.Logger) *Queue {
	return &Queue{store: store, blobs: blobs, logger: logger}
}

// Enqueue writes the artifact bytes to a content-addressed file, then
// inserts the queue record. If the insert fails the partial file is removed
// so neither an orphan blob nor an orphan record can exist.
func (q *Queue) Enqueue(req EnqueueRequest, data []byte) (*Item, error) {
	normalized := ""
	if req.URL != "" {
		n, err := NormalizeURL(req.URL)
		if err != nil {
			return nil, err
		}
		normalized = n
	}

	item := Item{
		ID:            uuid.NewString(),
		SourceID:      req.SourceID,
		Title:         req.Title,
		Filename:      req.Filename,
		Size:          int64(len(data)),
		URL:           req.URL,
		NormalizedURL: normalized,
		Folder:        req.Folder,
		CreatedAt:     time.Now(),
	}

	if err := q.blobs.Write(item.ID, data); err != nil {
		return nil, err
	}
	if err := q.store.Insert(item); err != nil {
		// Roll the blob back; a record-less file is a defect state.
		if removeErr := q.blobs.Remove(item.ID); removeErr != nil {
			q.logger.Printf("[Queue] Failed to roll back blob %s: %v", item.ID, removeErr)
		}
		return nil, err
	}

	q.logger.Printf("[Queue] Enqueued %q (%d bytes, id=%s)", item.Title, item.Size, item.ID)
	return &item, nil
}

// IsQueued reports whether a URL (after normalization) already has a
// queued item.
func (q *Queue) IsQueued(rawURL string) (bool, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return false, err
	}
	return q.store.HasNormalizedURL(normalized)
}

// Items returns the queue oldest-first.
func (q *Queue) Items() ([]Item, error) {
	return q.store.List()
}

// Get returns one item, or nil when it no longer exists.
func (q *Queue) Get(id string) (*Item, error) {
	return q.store.Get(id)
}

// Count returns the queue length.
func (q *Queue) Count() (int, error) {
	return q.store.Count()
}

// ReadArtifact loads the bytes backing an item.
func (q *Queue) ReadArtifact(id string) ([]byte, error) {
	return q.blobs.Read(id)
}

// Remove discards one item: blob first (a missing file is not an error),
// then the record.
func (q *Queue) Remove(id string) error {
	if err := q.blobs.Remove(id); err != nil {
		return err
	}
	if err := q.store.Delete(id); err != nil {
		return err
	}
	q.logger.Printf("[Queue] Removed item %s", id)
	return nil
}

// Clear discards every item and wipes the blob directory so no orphan file
// survives a corrupted record set.
func (q *Queue) Clear() error {
	if err := q.store.DeleteAll(); err != nil {
		return err
	}
	if err := q.blobs.Clear(); err != nil {
		return err
	}
	q.logger.Printf("[Queue] Cleared all items")
	return nil
}
