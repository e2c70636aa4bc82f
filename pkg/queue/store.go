package queue

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Item is one durable send-queue record. The artifact bytes live next to it
// in the blob store under the item's id; record and blob are created and
// destroyed together.
type Item struct {
	ID            string    `json:"id"`
	SourceID      string    `json:"sourceId"`
	Title         string    `json:"title"`
	Filename      string    `json:"filename"`
	Size          int64     `json:"size"`
	URL           string    `json:"url"`
	NormalizedURL string    `json:"-"`
	Folder        string    `json:"folder,omitempty"` // destination override, e.g. "feed/<domain>"
	CreatedAt     time.Time `json:"createdAt"`
}

// Store persists queue records and source-record status flags in SQLite.
type Store struct {
	db *sql.DB
}

// OpenStore opens (and initializes) the queue database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue db: %w", err)
	}

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA busy_timeout=5000;`,
		`
CREATE TABLE IF NOT EXISTS queue_items (
	id TEXT PRIMARY KEY,
	source_id TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL,
	filename TEXT NOT NULL,
	size INTEGER NOT NULL DEFAULT 0,
	url TEXT NOT NULL DEFAULT '',
	normalized_url TEXT NOT NULL DEFAULT '',
	folder TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
`,
		`
CREATE TABLE IF NOT EXISTS source_status (
	source_id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL
);
`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to init queue schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert adds one queue record.
func (s *Store) Insert(item Item) error {
	_, err := s.db.Exec(`
INSERT INTO queue_items (id, source_id, title, filename, size, url, normalized_url, folder, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.SourceID, item.Title, item.Filename, item.Size,
		item.URL, item.NormalizedURL, item.Folder, item.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert queue item %s: %w", item.ID, err)
	}
	return nil
}

// Get returns one record, or nil when it no longer exists (the item may
// have been removed concurrently; callers treat that as a silent skip).
func (s *Store) Get(id string) (*Item, error) {
	row := s.db.QueryRow(`
SELECT id, source_id, title, filename, size, url, normalized_url, folder, created_at
FROM queue_items WHERE id = ?`, id)

	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch queue item %s: %w", id, err)
	}
	return item, nil
}

// List returns every record, oldest first. Batch send order is FIFO by
// enqueue timestamp.
func (s *Store) List() ([]Item, error) {
	rows, err := s.db.Query(`
SELECT id, source_id, title, filename, size, url, normalized_url, folder, created_at
FROM queue_items ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue items: %w", err)
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		out = append(out, *item)
	}
	return out, rows.Err()
}

// Delete removes one record.
func (s *Store) Delete(id string) error {
	if _, err := s.db.Exec(`DELETE FROM queue_items WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete queue item %s: %w", id, err)
	}
	return nil
}

// DeleteAll removes every record.
func (s *Store) DeleteAll() error {
	if _, err := s.db.Exec(`DELETE FROM queue_items`); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	return nil
}

// Count returns the number of queued records.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM queue_items`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count queue items: %w", err)
	}
	return n, nil
}

// HasNormalizedURL reports whether any queued record shares the normalized
// URL.
func (s *Store) HasNormalizedURL(normalized string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM queue_items WHERE normalized_url = ?`, normalized).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check duplicate url: %w", err)
	}
	return n > 0, nil
}

// MarkSent flags the linked source record as sent. Part of the RecordStore
// contract consumed by the sender.
func (s *Store) MarkSent(sourceID string) error {
	return s.setSourceStatus(sourceID, "sent", "")
}

// MarkError flags the linked source record with a short error message.
func (s *Store) MarkError(sourceID, msg string) error {
	return s.setSourceStatus(sourceID, "error", msg)
}

func (s *Store) setSourceStatus(sourceID, status, msg string) error {
	if sourceID == "" {
		return nil
	}
	_, err := s.db.Exec(`
INSERT INTO source_status (source_id, status, error, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(source_id) DO UPDATE SET status = excluded.status, error = excluded.error, updated_at = excluded.updated_at`,
		sourceID, status, msg, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to set status for source %s: %w", sourceID, err)
	}
	return nil
}

// SourceStatus returns the recorded status and error message for a source.
func (s *Store) SourceStatus(sourceID string) (status, errMsg string, err error) {
	row := s.db.QueryRow(`SELECT status, error FROM source_status WHERE source_id = ?`, sourceID)
	if err := row.Scan(&status, &errMsg); err != nil {
		if err == sql.ErrNoRows {
			return "", "", nil
		}
		return "", "", fmt.Errorf("failed to fetch source status: %w", err)
	}
	return status, errMsg, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*Item, error) {
	var item Item
	var createdAt string
	if err := row.Scan(
		&item.ID, &item.SourceID, &item.Title, &item.Filename, &item.Size,
		&item.URL, &item.NormalizedURL, &item.Folder, &createdAt,
	); err != nil {
		return nil, err
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("bad created_at %q: %w", createdAt, err)
	}
	item.CreatedAt = ts
	return &item, nil
}
