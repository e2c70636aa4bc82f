package transfer

import (
	"context"
	"fmt"
	"log"
	"time"

	"inkpost/pkg/device"
)

const (
	// deleteRetryAttempts is 1 initial try + 2 retries per item or listing.
	deleteRetryAttempts = 3
	deleteRetryBackoff  = 1 * time.Second
	// deleteCooldown lets the device's connection stack recover after each
	// successful delete. Skips pace themselves through their retries, so no
	// cooldown follows a skip.
	deleteCooldown = 300 * time.Millisecond
	// deleteBreakerThreshold aborts the whole traversal after this many
	// consecutive failed items, wherever the recursion currently is.
	deleteBreakerThreshold = 3
)

// DeleteOutcome classifies what a tree deletion achieved.
type DeleteOutcome string

const (
	// DeleteComplete: zero skips, the whole tree is gone.
	DeleteComplete DeleteOutcome = "complete"
	// DeletePartial: the top folder was removed but some descendants were
	// skipped along the way.
	DeletePartial DeleteOutcome = "partial"
	// DeleteFailed: the circuit breaker tripped or the top folder itself
	// survived.
	DeleteFailed DeleteOutcome = "failed"
)

// DeleteResult carries the explicit partial-failure shape callers need to
// render "partial success" accurately.
type DeleteResult struct {
	Outcome DeleteOutcome `json:"outcome"`
	Deleted int           `json:"deleted"`
	Skipped []string      `json:"skipped,omitempty"`
	Aborted bool          `json:"aborted"`
}

// DeleteProgressFunc reports (itemsProcessed, totalItemsIncludingFolderItself).
type DeleteProgressFunc func(processed, total int)

// Deleter removes a folder and everything under it when the dialect client
// cannot do so in one call. Traversal is depth-first and strictly
// sequential — fan-out would saturate the device's limited listener count.
type Deleter struct {
	session *device.Session
	logger  *log.Logger
	retry   RetryPolicy
}

// NewDeleter creates a Deleter bound to the session.
func NewDeleter(session *device.Session, logger *log.Logger) *Deleter {
	return &Deleter{
		session: session,
		logger:  logger,
		retry:   RetryPolicy{MaxAttempts: deleteRetryAttempts, Backoff: deleteRetryBackoff},
	}
}

// CountItems sizes the tree without mutating it: files + subfolders + 1 for
// the folder itself. Callers run it first to seed a confirmation dialog and
// the progress denominator.
func (d *Deleter) CountItems(ctx context.Context, folderPath string) (int, error) {
	client, err := d.session.Client()
	if err != nil {
		return 0, err
	}

	d.session.BeginOp()
	defer d.session.EndOp()

	return d.countDir(ctx, client, folderPath)
}

func (d *Deleter) countDir(ctx context.Context, client device.Client, dir string) (int, error) {
	entries, err := d.listWithRetry(ctx, client, dir)
	if err != nil {
		return 0, err
	}

	total := 1 // the folder itself
	for _, entry := range entries {
		if entry.IsDir {
			sub, err := d.countDir(ctx, client, entry.Path)
			if err != nil {
				return 0, err
			}
			total += sub
		} else {
			total++
		}
	}
	return total, nil
}

// DeleteTree deletes folderPath depth-first, files before subfolders within
// each directory. Items whose deletion exhausts retries are skipped and
// recorded rather than aborting the traversal; only a tripped circuit
// breaker or an unlistable directory aborts. The top folder is attempted
// even when descendants were skipped — the skips may have been stale
// listings and the delete can still land.
func (d *Deleter) DeleteTree(ctx context.Context, folderPath string, onProgress DeleteProgressFunc) (*DeleteResult, error) {
	client, err := d.session.Client()
	if err != nil {
		return nil, err
	}

	d.session.BeginOp()
	defer d.session.EndOp()

	total, err := d.countDir(ctx, client, folderPath)
	if err != nil {
		return nil, fmt.Errorf("failed to size %s: %w", folderPath, err)
	}

	t := &traversal{
		deleter:  d,
		client:   client,
		breaker:  NewBreaker(deleteBreakerThreshold),
		total:    total,
		progress: onProgress,
	}

	err = t.deleteDir(ctx, folderPath, true)
	result := &DeleteResult{
		Deleted: t.deleted,
		Skipped: t.skipped,
		Aborted: t.aborted,
	}

	switch {
	case t.aborted || t.topSurvived:
		result.Outcome = DeleteFailed
	case len(t.skipped) > 0:
		result.Outcome = DeletePartial
	default:
		result.Outcome = DeleteComplete
	}

	if err != nil {
		return result, err
	}
	d.logger.Printf("[Delete] Finished %s: outcome=%s deleted=%d skipped=%d",
		folderPath, result.Outcome, result.Deleted, len(result.Skipped))
	return result, nil
}

// listWithRetry lists a directory under the shared retry policy. Listings
// are never cached: the device rewrites its own filesystem between calls.
func (d *Deleter) listWithRetry(ctx context.Context, client device.Client, dir string) ([]device.FileEntry, error) {
	var entries []device.FileEntry
	err := d.retry.Do(ctx, func() error {
		var listErr error
		entries, listErr = client.ListFiles(ctx, dir)
		return listErr
	})
	return entries, err
}

// traversal accumulates state across one DeleteTree run. The breaker spans
// the whole traversal, not one directory.
type traversal struct {
	deleter     *Deleter
	client      device.Client
	breaker     *Breaker
	total       int
	processed   int
	deleted     int
	skipped     []string
	aborted     bool
	topSurvived bool
	progress    DeleteProgressFunc
}

// errTraversalAborted propagates the abort through in-progress recursion
// without finishing the current directory.
var errTraversalAborted = fmt.Errorf("delete traversal aborted: circuit breaker tripped")

// deleteDir clears dir's files, recurses into its subfolders, then deletes
// dir itself.
func (t *traversal) deleteDir(ctx context.Context, dir string, isTop bool) error {
	entries, err := t.deleter.listWithRetry(ctx, t.client, dir)
	if err != nil {
		// An unlistable directory means the tree state is unknown and
		// cannot be trusted: abort the whole operation.
		t.aborted = true
		return fmt.Errorf("failed to list %s: %w", dir, err)
	}

	var subdirs []device.FileEntry
	for _, entry := range entries {
		if entry.IsDir {
			subdirs = append(subdirs, entry)
			continue
		}
		if err := t.deleteItem(ctx, entry.Path, false, false); err != nil {
			return err
		}
	}

	for _, sub := range subdirs {
		if t.breaker.Tripped() {
			t.aborted = true
			return errTraversalAborted
		}
		if err := t.deleteDir(ctx, sub.Path, false); err != nil {
			return err
		}
	}

	// The directory itself counts as an item, including the top folder as
	// the final progress step.
	return t.deleteItem(ctx, dir, true, isTop)
}

// deleteItem deletes one file or (hopefully empty) folder under the shared
// retry policy. Exhausted retries skip and record; only the breaker aborts.
func (t *traversal) deleteItem(ctx context.Context, itemPath string, isDir, isTop bool) error {
	if t.breaker.Tripped() {
		t.aborted = true
		return errTraversalAborted
	}

	op := t.client.DeleteFile
	if isDir {
		op = t.client.DeleteFolder
	}

	err := t.deleter.retry.Do(ctx, func() error { return op(ctx, itemPath) })

	t.processed++
	if t.progress != nil {
		t.progress(t.processed, t.total)
	}

	if err != nil {
		if ctx.Err() != nil {
			t.aborted = true
			return ctx.Err()
		}
		t.deleter.logger.Printf("[Delete] Skipping %s after exhausted retries: %v", itemPath, err)
		t.skipped = append(t.skipped, itemPath)
		t.breaker.RecordFailure()
		if isTop {
			t.topSurvived = true
		}
		return nil
	}

	t.deleted++
	t.breaker.Reset()
	// Let the device's connection stack breathe before the next call.
	if sleepErr := Sleep(ctx, deleteCooldown); sleepErr != nil {
		t.aborted = true
		return sleepErr
	}
	return nil
}
