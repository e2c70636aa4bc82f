package transfer

import (
	"context"
	"fmt"
	"log"

	"inkpost/pkg/device"
)

// Engine uploads one artifact to one folder with caller-visible progress
// and folder auto-provisioning. It never parallelizes: a second upload
// arriving while one is in flight is rejected through the session's
// uploading flag, because the device cannot serve two connections
// meaningfully. Sequencing across items is the send queue's job.
type Engine struct {
	session *device.Session
	logger  *log.Logger
}

// UploadOptions tunes a single upload.
type UploadOptions struct {
	// SkipEnsureFolder skips the pre-transfer EnsureFolder call. Batch
	// senders provision all destination folders once up front and set this
	// for every item.
	SkipEnsureFolder bool
}

// NewEngine creates an Engine bound to the session.
func NewEngine(session *device.Session, logger *log.Logger) *Engine {
	return &Engine{session: session, logger: logger}
}

// Upload sends data to folder/filename on the device.
//
// Unless opts.SkipEnsureFolder is set, the destination folder is ensured
// first; that call is not retried here — idempotent-retry semantics are the
// dialect client's own concern and a failure surfaces immediately. The
// upload itself relies on the dialect client's internal connection-loss
// retry; the engine adds no second retry layer for an interactive upload.
//
// Progress is pinned to 1.0 on completion: some dialects' final progress
// callback does not fire at exactly 100%.
func (e *Engine) Upload(ctx context.Context, data []byte, filename, folder string, opts UploadOptions, onProgress device.ProgressFunc) error {
	client, err := e.session.Client()
	if err != nil {
		return err
	}

	if err := e.session.BeginUpload(); err != nil {
		return err
	}
	defer e.session.EndUpload()

	e.session.BeginOp()
	defer e.session.EndOp()

	if !opts.SkipEnsureFolder {
		if err := client.EnsureFolder(ctx, folder); err != nil {
			return fmt.Errorf("failed to provision folder %s: %w", folder, err)
		}
	}

	e.logger.Printf("[Transfer] Uploading %s to %s (%d bytes)", filename, folder, len(data))
	if err := client.UploadFile(ctx, data, filename, folder, onProgress); err != nil {
		return fmt.Errorf("failed to upload %s: %w", filename, err)
	}

	if onProgress != nil {
		onProgress(1.0)
	}
	return nil
}
