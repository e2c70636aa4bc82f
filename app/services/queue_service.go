package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"inkpost/internal/core"
	"inkpost/pkg/device"
	"inkpost/pkg/queue"
	"inkpost/pkg/transfer"
)

// QueueService owns the send queue and its drain paths. Batch sends run as
// jobs through the job manager so they can never overlap a recursive
// delete; single sends ride the sender's background drain loop.
type QueueService struct {
	ctx       context.Context
	logger    *log.Logger
	queue     *queue.Queue
	store     *queue.Store
	sender    *queue.Sender
	estimator *transfer.Estimator
	jobs      *core.JobManager
	events    *LogService
}

// NewQueueService opens the queue database and blob directory and wires
// the sender against the shared device session.
func NewQueueService(ctx context.Context, logger *log.Logger, dbPath, blobDir string, session *device.Session, jobs *core.JobManager, events *LogService) (*QueueService, error) {
	store, err := queue.OpenStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue store: %w", err)
	}
	blobs, err := queue.NewBlobStore(blobDir)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to open blob store: %w", err)
	}

	q := queue.New(store, blobs, logger)
	estimator := transfer.NewEstimator()
	engine := transfer.NewEngine(session, logger)
	sender := queue.NewSender(q, engine, session, estimator, store, logger)

	return &QueueService{
		ctx:       ctx,
		logger:    logger,
		queue:     q,
		store:     store,
		sender:    sender,
		estimator: estimator,
		jobs:      jobs,
		events:    events,
	}, nil
}

// Close releases the queue database.
func (s *QueueService) Close() error {
	return s.store.Close()
}

// Enqueue stages an artifact for later sending.
func (s *QueueService) Enqueue(req queue.EnqueueRequest, data []byte) (*queue.Item, error) {
	if req.URL != "" {
		queued, err := s.queue.IsQueued(req.URL)
		if err != nil {
			return nil, err
		}
		if queued {
			return nil, queue.ErrDuplicateURL
		}
	}

	item, err := s.queue.Enqueue(req, data)
	if err != nil {
		return nil, err
	}
	s.events.Info(CategoryQueue, fmt.Sprintf("Queued %q (%s)", item.Title, humanize.Bytes(uint64(item.Size))))
	return item, nil
}

// EnqueueFile stages a local file (CLI path). The filename doubles as the
// title when none is given.
func (s *QueueService) EnqueueFile(path, folder string) (*queue.Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	filename := filepath.Base(path)
	return s.Enqueue(queue.EnqueueRequest{
		SourceID: filename,
		Title:    filename,
		Filename: filename,
		Folder:   folder,
	}, data)
}

// Items lists queued items oldest-first.
func (s *QueueService) Items() ([]queue.Item, error) {
	return s.queue.Items()
}

// Get fetches one item, nil when absent.
func (s *QueueService) Get(id string) (*queue.Item, error) {
	return s.queue.Get(id)
}

// Count returns the queue depth.
func (s *QueueService) Count() (int, error) {
	return s.queue.Count()
}

// Remove deletes one queued item and its staged payload.
func (s *QueueService) Remove(id string) error {
	if err := s.queue.Remove(id); err != nil {
		return err
	}
	s.events.Info(CategoryQueue, fmt.Sprintf("Removed item %s from queue", id))
	return nil
}

// Clear empties the queue and wipes the staging directory.
func (s *QueueService) Clear() error {
	if err := s.queue.Clear(); err != nil {
		return err
	}
	s.events.Info(CategoryQueue, "Queue cleared")
	return nil
}

// Estimate is the advisory duration prediction for draining the current
// queue. Never gates a send.
type Estimate struct {
	Items    int           `json:"items"`
	Duration time.Duration `json:"duration"`
	Display  string        `json:"display"`
	// Large flags batches big enough that the caller may want to warn the
	// user before starting.
	Large bool `json:"large"`
}

// largeBatchThreshold is the queue depth past which front ends surface the
// estimate before sending.
const largeBatchThreshold = 10

// EstimateAll predicts how long SendAll would take right now.
func (s *QueueService) EstimateAll() (*Estimate, error) {
	duration, count, err := s.sender.EstimateAll()
	if err != nil {
		return nil, err
	}
	return &Estimate{
		Items:    count,
		Duration: duration,
		Display:  duration.Round(time.Second).String(),
		Large:    count > largeBatchThreshold,
	}, nil
}

// SendAll starts the batch send as a job and returns its id. The job
// manager rejects it while any other job (including a delete) runs; the
// sender additionally rejects overlap with its own drain loop.
func (s *QueueService) SendAll() (string, error) {
	count, err := s.queue.Count()
	if err != nil {
		return "", err
	}
	if count == 0 {
		return "", fmt.Errorf("queue is empty")
	}
	if s.sender.Active() {
		return "", queue.ErrSendInProgress
	}

	jobID, jobCtx, err := s.jobs.StartJob(s.ctx, core.JobTypeSendAll, fmt.Sprintf("Sending %d queued items", count), nil)
	if err != nil {
		return "", err
	}

	go s.runSendAll(jobCtx, jobID, count)
	return jobID, nil
}

func (s *QueueService) runSendAll(ctx context.Context, jobID string, total int) {
	result, err := s.sender.SendAll(ctx, func(processed, total int, title string) {
		s.jobs.UpdateProgress(jobID, core.JobProgress{
			Phase:     "sending",
			Processed: processed,
			Total:     total,
		}, fmt.Sprintf("Sent %q", title))
	})

	if err != nil {
		s.events.Error(CategoryQueue, fmt.Sprintf("Batch send failed: %v", err))
		s.jobs.FailJob(jobID, &core.JobError{Message: jobErrorMessage(err)})
		return
	}

	switch {
	case result.Aborted:
		s.events.Error(CategoryQueue, fmt.Sprintf("Batch send aborted after %d consecutive failures (sent %d, failed %d)", result.Failed, result.Sent, result.Failed))
		s.jobs.FailJob(jobID, &core.JobError{
			Message: "Batch aborted: the device stopped responding",
			Sent:    result.Sent,
			Failed:  result.Failed,
		})
	case result.Failed > 0:
		s.events.Warn(CategoryQueue, fmt.Sprintf("Batch send finished with failures: sent %d, failed %d", result.Sent, result.Failed))
		s.jobs.FailJob(jobID, &core.JobError{
			Message: fmt.Sprintf("%d of %d items failed and stay queued", result.Failed, result.Attempted),
			Sent:    result.Sent,
			Failed:  result.Failed,
		})
	default:
		s.events.Info(CategoryQueue, fmt.Sprintf("Batch send complete: %d items sent", result.Sent))
		s.jobs.CompleteJob(jobID, fmt.Sprintf("Sent %d items", result.Sent))
	}
}

// SendOne schedules a single queued item for sending on the background
// drain loop. Returns immediately; the outcome lands on the source record.
func (s *QueueService) SendOne(id string) error {
	item, err := s.queue.Get(id)
	if err != nil {
		return err
	}
	if item == nil {
		return fmt.Errorf("no queued item with id %s", id)
	}
	s.sender.EnqueueSend(s.ctx, id)
	return nil
}

// Sending reports whether any send loop is active.
func (s *QueueService) Sending() bool {
	return s.sender.Active()
}

// SourceStatus returns the last recorded send status for a source.
func (s *QueueService) SourceStatus(sourceID string) (string, string, error) {
	return s.store.SourceStatus(sourceID)
}

// jobErrorMessage maps an error onto a short user-facing line. Raw
// transport errors carry full URLs and dial detail; those only ever go to
// the event sink, never into a job error a front end renders.
func jobErrorMessage(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "Operation canceled"
	case errors.Is(err, device.ErrNotConnected):
		return "No device connected"
	case errors.Is(err, device.ErrTimeout):
		return "The device timed out"
	case errors.Is(err, device.ErrUnreachable):
		return "The device is unreachable"
	case errors.Is(err, device.ErrFolderNotEmpty):
		return "The folder is not empty"
	case errors.Is(err, device.ErrUploadInProgress):
		return "Another upload is already running"
	case errors.Is(err, device.ErrDeviceRejected):
		return "The device rejected the operation"
	case errors.Is(err, queue.ErrSendInProgress):
		return "A send is already running"
	default:
		return "Operation failed"
	}
}
