package queue

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"inkpost/pkg/device"
	"inkpost/pkg/transfer"
)

const (
	// Batch items get one retry with a longer delay than the delete engine:
	// a failed multipart upload needs more recovery room than a failed
	// delete.
	batchRetryAttempts = 2
	batchRetryBackoff  = 2 * time.Second

	batchBreakerThreshold = 3

	// DefaultFolder receives items without a destination override.
	DefaultFolder = "/Articles"
)

// ErrSendInProgress rejects a batch send while another send loop is active.
var ErrSendInProgress = fmt.Errorf("a send is already in progress")

// BatchResult summarizes one SendAll run. Items that fail stay queued for a
// later retry; items already sent stay sent even when the batch aborts.
type BatchResult struct {
	Attempted int  `json:"attempted"`
	Sent      int  `json:"sent"`
	Failed    int  `json:"failed"`
	Aborted   bool `json:"aborted"`
}

// BatchProgressFunc reports batch progress after each item.
type BatchProgressFunc func(processed, total int, title string)

// Sender drains the queue through the transfer engine. At most one batch
// send and one single-item drain loop exist at a time, and they never
// overlap: both take the same single-occupancy slot. A single-item request
// arriving while the drain loop runs joins its pending list instead of
// starting a second loop.
type Sender struct {
	queue     *Queue
	engine    *transfer.Engine
	session   *device.Session
	estimator *transfer.Estimator
	records   RecordStore
	logger    *log.Logger

	retry transfer.RetryPolicy

	// slot serializes send loops: batch sends take it non-blocking
	// (refusing when occupied), the drain loop waits its turn.
	slot chan struct{}

	pendMu   sync.Mutex
	pending  []string
	draining bool
}

// NewSender wires a Sender.
func NewSender(q *Queue, engine *transfer.Engine, session *device.Session, estimator *transfer.Estimator, records RecordStore, logger *log.Logger) *Sender {
	return &Sender{
		queue:     q,
		engine:    engine,
		session:   session,
		estimator: estimator,
		records:   records,
		logger:    logger,
		retry:     transfer.RetryPolicy{MaxAttempts: batchRetryAttempts, Backoff: batchRetryBackoff},
		slot:      make(chan struct{}, 1),
	}
}

// Active reports whether any send loop currently holds the slot.
func (s *Sender) Active() bool {
	select {
	case s.slot <- struct{}{}:
		<-s.slot
		return false
	default:
		return true
	}
}

// EstimateAll predicts the duration of sending the current queue. Advisory
// only; it never gates the send.
func (s *Sender) EstimateAll() (time.Duration, int, error) {
	items, err := s.queue.Items()
	if err != nil {
		return 0, 0, err
	}
	sizes := make([]int64, len(items))
	for i, item := range items {
		sizes[i] = item.Size
	}
	return s.estimator.EstimateBatch(sizes), len(items), nil
}

// SendAll sends every queued item oldest-first. It refuses to start while
// any other send loop is active; the caller additionally sequences it
// against recursive deletes through the job manager.
//
// All distinct destination folders are provisioned once up front; without
// that, every item would redundantly re-verify its folder. Per item: the
// circuit breaker is checked before the attempt, one retry with a fixed
// delay covers transient failures, success removes blob + record and flags
// the source record sent, exhausted retries leave the record queued for a
// later manual retry.
func (s *Sender) SendAll(ctx context.Context, onProgress BatchProgressFunc) (*BatchResult, error) {
	select {
	case s.slot <- struct{}{}:
	default:
		return nil, ErrSendInProgress
	}
	defer func() { <-s.slot }()

	items, err := s.queue.Items()
	if err != nil {
		return nil, err
	}
	result := &BatchResult{}
	if len(items) == 0 {
		return result, nil
	}

	client, err := s.session.Client()
	if err != nil {
		return nil, err
	}

	// Provision each distinct destination folder exactly once.
	s.session.BeginOp()
	err = s.ensureFolders(ctx, client, items)
	s.session.EndOp()
	if err != nil {
		return nil, err
	}

	breaker := transfer.NewBreaker(batchBreakerThreshold)

	for i, item := range items {
		if breaker.Tripped() {
			// The item that would exceed the threshold is never attempted;
			// already-sent items stay sent.
			s.logger.Printf("[Sender] Circuit breaker tripped after %d consecutive failures, aborting batch", batchBreakerThreshold)
			result.Aborted = true
			break
		}
		if ctx.Err() != nil {
			result.Aborted = true
			return result, ctx.Err()
		}

		result.Attempted++
		start := time.Now()
		sendErr := s.sendItem(ctx, item, s.retry, true)

		if sendErr != nil {
			if ctx.Err() != nil {
				result.Aborted = true
				return result, ctx.Err()
			}
			s.logger.Printf("[Sender] Failed to send %q, leaving queued: %v", item.Title, sendErr)
			if err := s.records.MarkError(item.SourceID, shortError(sendErr)); err != nil {
				s.logger.Printf("[Sender] Failed to flag source %s: %v", item.SourceID, err)
			}
			result.Failed++
			breaker.RecordFailure()
		} else {
			s.estimator.Record(item.Size, time.Since(start))
			result.Sent++
			breaker.Reset()
		}

		if onProgress != nil {
			onProgress(result.Attempted, len(items), item.Title)
		}

		// Adaptive cooldown between items, skipped after the last one and
		// after a failure (the retry delay already paced it).
		if sendErr == nil && i < len(items)-1 {
			if err := transfer.Sleep(ctx, transfer.CooldownFor(item.Size)); err != nil {
				result.Aborted = true
				return result, err
			}
		}
	}

	s.logger.Printf("[Sender] Batch finished: sent=%d failed=%d aborted=%v", result.Sent, result.Failed, result.Aborted)
	return result, nil
}

// EnqueueSend appends an item id to the single-send list and starts the
// drain loop unless one is already running; in that case the running loop
// picks the id up. Single-item sends are user-initiated, so there is no
// per-item retry beyond the dialect client's own — failures surface
// immediately through the source record.
func (s *Sender) EnqueueSend(ctx context.Context, id string) {
	s.pendMu.Lock()
	s.pending = append(s.pending, id)
	if s.draining {
		s.pendMu.Unlock()
		return
	}
	s.draining = true
	s.pendMu.Unlock()

	go s.drainLoop(ctx)
}

// drainLoop pops pending ids FIFO until the list stays empty. Records that
// vanished since enqueueing (removed concurrently) are silently skipped.
func (s *Sender) drainLoop(ctx context.Context) {
	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		s.pendMu.Lock()
		s.draining = false
		s.pendMu.Unlock()
		return
	}
	defer func() { <-s.slot }()

	for {
		s.pendMu.Lock()
		if len(s.pending) == 0 || ctx.Err() != nil {
			s.draining = false
			s.pendMu.Unlock()
			return
		}
		id := s.pending[0]
		s.pending = s.pending[1:]
		s.pendMu.Unlock()

		item, err := s.queue.Get(id)
		if err != nil {
			s.logger.Printf("[Sender] Failed to fetch item %s: %v", id, err)
			continue
		}
		if item == nil {
			continue
		}

		start := time.Now()
		if err := s.sendItem(ctx, *item, transfer.RetryPolicy{MaxAttempts: 1}, false); err != nil {
			s.logger.Printf("[Sender] Single send of %q failed: %v", item.Title, err)
			if recErr := s.records.MarkError(item.SourceID, shortError(err)); recErr != nil {
				s.logger.Printf("[Sender] Failed to flag source %s: %v", item.SourceID, recErr)
			}
			continue
		}
		s.estimator.Record(item.Size, time.Since(start))

		s.pendMu.Lock()
		more := len(s.pending) > 0
		s.pendMu.Unlock()
		if more {
			if err := transfer.Sleep(ctx, transfer.CooldownFor(item.Size)); err != nil {
				return
			}
		}
	}
}

func shortError(err error) string {
	msg := err.Error()
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

// ensureFolders provisions the distinct destination folders of a batch.
func (s *Sender) ensureFolders(ctx context.Context, client device.Client, items []Item) error {
	seen := make(map[string]struct{})
	for _, item := range items {
		folder := folderFor(item)
		if _, ok := seen[folder]; ok {
			continue
		}
		seen[folder] = struct{}{}
		if err := client.EnsureFolder(ctx, folder); err != nil {
			return fmt.Errorf("failed to provision folder %s: %w", folder, err)
		}
	}
	return nil
}

// sendItem uploads one item and commits the success bookkeeping: blob
// gone, record gone, source flagged sent. Batch sends set skipEnsure (they
// provisioned every folder up front); single sends let the engine ensure
// the destination per item.
func (s *Sender) sendItem(ctx context.Context, item Item, retry transfer.RetryPolicy, skipEnsure bool) error {
	data, err := s.queue.ReadArtifact(item.ID)
	if err != nil {
		return err
	}

	opts := transfer.UploadOptions{SkipEnsureFolder: skipEnsure}
	err = retry.Do(ctx, func() error {
		return s.engine.Upload(ctx, data, item.Filename, folderFor(item), opts, nil)
	})
	if err != nil {
		return err
	}

	if err := s.queue.Remove(item.ID); err != nil {
		return err
	}
	if err := s.records.MarkSent(item.SourceID); err != nil {
		s.logger.Printf("[Sender] Sent %q but failed to flag source %s: %v", item.Title, item.SourceID, err)
	}
	return nil
}

func folderFor(item Item) string {
	if item.Folder != "" {
		return item.Folder
	}
	return DefaultFolder
}
