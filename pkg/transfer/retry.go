package transfer

import (
	"context"
	"time"

	"inkpost/pkg/device"
)

// RetryPolicy is the one retry helper shared by the upload, delete and
// queue-send paths; only the constants differ per call site. Transient
// errors (unreachable, timeout) are retried up to MaxAttempts with a fixed
// Backoff between attempts; everything else propagates immediately.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Do runs op under the policy. The backoff sleep is cancellable: a torn
// down context aborts the wait and returns ctx.Err() without re-running op.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if sleepErr := Sleep(ctx, p.Backoff); sleepErr != nil {
				return sleepErr
			}
		}
		if err = op(); err == nil {
			return nil
		}
		if !device.IsTransient(err) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

// Sleep waits for d or until ctx is torn down, whichever comes first.
// Cooldowns and backoffs all pause through here so a cancelled operation
// never leaves a sleeping goroutine behind.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Breaker counts consecutive failures across the *items* of one batch
// operation. It is evaluated before each new item attempt, never inside the
// retries of a single item, and resets on any success. It is ephemeral:
// each batch gets a fresh one.
type Breaker struct {
	Threshold   int
	consecutive int
}

// NewBreaker returns a breaker with the given trip threshold.
func NewBreaker(threshold int) *Breaker {
	return &Breaker{Threshold: threshold}
}

// Tripped reports whether the threshold has been reached. Checked before
// attempting an item so the item that would exceed it is never attempted.
func (b *Breaker) Tripped() bool {
	return b.consecutive >= b.Threshold
}

// RecordFailure counts one failed item.
func (b *Breaker) RecordFailure() {
	b.consecutive++
}

// Reset clears the streak after a successful item.
func (b *Breaker) Reset() {
	b.consecutive = 0
}
