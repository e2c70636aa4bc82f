package transfer

import (
	"sync"
	"time"
)

// Conservative defaults used before any transfer has been observed. The
// device is a WiFi-hotspot, single-client link in the 100-300 KB/s class.
const (
	defaultOverhead   = 1500 * time.Millisecond
	defaultThroughput = 150 * 1024 // bytes/second

	// estimateAlpha weights new samples in the exponential moving average.
	estimateAlpha = 0.3

	// provisioningOverhead is the one-time folder-provisioning constant
	// added to every batch estimate.
	provisioningOverhead = 2 * time.Second
)

// Inter-item cooldown tiers: smaller files stress the device's connection
// stack less and recover faster.
const (
	cooldownSmallLimit  = 50 * 1024
	cooldownMediumLimit = 200 * 1024

	cooldownSmall  = 300 * time.Millisecond
	cooldownMedium = 800 * time.Millisecond
	cooldownLarge  = 1500 * time.Millisecond
)

// CooldownFor returns the pause to insert after sending an item of the
// given size. Applied between items only, never after the last one.
func CooldownFor(size int64) time.Duration {
	switch {
	case size < cooldownSmallLimit:
		return cooldownSmall
	case size < cooldownMediumLimit:
		return cooldownMedium
	default:
		return cooldownLarge
	}
}

// Estimator predicts batch-send durations and keeps improving as transfers
// complete. It maintains two running estimates — per-transfer fixed
// overhead and effective throughput — updated by EMA after every completed
// upload; individual samples are not retained.
//
// Estimates are advisory only: they inform the user, they never gate a send.
type Estimator struct {
	mu          sync.Mutex
	overhead    time.Duration
	bytesPerSec float64
	samples     int
}

// NewEstimator returns an estimator seeded with the fallback constants.
func NewEstimator() *Estimator {
	return &Estimator{
		overhead:    defaultOverhead,
		bytesPerSec: defaultThroughput,
	}
}

// Record feeds one completed upload into the running estimates.
func (e *Estimator) Record(bytes int64, elapsed time.Duration) {
	if bytes <= 0 || elapsed <= 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Split the observation: whatever the current throughput estimate
	// cannot account for is treated as fixed overhead.
	transferTime := time.Duration(float64(bytes) / e.bytesPerSec * float64(time.Second))
	overheadSample := elapsed - transferTime
	if overheadSample < 0 {
		overheadSample = 0
	}
	throughputSample := float64(bytes) / elapsed.Seconds()

	if e.samples == 0 {
		e.overhead = overheadSample
		e.bytesPerSec = throughputSample
	} else {
		e.overhead = time.Duration(estimateAlpha*float64(overheadSample) + (1-estimateAlpha)*float64(e.overhead))
		e.bytesPerSec = estimateAlpha*throughputSample + (1-estimateAlpha)*e.bytesPerSec
	}
	e.samples++
}

// EstimateBatch predicts how long sending the given item sizes will take:
// the one-time provisioning constant, plus overhead + size/throughput per
// item, plus the size-tiered cooldown between items (none after the last).
func (e *Estimator) EstimateBatch(sizes []int64) time.Duration {
	if len(sizes) == 0 {
		return 0
	}

	e.mu.Lock()
	overhead := e.overhead
	bytesPerSec := e.bytesPerSec
	e.mu.Unlock()

	total := provisioningOverhead
	for i, size := range sizes {
		total += overhead
		total += time.Duration(float64(size) / bytesPerSec * float64(time.Second))
		if i < len(sizes)-1 {
			total += CooldownFor(size)
		}
	}
	return total
}

// EstimateSingle predicts one item's transfer time without batch constants.
func (e *Estimator) EstimateSingle(size int64) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.overhead + time.Duration(float64(size)/e.bytesPerSec*float64(time.Second))
}

// Samples returns how many transfers have been observed.
func (e *Estimator) Samples() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.samples
}
