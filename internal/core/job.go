// Package core provides the job lifecycle logic shared by the API and CLI
// front ends. It must not import any adapter-specific code and stays fully
// testable without a device.
package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Job types. The device serves exactly one bulk operation at a time, so the
// manager admits one running job regardless of type: a batch send and a
// recursive delete can never overlap.
const (
	JobTypeSendAll = "queue.sendall"
	JobTypeDelete  = "device.delete"
	JobTypeSingle  = "queue.send"
)

// JobState represents the lifecycle state of a job.
type JobState string

const (
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
	JobCanceled  JobState = "canceled"
)

// JobProgress carries (processed, total) plus a free-form phase. For batch
// sends total is the item count; for recursive deletes it is the pre-counted
// tree size including the folder itself.
type JobProgress struct {
	Phase     string  `json:"phase"`
	Processed int     `json:"processed"`
	Total     int     `json:"total"`
	Percent   float64 `json:"percent"`
}

// JobError is the user-facing failure shape: a short message plus batch
// counts. Raw protocol errors are never placed here.
type JobError struct {
	Message string `json:"message"`
	Sent    int    `json:"sent,omitempty"`
	Failed  int    `json:"failed,omitempty"`
}

// JobSnapshot is the authoritative state of a job at a point in time.
type JobSnapshot struct {
	JobID     string            `json:"jobId"`
	Seq       int64             `json:"seq"`
	Type      string            `json:"type"`
	State     JobState          `json:"state"`
	Params    map[string]string `json:"params,omitempty"`
	Progress  JobProgress       `json:"progress"`
	Message   string            `json:"message"`
	Error     *JobError         `json:"error,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// JobUpdateEvent is emitted on every state change, same shape as the
// snapshot plus an optional log line.
type JobUpdateEvent struct {
	JobID    string      `json:"jobId"`
	Seq      int64       `json:"seq"`
	Type     string      `json:"type"`
	State    JobState    `json:"state"`
	Progress JobProgress `json:"progress"`
	Message  string      `json:"message"`
	LogLine  string      `json:"logLine,omitempty"`
	Error    *JobError   `json:"error,omitempty"`
}

// JobEventEmitter is implemented by adapters (SSE fan-out, CLI reporter)
// to receive job events.
type JobEventEmitter interface {
	EmitJobUpdate(event JobUpdateEvent)
}

// ThrottleConfig limits how often progress updates are emitted. Terminal
// transitions always emit.
type ThrottleConfig struct {
	MinInterval time.Duration
}

// DefaultThrottleConfig caps progress events at ~10/sec.
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{MinInterval: 100 * time.Millisecond}
}

// JobManager is the single source of truth for job state and the
// enforcement point for one bulk device operation at a time.
type JobManager struct {
	mu           sync.Mutex
	jobs         map[string]*JobSnapshot
	activeJob    string
	seqCounter   int64
	cancels      map[string]context.CancelFunc
	emitter      JobEventEmitter
	throttle     ThrottleConfig
	lastEmitTime map[string]time.Time
}

// NewJobManager creates a JobManager with default throttling.
func NewJobManager(emitter JobEventEmitter) *JobManager {
	return NewJobManagerWithThrottle(emitter, DefaultThrottleConfig())
}

// NewJobManagerWithThrottle creates a JobManager with custom throttling.
func NewJobManagerWithThrottle(emitter JobEventEmitter, throttle ThrottleConfig) *JobManager {
	return &JobManager{
		jobs:         make(map[string]*JobSnapshot),
		cancels:      make(map[string]context.CancelFunc),
		emitter:      emitter,
		throttle:     throttle,
		lastEmitTime: make(map[string]time.Time),
	}
}

// AddEmitter adds an additional emitter; events fan out to all of them.
func (jm *JobManager) AddEmitter(emitter JobEventEmitter) {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	if jm.emitter == nil {
		jm.emitter = emitter
		return
	}
	if multi, ok := jm.emitter.(*MultiEmitter); ok {
		multi.Add(emitter)
	} else {
		jm.emitter = &MultiEmitter{emitters: []JobEventEmitter{jm.emitter, emitter}}
	}
}

// MultiEmitter broadcasts events to multiple emitters.
type MultiEmitter struct {
	mu       sync.Mutex
	emitters []JobEventEmitter
}

// Add registers another emitter.
func (m *MultiEmitter) Add(emitter JobEventEmitter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emitters = append(m.emitters, emitter)
}

// EmitJobUpdate broadcasts to every registered emitter.
func (m *MultiEmitter) EmitJobUpdate(event JobUpdateEvent) {
	m.mu.Lock()
	emitters := make([]JobEventEmitter, len(m.emitters))
	copy(emitters, m.emitters)
	m.mu.Unlock()

	for _, e := range emitters {
		if e != nil {
			e.EmitJobUpdate(event)
		}
	}
}

// StartJob admits a new job unless one is already running. The returned
// context is cancelled by CancelJob; every retry sleep and cooldown under
// the job hangs off it.
func (jm *JobManager) StartJob(ctx context.Context, jobType, message string, params map[string]string) (string, context.Context, error) {
	jm.mu.Lock()

	if jm.activeJob != "" {
		if active := jm.jobs[jm.activeJob]; active != nil && active.State == JobRunning {
			jm.mu.Unlock()
			return "", nil, fmt.Errorf("a job is already running: %s (%s)", active.JobID, active.Type)
		}
	}

	jobID := fmt.Sprintf("%s-%d", jobType, time.Now().UnixNano())
	jobCtx, cancel := context.WithCancel(ctx)

	jm.jobs[jobID] = &JobSnapshot{
		JobID:     jobID,
		Type:      jobType,
		State:     JobRunning,
		Params:    params,
		Message:   message,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		Progress:  JobProgress{Phase: "starting"},
	}
	jm.cancels[jobID] = cancel
	jm.activeJob = jobID
	jm.mu.Unlock()

	jm.emitUpdate(jobID, "")
	return jobID, jobCtx, nil
}

// UpdateProgress records progress for a running job, throttled on the wire.
func (jm *JobManager) UpdateProgress(jobID string, progress JobProgress, message string) {
	jm.mu.Lock()
	snapshot, exists := jm.jobs[jobID]
	if !exists {
		jm.mu.Unlock()
		return
	}
	if progress.Total > 0 {
		progress.Percent = float64(progress.Processed) / float64(progress.Total) * 100
	}
	snapshot.Progress = progress
	if message != "" {
		snapshot.Message = message
	}
	snapshot.UpdatedAt = time.Now()

	now := time.Now()
	shouldEmit := now.Sub(jm.lastEmitTime[jobID]) >= jm.throttle.MinInterval
	if shouldEmit {
		jm.lastEmitTime[jobID] = now
	}
	jm.mu.Unlock()

	if shouldEmit {
		jm.emitUpdate(jobID, "")
	}
}

// CompleteJob marks a job succeeded.
func (jm *JobManager) CompleteJob(jobID, message string) {
	jm.finish(jobID, JobSucceeded, message, nil)
}

// FailJob marks a job failed with a user-facing error.
func (jm *JobManager) FailJob(jobID string, jobErr *JobError) {
	jm.finish(jobID, JobFailed, "", jobErr)
}

func (jm *JobManager) finish(jobID string, state JobState, message string, jobErr *JobError) {
	jm.mu.Lock()
	snapshot, exists := jm.jobs[jobID]
	if exists {
		snapshot.State = state
		if message != "" {
			snapshot.Message = message
		}
		if state == JobSucceeded {
			snapshot.Progress.Percent = 100
		}
		snapshot.Error = jobErr
		snapshot.UpdatedAt = time.Now()
		if jm.activeJob == jobID {
			jm.activeJob = ""
		}
	}
	jm.mu.Unlock()

	if exists {
		jm.emitUpdate(jobID, "")
	}
}

// CancelJob cancels a running job, which tears down its context. Committed
// steps (files already deleted, records already removed) stay committed.
func (jm *JobManager) CancelJob(jobID string) error {
	jm.mu.Lock()
	cancel, cancelExists := jm.cancels[jobID]
	snapshot, snapshotExists := jm.jobs[jobID]
	jm.mu.Unlock()

	if !cancelExists {
		return fmt.Errorf("job not found or not cancellable: %s", jobID)
	}
	cancel()

	if snapshotExists {
		jm.mu.Lock()
		snapshot.State = JobCanceled
		snapshot.Message = "Job canceled by user"
		snapshot.UpdatedAt = time.Now()
		if jm.activeJob == jobID {
			jm.activeJob = ""
		}
		jm.mu.Unlock()
		jm.emitUpdate(jobID, "")
	}
	return nil
}

// CancelActiveJob cancels whichever job is currently running.
func (jm *JobManager) CancelActiveJob() error {
	jm.mu.Lock()
	active := jm.activeJob
	jm.mu.Unlock()
	if active == "" {
		return fmt.Errorf("no active job to cancel")
	}
	return jm.CancelJob(active)
}

// GetJob returns a copy of one job's snapshot.
func (jm *JobManager) GetJob(jobID string) (*JobSnapshot, error) {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	snapshot, exists := jm.jobs[jobID]
	if !exists {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	copySnapshot := *snapshot
	return &copySnapshot, nil
}

// GetActiveJob returns the running job's snapshot, or nil.
func (jm *JobManager) GetActiveJob() *JobSnapshot {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	if jm.activeJob == "" {
		return nil
	}
	snapshot, exists := jm.jobs[jm.activeJob]
	if !exists {
		return nil
	}
	copySnapshot := *snapshot
	return &copySnapshot
}

// ListJobs returns all jobs, newest first.
func (jm *JobManager) ListJobs() []*JobSnapshot {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	list := make([]*JobSnapshot, 0, len(jm.jobs))
	for _, j := range jm.jobs {
		copySnapshot := *j
		list = append(list, &copySnapshot)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list
}

// EmitLogLine attaches a log line to a job's event stream.
func (jm *JobManager) EmitLogLine(jobID, logLine string) {
	jm.emitUpdate(jobID, logLine)
}

func (jm *JobManager) emitUpdate(jobID, logLine string) {
	jm.mu.Lock()
	snapshot, exists := jm.jobs[jobID]
	if !exists {
		jm.mu.Unlock()
		return
	}
	jm.seqCounter++
	snapshot.Seq = jm.seqCounter

	event := JobUpdateEvent{
		JobID:    snapshot.JobID,
		Seq:      snapshot.Seq,
		Type:     snapshot.Type,
		State:    snapshot.State,
		Progress: snapshot.Progress,
		Message:  snapshot.Message,
		LogLine:  logLine,
		Error:    snapshot.Error,
	}
	emitter := jm.emitter
	jm.mu.Unlock()

	if emitter != nil {
		emitter.EmitJobUpdate(event)
	}
}
