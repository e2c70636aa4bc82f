package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockEmitter captures emitted events for testing.
type MockEmitter struct {
	mu     sync.Mutex
	events []JobUpdateEvent
}

func NewMockEmitter() *MockEmitter {
	return &MockEmitter{
		events: make([]JobUpdateEvent, 0),
	}
}

func (m *MockEmitter) EmitJobUpdate(event JobUpdateEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *MockEmitter) Events() []JobUpdateEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]JobUpdateEvent{}, m.events...)
}

func (m *MockEmitter) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = m.events[:0]
}

func TestJobManager_StartJob(t *testing.T) {
	emitter := NewMockEmitter()
	jm := NewJobManager(emitter)

	jobID, jobCtx, err := jm.StartJob(context.Background(), JobTypeSendAll, "Sending 3 queued items", map[string]string{"folder": "/Articles"})
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)
	assert.NotNil(t, jobCtx)

	events := emitter.Events()
	require.Len(t, events, 1)
	assert.Equal(t, JobRunning, events[0].State)
	assert.Equal(t, int64(1), events[0].Seq)
}

func TestJobManager_SingleJobAtATime(t *testing.T) {
	jm := NewJobManager(NewMockEmitter())
	ctx := context.Background()

	_, _, err := jm.StartJob(ctx, JobTypeSendAll, "Batch send", nil)
	require.NoError(t, err)

	// A delete must not start while the batch send runs.
	_, _, err = jm.StartJob(ctx, JobTypeDelete, "Delete /Articles", nil)
	assert.Error(t, err)
}

func TestJobManager_SequentialJobsAllowed(t *testing.T) {
	jm := NewJobManager(NewMockEmitter())
	ctx := context.Background()

	jobID, _, err := jm.StartJob(ctx, JobTypeSendAll, "Batch send", nil)
	require.NoError(t, err)
	jm.CompleteJob(jobID, "Sent 3 items")

	_, _, err = jm.StartJob(ctx, JobTypeDelete, "Delete /Articles", nil)
	assert.NoError(t, err)
}

func TestJobManager_CancelJob(t *testing.T) {
	jm := NewJobManager(NewMockEmitter())

	jobID, jobCtx, err := jm.StartJob(context.Background(), JobTypeDelete, "Delete /old", nil)
	require.NoError(t, err)

	require.NoError(t, jm.CancelJob(jobID))

	select {
	case <-jobCtx.Done():
	case <-time.After(100 * time.Millisecond):
		t.Fatal("job context was not cancelled")
	}

	snapshot, err := jm.GetJob(jobID)
	require.NoError(t, err)
	assert.Equal(t, JobCanceled, snapshot.State)

	// The slot frees up after cancellation.
	_, _, err = jm.StartJob(context.Background(), JobTypeSendAll, "Batch send", nil)
	assert.NoError(t, err)
}

func TestJobManager_CompleteJob(t *testing.T) {
	jm := NewJobManager(NewMockEmitter())

	jobID, _, err := jm.StartJob(context.Background(), JobTypeSendAll, "Batch send", nil)
	require.NoError(t, err)

	jm.CompleteJob(jobID, "Sent 5 items")

	snapshot, err := jm.GetJob(jobID)
	require.NoError(t, err)
	assert.Equal(t, JobSucceeded, snapshot.State)
	assert.Equal(t, float64(100), snapshot.Progress.Percent)
	assert.Equal(t, "Sent 5 items", snapshot.Message)
}

func TestJobManager_FailJob(t *testing.T) {
	jm := NewJobManager(NewMockEmitter())

	jobID, _, err := jm.StartJob(context.Background(), JobTypeSendAll, "Batch send", nil)
	require.NoError(t, err)

	jm.FailJob(jobID, &JobError{Message: "Batch aborted: the device stopped responding", Sent: 2, Failed: 3})

	snapshot, err := jm.GetJob(jobID)
	require.NoError(t, err)
	assert.Equal(t, JobFailed, snapshot.State)
	require.NotNil(t, snapshot.Error)
	assert.Equal(t, 2, snapshot.Error.Sent)
	assert.Equal(t, 3, snapshot.Error.Failed)
}

func TestJobManager_UpdateProgress(t *testing.T) {
	jm := NewJobManager(NewMockEmitter())

	jobID, _, err := jm.StartJob(context.Background(), JobTypeDelete, "Delete /Articles", nil)
	require.NoError(t, err)

	jm.UpdateProgress(jobID, JobProgress{Phase: "deleting", Processed: 2, Total: 4}, "")

	snapshot, err := jm.GetJob(jobID)
	require.NoError(t, err)
	assert.Equal(t, "deleting", snapshot.Progress.Phase)
	assert.Equal(t, 2, snapshot.Progress.Processed)
	assert.Equal(t, float64(50), snapshot.Progress.Percent)
}

func TestJobManager_Throttling(t *testing.T) {
	emitter := NewMockEmitter()
	throttle := ThrottleConfig{MinInterval: 50 * time.Millisecond}
	jm := NewJobManagerWithThrottle(emitter, throttle)

	jobID, _, err := jm.StartJob(context.Background(), JobTypeSendAll, "Batch send", nil)
	require.NoError(t, err)
	emitter.Clear()

	for i := 0; i < 10; i++ {
		jm.UpdateProgress(jobID, JobProgress{Processed: i, Total: 10}, "")
	}

	// Rapid updates collapse on the wire but the snapshot stays current.
	assert.Less(t, len(emitter.Events()), 10)

	snapshot, err := jm.GetJob(jobID)
	require.NoError(t, err)
	assert.Equal(t, 9, snapshot.Progress.Processed)
}

func TestJobManager_SequenceNumbers(t *testing.T) {
	emitter := NewMockEmitter()
	jm := NewJobManager(emitter)
	ctx := context.Background()

	jobID1, _, err := jm.StartJob(ctx, JobTypeSendAll, "First", nil)
	require.NoError(t, err)
	jm.CompleteJob(jobID1, "Done")

	jobID2, _, err := jm.StartJob(ctx, JobTypeDelete, "Second", nil)
	require.NoError(t, err)
	jm.CompleteJob(jobID2, "Done")

	events := emitter.Events()
	require.Len(t, events, 4)
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].Seq, events[i-1].Seq, "seq numbers must increase")
	}
}

func TestJobManager_GetActiveJob(t *testing.T) {
	jm := NewJobManager(NewMockEmitter())

	assert.Nil(t, jm.GetActiveJob())

	jobID, _, err := jm.StartJob(context.Background(), JobTypeSendAll, "Batch send", nil)
	require.NoError(t, err)

	active := jm.GetActiveJob()
	require.NotNil(t, active)
	assert.Equal(t, jobID, active.JobID)

	jm.CompleteJob(jobID, "Done")
	assert.Nil(t, jm.GetActiveJob())
}

func TestJobManager_ListJobs(t *testing.T) {
	jm := NewJobManager(NewMockEmitter())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		jobID, _, err := jm.StartJob(ctx, JobTypeSendAll, "Batch send", nil)
		require.NoError(t, err)
		jm.CompleteJob(jobID, "Done")
		time.Sleep(2 * time.Millisecond) // distinct timestamps
	}

	jobs := jm.ListJobs()
	require.Len(t, jobs, 3)
	for i := 1; i < len(jobs); i++ {
		assert.False(t, jobs[i].CreatedAt.After(jobs[i-1].CreatedAt), "jobs must sort newest first")
	}
}

func TestJobManager_NilEmitter(t *testing.T) {
	jm := NewJobManager(nil)

	jobID, _, err := jm.StartJob(context.Background(), JobTypeSendAll, "Batch send", nil)
	require.NoError(t, err)

	jm.UpdateProgress(jobID, JobProgress{Processed: 1, Total: 2}, "")
	jm.CompleteJob(jobID, "Done")
}

func TestMultiEmitter_Broadcast(t *testing.T) {
	first := NewMockEmitter()
	second := NewMockEmitter()

	jm := NewJobManager(first)
	jm.AddEmitter(second)

	jobID, _, err := jm.StartJob(context.Background(), JobTypeSendAll, "Batch send", nil)
	require.NoError(t, err)
	jm.CompleteJob(jobID, "Done")

	assert.Len(t, first.Events(), 2)
	assert.Len(t, second.Events(), 2)
}
