package transfer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkpost/pkg/device"
	"inkpost/pkg/device/devicetest"
)

func newTestDeleter() (*Deleter, *devicetest.Fake) {
	fake := devicetest.NewFake()
	session := device.NewSession()
	session.Attach(fake, "Fake device")
	d := NewDeleter(session, testLogger())
	d.retry = RetryPolicy{MaxAttempts: deleteRetryAttempts, Backoff: time.Millisecond}
	return d, fake
}

func seedTree(fake *devicetest.Fake) {
	fake.AddFile("/Annotations/a.txt", []byte("a"))
	fake.AddFile("/Annotations/b.txt", []byte("b"))
	fake.AddFolder("/Annotations/old")
}

func TestDeleter_CountItems(t *testing.T) {
	d, fake := newTestDeleter()
	seedTree(fake)

	// 2 files + 1 subfolder + the folder itself.
	count, err := d.CountItems(context.Background(), "/Annotations")
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestDeleter_CountItemsRequiresConnection(t *testing.T) {
	d := NewDeleter(device.NewSession(), testLogger())
	_, err := d.CountItems(context.Background(), "/Annotations")
	assert.ErrorIs(t, err, device.ErrNotConnected)
}

func TestDeleter_DeleteTreeComplete(t *testing.T) {
	d, fake := newTestDeleter()
	seedTree(fake)

	var lastProcessed, lastTotal int
	result, err := d.DeleteTree(context.Background(), "/Annotations", func(processed, total int) {
		lastProcessed, lastTotal = processed, total
	})
	require.NoError(t, err)

	assert.Equal(t, DeleteComplete, result.Outcome)
	assert.Equal(t, 4, result.Deleted)
	assert.Empty(t, result.Skipped)
	assert.False(t, result.Aborted)

	assert.Equal(t, 4, lastProcessed)
	assert.Equal(t, 4, lastTotal)

	assert.False(t, fake.HasFolder("/Annotations"))
	assert.Equal(t, 0, fake.EntryCount("/Annotations"))
}

func TestDeleter_TransientFailuresRecovered(t *testing.T) {
	d, fake := newTestDeleter()
	seedTree(fake)
	fake.FailDeletes["/Annotations/a.txt"] = 2

	result, err := d.DeleteTree(context.Background(), "/Annotations", nil)
	require.NoError(t, err)
	assert.Equal(t, DeleteComplete, result.Outcome)
	assert.False(t, fake.HasFile("/Annotations/a.txt"))
}

func TestDeleter_LostResponseYieldsPartial(t *testing.T) {
	d, fake := newTestDeleter()
	seedTree(fake)
	// The delete lands but the response is lost: the retry then finds the
	// file missing and the item is recorded as skipped even though the top
	// folder still comes off cleanly.
	fake.LostDeletes["/Annotations/b.txt"] = true

	result, err := d.DeleteTree(context.Background(), "/Annotations", nil)
	require.NoError(t, err)

	assert.Equal(t, DeletePartial, result.Outcome)
	assert.Contains(t, result.Skipped, "/Annotations/b.txt")
	assert.False(t, result.Aborted)
	assert.False(t, fake.HasFolder("/Annotations"))
}

func TestDeleter_StubbornFileBlocksTopFolder(t *testing.T) {
	d, fake := newTestDeleter()
	seedTree(fake)
	fake.RejectDeletes["/Annotations/b.txt"] = true

	result, err := d.DeleteTree(context.Background(), "/Annotations", nil)
	require.NoError(t, err)

	// The surviving file keeps the folder non-empty, so the top folder
	// survives too and the run counts as failed, not partial.
	assert.Equal(t, DeleteFailed, result.Outcome)
	assert.Contains(t, result.Skipped, "/Annotations/b.txt")
	assert.True(t, fake.HasFolder("/Annotations"))
}

func TestDeleter_SurvivingTopFolderFails(t *testing.T) {
	d, fake := newTestDeleter()
	fake.AddFile("/Annotations/a.txt", []byte("a"))
	fake.RejectDeletes["/Annotations"] = true

	result, err := d.DeleteTree(context.Background(), "/Annotations", nil)
	require.NoError(t, err)

	assert.Equal(t, DeleteFailed, result.Outcome)
	assert.False(t, fake.HasFile("/Annotations/a.txt"))
	assert.True(t, fake.HasFolder("/Annotations"))
}

func TestDeleter_BreakerAbortsTraversal(t *testing.T) {
	d, fake := newTestDeleter()
	fake.AddFile("/Annotations/a.txt", []byte("a"))
	fake.AddFile("/Annotations/b.txt", []byte("b"))
	fake.AddFile("/Annotations/c.txt", []byte("c"))
	fake.AddFile("/Annotations/d.txt", []byte("d"))
	fake.RejectDeletes["/Annotations/a.txt"] = true
	fake.RejectDeletes["/Annotations/b.txt"] = true
	fake.RejectDeletes["/Annotations/c.txt"] = true

	result, err := d.DeleteTree(context.Background(), "/Annotations", nil)
	require.Error(t, err)

	assert.Equal(t, DeleteFailed, result.Outcome)
	assert.True(t, result.Aborted)
	assert.Len(t, result.Skipped, 3)
	// The fourth item is never attempted once the breaker trips.
	assert.True(t, fake.HasFile("/Annotations/d.txt"))
}

func TestDeleter_UnlistableTreeAborts(t *testing.T) {
	d, fake := newTestDeleter()
	seedTree(fake)
	fake.FailLists["*"] = 100

	_, err := d.DeleteTree(context.Background(), "/Annotations", nil)
	assert.Error(t, err)
}

func TestDeleter_CancelStopsTraversal(t *testing.T) {
	d, fake := newTestDeleter()
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		fake.AddFile("/Annotations/"+name+".txt", []byte(name))
	}

	ctx, cancel := context.WithCancel(context.Background())
	result, err := d.DeleteTree(ctx, "/Annotations", func(processed, total int) {
		if processed == 2 {
			cancel()
		}
	})

	// The cooldown after the second delete observes the cancel; the
	// remaining items are never attempted.
	require.Error(t, err)
	assert.True(t, result.Aborted)
	assert.Less(t, result.Deleted, 5)
}
