package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willbryant/kitchen-sync/internal/schema"
	"github.com/willbryant/kitchen-sync/internal/tablejob"
)

func newEntry(name string, subdividable bool) *TableEntry {
	t := &schema.Table{Name: name, PrimaryKeyColumns: []int{0}, PrimaryKeyKind: schema.PrimaryKeyExplicit}
	return &TableEntry{Name: name, Job: tablejob.New(t, subdividable)}
}

func TestFindTableJobPrefersAlphabeticallyEarliestUnstarted(t *testing.T) {
	q := NewSyncQueue(2, []*TableEntry{newEntry("zebras", false), newEntry("apples", false)})
	e, err := q.FindTableJob(0)
	require.NoError(t, err)
	assert.Equal(t, "apples", e.Name)
}

func TestFindTableJobPrefersWorkersOwnPreviousTable(t *testing.T) {
	apples := newEntry("apples", false)
	bananas := newEntry("bananas", false)
	q := NewSyncQueue(2, []*TableEntry{bananas, apples})

	first, err := q.FindTableJob(0)
	require.NoError(t, err)
	assert.Equal(t, "apples", first.Name)

	// apples isn't finished yet, so worker 0 should be handed it again
	// rather than moving on to bananas.
	second, err := q.FindTableJob(0)
	require.NoError(t, err)
	assert.Equal(t, "apples", second.Name)
}

func TestFindTableJobReturnsNilWhenDrained(t *testing.T) {
	apples := newEntry("apples", false)
	apples.Job.Lock()
	apples.Job.PopCheck()
	apples.Job.MarkFinished()
	apples.Job.Unlock()

	q := NewSyncQueue(1, []*TableEntry{apples})
	e, err := q.FindTableJob(0)
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestFindTableJobReturnsErrAbortedAfterAbort(t *testing.T) {
	q := NewSyncQueue(1, []*TableEntry{newEntry("apples", false)})
	q.Abort(assert.AnError)
	_, err := q.FindTableJob(0)
	assert.ErrorIs(t, err, ErrAborted)
}

func TestFindTableJobHandsStartedShareableTableToAnotherWorker(t *testing.T) {
	apples := newEntry("apples", true)
	apples.Job.Lock()
	apples.Job.MarkStarted()
	apples.Job.PushCheck(tablejob.CheckRange{Priority: 1})
	apples.Job.Unlock()

	q := NewSyncQueue(2, []*TableEntry{apples})
	e, err := q.FindTableJob(1)
	require.NoError(t, err)
	assert.Equal(t, "apples", e.Name)
}
