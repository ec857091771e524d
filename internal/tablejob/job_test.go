package tablejob

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willbryant/kitchen-sync/internal/schema"
)

func testTable() *schema.Table {
	return &schema.Table{
		Name:              "widgets",
		Columns:           []schema.Column{{Name: "id", Type: schema.ColumnTypeSignedInt}},
		PrimaryKeyColumns: []int{0},
		PrimaryKeyKind:    schema.PrimaryKeyExplicit,
	}
}

func TestNewJobSeedsWholeTableRange(t *testing.T) {
	j := New(testTable(), true)
	j.Lock()
	defer j.Unlock()
	require.Equal(t, 1, j.CheckLen())
	rng, ok := j.PopCheck()
	require.True(t, ok)
	assert.Nil(t, rng.PrevKey)
	assert.Nil(t, rng.LastKey)
	assert.Equal(t, UnknownRowCount, int(rng.EstimatedRowsInRange))
}

func TestCheckQueuePopsHighestPriorityFirst(t *testing.T) {
	j := New(testTable(), true)
	j.Lock()
	j.PopCheck() // drain the seeded range
	j.PushCheck(CheckRange{Priority: 0})
	j.PushCheck(CheckRange{Priority: 2})
	j.PushCheck(CheckRange{Priority: 1})
	first, _ := j.PopCheck()
	second, _ := j.PopCheck()
	third, _ := j.PopCheck()
	j.Unlock()

	assert.Equal(t, 2, first.Priority)
	assert.Equal(t, 1, second.Priority)
	assert.Equal(t, 0, third.Priority)
}

func TestCheckQueueTiesBrokenFIFO(t *testing.T) {
	j := New(testTable(), true)
	j.Lock()
	j.PopCheck()
	j.PushCheck(CheckRange{Priority: 1, RowsToHash: 10})
	j.PushCheck(CheckRange{Priority: 1, RowsToHash: 20})
	j.PushCheck(CheckRange{Priority: 1, RowsToHash: 30})
	first, _ := j.PopCheck()
	second, _ := j.PopCheck()
	third, _ := j.PopCheck()
	j.Unlock()

	assert.Equal(t, int64(10), first.RowsToHash)
	assert.Equal(t, int64(20), second.RowsToHash)
	assert.Equal(t, int64(30), third.RowsToHash)
}

func TestRetrieveQueueIsFIFO(t *testing.T) {
	j := New(testTable(), true)
	j.Lock()
	j.PushRetrieve(RetrieveRange{PrevKey: schema.Row{}})
	j.PushRetrieve(RetrieveRange{LastKey: schema.Row{}})
	first, ok1 := j.PopRetrieve()
	second, ok2 := j.PopRetrieve()
	_, ok3 := j.PopRetrieve()
	j.Unlock()

	require.True(t, ok1)
	require.True(t, ok2)
	assert.False(t, ok3)
	assert.NotNil(t, first.PrevKey)
	assert.NotNil(t, second.LastKey)
}

func TestDoneRequiresBothQueuesEmptyAndCountersEqual(t *testing.T) {
	j := New(testTable(), true)
	j.Lock()
	j.PopCheck()
	assert.True(t, j.Done())
	j.HashCommands = 1
	assert.False(t, j.Done())
	j.HashCommandsCompleted = 1
	assert.True(t, j.Done())
	j.PushRetrieve(RetrieveRange{})
	assert.False(t, j.Done())
	j.Unlock()
}

func TestMarkStartedOnlyFirstCallerBecomesWriter(t *testing.T) {
	j := New(testTable(), true)
	j.Lock()
	first := j.MarkStarted()
	second := j.MarkStarted()
	j.Unlock()

	assert.True(t, first)
	assert.False(t, second)
}

func TestWorkDoneWakesWaiter(t *testing.T) {
	j := New(testTable(), true)
	woke := make(chan struct{})

	go func() {
		j.Lock()
		for j.CheckLen() == 0 {
			j.WorkDone.Wait()
		}
		j.Unlock()
		close(woke)
	}()

	j.Lock()
	j.PopCheck()
	j.Unlock()

	select {
	case <-woke:
		t.Fatal("waiter should not wake on an empty queue")
	case <-time.After(20 * time.Millisecond):
	}

	j.Lock()
	j.PushCheck(CheckRange{Priority: 1})
	j.WorkDone.Broadcast()
	j.Unlock()

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("waiter did not wake after WorkDone broadcast")
	}
}

func TestMarkFinishedSetsFinished(t *testing.T) {
	j := New(testTable(), true)
	j.Lock()
	assert.False(t, j.Finished())
	j.MarkFinished()
	assert.True(t, j.Finished())
	j.Unlock()
}
