package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBarrierReleasesExactlyNEntriesPerGeneration(t *testing.T) {
	const n = 5
	const generations = 3
	b := NewBarrier(n)
	var wg sync.WaitGroup
	var gen0Count, gen1Count, gen2Count int32

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := context.Background()
			require.NoError(t, b.Wait(ctx))
			atomic.AddInt32(&gen0Count, 1)
			require.NoError(t, b.Wait(ctx))
			atomic.AddInt32(&gen1Count, 1)
			require.NoError(t, b.Wait(ctx))
			atomic.AddInt32(&gen2Count, 1)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, n, gen0Count)
	assert.EqualValues(t, n, gen1Count)
	assert.EqualValues(t, n, gen2Count)
}

func TestBarrierAbortUnblocksAllWaiters(t *testing.T) {
	const n = 4
	b := NewBarrier(n)
	errs := make(chan error, n-1)

	for i := 0; i < n-1; i++ {
		go func() {
			errs <- b.Wait(context.Background())
		}()
	}

	time.Sleep(20 * time.Millisecond) // let the waiters block
	assert.True(t, b.Abort())
	assert.False(t, b.Abort(), "Abort must return true exactly once")

	for i := 0; i < n-1; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, ErrAborted)
		case <-time.After(time.Second):
			t.Fatal("waiter did not unblock after Abort")
		}
	}
}

func TestBarrierContextCancellationUnblocksSingleWaiter(t *testing.T) {
	b := NewBarrier(2)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Wait(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("waiter did not unblock after context cancellation")
	}
}
