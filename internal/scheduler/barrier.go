// Package scheduler implements the process-wide coordination state shared
// by all workers in one run: the table work queue with cross-worker
// sharing (spec.md section 4.5/4.6) and the abortable multi-worker barrier
// used for snapshot choreography (spec.md section 4.6), grounded in
// _examples/original_source/src/abortable_barrier.cpp/.h and
// sync_queue.cpp/.h.
package scheduler

import (
	"context"
	"fmt"
	"sync"
)

// ErrAborted is returned by Barrier.Wait and SyncQueue.FindTableJob once
// the run has been aborted, wrapping context.Canceled so callers can test
// with errors.Is(err, context.Canceled) as well as errors.Is(err,
// ErrAborted).
var ErrAborted = fmt.Errorf("scheduler: aborted: %w", context.Canceled)

// Barrier blocks exactly `workers` callers per generation before releasing
// all of them together, the Go-channel equivalent of
// abortable_barrier.cpp's condition-variable wait: instead of polling a
// generation counter under a mutex, each generation gets its own channel
// that every waiter blocks on and the releasing caller closes.
type Barrier struct {
	mu      sync.Mutex
	workers int
	waiting int
	aborted bool
	ch      chan struct{}
}

func NewBarrier(workers int) *Barrier {
	return &Barrier{workers: workers, ch: make(chan struct{})}
}

// Wait blocks until `workers` goroutines have called Wait for the current
// generation, or until ctx is cancelled, or until Abort is called by any
// caller (including one that never calls Wait itself). The caller whose
// arrival completes the generation returns immediately without blocking.
func (b *Barrier) Wait(ctx context.Context) error {
	b.mu.Lock()
	if b.aborted {
		b.mu.Unlock()
		return ErrAborted
	}
	myGen := b.ch
	b.waiting++
	if b.waiting == b.workers {
		b.waiting = 0
		b.ch = make(chan struct{})
		close(myGen)
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	select {
	case <-myGen:
		b.mu.Lock()
		aborted := b.aborted
		b.mu.Unlock()
		if aborted {
			return ErrAborted
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Abort releases every current and future waiter with ErrAborted. It
// returns true exactly once, for the first caller — the convention
// spec.md section 4.6 uses to decide who logs the originating error.
func (b *Barrier) Abort() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.aborted {
		return false
	}
	b.aborted = true
	close(b.ch)
	return true
}

func (b *Barrier) Aborted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.aborted
}
