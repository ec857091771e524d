// Package tablejob implements the per-table job state (spec.md section 3,
// "Table job"): the two work queues a writer and its helpers drain, and the
// counters and condition variable that let the scheduler know when a table
// is finished. Grounded in
// _examples/original_source/src/sync_table_data.h's TableJob fields and
// sync_to_algorithm.h's use of ranges_to_check/ranges_to_retrieve/
// borrowed_task_completed.
package tablejob

import (
	"container/heap"

	"github.com/willbryant/kitchen-sync/internal/schema"
)

// CheckRange is one entry of ranges_to_check: a candidate key range to hash,
// plus the adaptive state the target's algorithm (C7) needs to choose how
// many rows to request next time.
type CheckRange struct {
	PrevKey              schema.Row
	LastKey              schema.Row
	EstimatedRowsInRange int64 // UnknownRowCount if not yet known
	RowsToHash           int64
	Priority             int
}

// UnknownRowCount marks a CheckRange whose row count hasn't been estimated
// yet. C7's nextRowsToHash does not read EstimatedRowsInRange: a mismatched
// range is narrowed by splitting it at a key midpoint or retrieved whole,
// not re-checked with a halved row count.
const UnknownRowCount = -1

// RetrieveRange is one entry of ranges_to_retrieve: a range already known to
// contain a mismatch, queued for bulk re-fetch and DML by the writer.
type RetrieveRange struct {
	PrevKey schema.Row
	LastKey schema.Row
}

// checkQueue is a container/heap priority queue ordered by (priority desc,
// insertion order asc) — ties broken FIFO because a plain max-heap on
// priority alone is not stable, the same reason the original needs an
// explicit sequence number alongside std::priority_queue.
type checkQueue struct {
	items []checkQueueItem
	seq   int
}

type checkQueueItem struct {
	rng CheckRange
	seq int
}

func (q *checkQueue) Len() int { return len(q.items) }

func (q *checkQueue) Less(i, j int) bool {
	if q.items[i].rng.Priority != q.items[j].rng.Priority {
		return q.items[i].rng.Priority > q.items[j].rng.Priority
	}
	return q.items[i].seq < q.items[j].seq
}

func (q *checkQueue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }

func (q *checkQueue) Push(x any) {
	q.items = append(q.items, x.(checkQueueItem))
}

func (q *checkQueue) Pop() any {
	old := q.items
	n := len(old)
	item := old[n-1]
	q.items = old[:n-1]
	return item
}

func (q *checkQueue) push(rng CheckRange) {
	heap.Push(q, checkQueueItem{rng: rng, seq: q.seq})
	q.seq++
}

func (q *checkQueue) pop() (CheckRange, bool) {
	if q.Len() == 0 {
		return CheckRange{}, false
	}
	item := heap.Pop(q).(checkQueueItem)
	return item.rng, true
}
