package tablejob

import (
	"sync"

	"github.com/willbryant/kitchen-sync/internal/schema"
)

// Job is the per-table state shared between the writer and any helpers
// working on the same table (spec.md section 3, "Table job"). All mutable
// fields are guarded by mu; WorkDone is signalled whenever a helper finishes
// a borrowed range so the writer (or an idle worker waiting to claim the
// job) can wake up and re-check its exit condition.
type Job struct {
	Table *schema.Table

	// Subdividable is derived once at construction time: true iff the table
	// has a single-column PK of signed-integer, unsigned-integer, or UUID
	// type. A false value forces single-writer, no-helpers operation, since
	// there's no way to split a range without a subdividable key.
	Subdividable bool

	mu sync.Mutex

	rangesToCheck    checkQueue
	rangesToRetrieve []RetrieveRange

	HashCommands          int64
	RowsCommands          int64
	HashCommandsCompleted int64

	// started and finished are false until set; the first worker to call
	// MarkStarted becomes the writer.
	started  bool
	finished bool

	// WorkDone is the borrowed_task_completed condition variable: helpers
	// broadcast on it after pushing a result back into the job so whoever is
	// waiting on completion or on more shareable work wakes up.
	WorkDone *sync.Cond
}

// New creates a Job for table, seeded with the whole-table range at
// priority 0.
func New(table *schema.Table, subdividable bool) *Job {
	j := &Job{
		Table:        table,
		Subdividable: subdividable,
	}
	j.WorkDone = sync.NewCond(&j.mu)
	j.rangesToCheck.push(CheckRange{
		PrevKey:              nil,
		LastKey:              nil,
		EstimatedRowsInRange: UnknownRowCount,
		RowsToHash:           1,
		Priority:             0,
	})
	return j
}

// Lock and Unlock expose the job mutex directly for callers (C6's scheduler,
// C7's engine) that need to hold it across several field accesses — mirrors
// how sync_to_algorithm.h takes table_job->mutex for the whole of
// handle_hash_response rather than field by field.
func (j *Job) Lock()   { j.mu.Lock() }
func (j *Job) Unlock() { j.mu.Unlock() }

// MarkStarted returns true if this call is the one that transitions the job
// from not-started to started, i.e. the caller becomes the writer. Must be
// called with the lock held.
func (j *Job) MarkStarted() (becameWriter bool) {
	if j.started {
		return false
	}
	j.started = true
	return true
}

// MarkFinished marks the job complete and wakes anyone waiting on it. Must
// be called with the lock held.
func (j *Job) MarkFinished() {
	j.finished = true
	j.WorkDone.Broadcast()
}

func (j *Job) Finished() bool {
	return j.finished
}

// Started reports whether any worker has claimed writer status yet. Must
// be called with the lock held.
func (j *Job) Started() bool {
	return j.started
}

// Shareable reports whether the job currently has enough queued work for a
// helper to usefully borrow a range from it: more than one range queued on
// a subdividable table whose writer has already started. This replaces
// the original's explicit tables_with_shareable_work registration with a
// predicate computed from the job's own state, so the scheduler never
// needs a second piece of state to keep in sync with the queue contents.
// Must be called with the lock held.
func (j *Job) Shareable() bool {
	return j.started && j.Subdividable && j.rangesToCheck.Len() > 1
}

// Done reports whether the job has no more work outstanding: both queues
// empty and every sent hash command has completed (spec.md section 3's
// completion rule). Must be called with the lock held.
func (j *Job) Done() bool {
	return j.rangesToCheck.Len() == 0 &&
		len(j.rangesToRetrieve) == 0 &&
		j.HashCommandsCompleted == j.HashCommands
}

// PushCheck pushes a range onto ranges_to_check. Must be called with the
// lock held.
func (j *Job) PushCheck(rng CheckRange) {
	j.rangesToCheck.push(rng)
}

// PopCheck pops the highest-priority range off ranges_to_check, or returns
// ok=false if empty. Must be called with the lock held.
func (j *Job) PopCheck() (CheckRange, bool) {
	return j.rangesToCheck.pop()
}

// CheckLen reports the current size of ranges_to_check. Must be called with
// the lock held.
func (j *Job) CheckLen() int {
	return j.rangesToCheck.Len()
}

// PushRetrieve pushes a range onto the ranges_to_retrieve FIFO. Only the
// writer may call this (spec.md section 3's invariant). Must be called with
// the lock held.
func (j *Job) PushRetrieve(rng RetrieveRange) {
	j.rangesToRetrieve = append(j.rangesToRetrieve, rng)
}

// PopRetrieve pops the oldest range off ranges_to_retrieve, or returns
// ok=false if empty. Must be called with the lock held.
func (j *Job) PopRetrieve() (RetrieveRange, bool) {
	if len(j.rangesToRetrieve) == 0 {
		return RetrieveRange{}, false
	}
	rng := j.rangesToRetrieve[0]
	j.rangesToRetrieve = j.rangesToRetrieve[1:]
	return rng, true
}

// RetrieveLen reports the current size of ranges_to_retrieve. Must be
// called with the lock held.
func (j *Job) RetrieveLen() int {
	return len(j.rangesToRetrieve)
}
