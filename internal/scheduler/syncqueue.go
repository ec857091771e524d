package scheduler

import (
	"sort"
	"sync"

	"github.com/willbryant/kitchen-sync/internal/tablejob"
)

// TableEntry pairs a table name with its job, the unit SyncQueue hands out
// to workers.
type TableEntry struct {
	Name string
	Job  *tablejob.Job
}

// SyncQueue is the process-wide shared state from spec.md section 3:
// the table work list, cross-worker sharing, the abort flag, and the
// snapshot token agreed during the EXPORT_SNAPSHOT/IMPORT_SNAPSHOT
// choreography. One SyncQueue is created per run and shared by every
// worker goroutine; it never shares a database connection, only
// coordination state (spec.md section 5).
type SyncQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	tables   []*TableEntry // sorted by name once, at construction
	workedOn map[int]map[string]bool

	aborted  bool
	abortErr error

	Barrier  *Barrier
	Snapshot string
}

func NewSyncQueue(workers int, tables []*TableEntry) *SyncQueue {
	sorted := append([]*TableEntry(nil), tables...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	q := &SyncQueue{
		tables:   sorted,
		workedOn: make(map[int]map[string]bool),
		Barrier:  NewBarrier(workers),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Abort marks the run aborted, wakes every FindTableJob waiter and every
// Barrier waiter, and records err if this is the first call (spec.md
// section 4.6's "returns true exactly once" rule, mirrored here across
// both the queue and the barrier since they share one run's abort state).
func (q *SyncQueue) Abort(err error) (first bool) {
	q.mu.Lock()
	if !q.aborted {
		q.aborted = true
		q.abortErr = err
	}
	first = q.Barrier.Abort()
	q.cond.Broadcast()
	q.mu.Unlock()
	return first
}

func (q *SyncQueue) AbortErr() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.abortErr
}

// SetSnapshot records the snapshot token the leader exported, for
// followers to pick up after the next barrier (spec.md section 4.6's
// snapshot choreography, step 2).
func (q *SyncQueue) SetSnapshot(token string) {
	q.mu.Lock()
	q.Snapshot = token
	q.mu.Unlock()
}

func (q *SyncQueue) GetSnapshot() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.Snapshot
}

// NotifyWorkChanged wakes any worker blocked in FindTableJob, for callers
// that just pushed new ranges, finished a job, or otherwise changed
// whether a table has available work. TableJob state changes happen under
// the job's own lock, which FindTableJob also needs, so this is a
// separate call rather than something Job does for itself — the job type
// has no back-reference to its queue, so ownership stays one-way.
func (q *SyncQueue) NotifyWorkChanged() {
	q.mu.Lock()
	q.cond.Broadcast()
	q.mu.Unlock()
}

// FindTableJob implements spec.md section 4.6's find_table_job: blocks
// until either a job with unfinished work is available for workerID, or
// every table is finished (returns nil, nil — "drained"). Preference
// order: a table this worker has worked on before; else the alphabetically
// earliest unstarted table; else any table with shareable work.
func (q *SyncQueue) FindTableJob(workerID int) (*TableEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.aborted {
			return nil, ErrAborted
		}
		if e := q.pick(workerID); e != nil {
			q.markWorkedLocked(workerID, e.Name)
			return e, nil
		}
		if q.allFinishedLocked() {
			return nil, nil
		}
		q.cond.Wait()
	}
}

func (q *SyncQueue) pick(workerID int) *TableEntry {
	for _, e := range q.tables {
		if q.hasWorkedOnLocked(workerID, e.Name) && hasWork(e) {
			return e
		}
	}
	for _, e := range q.tables {
		if isUnstarted(e) {
			return e
		}
	}
	for _, e := range q.tables {
		if isShareable(e) {
			return e
		}
	}
	return nil
}

func hasWork(e *TableEntry) bool {
	e.Job.Lock()
	defer e.Job.Unlock()
	return !e.Job.Finished()
}

func isUnstarted(e *TableEntry) bool {
	e.Job.Lock()
	defer e.Job.Unlock()
	return !e.Job.Finished() && !e.Job.Started()
}

func isShareable(e *TableEntry) bool {
	e.Job.Lock()
	defer e.Job.Unlock()
	return !e.Job.Finished() && e.Job.Shareable()
}

func (q *SyncQueue) allFinishedLocked() bool {
	for _, e := range q.tables {
		e.Job.Lock()
		finished := e.Job.Finished()
		e.Job.Unlock()
		if !finished {
			return false
		}
	}
	return true
}

func (q *SyncQueue) hasWorkedOnLocked(workerID int, name string) bool {
	return q.workedOn[workerID] != nil && q.workedOn[workerID][name]
}

func (q *SyncQueue) markWorkedLocked(workerID int, name string) {
	if q.workedOn[workerID] == nil {
		q.workedOn[workerID] = make(map[string]bool)
	}
	q.workedOn[workerID][name] = true
}
