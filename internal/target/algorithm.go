package target

import (
	"context"

	"github.com/willbryant/kitchen-sync/internal/applier"
	"github.com/willbryant/kitchen-sync/internal/keyrange"
	"github.com/willbryant/kitchen-sync/internal/schema"
	"github.com/willbryant/kitchen-sync/internal/tablejob"
	"github.com/willbryant/kitchen-sync/internal/wire"
)

// SyncTable drives one table to convergence. The first worker to call this
// for a table becomes its writer (tablejob.Job.MarkStarted) and runs the
// whole bootstrap-through-completion sequence in this one call; every
// later call for that table, by the same or a different worker, is a
// helper doing exactly one unit of shared work (one popped check range, or
// an IDLE round trip if nothing is poppable) before returning control to
// the caller's own FindTableJob loop, per spec.md section 4.5.
func (e *Engine) SyncTable(ctx context.Context, tableID string, job *tablejob.Job) error {
	job.Lock()
	becameWriter := job.MarkStarted()
	job.Unlock()

	if !becameWriter {
		return e.syncAsHelper(ctx, tableID, job)
	}

	app := applier.New(e.conn, job.Table, e.commitLevel, e.insertOnly)
	if err := e.bootstrapRange(ctx, tableID, job, app); err != nil {
		return err
	}
	if err := e.drainAsWriter(ctx, tableID, job, app); err != nil {
		return err
	}
	if err := e.conn.ResetSequences(ctx, job.Table); err != nil {
		return err
	}
	if err := app.Apply(ctx); err != nil {
		return err
	}

	job.Lock()
	job.MarkFinished()
	job.Unlock()
	if e.Notify != nil {
		e.Notify()
	}
	return nil
}

// bootstrapRange implements spec.md section 4.7's "Range bootstrap": fetch
// the source's current key bounds, drop whatever the target holds outside
// them, bulk-fetch any newly appended tail, then queue the initial
// check-range (split once if subdividable).
func (e *Engine) bootstrapRange(ctx context.Context, tableID string, job *tablejob.Job, app *applier.Applier) error {
	firstKey, lastKey, err := e.sendRange(tableID)
	if err != nil {
		return err
	}
	if err := app.ClearOutsideRange(ctx, firstKey, lastKey); err != nil {
		return err
	}

	localLastKey, err := e.conn.LastKey(ctx, job.Table)
	if err != nil {
		return err
	}
	if !schema.EqualKeys(localLastKey, lastKey) {
		if err := e.streamRows(ctx, tableID, localLastKey, lastKey, app.InsertRow); err != nil {
			return err
		}
		localLastKey = lastKey
	}

	return e.initialSplit(ctx, job, localLastKey)
}

// initialSplit queues (∅, localLastKey] as the table's first check-range,
// splitting it once at an estimated midpoint if the table is subdividable
// (spec.md section 4.7's bootstrap, last sentence). tablejob.New seeds every
// job with a placeholder whole-table (∅, ∅] range so a freshly-constructed
// job is already poppable before any worker reaches this method; that
// placeholder is stale by the time bootstrapRange has resolved the table's
// real bounds, so it's drained here before the real range(s) go on.
func (e *Engine) initialSplit(ctx context.Context, job *tablejob.Job, localLastKey schema.Row) error {
	drainSeed := func() {
		for {
			if _, ok := job.PopCheck(); !ok {
				return
			}
		}
	}

	pushSingle := func() {
		job.Lock()
		drainSeed()
		job.PushCheck(tablejob.CheckRange{
			PrevKey:              nil,
			LastKey:              localLastKey,
			EstimatedRowsInRange: tablejob.UnknownRowCount,
			RowsToHash:           1,
			Priority:             0,
		})
		job.Unlock()
	}

	if !job.Subdividable || localLastKey == nil {
		pushSingle()
		return nil
	}

	firstKey, err := e.conn.FirstKey(ctx, job.Table)
	if err != nil || firstKey == nil {
		pushSingle()
		return nil
	}

	colType := job.Table.PrimaryKeyColumnType()
	mid, ok := keyrange.Subdivide(colType, firstKey[0], localLastKey[0])
	if !ok {
		pushSingle()
		return nil
	}

	refined, err := e.refineMidpoint(ctx, job.Table, mid, localLastKey)
	if err != nil || refined == nil {
		pushSingle()
		return nil
	}

	job.Lock()
	drainSeed()
	job.PushCheck(tablejob.CheckRange{
		PrevKey:              nil,
		LastKey:              refined,
		EstimatedRowsInRange: tablejob.UnknownRowCount,
		RowsToHash:           1,
		Priority:             1,
	})
	job.PushCheck(tablejob.CheckRange{
		PrevKey:              refined,
		LastKey:              localLastKey,
		EstimatedRowsInRange: tablejob.UnknownRowCount,
		RowsToHash:           1,
		Priority:             1,
	})
	job.Unlock()
	return nil
}

// refineMidpoint resolves spec.md section 4.4's "the target refines the
// returned midpoint" step against the target's own local connection: no
// wire verb exists for asking the source to do this refinement, and the
// target already has a local copy of every key up to localLastKey by
// definition of the range being split. Returns nil if no suitable key
// exists at or beyond mid before upperBound.
func (e *Engine) refineMidpoint(ctx context.Context, table *schema.Table, mid wire.Value, upperBound schema.Row) (schema.Row, error) {
	key, err := e.conn.FirstKeyNotEarlierThan(ctx, table, schema.Row{mid})
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, nil
	}
	if schema.CompareKeys(key, upperBound) >= 0 {
		return nil, nil
	}
	return key, nil
}

// drainAsWriter is the writer's main loop: pipeline HASH commands against
// ranges_to_check while also draining ranges_to_retrieve, until both
// queues are empty and every sent HASH has a reply (tablejob.Job.Done).
func (e *Engine) drainAsWriter(ctx context.Context, tableID string, job *tablejob.Job, app *applier.Applier) error {
	var pending []tablejob.CheckRange

	for {
		job.Lock()
		if rng, ok := job.PopRetrieve(); ok {
			job.Unlock()
			if err := e.retrieveAndApply(ctx, tableID, job.Table, rng, app); err != nil {
				return err
			}
			continue
		}

		if len(pending) < maxCommandsToPipeline {
			if rng, ok := job.PopCheck(); ok {
				job.HashCommands++
				job.Unlock()
				if err := e.sendHash(tableID, rng.PrevKey, rng.LastKey, rng.RowsToHash); err != nil {
					return err
				}
				if err := e.w.Flush(); err != nil {
					return err
				}
				pending = append(pending, rng)
				continue
			}
		}

		if len(pending) > 0 {
			rng := pending[0]
			pending = pending[1:]
			job.Unlock()
			if err := e.readAndHandleHash(ctx, job, rng, true); err != nil {
				return err
			}
			continue
		}

		if job.Done() {
			job.Unlock()
			return nil
		}
		job.WorkDone.Wait()
		job.Unlock()
	}
}

// syncAsHelper performs exactly one unit of borrowed work on job: pop one
// shareable check range and run its hash round trip, or send IDLE if
// nothing is poppable right now (spec.md section 4.5).
func (e *Engine) syncAsHelper(ctx context.Context, tableID string, job *tablejob.Job) error {
	job.Lock()
	rng, ok := job.PopCheck()
	if ok {
		job.HashCommands++
	}
	job.Unlock()

	if !ok {
		return e.sendIdle()
	}

	if err := e.sendHash(tableID, rng.PrevKey, rng.LastKey, rng.RowsToHash); err != nil {
		return err
	}
	if err := e.w.Flush(); err != nil {
		return err
	}
	return e.readAndHandleHash(ctx, job, rng, false)
}

// readAndHandleHash reads the source's HASH reply, computes the matching
// local hash, and feeds both into handleHashResponse under the job lock.
func (e *Engine) readAndHandleHash(ctx context.Context, job *tablejob.Job, rng tablejob.CheckRange, isWriter bool) error {
	resp, err := e.readHashResponse()
	if err != nil {
		return err
	}
	rowCount, size, _, digest, err := e.computeLocalHash(ctx, job.Table, rng.PrevKey, rng.LastKey, rng.RowsToHash)
	if err != nil {
		return err
	}
	matched := rowCount == resp.rowCount && bytesEqual(digest, resp.digest)

	job.Lock()
	job.HashCommandsCompleted++
	e.handleHashResponse(job, rng, resp, rowCount, size, matched, isWriter)
	job.WorkDone.Broadcast()
	job.Unlock()
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// nextRowsToHash implements spec.md section 4.7's adaptive ladder: double
// the request size while comfortably under the block-size budget, else
// scale down proportionally so the next request lands close to the budget
// rather than overshooting it.
func nextRowsToHash(rowCount int64, size int, maxBlockSize int64) int64 {
	if rowCount <= 0 {
		return 1
	}
	if int64(size) <= maxBlockSize/2 {
		return rowCount * 2
	}
	next := rowCount * maxBlockSize / int64(size)
	if next < 1 {
		next = 1
	}
	return next
}

// handleHashResponse applies spec.md section 4.7's branching once a HASH
// round trip completes for rng. Must be called with job's lock held.
func (e *Engine) handleHashResponse(job *tablejob.Job, rng tablejob.CheckRange, resp hashResult, rowCount int64, size int, matched, isWriter bool) {
	exhausted := rowCount < rng.RowsToHash
	if !exhausted && !schema.EqualKeys(resp.lastKeyActuallyHashed, rng.LastKey) {
		nextSize := rng.RowsToHash
		if matched {
			nextSize = nextRowsToHash(rowCount, size, e.maxBlockSize)
		}
		e.requeueRemainder(job, resp.lastKeyActuallyHashed, rng.LastKey, nextSize, rng.Priority)
	}

	if matched {
		return
	}

	// Mismatch on the portion actually checked: either split further to
	// narrow it down, or queue it for retrieval.
	checkedRange := tablejob.CheckRange{
		PrevKey:              rng.PrevKey,
		LastKey:              resp.lastKeyActuallyHashed,
		EstimatedRowsInRange: rowCount,
		RowsToHash:           1,
		Priority:             rng.Priority + 1,
	}
	if job.Subdividable && rowCount > 1 && int64(size) > e.minBlockSize {
		if mid, ok := e.splitMismatch(job.Table, checkedRange); ok {
			job.PushCheck(tablejob.CheckRange{PrevKey: checkedRange.PrevKey, LastKey: mid, EstimatedRowsInRange: tablejob.UnknownRowCount, RowsToHash: 1, Priority: checkedRange.Priority})
			job.PushCheck(tablejob.CheckRange{PrevKey: mid, LastKey: checkedRange.LastKey, EstimatedRowsInRange: tablejob.UnknownRowCount, RowsToHash: 1, Priority: checkedRange.Priority})
			return
		}
	}
	if !isWriter {
		// Helpers never push to ranges_to_retrieve (spec.md section 3's
		// single-writer invariant); re-queue so whichever worker next pops
		// this range — possibly the writer itself — makes the retrieve
		// decision.
		job.PushCheck(checkedRange)
		return
	}
	job.PushRetrieve(tablejob.RetrieveRange{PrevKey: checkedRange.PrevKey, LastKey: checkedRange.LastKey})
}

// splitMismatch estimates a midpoint inside a mismatched range using only
// its endpoints, the same subdivision formula used for the initial split,
// for error-hunting mode (narrowing a known-bad range instead of widening
// a known-good one).
func (e *Engine) splitMismatch(table *schema.Table, rng tablejob.CheckRange) (schema.Row, bool) {
	if rng.PrevKey == nil || rng.LastKey == nil {
		return nil, false
	}
	colType := table.PrimaryKeyColumnType()
	mid, ok := keyrange.Subdivide(colType, rng.PrevKey[0], rng.LastKey[0])
	if !ok {
		return nil, false
	}
	return schema.Row{mid}, true
}

// requeueRemainder queues whatever of rng's original span wasn't actually
// hashed this round (the source may return fewer rows, or a lower last key,
// than requested). Splits it in two if subdividable and both bounds are
// known, otherwise re-queues it whole at an unchanged priority.
func (e *Engine) requeueRemainder(job *tablejob.Job, from, to schema.Row, rowsToHash int64, priority int) {
	if job.Subdividable && from != nil && to != nil {
		colType := job.Table.PrimaryKeyColumnType()
		if mid, ok := keyrange.Subdivide(colType, from[0], to[0]); ok {
			job.PushCheck(tablejob.CheckRange{PrevKey: from, LastKey: schema.Row{mid}, EstimatedRowsInRange: tablejob.UnknownRowCount, RowsToHash: rowsToHash, Priority: priority + 1})
			job.PushCheck(tablejob.CheckRange{PrevKey: schema.Row{mid}, LastKey: to, EstimatedRowsInRange: tablejob.UnknownRowCount, RowsToHash: rowsToHash, Priority: priority + 1})
			return
		}
	}
	job.PushCheck(tablejob.CheckRange{PrevKey: from, LastKey: to, EstimatedRowsInRange: tablejob.UnknownRowCount, RowsToHash: rowsToHash, Priority: priority})
}

// retrieveAndApply clears a known-mismatched range and re-fetches it in
// full from the source (spec.md section 4.3's retrieve-and-apply step).
func (e *Engine) retrieveAndApply(ctx context.Context, tableID string, table *schema.Table, rng tablejob.RetrieveRange, app *applier.Applier) error {
	if err := app.ClearRange(ctx, rng.PrevKey, rng.LastKey); err != nil {
		return err
	}
	if err := e.streamRows(ctx, tableID, rng.PrevKey, rng.LastKey, app.InsertRow); err != nil {
		return err
	}
	return app.Apply(ctx)
}
