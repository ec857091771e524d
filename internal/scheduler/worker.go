package scheduler

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// WorkerFunc is the body one worker goroutine runs. workerID identifies
// the worker both for FindTableJob's "previously worked on" preference
// and for the snapshot choreography's leader/follower split (worker 0 is
// always the leader).
type WorkerFunc func(ctx context.Context, workerID int) error

// RunWorkers runs n workers concurrently, generalizing
// internal/start.RunAll's errgroup fan-out from independent top-level
// services to one run's table-sync worker pool: the first worker to
// return an error aborts the shared SyncQueue so every other worker
// unblocks at its next barrier or FindTableJob call instead of running to
// completion alone.
func RunWorkers(ctx context.Context, q *SyncQueue, n int, fn WorkerFunc) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		workerID := i
		g.Go(func() error {
			if err := fn(gctx, workerID); err != nil {
				q.Abort(err)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// SnapshotCoordinator is the subset of a worker's source connection the
// snapshot choreography drives. Implemented by internal/target.Engine.
type SnapshotCoordinator interface {
	ExportSnapshot(ctx context.Context) (token string, err error)
	ImportSnapshot(ctx context.Context, token string) error
	UnholdSnapshot(ctx context.Context) error
	WithoutSnapshot(ctx context.Context) error
}

// CoordinateSnapshot runs spec.md section 4.6's snapshot choreography.
// With snapshots disabled or a single worker, every worker just sends
// WITHOUT_SNAPSHOT; otherwise the three-barrier EXPORT/IMPORT/UNHOLD
// sequence runs with worker 0 as leader.
func CoordinateSnapshot(ctx context.Context, q *SyncQueue, workerID int, workers int, snapshotsEnabled bool, conn SnapshotCoordinator) error {
	if !snapshotsEnabled || workers == 1 {
		return conn.WithoutSnapshot(ctx)
	}

	if err := q.Barrier.Wait(ctx); err != nil {
		return err
	}

	if workerID == 0 {
		token, err := conn.ExportSnapshot(ctx)
		if err != nil {
			return err
		}
		q.SetSnapshot(token)
	}

	if err := q.Barrier.Wait(ctx); err != nil {
		return err
	}

	if workerID != 0 {
		if err := conn.ImportSnapshot(ctx, q.GetSnapshot()); err != nil {
			return err
		}
	}

	if err := q.Barrier.Wait(ctx); err != nil {
		return err
	}

	if workerID == 0 {
		return conn.UnholdSnapshot(ctx)
	}
	return nil
}
