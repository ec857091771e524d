// Command kitchen-sync-target drives a sync run against a
// kitchen-sync-source process: it fetches the source's table definitions,
// mirrors them into a local in-memory reference database (see
// internal/driver/memdriver; real destination drivers are out of core
// scope), then runs the worker pool that brings that database in sync.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/willbryant/kitchen-sync/internal/config"
	"github.com/willbryant/kitchen-sync/internal/driver/memdriver"
	"github.com/willbryant/kitchen-sync/internal/klog"
	"github.com/willbryant/kitchen-sync/internal/scheduler"
	"github.com/willbryant/kitchen-sync/internal/schema"
	"github.com/willbryant/kitchen-sync/internal/start"
	"github.com/willbryant/kitchen-sync/internal/tablejob"
	"github.com/willbryant/kitchen-sync/internal/target"
	"github.com/willbryant/kitchen-sync/internal/wire"
)

func main() {
	cfg := &config.Target{}
	cmd := &cobra.Command{
		Use:           "kitchen-sync-target",
		Short:         "Sync a local database against a kitchen-sync-source process",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			log, err := klog.New(cfg.Verbose)
			if err != nil {
				return err
			}
			return start.Start(context.Background(), 5*time.Second, func(ctx context.Context) error {
				return run(ctx, cfg, log)
			})
		},
	}
	cfg.RegisterFlags(cmd.Flags())

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// dialWorker opens one worker's connection to the source and negotiates the
// handshake/algorithm/block-size state every worker needs before it can
// call SyncTable, mirroring the per-connection setup
// _examples/original_source/src/sync_to.h performs for each spawned thread.
func dialWorker(ctx context.Context, cfg *config.Target, conn net.Conn, destConn *memdriver.Conn, log klog.Logger) (*target.Engine, error) {
	commitLevel, err := cfg.CommitLevel()
	if err != nil {
		return nil, err
	}
	algorithm, err := cfg.Algorithm()
	if err != nil {
		return nil, err
	}

	engine := target.New(wire.NewWriter(conn), wire.NewReader(conn), destConn, log, commitLevel, cfg.InsertOnly)
	engine.SetAlgorithm(algorithm)
	// --block-size is the one CLI knob spec.md's ambient stack calls for;
	// it becomes the negotiated maximum, with the minimum scaled down from
	// it so a mismatch is never subdivided below a sensible floor.
	engine.SetBlockSizes(cfg.BlockSize/4096+1, cfg.BlockSize)

	if err := engine.Handshake(ctx); err != nil {
		return nil, err
	}
	if err := engine.SendHashAlgorithm(ctx); err != nil {
		return nil, err
	}
	if err := engine.SendTargetBlockSize(ctx); err != nil {
		return nil, err
	}
	return engine, nil
}

func run(ctx context.Context, cfg *config.Target, log klog.Logger) error {
	destStore := memdriver.NewStore()

	bootstrapConn, err := net.Dial("tcp", cfg.Connect)
	if err != nil {
		return fmt.Errorf("connecting worker 0: %w", err)
	}
	engines := make([]*target.Engine, cfg.Workers)
	conns := make([]net.Conn, cfg.Workers)
	conns[0] = bootstrapConn
	engines[0], err = dialWorker(ctx, cfg, bootstrapConn, memdriver.NewConn(destStore), log.With("worker", 0))
	if err != nil {
		return err
	}

	sourceTables, err := engines[0].FetchSchema(ctx)
	if err != nil {
		return fmt.Errorf("fetching source schema: %w", err)
	}

	var wanted []*schema.Table
	for _, t := range sourceTables {
		if cfg.WantsTable(t.Name) {
			wanted = append(wanted, t)
		}
	}
	if len(wanted) == 0 {
		log.Warnf("no tables selected to sync")
		return engines[0].Quit()
	}

	// The destination schema isn't reflected or generated from scratch by
	// the sync protocol itself (out of scope); this just mirrors the
	// source's column layout into the local reference store so there's
	// something to apply rows against.
	entries := make([]*scheduler.TableEntry, 0, len(wanted))
	for _, t := range wanted {
		destStore.CreateTable(t)
		entries = append(entries, &scheduler.TableEntry{
			Name: t.Name,
			Job:  tablejob.New(t, t.Subdividable()),
		})
	}

	for i := 1; i < cfg.Workers; i++ {
		conns[i], err = net.Dial("tcp", cfg.Connect)
		if err != nil {
			return fmt.Errorf("connecting worker %d: %w", i, err)
		}
		engines[i], err = dialWorker(ctx, cfg, conns[i], memdriver.NewConn(destStore), log.With("worker", i))
		if err != nil {
			return err
		}
	}
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	q := scheduler.NewSyncQueue(cfg.Workers, entries)
	runErr := scheduler.RunWorkers(ctx, q, cfg.Workers, func(ctx context.Context, workerID int) error {
		return workerLoop(ctx, q, engines[workerID], workerID, cfg)
	})

	for i, e := range engines {
		if err := e.Quit(); err != nil && runErr == nil {
			log.Warnf("worker %d: quit: %v", i, err)
		}
	}
	if runErr != nil {
		return runErr
	}
	log.Infof("sync complete: %d table(s)", len(entries))
	return nil
}

// workerLoop is the body one worker goroutine runs: agree on the shared
// snapshot, then keep pulling table jobs until the queue is drained or
// aborted (spec.md section 4.6's find_table_job loop).
func workerLoop(ctx context.Context, q *scheduler.SyncQueue, engine *target.Engine, workerID int, cfg *config.Target) error {
	if err := scheduler.CoordinateSnapshot(ctx, q, workerID, cfg.Workers, cfg.Snapshot, engine); err != nil {
		return err
	}

	for {
		entry, err := q.FindTableJob(workerID)
		if err != nil {
			return err
		}
		if entry == nil {
			return nil
		}
		if err := engine.SyncTable(ctx, entry.Name, entry.Job); err != nil {
			return err
		}
		q.NotifyWorkChanged()
	}
}
