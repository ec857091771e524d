// Command kitchen-sync-source serves the source side of the Kitchen Sync
// protocol: it accepts connections from kitchen-sync-target workers and
// answers their requests against one shared in-memory reference database
// (see internal/driver/memdriver; a real SQL driver is out of core scope).
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
	"github.com/willbryant/kitchen-sync/internal/source"
	"github.com/willbryant/kitchen-sync/internal/start"
	"github.com/willbryant/kitchen-sync/internal/wire"
)

func main() {
	cfg := &config.Source{}
	cmd := &cobra.Command{
		Use:           "kitchen-sync-source",
		Short:         "Serve the source side of a kitchen-sync run",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			log, err := klog.New(1)
			if err != nil {
				return err
			}
			return start.Start(context.Background(), 5*time.Second, func(ctx context.Context) error {
				return serve(ctx, cfg, log)
			})
		},
	}
	cfg.RegisterFlags(cmd.Flags())

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// serve accepts connections until ctx is cancelled, closing the listener to
// unblock Accept the same way internal/start.Start's signal handler cancels
// the context it hands to the program body.
func serve(ctx context.Context, cfg *config.Source, log klog.Logger) error {
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	store := memdriver.NewStore()
	log.Infof("listening on %s", cfg.Listen)

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go serveConn(conn, store, log)
	}
}

func serveConn(conn net.Conn, store *memdriver.Store, log klog.Logger) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	log.Infof("worker connected from %s", remote)

	engine := source.New(wire.NewWriter(conn), wire.NewReader(conn), memdriver.NewConn(store), log.With("remote", remote))
	if err := engine.Serve(context.Background()); err != nil {
		log.Warnf("worker %s disconnected: %v", remote, err)
		return
	}
	log.Infof("worker %s finished", remote)
}
