package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/desertthunder/roundsync/internal/server"
	"github.com/desertthunder/roundsync/internal/shared"
)

// Serve runs the HTTP API with the lease sweeper until ctx is cancelled.
//
// A lock file keeps a second instance from serving against the same database.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	cfg := r.config.Server
	if host := cmd.String("host"); host != "" {
		cfg.Host = host
	}
	if port := int(cmd.Int("port")); port > 0 {
		cfg.Port = port
	}

	if cfg.LockFile != "" {
		lock := flock.New(cfg.LockFile)
		ok, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire lock: %w", err)
		}
		if !ok {
			return fmt.Errorf("another roundsync server holds %s", cfg.LockFile)
		}
		defer func() {
			if err := lock.Unlock(); err != nil {
				r.logger.Warn("failed to release server lock", "error", err)
			}
		}()
	}

	if err := r.open(ctx); err != nil {
		return err
	}

	logger := shared.WithLogger(r.logger, "component", "server")
	handler := server.NewHandler(r.engine, r.metrics, logger)
	// a sync may run for the whole lease
	srv := server.NewServer(cfg.Addr(), handler, r.leases.TTL()+30*time.Second, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r.leases.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return srv.Run(ctx)
	})
	return g.Wait()
}
