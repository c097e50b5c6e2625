// Package app provides the top-level application lifecycle for the kalshi
// bot. It wires together the exchange client, stores, caches, pipeline stages,
// and the HTTP trigger API, and runs either the long-lived server or a single
// one-shot job.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/kalshibot/internal/config"
	"github.com/alanyoungcy/kalshibot/internal/jobs"
	"github.com/alanyoungcy/kalshibot/internal/server"
	"github.com/alanyoungcy/kalshibot/internal/server/handler"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies and serves the HTTP trigger API until the
// context is cancelled. Scheduling is external: cron (or an operator) POSTs
// to the job routes, and the redis leases keep overlapping triggers safe.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("log_level", a.cfg.LogLevel),
		slog.Bool("dry_run", a.cfg.Trading.DryRun),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "server disabled, idling until shutdown")
		<-ctx.Done()
		return ctx.Err()
	}

	srv := server.NewServer(
		server.Config{Port: a.cfg.Server.Port, APIKey: a.cfg.Server.APIKey},
		server.Handlers{
			Health: handler.NewHealthHandler(a.logger),
			Jobs:   handler.NewJobsHandler(deps.Runner, a.logger),
			Trades: handler.NewTradesHandler(deps.TradeStore, a.logger),
		},
		a.logger,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	if interval := a.cfg.Jobs.RefreshInterval.Duration; interval > 0 {
		g.Go(func() error {
			a.refreshLoop(gctx, deps, interval)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil && err != context.Canceled {
		return fmt.Errorf("app: %w", err)
	}
	return ctx.Err()
}

// refreshLoop keeps the market cache warm between externally triggered runs.
// The lease inside the runner makes a tick harmless when an HTTP trigger is
// already refreshing.
func (a *App) refreshLoop(ctx context.Context, deps *Dependencies, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := deps.Runner.Run(ctx, jobs.JobRefreshCache)
			if err != nil {
				a.logger.ErrorContext(ctx, "cache refresh failed",
					slog.String("error", err.Error()),
				)
				continue
			}
			if result.Skipped {
				a.logger.DebugContext(ctx, "cache refresh skipped, lease busy")
			}
		}
	}
}

// RunJob wires all dependencies, executes a single named job, prints its
// result envelope to stdout, and exits. This is the entry point cron-style
// schedulers use instead of the HTTP API.
func (a *App) RunJob(ctx context.Context, job string) error {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	result, err := deps.Runner.Run(ctx, job)
	if err != nil {
		return fmt.Errorf("app: job %s: %w", job, err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("app: encode result: %w", err)
	}
	return nil
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
