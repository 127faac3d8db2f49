package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/collector/internal/api"
	"github.com/opensource-finance/collector/internal/bus"
	"github.com/opensource-finance/collector/internal/cache"
	"github.com/opensource-finance/collector/internal/casework"
	"github.com/opensource-finance/collector/internal/dashboard"
	"github.com/opensource-finance/collector/internal/reconcile"
	"github.com/opensource-finance/collector/internal/repository"
	"github.com/opensource-finance/collector/internal/rules"
	"github.com/opensource-finance/collector/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, reconciliation schedule and workers",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("starting collector",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"rules", cfg.Rules.Path,
	)

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type, "two_phase", cfg.Cache.EnableTwoPhase)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	catalog := rules.NewCatalog(cfg.Rules.Path)
	if _, err := catalog.Snapshot(); err != nil {
		return fmt.Errorf("load rules: %w", err)
	}

	cases := casework.NewService(repo, catalog, casework.WithEventBus(busImpl))
	job := reconcile.NewJob(repo, catalog, reconcile.WithEventBus(busImpl))

	metrics := dashboard.NewService(repo, cacheImpl, cfg.Cache.DashboardTTL)
	if err := metrics.InvalidateOn(ctx, busImpl); err != nil {
		return fmt.Errorf("subscribe dashboard invalidation: %w", err)
	}
	defer metrics.Close()

	var sched *reconcile.Scheduler
	if cfg.Reconcile.Enabled {
		sched, err = reconcile.NewScheduler(cfg.Reconcile.Schedule, job, slog.Default())
		if err != nil {
			return err
		}
		sched.Start()
	}

	var reassess *worker.Worker
	if cfg.Worker.Enabled {
		reassess = worker.NewWorker(busImpl, cases, slog.Default())
		if err := reassess.Start(worker.Config{WorkerCount: cfg.Worker.WorkerCount}); err != nil {
			return fmt.Errorf("start reassessment worker: %w", err)
		}
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Cases:      cases,
		Rules:      catalog,
		Metrics:    metrics,
		Reconciler: job,
		Repo:       repo,
		Cache:      cacheImpl,
		Bus:        busImpl,
	}, Version)

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	slog.Info("collector is ready", "addr", srv.Addr())

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-serveErr:
		if err != nil {
			slog.Error("server failed", "error", err)
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			slog.Error("reconciliation did not stop in time", "error", err)
		}
	}
	if reassess != nil {
		if err := reassess.Stop(); err != nil {
			slog.Error("failed to stop reassessment worker", "error", err)
		}
	}

	slog.Info("collector shutdown complete")
	return nil
}
