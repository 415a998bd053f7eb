// orderpipe-scheduler — запускает pipeline по расписанию PIPELINE_SCHEDULE.
//
// Несколько реплик безопасны: запускает только держатель advisory lock.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaiso/orderpipe/internal/app"
	"github.com/shaiso/orderpipe/internal/config"
	"github.com/shaiso/orderpipe/internal/repo"
	"github.com/shaiso/orderpipe/internal/scheduler"
	"github.com/shaiso/orderpipe/internal/telemetry"
)

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting orderpipe-scheduler")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Schedule == "" {
		logger.Error("PIPELINE_SCHEDULE is not set")
		os.Exit(1)
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, logger, app.Options{Queue: true})
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	sched, err := scheduler.New(scheduler.Config{
		Trigger:  a.Orchestrator,
		Locker:   repo.NewAdvisoryLock(a.Pool, repo.SchedulerLockKey),
		Schedule: cfg.Schedule,
		Location: cfg.ScheduleLocation(),
		Source:   cfg.SourceFile,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("invalid schedule", "error", err)
		os.Exit(1)
	}
	sched.Start(ctx)

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	telemetry.RegisterOps(mux, "scheduler")
	server := &http.Server{Addr: config.Addr(cfg.SchedPort), Handler: mux}

	if err := app.Serve(ctx, logger, server); err != nil {
		logger.Error("http server error", "error", err)
		cancel()
	}

	sched.Stop()
	logger.Info("orderpipe-scheduler stopped")
}
