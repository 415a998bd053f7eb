// orderpipe-worker — выполняет runs pipeline.
//
// Worker:
//   - Получает новые runs из очереди runs.pending
//   - Периодически опрашивает БД (работает и без RabbitMQ)
//   - Закрепляет run атомарно, поэтому workers масштабируются горизонтально
//   - После перезапуска доводит runs, закреплённые за тем же WORKER_ID
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaiso/orderpipe/internal/app"
	"github.com/shaiso/orderpipe/internal/config"
	"github.com/shaiso/orderpipe/internal/telemetry"
	"github.com/shaiso/orderpipe/internal/worker"
)

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting orderpipe-worker")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
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

	w := worker.New(worker.Config{
		Runs:         a.Runs,
		Executor:     a.Orchestrator,
		Conn:         a.Conn,
		WorkerID:     cfg.WorkerID,
		PollInterval: cfg.WorkerPollInterval,
		Concurrency:  cfg.WorkerConcurrency,
		Logger:       logger,
	})

	if err := w.Start(ctx); err != nil {
		logger.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	telemetry.RegisterOps(mux, "worker")
	server := &http.Server{Addr: config.Addr(cfg.WorkerPort), Handler: mux}

	if err := app.Serve(ctx, logger, server); err != nil {
		logger.Error("http server error", "error", err)
		cancel()
	}

	// Начатые runs доводятся до конца.
	w.Stop()
	logger.Info("orderpipe-worker stopped")
}
