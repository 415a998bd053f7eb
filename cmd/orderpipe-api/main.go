// orderpipe-api — HTTP API для запуска pipeline и чтения runs, журнала и целевых заказов.
//
// Запуск pipeline создаёт run в БД и публикует runs.pending;
// выполняют run процессы orderpipe-worker.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shaiso/orderpipe/internal/api"
	"github.com/shaiso/orderpipe/internal/app"
	"github.com/shaiso/orderpipe/internal/config"
	"github.com/shaiso/orderpipe/internal/telemetry"
)

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting orderpipe-api")

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

	handler := api.NewHandler(api.Config{
		Trigger:        a.Orchestrator,
		Runs:           a.Runs,
		Steps:          a.Steps,
		Logs:           a.Logs,
		Targets:        a.Orders,
		Uploader:       a.Uploader(),
		UploadMaxBytes: cfg.UploadMaxBytes,
		Logger:         logger,
	})

	mux := http.NewServeMux()
	telemetry.RegisterOps(mux, "api")
	handler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              config.Addr(cfg.APIPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := app.Serve(ctx, logger, server); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("orderpipe-api stopped")
}
