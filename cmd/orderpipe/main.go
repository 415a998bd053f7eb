// orderpipe CLI — инструмент командной строки для запуска pipeline
// и просмотра runs, журнала и целевых заказов.
//
// Использование:
//
//	orderpipe [--api-url URL] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	run     trigger, list, show, logs (через API); exec, resume (локально, DB_URL)
//	logs    Журнал pipeline
//	target  Заказ в целевой таблице
//	db      migrate
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaiso/orderpipe/internal/app"
	"github.com/shaiso/orderpipe/internal/cli"
	"github.com/shaiso/orderpipe/internal/config"
	"github.com/shaiso/orderpipe/internal/repo"
	"github.com/shaiso/orderpipe/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd := cli.NewRootCmd(cli.RootConfig{
		Version: version,
		Local:   local,
		Migrate: migrate,
	})

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// logger пишет в stderr, чтобы не смешиваться с выводом команд.
func logger() *slog.Logger {
	if os.Getenv("LOG_LEVEL") == "" {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return telemetry.NewLogger(os.Stderr, telemetry.LogLevel(), "text")
}

func local(ctx context.Context) (*cli.Local, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg, logger(), app.Options{})
	if err != nil {
		return nil, err
	}
	return &cli.Local{
		Runner: a.Orchestrator,
		Runs:   a.Runs,
		Steps:  a.Steps,
		Close:  a.Close,
	}, nil
}

func migrate(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	pool, err := repo.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	return repo.Migrate(ctx, pool, logger())
}
