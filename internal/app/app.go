// Package app собирает зависимости процессов orderpipe из Config.
//
// Все бинарники (api, worker, scheduler, CLI в локальном режиме) используют
// один и тот же граф: pool → repos → runlog → stages → sequencer → orchestrator.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/orderpipe/internal/config"
	"github.com/shaiso/orderpipe/internal/mq"
	"github.com/shaiso/orderpipe/internal/orchestrator"
	"github.com/shaiso/orderpipe/internal/repo"
	"github.com/shaiso/orderpipe/internal/runlog"
	"github.com/shaiso/orderpipe/internal/source"
	"github.com/shaiso/orderpipe/internal/stages"
)

// Options — что подключать помимо БД.
type Options struct {
	// Queue — подключиться к RabbitMQ. Недоступный брокер не считается ошибкой:
	// процесс продолжает работу через polling.
	Queue bool
}

// App — собранные зависимости процесса.
type App struct {
	Config *config.Config
	Pool   *pgxpool.Pool

	Runs   *repo.RunRepo
	Steps  *repo.StepRepo
	Logs   *repo.LogRepo
	Orders *repo.OrderRepo

	Store        source.ObjectStore
	Loader       *source.Loader
	Sink         *runlog.Sink
	Orchestrator *orchestrator.Orchestrator

	// Conn и Publisher — nil, если очередь не запрошена или недоступна.
	Conn      *mq.Connection
	Publisher *mq.Publisher

	logger *slog.Logger
}

// New подключается к БД, применяет миграции и собирает граф зависимостей.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := repo.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	logger.Info("database connected")

	if err := repo.Migrate(ctx, pool, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	store, err := cfg.ObjectStore()
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("object store: %w", err)
	}

	a := &App{
		Config: cfg,
		Pool:   pool,
		Runs:   repo.NewRunRepo(pool),
		Steps:  repo.NewStepRepo(pool),
		Logs:   repo.NewLogRepo(pool),
		Orders: repo.NewOrderRepo(pool),
		Store:  store,
		logger: logger,
	}

	srcCfg := cfg.SourceConfig(store)
	srcCfg.Logger = logger
	a.Loader = source.NewLoader(srcCfg)
	a.Sink = runlog.New(runlog.Config{Store: a.Logs, Logger: logger})

	if opts.Queue {
		a.connectQueue(ctx)
	}

	var notifier orchestrator.Notifier
	if a.Publisher != nil {
		notifier = a.Publisher
	}

	sequencer := orchestrator.NewSequencer(orchestrator.SequencerConfig{
		Runs:  a.Runs,
		Steps: a.Steps,
		Stages: stages.Pipeline(stages.Config{
			Orders: a.Orders,
			Loader: a.Loader,
			Logger: logger,
		}),
		Sink:   a.Sink,
		Logger: logger,
	})

	a.Orchestrator = orchestrator.New(orchestrator.Config{
		Registry:      orchestrator.NewRegistry(a.Runs, logger),
		Sequencer:     sequencer,
		Notifier:      notifier,
		PipelineName:  cfg.PipelineName,
		DefaultSource: cfg.SourceFile,
		Logger:        logger,
	})

	return a, nil
}

// connectQueue подключает RabbitMQ и объявляет топологию.
func (a *App) connectQueue(ctx context.Context) {
	url := a.Config.RabbitMQURL
	if url == "" {
		url = mq.DefaultURL()
	}

	conn, err := mq.NewConnection(url, a.logger)
	if err != nil {
		a.logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
		return
	}
	a.logger.Info("RabbitMQ connected")

	if err := mq.SetupTopology(ctx, conn); err != nil {
		a.logger.Warn("failed to setup topology", "error", err)
	} else {
		a.logger.Debug("topology declared", "topology", mq.TopologyInfo())
	}

	a.Conn = conn
	a.Publisher = mq.NewPublisher(conn, a.logger)
}

// Uploader возвращает хранилище для файлов, загруженных через API.
func (a *App) Uploader() source.Uploader {
	if a.Config.UploadBucket != "" && a.Store != nil {
		return source.ObjectUploader{Store: a.Store, Bucket: a.Config.UploadBucket, Prefix: "uploads/"}
	}
	return source.LocalUploader{Dir: a.Config.LandingDir}
}

// Close освобождает соединения.
func (a *App) Close() error {
	var errs []error
	if a.Conn != nil {
		if err := a.Conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close rabbitmq: %w", err))
		}
	}
	a.Pool.Close()
	return errors.Join(errs...)
}
