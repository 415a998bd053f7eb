package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/orderpipe/internal/domain"
	"github.com/shaiso/orderpipe/internal/mq"
	"github.com/shaiso/orderpipe/internal/repo"
	"github.com/shaiso/orderpipe/internal/telemetry"
	"golang.org/x/sync/semaphore"
)

// Default configuration values.
const (
	defaultPollInterval = 10 * time.Second
	defaultBatchSize    = 50
	defaultConcurrency  = 4
)

// Источники, из которых worker узнал о run.
const (
	sourceQueue   = "queue"
	sourcePoll    = "poll"
	sourceRecover = "recover"
)

// RunQueue — выборка и закрепление runs.
type RunQueue interface {
	ListUnclaimed(ctx context.Context, limit int) ([]domain.Run, error)
	ListClaimedBy(ctx context.Context, workerID string, limit int) ([]domain.Run, error)
	Claim(ctx context.Context, id uuid.UUID, workerID string) error
}

// Executor выполняет run до финального статуса.
type Executor interface {
	Execute(ctx context.Context, runID uuid.UUID, sourceRef string) (uuid.UUID, error)
}

// Worker забирает runs и выполняет их.
//
// О новых runs worker узнаёт из очереди runs.pending и из периодического
// опроса БД. Run выполняется только после успешного Claim, поэтому
// несколько workers могут работать над одной БД.
type Worker struct {
	runs     RunQueue
	executor Executor
	conn     *mq.Connection
	consumer *mq.Consumer

	workerID     string
	pollInterval time.Duration
	batchSize    int
	slots        *semaphore.Weighted
	concurrency  int

	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup // циклы
	executions sync.WaitGroup // выполняемые runs
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Worker.
type Config struct {
	Runs     RunQueue
	Executor Executor

	// Conn — опционально. Без соединения worker работает только через polling.
	Conn *mq.Connection

	// WorkerID — идентификатор для Claim. По умолчанию hostname.
	// Должен сохраняться между перезапусками, иначе recoverClaimed не найдёт
	// runs, забранные до падения. Несколько workers на одном хосте
	// получают разные WorkerID явно.
	WorkerID string

	PollInterval time.Duration // default: 10s
	BatchSize    int           // default: 50
	Concurrency  int           // одновременно выполняемых runs, default: 4

	Logger *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = DefaultWorkerID()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		runs:         cfg.Runs,
		executor:     cfg.Executor,
		conn:         cfg.Conn,
		workerID:     workerID,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		slots:        semaphore.NewWeighted(int64(concurrency)),
		concurrency:  concurrency,
		logger:       logger.With("component", "worker", "worker_id", workerID),
	}
}

// DefaultWorkerID возвращает hostname: он не меняется при перезапуске процесса.
func DefaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "worker"
	}
	return host
}

// ID возвращает идентификатор worker'а.
func (w *Worker) ID() string {
	return w.workerID
}

// Start запускает Worker.
//
// Запускает:
//   - consumer для runs.pending (если есть соединение)
//   - polling горутину; перед первым poll она доводит runs,
//     закреплённые за этим worker'ом до перезапуска
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.logger.Info("starting worker",
		"poll_interval", w.pollInterval,
		"batch_size", w.batchSize,
		"concurrency", w.concurrency,
		"queue", w.conn != nil && w.conn.IsConnected(),
	)

	if w.conn != nil {
		w.consumer = mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
			Queue:    mq.QueueRunsPending,
			Handler:  w.handleRunPending,
			Prefetch: w.concurrency,
		})

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			if err := w.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("run consumer error", "error", err)
			}
		}()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.recoverClaimed(ctx)
		w.pollLoop(ctx)
	}()

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает приём новых runs и ждёт завершения уже начатых.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}
	if w.consumer != nil {
		w.consumer.Stop()
	}

	w.wg.Wait()
	w.executions.Wait()

	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}

// handleRunPending обрабатывает уведомление из runs.pending.
func (w *Worker) handleRunPending(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.RunPendingPayload](&delivery.Message)
	if err != nil {
		return mq.Permanent(fmt.Errorf("%w: %w", ErrInvalidPayload, err))
	}
	if payload.RunID == uuid.Nil {
		return mq.Permanent(fmt.Errorf("%w: run_id is empty", ErrInvalidPayload))
	}

	w.logger.Debug("received run.pending", "run_id", payload.RunID)

	if err := w.dispatch(ctx, payload.RunID, "", sourceQueue); err != nil {
		if errors.Is(err, ErrWorkerStopped) {
			return err
		}
		return fmt.Errorf("dispatch run %s: %w", payload.RunID, err)
	}
	return nil
}

// pollLoop — цикл polling.
func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу: подхватываем runs, созданные пока worker был выключен.
	w.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// poll выполняет один цикл polling.
func (w *Worker) poll(ctx context.Context) {
	runs, err := w.runs.ListUnclaimed(ctx, w.batchSize)
	if err != nil {
		w.logger.Error("failed to list unclaimed runs", "error", err)
		return
	}
	if len(runs) == 0 {
		return
	}

	w.logger.Debug("poll found unclaimed runs", "count", len(runs))

	for i := range runs {
		if err := w.dispatch(ctx, runs[i].ID, runs[i].SourceRef, sourcePoll); err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to dispatch run from poll", "run_id", runs[i].ID, "error", err)
		}
	}
}

// recoverClaimed доводит до финального статуса runs, закреплённые за этим worker'ом.
// Шаг, оставшийся в Running, Sequencer пометит упавшим.
func (w *Worker) recoverClaimed(ctx context.Context) {
	runs, err := w.runs.ListClaimedBy(ctx, w.workerID, w.batchSize)
	if err != nil {
		w.logger.Error("failed to list claimed runs", "error", err)
		return
	}

	for i := range runs {
		run := runs[i]
		w.logger.Warn("recovering run claimed before restart", "run_id", run.ID, "run_number", run.Number)
		if err := w.spawn(ctx, run.ID, run.SourceRef, sourceRecover); err != nil {
			w.logger.Error("failed to recover run", "run_id", run.ID, "error", err)
		}
	}
}

// dispatch закрепляет run за worker'ом и запускает его выполнение.
// Run, уже забранный другим worker'ом, пропускается без ошибки.
func (w *Worker) dispatch(ctx context.Context, runID uuid.UUID, sourceRef, source string) error {
	if w.IsStopped() {
		return ErrWorkerStopped
	}

	// Слот занимается до Claim, чтобы не закреплять runs, которые некому выполнять.
	if err := w.slots.Acquire(ctx, 1); err != nil {
		return err
	}

	if err := w.runs.Claim(ctx, runID, w.workerID); err != nil {
		w.slots.Release(1)
		if errors.Is(err, repo.ErrAlreadyClaimed) {
			w.logger.Debug("run already claimed", "run_id", runID)
			return nil
		}
		return fmt.Errorf("claim run: %w", err)
	}

	w.start(ctx, runID, sourceRef, source)
	return nil
}

// spawn запускает выполнение уже закреплённого run.
func (w *Worker) spawn(ctx context.Context, runID uuid.UUID, sourceRef, source string) error {
	if err := w.slots.Acquire(ctx, 1); err != nil {
		return err
	}
	w.start(ctx, runID, sourceRef, source)
	return nil
}

// start выполняет run в отдельной горутине. Слот должен быть занят.
func (w *Worker) start(ctx context.Context, runID uuid.UUID, sourceRef, source string) {
	telemetry.RunsClaimed.WithLabelValues(source).Inc()
	logger := telemetry.WithRunID(w.logger, runID.String())
	logger.Info("run claimed", "source", source)

	// Остановка worker'а не прерывает начатый run.
	runCtx := context.WithoutCancel(ctx)

	w.executions.Add(1)
	go func() {
		defer w.executions.Done()
		defer w.slots.Release(1)

		if _, err := w.executor.Execute(runCtx, runID, sourceRef); err != nil {
			logger.Warn("run finished with error", "error", err)
			return
		}
		logger.Info("run finished")
	}()
}
