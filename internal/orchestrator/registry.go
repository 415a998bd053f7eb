package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/orderpipe/internal/domain"
	"github.com/shaiso/orderpipe/internal/telemetry"
)

// RunStore — хранилище runs.
type RunStore interface {
	// CreateWithSteps атомарно создаёт run и шаги и заполняет run.Number.
	CreateWithSteps(ctx context.Context, run *domain.Run, steps []domain.Step) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)

	// Update переводит run из Running; repo.ErrStaleState, если run уже завершён.
	Update(ctx context.Context, run *domain.Run) error

	// Claim закрепляет незабранный run; repo.ErrAlreadyClaimed иначе.
	Claim(ctx context.Context, id uuid.UUID, workerID string) error
}

// StepStore — хранилище шагов.
type StepStore interface {
	ListByRunID(ctx context.Context, runID uuid.UUID) ([]domain.Step, error)

	// Update применяет переход только из предыдущего статуса; иначе repo.ErrStaleState.
	Update(ctx context.Context, step *domain.Step) error
	UpdateProgress(ctx context.Context, stepID uuid.UUID, processed, total int) error
}

// RunRequest — параметры создания run.
type RunRequest struct {
	PipelineName string
	SourceRef    string

	// CorrelationID — внешний токен. Пустой → "local-<unix ms>".
	CorrelationID string

	// WorkerID — если задан, run создаётся уже закреплённым за этим исполнителем
	// и не попадает в выборку незабранных runs.
	WorkerID string
}

// Registry выделяет идентичность run: ID, номер и четыре шага в Pending.
type Registry struct {
	runs   RunStore
	logger *slog.Logger
	now    func() time.Time
}

// NewRegistry создаёт Registry.
func NewRegistry(runs RunStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		runs:   runs,
		logger: logger.With("component", "registry"),
		now:    time.Now,
	}
}

// CreateRun создаёт run в статусе Running и четыре шага в Pending.
// Возвращает ID нового run.
func (r *Registry) CreateRun(ctx context.Context, pipelineName, sourceRef string) (uuid.UUID, error) {
	run, err := r.Create(ctx, RunRequest{PipelineName: pipelineName, SourceRef: sourceRef})
	if err != nil {
		return uuid.Nil, err
	}
	return run.ID, nil
}

// Create создаёт run по запросу и возвращает его с назначенным номером.
// Run и шаги создаются в одной транзакции: частично созданных runs не бывает.
func (r *Registry) Create(ctx context.Context, req RunRequest) (*domain.Run, error) {
	pipelineName := strings.TrimSpace(req.PipelineName)
	if pipelineName == "" {
		return nil, fmt.Errorf("%w: pipeline name is required", ErrInvalidRun)
	}

	now := r.now()
	run := domain.NewRun(pipelineName, req.SourceRef, now)
	if req.CorrelationID != "" {
		run.CorrelationID = req.CorrelationID
	}
	if req.WorkerID != "" {
		claimed := now
		run.ClaimedAt = &claimed
		run.WorkerID = req.WorkerID
	}

	steps := domain.NewSteps(run.ID, now)
	if err := r.runs.CreateWithSteps(ctx, run, steps); err != nil {
		return nil, fmt.Errorf("%w: create run: %w", ErrStorage, err)
	}

	telemetry.RunsCreated.WithLabelValues(run.PipelineName).Inc()
	r.logger.Info("run created",
		"run_id", run.ID,
		"run_number", run.Number,
		"pipeline", run.PipelineName,
		"source", run.SourceRef,
	)
	return run, nil
}
