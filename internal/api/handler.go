package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shaiso/orderpipe/internal/domain"
	"github.com/shaiso/orderpipe/internal/repo"
	"github.com/shaiso/orderpipe/internal/source"
)

// DefaultUploadMaxBytes — предел размера загружаемого файла по умолчанию.
const DefaultUploadMaxBytes = 10 << 20

// Trigger создаёт run.
type Trigger interface {
	Trigger(ctx context.Context, sourceRef string) (*domain.Run, error)
}

// RunReader — чтение runs.
type RunReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error)
}

// StepReader — чтение шагов.
type StepReader interface {
	ListByRunID(ctx context.Context, runID uuid.UUID) ([]domain.Step, error)
}

// LogReader — чтение журнала.
type LogReader interface {
	ListByRunID(ctx context.Context, runID uuid.UUID) ([]domain.LogEvent, error)
	List(ctx context.Context, filter repo.LogFilter) ([]domain.LogEvent, error)
}

// TargetReader — чтение итоговых записей заказов.
type TargetReader interface {
	GetTarget(ctx context.Context, orderID string) (*domain.TargetOrder, error)
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	trigger        Trigger
	runs           RunReader
	steps          StepReader
	logs           LogReader
	targets        TargetReader
	uploader       source.Uploader
	uploadMaxBytes int64
	logger         *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Trigger Trigger
	Runs    RunReader
	Steps   StepReader
	Logs    LogReader
	Targets TargetReader

	// Uploader — опционально. Без него multipart-загрузка отклоняется.
	Uploader       source.Uploader
	UploadMaxBytes int64

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBytes := cfg.UploadMaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultUploadMaxBytes
	}

	return &Handler{
		trigger:        cfg.Trigger,
		runs:           cfg.Runs,
		steps:          cfg.Steps,
		logs:           cfg.Logs,
		targets:        cfg.Targets,
		uploader:       cfg.Uploader,
		uploadMaxBytes: maxBytes,
		logger:         logger.With("component", "api"),
	}
}
