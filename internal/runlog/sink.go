// Package runlog пишет журнал выполнения pipeline.
//
// Каждое событие сохраняется в store и дублируется в slog.
// Ошибка записи в store никогда не возвращается вызывающему:
// она логируется локально и учитывается в метрике.
package runlog

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/orderpipe/internal/domain"
	"github.com/shaiso/orderpipe/internal/telemetry"
)

// Store — хранилище журнала.
type Store interface {
	Append(ctx context.Context, event *domain.LogEvent) error
}

// Entry — событие журнала до сохранения.
type Entry struct {
	RunID        uuid.UUID
	PipelineName string
	Level        domain.LogLevel

	// StepNumber — 0 для событий уровня run.
	StepNumber int
	StepName   string

	Message string
	Details string
}

// Config — конфигурация Sink.
type Config struct {
	Store  Store
	Logger *slog.Logger

	// Now — источник времени (для тестов). По умолчанию time.Now.
	Now func() time.Time
}

// Sink — журнал pipeline.
type Sink struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// New создаёт Sink.
func New(cfg Config) *Sink {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Sink{
		store:  cfg.Store,
		logger: logger.With("component", "runlog"),
		now:    now,
	}
}

// Append сохраняет событие. Ошибки store не пробрасываются.
func (s *Sink) Append(ctx context.Context, e Entry) {
	if e.Level == "" {
		e.Level = domain.LogLevelInfo
	}

	event := &domain.LogEvent{
		RunID:        e.RunID,
		PipelineName: e.PipelineName,
		LogAt:        s.now().UTC(),
		Level:        e.Level,
		Message:      e.Message,
	}
	if e.StepNumber > 0 {
		number, name := e.StepNumber, e.StepName
		event.StepNumber = &number
		event.StepName = &name
	}
	if e.Details != "" {
		details := e.Details
		event.Details = &details
	}

	s.mirror(ctx, event)

	if s.store == nil {
		return
	}
	if err := s.store.Append(ctx, event); err != nil {
		telemetry.LogWriteFailures.Inc()
		s.logger.Error("failed to persist pipeline log",
			"run_id", e.RunID,
			"message", e.Message,
			"error", err,
		)
	}
}

// Info пишет событие уровня Info.
func (s *Sink) Info(ctx context.Context, e Entry) {
	e.Level = domain.LogLevelInfo
	s.Append(ctx, e)
}

// Warning пишет событие уровня Warning.
func (s *Sink) Warning(ctx context.Context, e Entry) {
	e.Level = domain.LogLevelWarning
	s.Append(ctx, e)
}

// Error пишет событие уровня Error.
func (s *Sink) Error(ctx context.Context, e Entry) {
	e.Level = domain.LogLevelError
	s.Append(ctx, e)
}

func (s *Sink) mirror(ctx context.Context, event *domain.LogEvent) {
	attrs := []any{
		"run_id", event.RunID,
		"pipeline", event.PipelineName,
	}
	if event.StepNumber != nil {
		attrs = append(attrs, "step_number", *event.StepNumber, "step_name", *event.StepName)
	}
	if event.Details != nil {
		attrs = append(attrs, "details", *event.Details)
	}

	s.logger.Log(ctx, slogLevel(event.Level), event.Message, attrs...)
}

func slogLevel(level domain.LogLevel) slog.Level {
	switch level {
	case domain.LogLevelWarning:
		return slog.LevelWarn
	case domain.LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
