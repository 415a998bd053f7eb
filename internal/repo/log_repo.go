package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/orderpipe/internal/domain"
)

// Лимиты выборки журнала.
const (
	LogListDefaultLimit = 500
	LogListMaxLimit     = 2000
)

// LogRepo — репозиторий журнала pipeline. Только вставка и чтение.
type LogRepo struct {
	pool *pgxpool.Pool
}

// NewLogRepo создаёт новый LogRepo.
func NewLogRepo(pool *pgxpool.Pool) *LogRepo {
	return &LogRepo{pool: pool}
}

const logSelect = `
	SELECT id, run_id, pipeline_name, log_at, level, step_number, step_name, message, details
	FROM pipeline_logs
`

// Append добавляет событие в журнал и заполняет event.ID.
func (r *LogRepo) Append(ctx context.Context, event *domain.LogEvent) error {
	query := `
		INSERT INTO pipeline_logs (run_id, pipeline_name, log_at, level, step_number, step_name, message, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	err := r.pool.QueryRow(ctx, query,
		event.RunID,
		event.PipelineName,
		event.LogAt,
		event.Level,
		event.StepNumber,
		event.StepName,
		event.Message,
		event.Details,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("insert log: %w", err)
	}
	return nil
}

// ListByRunID возвращает журнал run в хронологическом порядке.
func (r *LogRepo) ListByRunID(ctx context.Context, runID uuid.UUID) ([]domain.LogEvent, error) {
	rows, err := r.pool.Query(ctx, logSelect+` WHERE run_id = $1 ORDER BY log_at ASC, id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list logs by run_id: %w", err)
	}
	return collectLogs(rows)
}

// List возвращает события журнала с фильтрацией, новые первыми.
func (r *LogRepo) List(ctx context.Context, filter LogFilter) ([]domain.LogEvent, error) {
	query := logSelect + `
		WHERE ($1::uuid IS NULL OR run_id = $1)
		  AND ($2::text IS NULL OR pipeline_name = $2)
		  AND ($3::text IS NULL OR level = $3)
		ORDER BY log_at DESC, id DESC
		LIMIT $4
	`
	rows, err := r.pool.Query(ctx, query,
		nullUUID(filter.RunID),
		nullString(filter.PipelineName),
		nullString(string(filter.Level)),
		filter.EffectiveLimit(),
	)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	return collectLogs(rows)
}

// LogFilter — параметры фильтрации журнала.
type LogFilter struct {
	RunID        *uuid.UUID
	PipelineName string
	Level        domain.LogLevel
	Limit        int
}

// EffectiveLimit возвращает лимит с учётом значения по умолчанию и потолка.
func (f LogFilter) EffectiveLimit() int {
	return clampLimit(f.Limit, LogListDefaultLimit, LogListMaxLimit)
}

func collectLogs(rows pgx.Rows) ([]domain.LogEvent, error) {
	defer rows.Close()

	var events []domain.LogEvent
	for rows.Next() {
		var e domain.LogEvent
		err := rows.Scan(
			&e.ID,
			&e.RunID,
			&e.PipelineName,
			&e.LogAt,
			&e.Level,
			&e.StepNumber,
			&e.StepName,
			&e.Message,
			&e.Details,
		)
		if err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
