package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/orderpipe/internal/domain"
)

// StepRepo — репозиторий для работы с шагами run.
// Шаги создаются вместе с run в RunRepo.CreateWithSteps.
type StepRepo struct {
	pool *pgxpool.Pool
}

// NewStepRepo создаёт новый StepRepo.
func NewStepRepo(pool *pgxpool.Pool) *StepRepo {
	return &StepRepo{pool: pool}
}

const stepSelect = `
	SELECT id, run_id, step_number, step_name, status, started_at, finished_at,
	       rows_affected, rows_processed, rows_total, error_message, created_at
	FROM steps
`

// ListByRunID возвращает шаги run, упорядоченные по номеру.
func (r *StepRepo) ListByRunID(ctx context.Context, runID uuid.UUID) ([]domain.Step, error) {
	rows, err := r.pool.Query(ctx, stepSelect+` WHERE run_id = $1 ORDER BY step_number ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list steps by run_id: %w", err)
	}
	defer rows.Close()

	var steps []domain.Step
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, *step)
	}
	return steps, rows.Err()
}

// Update сохраняет переход шага в step.Status.
//
// Переход применяется только из предыдущего по жизненному циклу статуса
// (Pending → Running → Success/Failed). Иначе возвращается ErrStaleState:
// шаг уже изменил другой исполнитель. Прогресс меняет только UpdateProgress.
func (r *StepRepo) Update(ctx context.Context, step *domain.Step) error {
	from, ok := domain.PriorStepStatus(step.Status)
	if !ok {
		return fmt.Errorf("update step to %s: %w", step.Status, ErrStaleState)
	}

	query := `
		UPDATE steps
		SET status = $2, started_at = $3, finished_at = $4, rows_affected = $5, error_message = $6
		WHERE id = $1 AND status = $7
	`
	result, err := r.pool.Exec(ctx, query,
		step.ID,
		step.Status,
		step.StartedAt,
		step.FinishedAt,
		step.RowsAffected,
		step.ErrorMessage,
		from,
	)
	if err != nil {
		return fmt.Errorf("update step: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("update step %d %s -> %s: %w", step.Number, from, step.Status, ErrStaleState)
	}
	return nil
}

// UpdateProgress сохраняет прогресс шага, пока он в Running.
func (r *StepRepo) UpdateProgress(ctx context.Context, stepID uuid.UUID, processed, total int) error {
	query := `
		UPDATE steps
		SET rows_processed = $2, rows_total = $3
		WHERE id = $1 AND status = 'Running'
	`
	result, err := r.pool.Exec(ctx, query, stepID, processed, total)
	if err != nil {
		return fmt.Errorf("update step progress: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("update step progress: %w", ErrStaleState)
	}
	return nil
}

// scanStep сканирует одну строку в Step.
func scanStep(row pgx.Row) (*domain.Step, error) {
	var step domain.Step
	err := row.Scan(
		&step.ID,
		&step.RunID,
		&step.Number,
		&step.Name,
		&step.Status,
		&step.StartedAt,
		&step.FinishedAt,
		&step.RowsAffected,
		&step.RowsProcessed,
		&step.RowsTotal,
		&step.ErrorMessage,
		&step.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan step: %w", err)
	}
	return &step, nil
}
