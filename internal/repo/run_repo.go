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

// Лимиты выборки runs.
const (
	RunListDefaultLimit = 100
	RunListMaxLimit     = 100
)

// RunRepo — репозиторий для работы с runs.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

// runSelect — выборка runs с номером.
// Для строк без run_number номер выводится из порядка создания;
// подзапрос выполняется только для таких строк.
const runSelect = `
	SELECT id,
	       COALESCE(run_number, (
	           SELECT COUNT(*) FROM runs p
	           WHERE p.pipeline_name = r.pipeline_name AND (p.created_at, p.id) <= (r.created_at, r.id)
	       ))::int,
	       pipeline_name, correlation_id, source_ref, status,
	       started_at, finished_at, claimed_at, worker_id, created_at
	FROM runs AS r
`

// CreateWithSteps создаёт run и четыре шага в одной транзакции.
//
// Номер run вычисляется как 1 + max(run_number) внутри транзакции.
// Выделение номеров сериализовано advisory lock по имени pipeline,
// уникальный индекс (pipeline_name, run_number) страхует от дублей.
// После успешного вызова run.Number заполнен.
func (r *RunRepo) CreateWithSteps(ctx context.Context, run *domain.Run, steps []domain.Step) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, run.PipelineName); err != nil {
		return fmt.Errorf("lock pipeline: %w", err)
	}

	var number int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(run_number), 0) + 1 FROM runs WHERE pipeline_name = $1`,
		run.PipelineName,
	).Scan(&number)
	if err != nil {
		return fmt.Errorf("next run number: %w", err)
	}

	query := `
		INSERT INTO runs (id, run_number, pipeline_name, correlation_id, source_ref,
		                  status, started_at, finished_at, claimed_at, worker_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = tx.Exec(ctx, query,
		run.ID,
		number,
		run.PipelineName,
		run.CorrelationID,
		run.SourceRef,
		run.Status,
		run.StartedAt,
		run.FinishedAt,
		run.ClaimedAt,
		nullString(run.WorkerID),
		run.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert run: %w", ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	batch := &pgx.Batch{}
	for _, s := range steps {
		batch.Queue(`
			INSERT INTO steps (id, run_id, step_number, step_name, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, s.ID, run.ID, s.Number, s.Name, s.Status, s.CreatedAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert steps: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	run.Number = number
	return nil
}

// GetByID возвращает run по ID.
func (r *RunRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	return scanRun(r.pool.QueryRow(ctx, runSelect+` WHERE id = $1`, id))
}

// List возвращает runs с фильтрацией, новые первыми.
func (r *RunRepo) List(ctx context.Context, filter RunFilter) ([]domain.Run, error) {
	query := runSelect + `
		WHERE ($1::text IS NULL OR pipeline_name = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query,
		nullString(filter.PipelineName),
		nullString(string(filter.Status)),
		filter.EffectiveLimit(),
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return collectRuns(rows)
}

// Update переводит run из Running в новый статус.
// Возвращает ErrStaleState, если run уже завершён или не существует.
func (r *RunRepo) Update(ctx context.Context, run *domain.Run) error {
	query := `
		UPDATE runs
		SET status = $2, started_at = $3, finished_at = $4
		WHERE id = $1 AND status = 'Running'
	`
	result, err := r.pool.Exec(ctx, query,
		run.ID,
		run.Status,
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("update run %s: %w", run.ID, ErrStaleState)
	}
	return nil
}

// ListUnclaimed возвращает незавершённые runs, которые ещё не забрал ни один worker.
func (r *RunRepo) ListUnclaimed(ctx context.Context, limit int) ([]domain.Run, error) {
	query := runSelect + `
		WHERE status = 'Running' AND claimed_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list unclaimed runs: %w", err)
	}
	return collectRuns(rows)
}

// ListClaimedBy возвращает незавершённые runs, закреплённые за worker'ом.
// Используется при перезапуске worker'а для доведения прерванных runs до финального статуса.
func (r *RunRepo) ListClaimedBy(ctx context.Context, workerID string, limit int) ([]domain.Run, error) {
	query := runSelect + `
		WHERE status = 'Running' AND worker_id = $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, workerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list claimed runs: %w", err)
	}
	return collectRuns(rows)
}

// Claim атомарно закрепляет run за worker'ом.
// Возвращает ErrAlreadyClaimed, если run уже забран или завершён.
func (r *RunRepo) Claim(ctx context.Context, id uuid.UUID, workerID string) error {
	query := `
		UPDATE runs
		SET claimed_at = now(), worker_id = $2
		WHERE id = $1 AND claimed_at IS NULL AND status = 'Running'
	`
	result, err := r.pool.Exec(ctx, query, id, workerID)
	if err != nil {
		return fmt.Errorf("claim run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrAlreadyClaimed
	}
	return nil
}

// --- Helpers ---

// RunFilter — параметры фильтрации runs.
type RunFilter struct {
	PipelineName string
	Status       domain.RunStatus
	Limit        int
}

// EffectiveLimit возвращает лимит с учётом значения по умолчанию и потолка.
func (f RunFilter) EffectiveLimit() int {
	return clampLimit(f.Limit, RunListDefaultLimit, RunListMaxLimit)
}

// scanRun сканирует одну строку в Run.
func scanRun(row pgx.Row) (*domain.Run, error) {
	var run domain.Run
	var workerID *string

	err := row.Scan(
		&run.ID,
		&run.Number,
		&run.PipelineName,
		&run.CorrelationID,
		&run.SourceRef,
		&run.Status,
		&run.StartedAt,
		&run.FinishedAt,
		&run.ClaimedAt,
		&workerID,
		&run.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if workerID != nil {
		run.WorkerID = *workerID
	}
	return &run, nil
}

// collectRuns читает все строки и закрывает rows.
func collectRuns(rows pgx.Rows) ([]domain.Run, error) {
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}
