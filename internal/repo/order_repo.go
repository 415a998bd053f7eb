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

// OrderRepo — репозиторий строк заказов на всех стадиях pipeline.
//
// Landing, staging и transformed таблицы изолированы по run_id.
// target_orders общая для всех runs, ключ — order_id.
type OrderRepo struct {
	pool *pgxpool.Pool
}

// NewOrderRepo создаёт новый OrderRepo.
func NewOrderRepo(pool *pgxpool.Pool) *OrderRepo {
	return &OrderRepo{pool: pool}
}

// --- Landing ---

// InsertLanding записывает сырые строки через COPY.
func (r *OrderRepo) InsertLanding(ctx context.Context, rows []domain.LandingOrder) (int, error) {
	n, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"landing_orders"},
		[]string{"run_id", "order_id", "customer_id", "amount", "order_date", "source_type", "raw_payload", "loaded_at"},
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			o := rows[i]
			return []any{o.RunID, o.OrderID, o.CustomerID, o.Amount, o.OrderDate, string(o.SourceType), o.RawPayload, o.LoadedAt}, nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("copy landing orders: %w", err)
	}
	return int(n), nil
}

// ListLanding возвращает сырые строки run в порядке вставки.
func (r *OrderRepo) ListLanding(ctx context.Context, runID uuid.UUID) ([]domain.LandingOrder, error) {
	query := `
		SELECT run_id, order_id, customer_id, amount, order_date, source_type, raw_payload, loaded_at
		FROM landing_orders
		WHERE run_id = $1
		ORDER BY id ASC
	`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list landing orders: %w", err)
	}
	defer rows.Close()

	var out []domain.LandingOrder
	for rows.Next() {
		var o domain.LandingOrder
		if err := rows.Scan(&o.RunID, &o.OrderID, &o.CustomerID, &o.Amount, &o.OrderDate,
			&o.SourceType, &o.RawPayload, &o.LoadedAt); err != nil {
			return nil, fmt.Errorf("scan landing order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// --- Staging ---

// InsertStaging записывает нормализованные строки через COPY.
func (r *OrderRepo) InsertStaging(ctx context.Context, rows []domain.StagingOrder) (int, error) {
	n, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"staging_orders"},
		[]string{"run_id", "order_id", "customer_id", "amount", "order_date"},
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			o := rows[i]
			return []any{o.RunID, o.OrderID, o.CustomerID, o.Amount, o.OrderDate}, nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("copy staging orders: %w", err)
	}
	return int(n), nil
}

// ListStaging возвращает нормализованные строки run.
func (r *OrderRepo) ListStaging(ctx context.Context, runID uuid.UUID) ([]domain.StagingOrder, error) {
	query := `
		SELECT run_id, order_id, customer_id, amount, order_date
		FROM staging_orders
		WHERE run_id = $1
		ORDER BY id ASC
	`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list staging orders: %w", err)
	}
	defer rows.Close()

	var out []domain.StagingOrder
	for rows.Next() {
		var o domain.StagingOrder
		if err := rows.Scan(&o.RunID, &o.OrderID, &o.CustomerID, &o.Amount, &o.OrderDate); err != nil {
			return nil, fmt.Errorf("scan staging order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// --- Transformed ---

// InsertTransformed записывает классифицированные строки через COPY.
func (r *OrderRepo) InsertTransformed(ctx context.Context, rows []domain.TransformedOrder) (int, error) {
	n, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"staging_orders_transformed"},
		[]string{"run_id", "order_id", "customer_id", "amount", "order_date", "amount_category"},
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			o := rows[i]
			return []any{o.RunID, o.OrderID, o.CustomerID, o.Amount, o.OrderDate, string(o.AmountCategory)}, nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("copy transformed orders: %w", err)
	}
	return int(n), nil
}

// ListTransformed возвращает классифицированные строки run.
func (r *OrderRepo) ListTransformed(ctx context.Context, runID uuid.UUID) ([]domain.TransformedOrder, error) {
	query := `
		SELECT run_id, order_id, customer_id, amount, order_date, amount_category
		FROM staging_orders_transformed
		WHERE run_id = $1
		ORDER BY id ASC
	`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list transformed orders: %w", err)
	}
	defer rows.Close()

	var out []domain.TransformedOrder
	for rows.Next() {
		var o domain.TransformedOrder
		if err := rows.Scan(&o.RunID, &o.OrderID, &o.CustomerID, &o.Amount, &o.OrderDate, &o.AmountCategory); err != nil {
			return nil, fmt.Errorf("scan transformed order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// --- Target ---

// UpsertTargets сливает строки в target_orders по order_id.
//
// Строки применяются по порядку в одной транзакции: при повторе order_id
// побеждает последняя.
func (r *OrderRepo) UpsertTargets(ctx context.Context, rows []domain.TargetOrder) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	batch := &pgx.Batch{}
	for _, o := range rows {
		batch.Queue(`
			INSERT INTO target_orders (order_id, customer_id, amount, order_date, amount_category, migrated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (order_id) DO UPDATE
			SET customer_id = EXCLUDED.customer_id,
			    amount = EXCLUDED.amount,
			    order_date = EXCLUDED.order_date,
			    amount_category = EXCLUDED.amount_category,
			    migrated_at = EXCLUDED.migrated_at
		`, o.OrderID, o.CustomerID, o.Amount, o.OrderDate, string(o.AmountCategory), o.MigratedAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert target orders: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetTarget возвращает итоговую запись заказа.
func (r *OrderRepo) GetTarget(ctx context.Context, orderID string) (*domain.TargetOrder, error) {
	query := `
		SELECT order_id, customer_id, amount, order_date, amount_category, migrated_at
		FROM target_orders
		WHERE order_id = $1
	`
	var o domain.TargetOrder
	err := r.pool.QueryRow(ctx, query, orderID).Scan(
		&o.OrderID, &o.CustomerID, &o.Amount, &o.OrderDate, &o.AmountCategory, &o.MigratedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get target order: %w", err)
	}
	return &o, nil
}
