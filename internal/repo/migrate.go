package repo

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Migration — одна версия схемы.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// migrationLockKey — ключ advisory lock, сериализующий применение миграций.
const migrationLockKey = 727100

// Migrations — все версии схемы по возрастанию.
//
// Версия 1 соответствует исходной схеме без run_number.
// Версия 2 добавляет run_number и заполняет его по порядку создания.
// Версия 3 добавляет построчный прогресс шагов.
var Migrations = []Migration{
	{Version: 1, Name: "initial schema", SQL: schemaV1},
	{Version: 2, Name: "run number", SQL: schemaV2},
	{Version: 3, Name: "step progress", SQL: schemaV3},
}

const schemaV1 = `
CREATE TABLE IF NOT EXISTS runs (
    id             UUID PRIMARY KEY,
    pipeline_name  TEXT NOT NULL,
    correlation_id TEXT NOT NULL,
    source_ref     TEXT NOT NULL,
    status         TEXT NOT NULL,
    started_at     TIMESTAMPTZ,
    finished_at    TIMESTAMPTZ,
    claimed_at     TIMESTAMPTZ,
    worker_id      TEXT,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_runs_pipeline_created ON runs (pipeline_name, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_unclaimed ON runs (created_at) WHERE claimed_at IS NULL;

CREATE TABLE IF NOT EXISTS steps (
    id            UUID PRIMARY KEY,
    run_id        UUID NOT NULL REFERENCES runs (id),
    step_number   INTEGER NOT NULL,
    step_name     TEXT NOT NULL,
    status        TEXT NOT NULL,
    started_at    TIMESTAMPTZ,
    finished_at   TIMESTAMPTZ,
    rows_affected INTEGER,
    error_message TEXT,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (run_id, step_number)
);

CREATE TABLE IF NOT EXISTS pipeline_logs (
    id            BIGSERIAL PRIMARY KEY,
    run_id        UUID NOT NULL,
    pipeline_name TEXT NOT NULL,
    log_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
    level         TEXT NOT NULL,
    step_number   INTEGER,
    step_name     TEXT,
    message       TEXT NOT NULL,
    details       TEXT
);
CREATE INDEX IF NOT EXISTS idx_pipeline_logs_run ON pipeline_logs (run_id, log_at);
CREATE INDEX IF NOT EXISTS idx_pipeline_logs_log_at ON pipeline_logs (log_at DESC);

CREATE TABLE IF NOT EXISTS landing_orders (
    id          BIGSERIAL PRIMARY KEY,
    run_id      UUID NOT NULL,
    order_id    TEXT NOT NULL,
    customer_id TEXT NOT NULL,
    amount      TEXT,
    order_date  TEXT NOT NULL,
    source_type TEXT NOT NULL,
    raw_payload TEXT,
    loaded_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_landing_orders_run ON landing_orders (run_id, id);

CREATE TABLE IF NOT EXISTS staging_orders (
    id          BIGSERIAL PRIMARY KEY,
    run_id      UUID NOT NULL,
    order_id    TEXT NOT NULL,
    customer_id TEXT NOT NULL,
    amount      DOUBLE PRECISION NOT NULL,
    order_date  TEXT
);
CREATE INDEX IF NOT EXISTS idx_staging_orders_run ON staging_orders (run_id, id);

CREATE TABLE IF NOT EXISTS staging_orders_transformed (
    id              BIGSERIAL PRIMARY KEY,
    run_id          UUID NOT NULL,
    order_id        TEXT NOT NULL,
    customer_id     TEXT NOT NULL,
    amount          DOUBLE PRECISION NOT NULL,
    order_date      TEXT,
    amount_category TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_staging_orders_transformed_run ON staging_orders_transformed (run_id, id);

CREATE TABLE IF NOT EXISTS target_orders (
    order_id        TEXT PRIMARY KEY,
    customer_id     TEXT NOT NULL,
    amount          DOUBLE PRECISION NOT NULL,
    order_date      TEXT,
    amount_category TEXT NOT NULL,
    migrated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

const schemaV2 = `
ALTER TABLE runs ADD COLUMN IF NOT EXISTS run_number INTEGER;

UPDATE runs
SET run_number = numbered.rn
FROM (
    SELECT id, ROW_NUMBER() OVER (PARTITION BY pipeline_name ORDER BY created_at, id) AS rn
    FROM runs
) AS numbered
WHERE runs.id = numbered.id AND runs.run_number IS NULL;

CREATE UNIQUE INDEX IF NOT EXISTS ux_runs_pipeline_number ON runs (pipeline_name, run_number);
`

const schemaV3 = `
ALTER TABLE steps ADD COLUMN IF NOT EXISTS rows_processed INTEGER;
ALTER TABLE steps ADD COLUMN IF NOT EXISTS rows_total INTEGER;
`

// Migrate применяет недостающие миграции.
//
// Каждая версия применяется в отдельной транзакции под advisory lock,
// поэтому одновременный запуск нескольких процессов безопасен.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range Migrations {
		applied, err := applyMigration(ctx, pool, m)
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
		if applied {
			logger.Info("migration applied", "version", m.Version, "name", m.Name)
		}
	}
	return nil
}

// applyMigration применяет одну миграцию, если она ещё не применена.
func applyMigration(ctx context.Context, pool *pgxpool.Pool, m Migration) (bool, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
		return false, fmt.Errorf("lock: %w", err)
	}

	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, m.Version,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check version: %w", err)
	}
	if exists {
		return false, nil
	}

	// Несколько операторов в одном Exec возможны только в simple protocol.
	if _, err := tx.Exec(ctx, m.SQL, pgx.QueryExecModeSimpleProtocol); err != nil {
		return false, fmt.Errorf("exec: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name,
	); err != nil {
		return false, fmt.Errorf("record version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}
