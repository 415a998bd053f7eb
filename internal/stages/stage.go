// Package stages содержит обработчики четырёх шагов pipeline.
//
// Порядок выполнения: Data Pull → Extract → Transform → Migrate.
// Каждая стадия читает результат предыдущей из store по RunID и
// возвращает количество строк для записи в шаг.
package stages

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/orderpipe/internal/domain"
	"github.com/shaiso/orderpipe/internal/source"
	"github.com/shaiso/orderpipe/internal/telemetry"
)

// ProgressInterval — через сколько строк стадия сообщает прогресс.
const ProgressInterval = 10_000

// ProgressFunc получает прогресс шага: processed из total строк.
// Вызывается синхронно; ошибки сохранения прогресса стадию не касаются.
type ProgressFunc func(processed, total int)

// Input — входные данные стадии.
type Input struct {
	RunID uuid.UUID

	// SourceRef используется только шагом Data Pull.
	SourceRef string

	// Progress — опционально.
	Progress ProgressFunc
}

// report сообщает прогресс безусловно.
func (in Input) report(processed, total int) {
	if in.Progress != nil {
		in.Progress(processed, total)
	}
}

// tick сообщает прогресс каждые ProgressInterval строк.
func (in Input) tick(processed, total int) {
	if processed > 0 && processed%ProgressInterval == 0 {
		in.report(processed, total)
	}
}

// Stage — обработчик одного шага.
type Stage interface {
	Number() int
	Name() string
	Run(ctx context.Context, in Input) (int, error)
}

// OrderStore — хранилище строк заказов на всех стадиях.
type OrderStore interface {
	InsertLanding(ctx context.Context, rows []domain.LandingOrder) (int, error)
	ListLanding(ctx context.Context, runID uuid.UUID) ([]domain.LandingOrder, error)
	InsertStaging(ctx context.Context, rows []domain.StagingOrder) (int, error)
	ListStaging(ctx context.Context, runID uuid.UUID) ([]domain.StagingOrder, error)
	InsertTransformed(ctx context.Context, rows []domain.TransformedOrder) (int, error)
	ListTransformed(ctx context.Context, runID uuid.UUID) ([]domain.TransformedOrder, error)
	UpsertTargets(ctx context.Context, rows []domain.TargetOrder) error
}

// SourceLoader — загрузчик источника для Data Pull.
type SourceLoader interface {
	Load(ctx context.Context, ref string) (*source.Dataset, error)
}

// Config — зависимости стадий.
type Config struct {
	Orders OrderStore
	Loader SourceLoader
	Logger *slog.Logger

	// Now — источник времени (для тестов). По умолчанию time.Now.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// logger возвращает логгер шага из ctx или логгер стадий.
func (c Config) logger(ctx context.Context) *slog.Logger {
	if l, ok := telemetry.LoggerFrom(ctx); ok {
		return l
	}
	return c.Logger
}

// Pipeline возвращает четыре стадии в порядке выполнения.
func Pipeline(cfg Config) []Stage {
	cfg = cfg.withDefaults()
	return []Stage{
		NewIngest(cfg),
		NewExtract(cfg),
		NewTransform(cfg),
		NewLoad(cfg),
	}
}
