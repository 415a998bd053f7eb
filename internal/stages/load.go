package stages

import (
	"context"
	"fmt"

	"github.com/shaiso/orderpipe/internal/domain"
)

// Load — шаг Migrate: staging_transformed → target (upsert по OrderID).
type Load struct {
	cfg Config
}

// NewLoad создаёт стадию Migrate.
func NewLoad(cfg Config) *Load {
	return &Load{cfg: cfg.withDefaults()}
}

func (s *Load) Number() int  { return domain.StepNumberMigrate }
func (s *Load) Name() string { return domain.StepName(domain.StepNumberMigrate) }

// Run сливает строки в target и возвращает количество прочитанных строк.
func (s *Load) Run(ctx context.Context, in Input) (int, error) {
	rows, err := s.cfg.Orders.ListTransformed(ctx, in.RunID)
	if err != nil {
		return 0, fmt.Errorf("list transformed: %w", err)
	}
	total := len(rows)
	in.report(0, total)
	if total == 0 {
		return 0, nil
	}

	migratedAt := s.cfg.Now().UTC()
	targets := make([]domain.TargetOrder, len(rows))
	for i, row := range rows {
		targets[i] = domain.TargetOrder{
			OrderID:        row.OrderID,
			CustomerID:     row.CustomerID,
			Amount:         row.Amount,
			OrderDate:      row.OrderDate,
			AmountCategory: row.AmountCategory,
			MigratedAt:     migratedAt,
		}
		in.tick(i+1, total)
	}

	if err := s.cfg.Orders.UpsertTargets(ctx, targets); err != nil {
		return 0, fmt.Errorf("upsert targets: %w", err)
	}
	in.report(total, total)
	return total, nil
}
