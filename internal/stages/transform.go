package stages

import (
	"context"
	"fmt"

	"github.com/shaiso/orderpipe/internal/domain"
)

// Transform — шаг Transform: staging → staging_transformed с категорией суммы.
type Transform struct {
	cfg Config
}

// NewTransform создаёт стадию Transform.
func NewTransform(cfg Config) *Transform {
	return &Transform{cfg: cfg.withDefaults()}
}

func (s *Transform) Number() int  { return domain.StepNumberTransform }
func (s *Transform) Name() string { return domain.StepName(domain.StepNumberTransform) }

// Run классифицирует строки staging и возвращает количество прочитанных строк.
func (s *Transform) Run(ctx context.Context, in Input) (int, error) {
	staged, err := s.cfg.Orders.ListStaging(ctx, in.RunID)
	if err != nil {
		return 0, fmt.Errorf("list staging: %w", err)
	}
	total := len(staged)
	in.report(0, total)
	if total == 0 {
		return 0, nil
	}

	out := make([]domain.TransformedOrder, total)
	for i, row := range staged {
		out[i] = domain.TransformedOrder{
			RunID:          row.RunID,
			OrderID:        row.OrderID,
			CustomerID:     row.CustomerID,
			Amount:         row.Amount,
			OrderDate:      row.OrderDate,
			AmountCategory: domain.CategorizeAmount(row.Amount),
		}
		in.tick(i+1, total)
	}

	if _, err := s.cfg.Orders.InsertTransformed(ctx, out); err != nil {
		return 0, fmt.Errorf("insert transformed: %w", err)
	}
	in.report(total, total)
	return total, nil
}
