package stages

import (
	"context"
	"fmt"

	"github.com/shaiso/orderpipe/internal/domain"
)

// Ingest — шаг Data Pull: источник → landing.
//
// Значения сохраняются без нормализации. Для структурированных
// источников исходная запись кладётся в RawPayload.
type Ingest struct {
	cfg Config
}

// NewIngest создаёт стадию Data Pull.
func NewIngest(cfg Config) *Ingest {
	return &Ingest{cfg: cfg.withDefaults()}
}

func (s *Ingest) Number() int  { return domain.StepNumberDataPull }
func (s *Ingest) Name() string { return domain.StepName(domain.StepNumberDataPull) }

// Run загружает источник и возвращает количество записанных строк.
func (s *Ingest) Run(ctx context.Context, in Input) (int, error) {
	ds, err := s.cfg.Loader.Load(ctx, in.SourceRef)
	if err != nil {
		return 0, err
	}

	total := len(ds.Records)
	in.report(0, total)

	loadedAt := s.cfg.Now().UTC()
	rows := make([]domain.LandingOrder, 0, total)
	for i, rec := range ds.Records {
		row := domain.LandingOrder{
			RunID:      in.RunID,
			OrderID:    rec.String("OrderId"),
			CustomerID: rec.String("CustomerId"),
			OrderDate:  rec.String("OrderDate"),
			SourceType: ds.Format,
			RawPayload: rec.Raw,
			LoadedAt:   loadedAt,
		}
		if amount, ok := rec.Value("Amount"); ok {
			row.Amount = &amount
		}
		rows = append(rows, row)
		in.tick(i+1, total)
	}

	if len(rows) == 0 {
		s.cfg.logger(ctx).Warn("source has no records", "run_id", in.RunID, "ref", in.SourceRef)
		return 0, nil
	}

	n, err := s.cfg.Orders.InsertLanding(ctx, rows)
	if err != nil {
		return 0, fmt.Errorf("insert landing: %w", err)
	}
	in.report(n, total)
	return n, nil
}
