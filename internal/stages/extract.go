package stages

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shaiso/orderpipe/internal/domain"
	"github.com/shaiso/orderpipe/internal/telemetry"
)

// Extract — шаг Extract: landing → staging.
//
// Строки без OrderID отбрасываются, но учитываются в результате:
// стадия возвращает количество прочитанных строк, а не записанных.
type Extract struct {
	cfg Config
}

// NewExtract создаёт стадию Extract.
func NewExtract(cfg Config) *Extract {
	return &Extract{cfg: cfg.withDefaults()}
}

func (s *Extract) Number() int  { return domain.StepNumberExtract }
func (s *Extract) Name() string { return domain.StepName(domain.StepNumberExtract) }

// Run нормализует строки landing и возвращает количество прочитанных строк.
func (s *Extract) Run(ctx context.Context, in Input) (int, error) {
	landing, err := s.cfg.Orders.ListLanding(ctx, in.RunID)
	if err != nil {
		return 0, fmt.Errorf("list landing: %w", err)
	}

	total := len(landing)
	in.report(0, total)

	staged := make([]domain.StagingOrder, 0, total)
	for i, row := range landing {
		in.tick(i+1, total)
		order, ok := normalize(row)
		if !ok {
			continue
		}
		staged = append(staged, order)
	}

	if dropped := len(landing) - len(staged); dropped > 0 {
		telemetry.RowsDropped.Add(float64(dropped))
		s.cfg.logger(ctx).Info("rows dropped by validation",
			"run_id", in.RunID,
			"read", len(landing),
			"dropped", dropped,
		)
	}

	if len(staged) > 0 {
		if _, err := s.cfg.Orders.InsertStaging(ctx, staged); err != nil {
			return 0, fmt.Errorf("insert staging: %w", err)
		}
	}
	in.report(total, total)
	return total, nil
}

// normalize приводит строку landing к staging. ok=false — строка отбрасывается.
func normalize(row domain.LandingOrder) (domain.StagingOrder, bool) {
	orderID := strings.TrimSpace(row.OrderID)
	if orderID == "" {
		return domain.StagingOrder{}, false
	}

	customerID := strings.TrimSpace(row.CustomerID)
	if customerID == "" {
		customerID = domain.UnknownCustomer
	}

	return domain.StagingOrder{
		RunID:      row.RunID,
		OrderID:    orderID,
		CustomerID: customerID,
		Amount:     ParseAmount(row.Amount),
		OrderDate:  ParseOrderDate(row.OrderDate),
	}, true
}

// ParseAmount разбирает сумму. Отсутствующая или нечисловая сумма даёт 0.
func ParseAmount(raw *string) float64 {
	if raw == nil {
		return 0
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(*raw), 64)
	if err != nil {
		return 0
	}
	return v
}

// dateLayouts — поддерживаемые форматы дат. Даты без зоны считаются UTC.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	time.RFC1123Z,
	time.RFC1123,
}

// ParseOrderDate приводит дату к виду YYYY-MM-DD (UTC).
// Возвращает nil, если дату разобрать не удалось.
func ParseOrderDate(raw string) *string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, raw)
		if err != nil {
			continue
		}
		d := t.UTC().Format("2006-01-02")
		return &d
	}
	return nil
}
