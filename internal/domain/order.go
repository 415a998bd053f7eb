package domain

import (
	"time"

	"github.com/google/uuid"
)

// SourceType — формат источника, из которого пришла строка.
type SourceType string

const (
	SourceTypeCSV  SourceType = "CSV"
	SourceTypeJSON SourceType = "JSON"
	SourceTypeYAML SourceType = "YAML"
)

// AmountCategory — категория суммы заказа.
type AmountCategory string

const (
	AmountCategoryLow    AmountCategory = "Low"
	AmountCategoryMedium AmountCategory = "Medium"
	AmountCategoryHigh   AmountCategory = "High"
)

// Пороги категорий: [0, 50) → Low, [50, 200) → Medium, [200, ∞) → High.
const (
	AmountMediumThreshold = 50.0
	AmountHighThreshold   = 200.0
)

// CategorizeAmount возвращает категорию суммы.
func CategorizeAmount(amount float64) AmountCategory {
	switch {
	case amount < AmountMediumThreshold:
		return AmountCategoryLow
	case amount < AmountHighThreshold:
		return AmountCategoryMedium
	default:
		return AmountCategoryHigh
	}
}

// LandingOrder — сырая строка после шага Data Pull.
// Значения хранятся как текст, без нормализации.
type LandingOrder struct {
	RunID      uuid.UUID  `json:"run_id"`
	OrderID    string     `json:"order_id"`
	CustomerID string     `json:"customer_id"`
	Amount     *string    `json:"amount,omitempty"`
	OrderDate  string     `json:"order_date"`
	SourceType SourceType `json:"source_type"`

	// RawPayload — исходная запись целиком (только для структурированных источников).
	RawPayload *string `json:"raw_payload,omitempty"`

	LoadedAt time.Time `json:"loaded_at"`
}

// StagingOrder — нормализованная строка после шага Extract.
type StagingOrder struct {
	RunID      uuid.UUID `json:"run_id"`
	OrderID    string    `json:"order_id"`
	CustomerID string    `json:"customer_id"`
	Amount     float64   `json:"amount"`

	// OrderDate — дата в формате YYYY-MM-DD или nil, если не разобрана.
	OrderDate *string `json:"order_date,omitempty"`
}

// TransformedOrder — строка после шага Transform.
type TransformedOrder struct {
	RunID          uuid.UUID      `json:"run_id"`
	OrderID        string         `json:"order_id"`
	CustomerID     string         `json:"customer_id"`
	Amount         float64        `json:"amount"`
	OrderDate      *string        `json:"order_date,omitempty"`
	AmountCategory AmountCategory `json:"amount_category"`
}

// TargetOrder — итоговая запись заказа. Ключ — OrderID, общий для всех runs.
type TargetOrder struct {
	OrderID        string         `json:"order_id"`
	CustomerID     string         `json:"customer_id"`
	Amount         float64        `json:"amount"`
	OrderDate      *string        `json:"order_date,omitempty"`
	AmountCategory AmountCategory `json:"amount_category"`
	MigratedAt     time.Time      `json:"migrated_at"`
}
