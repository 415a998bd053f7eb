package domain

import (
	"time"

	"github.com/google/uuid"
)

// LogEvent — запись журнала run.
//
// Журнал только дополняется: ядро не меняет и не удаляет события.
type LogEvent struct {
	ID           int64     `json:"log_id"`
	RunID        uuid.UUID `json:"run_id"`
	PipelineName string    `json:"pipeline_name"`
	LogAt        time.Time `json:"log_at"`
	Level        LogLevel  `json:"level"`

	// StepNumber/StepName — nil для событий уровня run.
	StepNumber *int    `json:"step_number,omitempty"`
	StepName   *string `json:"step_name,omitempty"`

	Message string  `json:"message"`
	Details *string `json:"details,omitempty"`
}

// HasStep возвращает true, если событие привязано к шагу.
func (e *LogEvent) HasStep() bool {
	return e.StepNumber != nil
}
