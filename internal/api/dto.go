package api

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shaiso/orderpipe/internal/domain"
)

var validate = validator.New()

// Pipeline DTOs

// TriggerRequest — JSON-запрос на запуск pipeline.
// Пустой Source означает источник по умолчанию.
type TriggerRequest struct {
	Source string `json:"source" validate:"max=1024"`
}

// Validate проверяет запрос.
func (r *TriggerRequest) Validate() error {
	return validate.Struct(r)
}

// TriggerResponse — ответ на запуск pipeline.
type TriggerResponse struct {
	RunID     uuid.UUID `json:"run_id"`
	RunNumber int       `json:"run_number"`
	Message   string    `json:"message"`
	File      string    `json:"file"`
}

// Run DTOs

// RunQuery — параметры выборки runs.
type RunQuery struct {
	Pipeline string `validate:"max=200"`
	Status   string `validate:"omitempty,oneof=Running Success Failed"`
	Limit    int    `validate:"gte=0"`
}

// RunResponse — ответ с run.
type RunResponse struct {
	ID            uuid.UUID  `json:"id"`
	Number        int        `json:"run_number"`
	PipelineName  string     `json:"pipeline_name"`
	CorrelationID string     `json:"correlation_id"`
	SourceRef     string     `json:"source_ref"`
	Status        string     `json:"status"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	DurationMs    *int64     `json:"duration_ms,omitempty"`
	WorkerID      string     `json:"worker_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// RunFromDomain конвертирует domain.Run в RunResponse.
func RunFromDomain(r domain.Run) RunResponse {
	resp := RunResponse{
		ID:            r.ID,
		Number:        r.Number,
		PipelineName:  r.PipelineName,
		CorrelationID: r.CorrelationID,
		SourceRef:     r.SourceRef,
		Status:        string(r.Status),
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
		WorkerID:      r.WorkerID,
		CreatedAt:     r.CreatedAt,
	}
	if r.IsFinished() {
		ms := r.Duration().Milliseconds()
		resp.DurationMs = &ms
	}
	return resp
}

// RunDetailResponse — run вместе с шагами.
type RunDetailResponse struct {
	RunResponse
	Steps []StepResponse `json:"steps"`
}

// Step DTOs

// StepResponse — ответ с шагом.
type StepResponse struct {
	Number       int        `json:"step_number"`
	Name         string     `json:"step_name"`
	Status       string     `json:"status"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	RowsAffected *int       `json:"rows_affected,omitempty"`

	// RowsProcessed / RowsTotal — прогресс шага; клиенты опрашивают их, пока шаг в Running.
	RowsProcessed *int    `json:"rows_processed,omitempty"`
	RowsTotal     *int    `json:"rows_total,omitempty"`
	ErrorMessage  *string `json:"error_message,omitempty"`
}

// StepFromDomain конвертирует domain.Step в StepResponse.
func StepFromDomain(s domain.Step) StepResponse {
	return StepResponse{
		Number:       s.Number,
		Name:         s.Name,
		Status:       string(s.Status),
		StartedAt:    s.StartedAt,
		FinishedAt:   s.FinishedAt,
		RowsAffected:  s.RowsAffected,
		RowsProcessed: s.RowsProcessed,
		RowsTotal:     s.RowsTotal,
		ErrorMessage:  s.ErrorMessage,
	}
}

// Log DTOs

// LogQuery — параметры выборки журнала.
type LogQuery struct {
	Pipeline string `validate:"max=200"`
	Level    string `validate:"omitempty,oneof=Info Warning Error"`
	Limit    int    `validate:"gte=0"`
}

// LogResponse — событие журнала.
type LogResponse struct {
	ID           int64     `json:"id"`
	RunID        uuid.UUID `json:"run_id"`
	PipelineName string    `json:"pipeline_name"`
	LogAt        time.Time `json:"log_at"`
	Level        string    `json:"level"`
	StepNumber   *int      `json:"step_number,omitempty"`
	StepName     *string   `json:"step_name,omitempty"`
	Message      string    `json:"message"`
	Details      *string   `json:"details,omitempty"`
}

// LogFromDomain конвертирует domain.LogEvent в LogResponse.
func LogFromDomain(e domain.LogEvent) LogResponse {
	return LogResponse{
		ID:           e.ID,
		RunID:        e.RunID,
		PipelineName: e.PipelineName,
		LogAt:        e.LogAt,
		Level:        string(e.Level),
		StepNumber:   e.StepNumber,
		StepName:     e.StepName,
		Message:      e.Message,
		Details:      e.Details,
	}
}

func logsFromDomain(events []domain.LogEvent) []LogResponse {
	out := make([]LogResponse, len(events))
	for i, e := range events {
		out[i] = LogFromDomain(e)
	}
	return out
}
