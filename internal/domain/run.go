package domain

import (
	"time"

	"github.com/google/uuid"
)

// Run — одно сквозное выполнение четырёхшагового pipeline.
//
// Run создаётся RunRegistry вместе с четырьмя шагами в статусе Pending.
// Дальше его меняет только sequencer (статус и FinishedAt).
// Ядро никогда не удаляет runs.
type Run struct {
	// ID — уникальный идентификатор run. Неизменяем.
	ID uuid.UUID `json:"id"`

	// Number — порядковый номер run внутри PipelineName (1, 2, 3, ...).
	// Назначается при создании как 1 + max(существующих номеров).
	Number int `json:"run_number"`

	// PipelineName — имя pipeline (например, "SamplePipeline").
	PipelineName string `json:"pipeline_name"`

	// CorrelationID — внешний токен корреляции (по умолчанию "local-<unix ms>").
	CorrelationID string `json:"correlation_id"`

	// SourceRef — ссылка на источник записей для шага Data Pull.
	// Хранится в БД, чтобы worker получал всё необходимое только из store.
	SourceRef string `json:"source_ref"`

	// Status — текущий статус выполнения.
	Status RunStatus `json:"status"`

	// StartedAt — время начала (совпадает с созданием run).
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время перехода в Success/Failed.
	// Nil, пока run не завершён.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// ClaimedAt — время, когда worker забрал run на выполнение.
	// Nil, если run ещё никто не взял.
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`

	// WorkerID — идентификатор worker'а, забравшего run.
	WorkerID string `json:"worker_id,omitempty"`

	// CreatedAt — время создания run.
	CreatedAt time.Time `json:"created_at"`
}

// NewRun создаёт run в статусе Running.
// Number назначается хранилищем при вставке.
func NewRun(pipelineName, sourceRef string, now time.Time) *Run {
	started := now
	return &Run{
		ID:            uuid.New(),
		PipelineName:  pipelineName,
		CorrelationID: DefaultCorrelationID(now),
		SourceRef:     sourceRef,
		Status:        RunStatusRunning,
		StartedAt:     &started,
		CreatedAt:     now,
	}
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// IsFinished возвращает true, если run завершён (в любом статусе).
func (r *Run) IsFinished() bool {
	return r.Status.IsTerminal()
}

// IsClaimed возвращает true, если run уже забран worker'ом.
func (r *Run) IsClaimed() bool {
	return r.ClaimedAt != nil
}

// MarkSucceeded переводит run в статус Success.
func (r *Run) MarkSucceeded() {
	now := time.Now()
	r.Status = RunStatusSuccess
	r.FinishedAt = &now
}

// MarkFailed переводит run в статус Failed.
func (r *Run) MarkFailed() {
	now := time.Now()
	r.Status = RunStatusFailed
	r.FinishedAt = &now
}
