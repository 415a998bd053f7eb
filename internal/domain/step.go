package domain

import (
	"time"

	"github.com/google/uuid"
)

// Фиксированные шаги pipeline. Номера 1..4 уникальны внутри run.
const (
	StepNumberDataPull  = 1
	StepNumberExtract   = 2
	StepNumberTransform = 3
	StepNumberMigrate   = 4

	// StepCount — количество шагов в каждом run.
	StepCount = 4
)

// StepNames — имена шагов по порядку (индекс = номер - 1).
var StepNames = [StepCount]string{"Data Pull", "Extract", "Transform", "Migrate"}

// StepName возвращает имя шага по номеру или пустую строку для неизвестного номера.
func StepName(number int) string {
	if number < 1 || number > StepCount {
		return ""
	}
	return StepNames[number-1]
}

// Step — запись о выполнении одного шага внутри run.
//
// Все четыре шага создаются атомарно вместе с run в статусе Pending.
// Каждый переход статуса выполняется sequencer'ом ровно один раз.
type Step struct {
	// ID — уникальный идентификатор шага.
	ID uuid.UUID `json:"id"`

	// RunID — ссылка на родительский run.
	RunID uuid.UUID `json:"run_id"`

	// Number — номер шага (1..4).
	Number int `json:"step_number"`

	// Name — имя шага ("Data Pull", "Extract", "Transform", "Migrate").
	Name string `json:"step_name"`

	// Status — текущий статус шага.
	Status StepStatus `json:"status"`

	// StartedAt — время перехода в Running.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время перехода в Success/Failed.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// RowsAffected — количество строк, которое вернул stage handler.
	// Nil, пока шаг не завершён успешно.
	RowsAffected *int `json:"rows_affected,omitempty"`

	// RowsProcessed и RowsTotal — прогресс шага, пока он в Running.
	// Обновляются best-effort и могут отставать от фактического состояния.
	RowsProcessed *int `json:"rows_processed,omitempty"`
	RowsTotal     *int `json:"rows_total,omitempty"`

	// ErrorMessage — текст ошибки для упавшего шага.
	ErrorMessage *string `json:"error_message,omitempty"`

	// CreatedAt — время создания записи.
	CreatedAt time.Time `json:"created_at"`
}

// NewSteps создаёт четыре шага в статусе Pending для run.
func NewSteps(runID uuid.UUID, now time.Time) []Step {
	steps := make([]Step, StepCount)
	for i := range steps {
		steps[i] = Step{
			ID:        uuid.New(),
			RunID:     runID,
			Number:    i + 1,
			Name:      StepNames[i],
			Status:    StepStatusPending,
			CreatedAt: now,
		}
	}
	return steps
}

// Duration возвращает продолжительность выполнения шага.
func (s *Step) Duration() time.Duration {
	if s.StartedAt == nil || s.FinishedAt == nil {
		return 0
	}
	return s.FinishedAt.Sub(*s.StartedAt)
}

// IsFinished возвращает true, если шаг завершён.
func (s *Step) IsFinished() bool {
	return s.Status.IsTerminal()
}

// MarkRunning переводит шаг в статус Running.
func (s *Step) MarkRunning() {
	now := time.Now()
	s.Status = StepStatusRunning
	s.StartedAt = &now
}

// MarkSucceeded переводит шаг в статус Success с количеством строк.
func (s *Step) MarkSucceeded(rows int) {
	now := time.Now()
	s.Status = StepStatusSuccess
	s.FinishedAt = &now
	s.RowsAffected = &rows
}

// SetProgress запоминает прогресс шага.
func (s *Step) SetProgress(processed, total int) {
	s.RowsProcessed = &processed
	s.RowsTotal = &total
}

// MarkFailed переводит шаг в статус Failed с текстом ошибки.
func (s *Step) MarkFailed(msg string) {
	now := time.Now()
	s.Status = StepStatusFailed
	s.FinishedAt = &now
	s.ErrorMessage = &msg
}
