package domain

// RunStatus — статус выполнения run.
//
// Жизненный цикл:
//
//	RUNNING → SUCCESS
//	        ↘ FAILED
//
// Run создаётся сразу в статусе Running: шаги ожидают в Pending,
// пока sequencer не возьмёт run в работу.
type RunStatus string

const (
	// RunStatusRunning — run создан и выполняется (или ждёт worker).
	RunStatusRunning RunStatus = "Running"

	// RunStatusSuccess — все четыре шага завершены успешно.
	RunStatusSuccess RunStatus = "Success"

	// RunStatusFailed — один из шагов упал.
	RunStatusFailed RunStatus = "Failed"
)

// IsTerminal возвращает true, если статус финальный (run завершён).
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSuccess, RunStatusFailed:
		return true
	default:
		return false
	}
}

// IsValid проверяет, что статус входит в допустимый набор.
func (s RunStatus) IsValid() bool {
	switch s {
	case RunStatusRunning, RunStatusSuccess, RunStatusFailed:
		return true
	default:
		return false
	}
}

// StepStatus — статус выполнения шага.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCESS
//	                  ↘ FAILED
type StepStatus string

const (
	// StepStatusPending — шаг создан вместе с run и ещё не начинался.
	StepStatusPending StepStatus = "Pending"

	// StepStatusRunning — шаг выполняется.
	StepStatusRunning StepStatus = "Running"

	// StepStatusSuccess — шаг успешно завершён.
	StepStatusSuccess StepStatus = "Success"

	// StepStatusFailed — шаг завершился с ошибкой.
	StepStatusFailed StepStatus = "Failed"
)

// IsTerminal возвращает true, если статус финальный.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepStatusSuccess, StepStatusFailed:
		return true
	default:
		return false
	}
}

// PriorStepStatus возвращает статус, из которого шаг переходит в to.
// ok=false для Pending: в него шаг не переходит.
func PriorStepStatus(to StepStatus) (StepStatus, bool) {
	switch to {
	case StepStatusRunning:
		return StepStatusPending, true
	case StepStatusSuccess, StepStatusFailed:
		return StepStatusRunning, true
	default:
		return "", false
	}
}

// LogLevel — уровень события в журнале run.
type LogLevel string

const (
	LogLevelInfo    LogLevel = "Info"
	LogLevelWarning LogLevel = "Warning"
	LogLevelError   LogLevel = "Error"
)

// IsValid проверяет, что уровень входит в допустимый набор.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelInfo, LogLevelWarning, LogLevelError:
		return true
	default:
		return false
	}
}
