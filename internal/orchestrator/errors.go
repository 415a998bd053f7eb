package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrRunNotFound — run не найден в БД.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunFinished — run уже в финальном статусе, выполнение не требуется.
	ErrRunFinished = errors.New("run already finished")

	// ErrStageFailed — стадия завершилась ошибкой; run помечен Failed.
	ErrStageFailed = errors.New("stage failed")

	// ErrStorage — ошибка чтения или записи состояния run.
	ErrStorage = errors.New("storage error")

	// ErrInvalidRun — run или его шаги не соответствуют ожидаемой структуре.
	ErrInvalidRun = errors.New("invalid run")

	// ErrRunActive — run уже выполняется этим процессом.
	ErrRunActive = errors.New("run already active")

	// ErrStepInterrupted — шаг остался в Running после аварийной остановки процесса.
	ErrStepInterrupted = errors.New("step interrupted before completion")

	// ErrRunConflict — состояние run изменил другой исполнитель.
	// Текущее выполнение прекращено без дальнейших записей.
	ErrRunConflict = errors.New("run state changed by another executor")

	// ErrRunClaimed — run закреплён за другим worker'ом.
	ErrRunClaimed = errors.New("run claimed by another worker")
)
