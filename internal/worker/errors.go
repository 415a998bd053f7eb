package worker

import "errors"

// Ошибки воркера.
var (
	// ErrWorkerStopped — воркер остановлен, новые runs не принимаются.
	ErrWorkerStopped = errors.New("worker stopped")

	// ErrInvalidPayload — сообщение не содержит корректного run_id.
	ErrInvalidPayload = errors.New("invalid run.pending payload")
)
