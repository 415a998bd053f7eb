package repo

import "errors"

// Общие ошибки репозиториев.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — запись уже существует (конфликт уникальности).
	ErrAlreadyExists = errors.New("already exists")

	// ErrAlreadyClaimed — run уже забран другим worker'ом или завершён.
	ErrAlreadyClaimed = errors.New("run already claimed")

	// ErrStaleState — запись уже не в том статусе, из которого выполняется переход.
	ErrStaleState = errors.New("stale state")
)
