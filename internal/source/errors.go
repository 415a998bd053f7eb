package source

import "errors"

// Ошибки загрузки источника.
var (
	// ErrSourceRead — источник отсутствует, не читается или повреждён.
	// Все ошибки Loader.Load оборачивают её.
	ErrSourceRead = errors.New("source read failed")

	// ErrUnknownFormat — расширение источника не поддерживается.
	ErrUnknownFormat = errors.New("unknown source format")

	// ErrObjectStoreDisabled — ссылка s3:// при не настроенном object store.
	ErrObjectStoreDisabled = errors.New("object store is not configured")

	// ErrInvalidUpload — имя загружаемого файла пустое или недопустимое.
	ErrInvalidUpload = errors.New("invalid upload")
)
