package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Uploader сохраняет загруженный файл и возвращает ссылку на него,
// пригодную для Loader.Load.
type Uploader interface {
	Save(ctx context.Context, name string, body io.Reader, size int64) (string, error)
}

// UploadName возвращает безопасное уникальное имя для загруженного файла.
// Расширение должно соответствовать поддерживаемому формату.
func UploadName(name string) (string, error) {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "" || base == "." || base == "/" || strings.HasPrefix(base, ".") {
		return "", fmt.Errorf("%w: file name %q", ErrInvalidUpload, name)
	}
	if _, err := FormatFromName(base); err != nil {
		return "", err
	}
	return uuid.NewString()[:8] + "_" + base, nil
}

// LocalUploader сохраняет файлы в каталог landing-данных.
// Возвращаемая ссылка относительна этого каталога.
type LocalUploader struct {
	Dir string
}

// Save записывает файл атомарно: во временный файл, затем rename.
func (u LocalUploader) Save(_ context.Context, name string, body io.Reader, _ int64) (string, error) {
	stored, err := UploadName(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(u.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create landing dir: %w", err)
	}

	tmp, err := os.CreateTemp(u.Dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	_, copyErr := io.Copy(tmp, body)
	closeErr := tmp.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write upload: %w", err)
	}

	if err := os.Rename(tmp.Name(), filepath.Join(u.Dir, stored)); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("store upload: %w", err)
	}
	return stored, nil
}

// ObjectUploader сохраняет файлы в bucket и возвращает ссылку s3://.
type ObjectUploader struct {
	Store  ObjectStore
	Bucket string
	Prefix string
}

// Save загружает файл в object store.
func (u ObjectUploader) Save(ctx context.Context, name string, body io.Reader, size int64) (string, error) {
	if u.Store == nil {
		return "", ErrObjectStoreDisabled
	}
	stored, err := UploadName(name)
	if err != nil {
		return "", err
	}

	key := path.Join(u.Prefix, stored)
	contentType := mime.TypeByExtension(path.Ext(stored))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := u.Store.Put(ctx, u.Bucket, key, body, size, contentType); err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	return S3Scheme + u.Bucket + "/" + key, nil
}
