package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/shaiso/orderpipe/internal/domain"
)

// DefaultMaxBytes — максимальный размер источника по умолчанию.
const DefaultMaxBytes = 256 << 20

// Config — конфигурация Loader.
type Config struct {
	// BaseDir — каталог landing-данных для относительных путей.
	BaseDir string

	// MaxBytes — ограничение на размер источника.
	MaxBytes int64

	// Store — хранилище объектов для ссылок s3://. Nil отключает s3.
	Store ObjectStore

	Logger *slog.Logger
}

// Dataset — загруженный источник.
type Dataset struct {
	Ref     string
	Format  domain.SourceType
	Records []Record
}

// Loader загружает записи по ссылке на источник.
//
// Поддерживаемые ссылки:
//   - абсолютный путь — используется как есть
//   - относительный путь — разрешается относительно BaseDir
//   - s3://bucket/key — читается из ObjectStore
//
// Формат определяется по расширению: .csv, .json, .yaml/.yml.
type Loader struct {
	config Config
	logger *slog.Logger
}

// NewLoader создаёт Loader.
func NewLoader(cfg Config) *Loader {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		config: cfg,
		logger: logger.With("component", "source"),
	}
}

// Load читает и разбирает источник. Все ошибки оборачивают ErrSourceRead.
func (l *Loader) Load(ctx context.Context, ref string) (*Dataset, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: empty source reference", ErrSourceRead)
	}

	name := ref
	if strings.HasPrefix(ref, S3Scheme) {
		_, key, err := ParseS3Ref(ref)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSourceRead, err)
		}
		name = key
	}

	format, err := FormatFromName(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceRead, err)
	}

	data, err := l.read(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceRead, err)
	}

	records, err := Parse(format, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSourceRead, ref, err)
	}

	l.logger.Debug("source loaded",
		"ref", ref,
		"format", format,
		"records", len(records),
		"bytes", len(data),
	)

	return &Dataset{Ref: ref, Format: format, Records: records}, nil
}

// Resolve возвращает путь к локальному файлу для ссылки.
// Для s3:// ссылка возвращается без изменений.
func (l *Loader) Resolve(ref string) string {
	if strings.HasPrefix(ref, S3Scheme) || filepath.IsAbs(ref) {
		return ref
	}
	return filepath.Join(l.config.BaseDir, ref)
}

// DisplayName возвращает имя файла источника для журнала.
func DisplayName(ref string) string {
	if bucket, key, err := ParseS3Ref(ref); err == nil {
		return bucket + "/" + path.Base(key)
	}
	return filepath.Base(ref)
}

func (l *Loader) read(ctx context.Context, ref string) ([]byte, error) {
	if strings.HasPrefix(ref, S3Scheme) {
		return l.readObject(ctx, ref)
	}

	p := l.Resolve(ref)
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", p, err)
	}
	defer f.Close()

	return l.readLimited(f, p)
}

func (l *Loader) readObject(ctx context.Context, ref string) ([]byte, error) {
	if l.config.Store == nil {
		return nil, ErrObjectStoreDisabled
	}
	bucket, key, err := ParseS3Ref(ref)
	if err != nil {
		return nil, err
	}

	rc, err := l.config.Store.Get(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return l.readLimited(rc, ref)
}

func (l *Loader) readLimited(r io.Reader, name string) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, l.config.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if int64(len(data)) > l.config.MaxBytes {
		return nil, fmt.Errorf("%s exceeds %d bytes", name, l.config.MaxBytes)
	}
	return data, nil
}
