// Package config загружает конфигурацию процессов orderpipe из окружения.
//
// Порядок: необязательный .env файл, затем переменные окружения.
// Переменные окружения имеют приоритет над .env.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shaiso/orderpipe/internal/domain"
	"github.com/shaiso/orderpipe/internal/mq"
	"github.com/shaiso/orderpipe/internal/repo"
	"github.com/shaiso/orderpipe/internal/scheduler"
	"github.com/shaiso/orderpipe/internal/source"
)

// Значения по умолчанию.
const (
	DefaultSourceFile     = "sample_orders.csv"
	DefaultLandingDir     = "data/landing"
	DefaultUploadMaxBytes = 10 << 20
	DefaultSourceMaxBytes = 256 << 20
)

// Config — конфигурация всех процессов orderpipe.
type Config struct {
	DatabaseURL string `validate:"required"`
	RabbitMQURL string

	PipelineName string `validate:"required"`
	SourceFile   string `validate:"required"`
	LandingDir   string `validate:"required"`

	// SourceMaxBytes — предел размера читаемого источника.
	SourceMaxBytes int64 `validate:"gt=0"`

	S3 source.S3Config

	// UploadBucket — если задан, загруженные через API файлы
	// сохраняются в S3 вместо LandingDir.
	UploadBucket   string
	UploadMaxBytes int64 `validate:"gt=0"`

	WorkerConcurrency  int           `validate:"gte=1,lte=64"`
	WorkerPollInterval time.Duration `validate:"gte=100ms"`
	WorkerID           string

	APIPort    int `validate:"gte=1,lte=65535"`
	WorkerPort int `validate:"gte=1,lte=65535"`
	SchedPort  int `validate:"gte=1,lte=65535"`

	// Schedule — cron-выражение для scheduler. Пусто — расписание выключено.
	Schedule string
	// ScheduleTimezone — часовой пояс расписания (IANA).
	ScheduleTimezone string `validate:"required"`
}

// Load читает .env (если есть) и окружение, затем валидирует результат.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv читает конфигурацию только из окружения.
func FromEnv() (*Config, error) {
	cfg := &Config{
		DatabaseURL:  envString("DB_URL", repo.DefaultDSN),
		RabbitMQURL:  envString("RABBITMQ_URL", mq.DefaultURL()),
		PipelineName: envString("PIPELINE_NAME", domain.DefaultPipelineName),
		SourceFile:   envString("SOURCE_FILE", DefaultSourceFile),
		LandingDir:   envString("LANDING_DATA_DIR", DefaultLandingDir),
		UploadBucket: envString("UPLOAD_BUCKET", ""),
		WorkerID:     envString("WORKER_ID", ""),
		Schedule:     envString("PIPELINE_SCHEDULE", ""),

		ScheduleTimezone: envString("PIPELINE_SCHEDULE_TZ", "UTC"),
		S3: source.S3Config{
			Endpoint:  envString("S3_ENDPOINT", ""),
			AccessKey: envString("S3_ACCESS_KEY", ""),
			SecretKey: envString("S3_SECRET_KEY", ""),
			Region:    envString("S3_REGION", ""),
		},
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var err error
	cfg.S3.UseSSL, err = envBool("S3_USE_SSL", false)
	collect(err)
	cfg.SourceMaxBytes, err = envInt64("SOURCE_MAX_BYTES", DefaultSourceMaxBytes)
	collect(err)
	cfg.UploadMaxBytes, err = envInt64("UPLOAD_MAX_BYTES", DefaultUploadMaxBytes)
	collect(err)
	cfg.WorkerConcurrency, err = envInt("WORKER_CONCURRENCY", 4)
	collect(err)
	cfg.WorkerPollInterval, err = envDuration("WORKER_POLL_INTERVAL", 10*time.Second)
	collect(err)
	cfg.APIPort, err = envInt("API_PORT", 8080)
	collect(err)
	cfg.WorkerPort, err = envInt("WORKER_PORT", 8082)
	collect(err)
	cfg.SchedPort, err = envInt("SCHED_PORT", 8081)
	collect(err)

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет значения по тегам validate.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.UploadBucket != "" && !c.S3.Enabled() {
		return fmt.Errorf("invalid config: UPLOAD_BUCKET requires S3_ENDPOINT")
	}
	if c.Schedule != "" {
		if err := scheduler.ValidateCronExpr(c.Schedule); err != nil {
			return fmt.Errorf("invalid config: PIPELINE_SCHEDULE: %w", err)
		}
	}
	if _, err := time.LoadLocation(c.ScheduleTimezone); err != nil {
		return fmt.Errorf("invalid config: PIPELINE_SCHEDULE_TZ: %w", err)
	}
	return nil
}

// ScheduleLocation возвращает часовой пояс расписания.
func (c *Config) ScheduleLocation() *time.Location {
	loc, err := time.LoadLocation(c.ScheduleTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SourceConfig возвращает конфигурацию загрузчика источников.
// store может быть nil, если S3 не настроен.
func (c *Config) SourceConfig(store source.ObjectStore) source.Config {
	return source.Config{
		BaseDir:  c.LandingDir,
		MaxBytes: c.SourceMaxBytes,
		Store:    store,
	}
}

// ObjectStore создаёт клиент S3 или возвращает nil, если S3 не настроен.
func (c *Config) ObjectStore() (source.ObjectStore, error) {
	if !c.S3.Enabled() {
		return nil, nil
	}
	store, err := source.NewMinioStore(c.S3)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// Addr возвращает адрес для net/http по номеру порта.
func Addr(port int) string {
	return fmt.Sprintf(":%d", port)
}
