package source

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Scheme — префикс ссылок на объекты.
const S3Scheme = "s3://"

// ObjectStore — хранилище объектов для источников вида s3://bucket/key.
type ObjectStore interface {
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error
}

// S3Config — параметры подключения к S3-совместимому хранилищу.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
}

// Enabled возвращает true, если endpoint задан.
func (c S3Config) Enabled() bool {
	return c.Endpoint != ""
}

// MinioStore — ObjectStore поверх minio-go.
type MinioStore struct {
	client *minio.Client
}

// NewMinioStore создаёт клиент MinIO/S3.
func NewMinioStore(cfg S3Config) (*MinioStore, error) {
	if !cfg.Enabled() {
		return nil, ErrObjectStoreDisabled
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("new minio client: %w", err)
	}
	return &MinioStore{client: client}, nil
}

// Get проверяет наличие объекта и открывает его на чтение.
func (s *MinioStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if _, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{}); err != nil {
		return nil, fmt.Errorf("stat %s/%s: %w", bucket, key, err)
	}
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", bucket, key, err)
	}
	return obj, nil
}

// Put загружает объект.
func (s *MinioStore) Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	return nil
}

// ParseS3Ref разбирает ссылку s3://bucket/key.
func ParseS3Ref(ref string) (bucket, key string, err error) {
	if !strings.HasPrefix(ref, S3Scheme) {
		return "", "", fmt.Errorf("not an s3 reference: %q", ref)
	}
	bucket, key, ok := strings.Cut(strings.TrimPrefix(ref, S3Scheme), "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 reference must be s3://bucket/key: %q", ref)
	}
	return bucket, key, nil
}

// S3Ref собирает ссылку s3://bucket/key.
func S3Ref(bucket, key string) string {
	return S3Scheme + bucket + "/" + key
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
