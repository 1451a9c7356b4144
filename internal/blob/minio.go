package blob

import (
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hyperjump/kagami/internal/config"
)

// MinioStore reads objects from MinIO or another S3-compatible server.
type MinioStore struct {
	client   *minio.Client
	bucket   string
	prefix   string
	maxBytes int64
}

// NewMinioClient creates a client for the configured endpoint.
func NewMinioClient(cfg config.BlobConfig) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  miniocreds.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return client, nil
}

// NewMinioStore creates a store for bucket. prefix is prepended to all keys.
func NewMinioStore(client *minio.Client, bucket, prefix string, maxBytes int64) *MinioStore {
	return &MinioStore{
		client:   client,
		bucket:   bucket,
		prefix:   prefix,
		maxBytes: maxBytes,
	}
}

// Get downloads the object at key.
func (s *MinioStore) Get(ctx context.Context, key string) ([]byte, error) {
	fullKey, err := joinKey(s.prefix, key)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, fullKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapErr(fullKey, err)
	}
	defer obj.Close()

	// GetObject is lazy; Stat surfaces a missing key before reading.
	if _, err := obj.Stat(); err != nil {
		return nil, s.mapErr(fullKey, err)
	}
	data, err := readLimited(obj, s.maxBytes)
	if err != nil {
		return nil, s.mapErr(fullKey, err)
	}
	return data, nil
}

func (s *MinioStore) mapErr(key string, err error) error {
	code := minio.ToErrorResponse(err).Code
	if code == "NoSuchKey" || code == "NotFound" {
		return fmt.Errorf("%s/%s: %w", s.bucket, key, ErrNotFound)
	}
	return fmt.Errorf("minio get %s/%s: %w", s.bucket, key, err)
}

// URL returns the path-style URL of key on the configured endpoint.
func (s *MinioStore) URL(key string) string {
	endpoint := s.client.EndpointURL()
	return fmt.Sprintf("%s://%s/%s/%s",
		endpoint.Scheme, endpoint.Host, s.bucket, strings.TrimLeft(urlKey(s.prefix, key), "/"))
}
