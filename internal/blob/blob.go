// Package blob resolves image sources to bytes. A source is either an absolute http(s) URL or a
// key in the configured object store.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/hyperjump/kagami/internal/config"
)

// ErrNotFound is returned when a key does not exist. It matches os.ErrNotExist.
var ErrNotFound = os.ErrNotExist

// ErrTooLarge is returned when an object exceeds the configured size limit.
var ErrTooLarge = errors.New("object exceeds size limit")

// KeyStore reads objects by key and knows the canonical public URL of a key.
type KeyStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	URL(key string) string
}

// NormalizeKey strips leading slashes.
func NormalizeKey(key string) string {
	return strings.TrimLeft(key, "/")
}

// joinKey prepends prefix to key. Keys that climb out of the prefix with ".." are rejected.
func joinKey(prefix, key string) (string, error) {
	key = NormalizeKey(key)
	if clean := path.Clean(key); clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("key %q escapes the blob prefix", key)
	}
	if prefix == "" {
		return key, nil
	}
	return path.Join(prefix, key), nil
}

// urlKey is joinKey for URL building, which has no error path. Escaping keys never reach
// it after a successful Get.
func urlKey(prefix, key string) string {
	full, err := joinKey(prefix, key)
	if err != nil {
		return NormalizeKey(key)
	}
	return full
}

// readLimited reads r fully, failing with ErrTooLarge once more than limit bytes are seen.
// A limit <= 0 disables the check.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrTooLarge
	}
	return data, nil
}

// NewKeyStore builds the KeyStore for the configured backend.
func NewKeyStore(ctx context.Context, cfg config.BlobConfig) (KeyStore, error) {
	switch cfg.Backend {
	case "s3":
		client, err := NewS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewS3Store(client, cfg.Bucket, cfg.Region, cfg.Prefix, cfg.MaxFetchBytes), nil
	case "minio":
		client, err := NewMinioClient(cfg)
		if err != nil {
			return nil, err
		}
		return NewMinioStore(client, cfg.Bucket, cfg.Prefix, cfg.MaxFetchBytes), nil
	case "local":
		return NewLocalStore(cfg.LocalRoot, cfg.MaxFetchBytes), nil
	}
	return nil, fmt.Errorf("unknown blob backend %q", cfg.Backend)
}
