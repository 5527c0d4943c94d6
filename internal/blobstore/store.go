// Package blobstore keeps immutable artifacts of the gateway account: code
// cells and data snapshots, addressed by content.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DriverS3     = "s3"
	DriverMemory = "memory"

	defaultMaxGetSize int64 = 4 << 20
)

var (
	ErrInvalidConfig = errors.New("blobstore: invalid config")
	ErrInvalidKey    = errors.New("blobstore: invalid key")
	ErrNotFound      = errors.New("blobstore: not found")
	ErrAlreadyExists = errors.New("blobstore: already exists")
	ErrTooLarge      = errors.New("blobstore: object too large")
)

// Store is write-once: Put on an existing key returns ErrAlreadyExists and
// leaves the stored object untouched.
type Store interface {
	Put(ctx context.Context, key string, payload []byte, meta map[string]string) error
	Get(ctx context.Context, key string) (Object, error)
	Exists(ctx context.Context, key string) (bool, error)
}

type Object struct {
	Key          string
	Data         []byte
	Metadata     map[string]string
	LastModified time.Time
}

type Config struct {
	Driver string
	Prefix string

	// MaxGetSize bounds bytes returned by Get. Defaults to 4 MiB when <= 0.
	MaxGetSize int64

	Bucket   string
	S3Client S3Client
}

func New(cfg Config) (Store, error) {
	driver := strings.TrimSpace(strings.ToLower(cfg.Driver))
	switch driver {
	case DriverMemory, "":
		return newMemoryStore(cfg.Prefix), nil
	case DriverS3:
		return newS3Store(cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrInvalidConfig, cfg.Driver)
	}
}

// keyspace resolves logical keys under an optional prefix.
type keyspace string

func newKeyspace(prefix string) keyspace {
	return keyspace(strings.Trim(strings.TrimSpace(prefix), "/"))
}

func (k keyspace) resolve(key string) (logical, full string, err error) {
	if key != strings.TrimSpace(key) {
		return "", "", fmt.Errorf("%w: key has leading or trailing whitespace", ErrInvalidKey)
	}
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return "", "", fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	for _, r := range key {
		if r < 0x20 || r == 0x7f {
			return "", "", fmt.Errorf("%w: key contains control characters", ErrInvalidKey)
		}
	}
	if k == "" {
		return key, key, nil
	}
	return key, string(k) + "/" + key, nil
}

func cloneMetadata(v map[string]string) map[string]string {
	if len(v) == 0 {
		return nil
	}
	out := make(map[string]string, len(v))
	for k, val := range v {
		if k = strings.TrimSpace(k); k != "" {
			out[k] = strings.TrimSpace(val)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
