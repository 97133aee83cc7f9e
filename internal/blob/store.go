package blob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"resonate/internal/config"
)

// ErrNotFound is returned by Get when the key has never been written.
var ErrNotFound = errors.New("blob not found")

// ErrInvalidKey is returned for keys that could escape the store namespace.
var ErrInvalidKey = errors.New("invalid blob key")

// Store is the byte storage consumed by the pipeline and delivery layers.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Close() error
}

// Open constructs the backend selected by cfg.Blob.Backend rooted at
// cfg.Paths.BlobDir.
func Open(cfg *config.Config) (Store, error) {
	switch cfg.Blob.Backend {
	case config.BlobBackendPebble:
		return OpenPebble(cfg.Paths.BlobDir)
	case config.BlobBackendFS, "":
		return NewFileStore(cfg.Paths.BlobDir)
	default:
		return nil, fmt.Errorf("blob backend %q not supported", cfg.Blob.Backend)
	}
}

// ValidateKey rejects empty, absolute, and parent-relative keys.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if path.Clean(key) != key {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}
