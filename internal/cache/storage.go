// Handles persistence of named cache buckets
package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidName is returned when a bucket name cannot be stored
var ErrInvalidName = errors.New("invalid bucket name")

// Storage is the set of named buckets. Implementations are safe for concurrent use.
type Storage interface {
	// opens the named bucket, creating it if absent
	Open(ctx context.Context, name string) (Bucket, error)
	// returns the named bucket without creating it.
	// returns nil, nil when the bucket does not exist
	Lookup(ctx context.Context, name string) (Bucket, error)
	// reports whether the named bucket exists
	Has(ctx context.Context, name string) (bool, error)
	// lists bucket names in creation order
	Names(ctx context.Context) ([]string, error)
	// removes the named bucket and all its entries.
	// returns false, nil when the bucket does not exist
	Delete(ctx context.Context, name string) (bool, error)
	// releases resources held by the storage
	Close() error
}

// Bucket is a persistent key-value store. Entries never expire.
type Bucket interface {
	Name() string
	// retrieves stored data.
	// returns nil, nil when not found
	Get(ctx context.Context, key string) ([]byte, error)
	// stores data, replacing any previous value for the key
	Set(ctx context.Context, key string, value []byte) error
	// lists stored keys
	Keys(ctx context.Context) ([]string, error)
}

// ValidateName rejects names that are blank or that would resolve to
// the cache root or its parent on disk
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || trimmed == "." || trimmed == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// NewStorage builds the storage for a configured backend
func NewStorage(backend, folder string) (Storage, error) {
	switch backend {
	case "disk":
		disk := NewDisk(folder)
		if err := disk.Init(); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
		return disk, nil
	case "sqlite":
		if err := os.MkdirAll(folder, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
		db, err := NewSQLite(filepath.Join(folder, "buckets.db"))
		if err != nil {
			return nil, err
		}
		return db, nil
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", backend)
	}
}
