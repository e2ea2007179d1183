package httpcache

import (
	"context"
	"fmt"
	"net/http"

	"github.com/iTrooz/offline-cache/internal/cache"
	"github.com/sirupsen/logrus"
)

// Storage matches requests against every bucket of a cache.Storage
type Storage struct {
	storage cache.Storage
}

func NewStorage(storage cache.Storage) *Storage {
	return &Storage{storage: storage}
}

// Open returns the HTTP view of the named bucket, creating it if absent
func (s *Storage) Open(ctx context.Context, name string) (*HTTPCache, error) {
	bucket, err := s.storage.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return New(bucket), nil
}

// Names lists bucket names in creation order
func (s *Storage) Names(ctx context.Context) ([]string, error) {
	return s.storage.Names(ctx)
}

// Delete removes the named bucket
func (s *Storage) Delete(ctx context.Context, name string) (bool, error) {
	return s.storage.Delete(ctx, name)
}

// Match looks req up in every bucket, oldest first, and returns the first hit
// together with the name of the bucket holding it.
// returns nil, "", nil on a miss
func (s *Storage) Match(ctx context.Context, req *http.Request) (*http.Response, string, error) {
	if req.Method != http.MethodGet {
		return nil, "", nil
	}

	key, err := GenerateKey(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate cache key: %w", err)
	}

	names, err := s.storage.Names(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list buckets: %w", err)
	}

	for _, name := range names {
		bucket, err := s.storage.Lookup(ctx, name)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open bucket %s: %w", name, err)
		}
		// Deleted since listed
		if bucket == nil {
			continue
		}
		resp, err := New(bucket).GetKey(ctx, key)
		if err != nil {
			return nil, "", err
		}
		if resp != nil {
			resp.Request = req
			logrus.Debugf("Cache hit for %s in bucket %s", req.URL, name)
			return resp, name, nil
		}
	}

	return nil, "", nil
}
