package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// marker file holding the creation time of a bucket directory
const bucketMarker = ".bucket"

// DiskStorage implements Storage with one directory per bucket
type DiskStorage struct {
	cacheDir string
	mu       sync.Mutex
}

// NewDisk creates a new disk storage rooted at cacheDir
func NewDisk(cacheDir string) *DiskStorage {
	return &DiskStorage{
		cacheDir: cacheDir,
	}
}

// Init ensures the cache directory exists
func (d *DiskStorage) Init() error {
	return os.MkdirAll(d.cacheDir, 0755)
}

func (d *DiskStorage) bucketDir(name string) string {
	return filepath.Join(d.cacheDir, url.PathEscape(name))
}

// Open returns the named bucket, creating its directory if needed
func (d *DiskStorage) Open(ctx context.Context, name string) (Bucket, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	dir := d.bucketDir(name)
	marker := filepath.Join(dir, bucketMarker)
	if _, err := os.Stat(marker); err == nil {
		return &diskBucket{name: name, dir: dir}, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create bucket directory: %w", err)
	}
	created := strconv.FormatInt(time.Now().UnixNano(), 10)
	if err := os.WriteFile(marker, []byte(created), 0644); err != nil {
		return nil, fmt.Errorf("failed to write bucket marker: %w", err)
	}

	logrus.Debugf("Created bucket %s in %s", name, dir)
	return &diskBucket{name: name, dir: dir}, nil
}

// Lookup returns the named bucket if its directory exists
func (d *DiskStorage) Lookup(ctx context.Context, name string) (Bucket, error) {
	ok, err := d.Has(ctx, name)
	if err != nil || !ok {
		return nil, err
	}
	return &diskBucket{name: name, dir: d.bucketDir(name)}, nil
}

// Has reports whether the named bucket exists
func (d *DiskStorage) Has(ctx context.Context, name string) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}
	_, err := os.Stat(filepath.Join(d.bucketDir(name), bucketMarker))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Names lists buckets ordered by creation time
func (d *DiskStorage) Names(ctx context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries, err := os.ReadDir(d.cacheDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list cache directory: %w", err)
	}

	type bucketInfo struct {
		name    string
		created int64
	}
	var buckets []bucketInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(d.cacheDir, entry.Name(), bucketMarker))
		if err != nil {
			// Not a bucket
			continue
		}
		name, err := url.PathUnescape(entry.Name())
		if err != nil {
			logrus.Warnf("Ignoring bucket directory with invalid name %s: %v", entry.Name(), err)
			continue
		}
		created, _ := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
		buckets = append(buckets, bucketInfo{name: name, created: created})
	}

	sort.SliceStable(buckets, func(i, j int) bool {
		if buckets[i].created != buckets[j].created {
			return buckets[i].created < buckets[j].created
		}
		return buckets[i].name < buckets[j].name
	})

	names := make([]string, 0, len(buckets))
	for _, b := range buckets {
		names = append(names, b.name)
	}
	return names, nil
}

// Delete removes the bucket directory
func (d *DiskStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	dir := d.bucketDir(name)
	if _, err := os.Stat(filepath.Join(dir, bucketMarker)); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("failed to remove bucket directory: %w", err)
	}
	return true, nil
}

// Close is a no-op for disk storage
func (d *DiskStorage) Close() error {
	return nil
}

type diskBucket struct {
	name string
	dir  string
}

func (b *diskBucket) Name() string {
	return b.name
}

func (b *diskBucket) path(key string) (string, error) {
	local := filepath.FromSlash(key)
	if key == "" || !filepath.IsLocal(local) || filepath.Base(local) == bucketMarker {
		return "", fmt.Errorf("invalid cache key: %q", key)
	}
	return filepath.Join(b.dir, local), nil
}

// Get reads the file stored for key
func (b *diskBucket) Get(ctx context.Context, key string) ([]byte, error) {
	cachePath, err := b.path(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(cachePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Set stores data for key
func (b *diskBucket) Set(ctx context.Context, key string, data []byte) error {
	cachePath, err := b.path(key)
	if err != nil {
		return err
	}

	// Ensure directory exists
	dir := filepath.Dir(cachePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	// Write to a temporary file first so readers never see a partial entry
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), cachePath); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}

	logrus.Debugf("Cached entry: %s", cachePath)
	return nil
}

// Keys walks the bucket directory
func (b *diskBucket) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(b.dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || entry.Name() == bucketMarker || strings.HasPrefix(entry.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(b.dir, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list bucket %s: %w", b.name, err)
	}
	return keys, nil
}
