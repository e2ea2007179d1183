package cache

import (
	"context"
	"slices"
	"sync"
)

// MemoryStorage implements Storage in process memory. Contents are lost on exit.
type MemoryStorage struct {
	mu      sync.RWMutex
	order   []string
	buckets map[string]*memoryBucket
}

// NewMemory creates an empty in-memory storage
func NewMemory() *MemoryStorage {
	return &MemoryStorage{
		buckets: make(map[string]*memoryBucket),
	}
}

func (m *MemoryStorage) Open(ctx context.Context, name string) (Bucket, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.buckets[name]; ok {
		return b, nil
	}
	b := &memoryBucket{name: name, entries: make(map[string][]byte)}
	m.buckets[name] = b
	m.order = append(m.order, name)
	return b, nil
}

func (m *MemoryStorage) Lookup(ctx context.Context, name string) (Bucket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if b, ok := m.buckets[name]; ok {
		return b, nil
	}
	return nil, nil
}

func (m *MemoryStorage) Has(ctx context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.buckets[name]
	return ok, nil
}

func (m *MemoryStorage) Names(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.order), nil
}

func (m *MemoryStorage) Delete(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.buckets[name]; !ok {
		return false, nil
	}
	delete(m.buckets, name)
	m.order = slices.DeleteFunc(m.order, func(n string) bool { return n == name })
	return true, nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

type memoryBucket struct {
	name    string
	mu      sync.RWMutex
	entries map[string][]byte
}

func (b *memoryBucket) Name() string {
	return b.name
}

func (b *memoryBucket) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.entries[key]
	if !ok {
		return nil, nil
	}
	return slices.Clone(data), nil
}

func (b *memoryBucket) Set(ctx context.Context, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[key] = slices.Clone(value)
	return nil
}

func (b *memoryBucket) Keys(ctx context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.entries))
	for k := range b.entries {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}
