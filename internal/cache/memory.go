package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCapacity = 500

type entry[T any] struct {
	value     T
	expiresAt time.Time
	tags      []string
}

// Memory is a process-local cache bounded by entry count. Expired entries
// are dropped lazily: on read, and in a sweep that runs before an insert
// would otherwise evict a live entry. When the bound is still reached the
// least recently used entry is evicted.
type Memory[T any] struct {
	mu       sync.Mutex
	entries  *lru.Cache[string, entry[T]]
	tags     map[string]map[string]struct{}
	capacity int
	now      func() time.Time
}

type MemoryOption func(*memoryConfig)

type memoryConfig struct {
	capacity int
	now      func() time.Time
}

func WithCapacity(n int) MemoryOption {
	return func(c *memoryConfig) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(c *memoryConfig) {
		if now != nil {
			c.now = now
		}
	}
}

func NewMemory[T any](opts ...MemoryOption) *Memory[T] {
	cfg := memoryConfig{capacity: defaultCapacity, now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}

	m := &Memory[T]{
		tags:     make(map[string]map[string]struct{}),
		capacity: cfg.capacity,
		now:      cfg.now,
	}
	// The eviction callback runs synchronously inside Add/Remove while m.mu
	// is held by the caller.
	entries, err := lru.NewWithEvict[string, entry[T]](cfg.capacity, m.onEvict)
	if err != nil {
		panic(err)
	}
	m.entries = entries
	return m
}

func (m *Memory[T]) onEvict(key string, e entry[T]) {
	for _, tag := range e.tags {
		keys := m.tags[tag]
		delete(keys, key)
		if len(keys) == 0 {
			delete(m.tags, tag)
		}
	}
}

func (m *Memory[T]) Get(_ context.Context, key string) (T, bool) {
	var zero T
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries.Get(key)
	if !ok {
		return zero, false
	}
	if !m.now().Before(e.expiresAt) {
		m.entries.Remove(key)
		return zero, false
	}
	return e.value, true
}

func (m *Memory[T]) Set(_ context.Context, key string, value T, ttl time.Duration, tags ...string) {
	if ttl <= 0 {
		return
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.entries.Contains(key) {
		m.entries.Remove(key)
	} else if m.entries.Len() >= m.capacity {
		m.sweepLocked(now)
	}

	m.entries.Add(key, entry[T]{value: value, expiresAt: now.Add(ttl), tags: tags})
	for _, tag := range tags {
		keys := m.tags[tag]
		if keys == nil {
			keys = make(map[string]struct{})
			m.tags[tag] = keys
		}
		keys[key] = struct{}{}
	}
}

func (m *Memory[T]) sweepLocked(now time.Time) {
	for _, key := range m.entries.Keys() {
		if e, ok := m.entries.Peek(key); ok && !now.Before(e.expiresAt) {
			m.entries.Remove(key)
		}
	}
}

func (m *Memory[T]) Delete(_ context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries.Remove(key)
}

func (m *Memory[T]) InvalidateTag(_ context.Context, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := m.tags[tag]
	victims := make([]string, 0, len(keys))
	for key := range keys {
		victims = append(victims, key)
	}
	for _, key := range victims {
		m.entries.Remove(key)
	}
	delete(m.tags, tag)
	return nil
}

// Purge drops every entry.
func (m *Memory[T]) Purge() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries.Purge()
	clear(m.tags)
}

func (m *Memory[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries.Len()
}
