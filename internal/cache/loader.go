package cache

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"figmapedia/kbservice/internal/metrics"
)

// Loader serves values from a Cache and computes misses at most once per
// key at a time. Failed loads are never stored.
type Loader[T any] struct {
	name  string
	cache Cache[T]
	group singleflight.Group
	// gen moves on every invalidation; loads that started earlier are
	// returned to their callers but not stored.
	gen atomic.Uint64
}

func NewLoader[T any](name string, c Cache[T]) *Loader[T] {
	return &Loader[T]{name: name, cache: c}
}

// Load returns the cached value for key or runs fn. Concurrent callers for
// the same key share one fn call. fn runs detached from the first caller's
// cancellation so one disconnecting client does not fail the others; each
// caller still stops waiting when its own ctx ends.
func (l *Loader[T]) Load(ctx context.Context, key string, ttl time.Duration, tags []string, fn func(context.Context) (T, error)) (T, error) {
	if value, ok := l.cache.Get(ctx, key); ok {
		metrics.CacheHitsTotal.WithLabelValues(l.name).Inc()
		return value, nil
	}
	metrics.CacheMissesTotal.WithLabelValues(l.name).Inc()

	gen := l.gen.Load()
	ch := l.group.DoChan(key+"#"+strconv.FormatUint(gen, 10), func() (any, error) {
		loadCtx := context.WithoutCancel(ctx)
		if value, ok := l.cache.Get(loadCtx, key); ok {
			return value, nil
		}
		value, err := fn(loadCtx)
		if err != nil {
			return value, err
		}
		if l.gen.Load() == gen {
			l.cache.Set(loadCtx, key, value, ttl, tags...)
		}
		return value, nil
	})

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			var zero T
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

// Peek returns a cached value without loading.
func (l *Loader[T]) Peek(ctx context.Context, key string) (T, bool) {
	return l.cache.Get(ctx, key)
}

// Invalidate drops every entry carrying tag.
func (l *Loader[T]) Invalidate(ctx context.Context, tag string) error {
	l.gen.Add(1)
	return l.cache.InvalidateTag(ctx, tag)
}
