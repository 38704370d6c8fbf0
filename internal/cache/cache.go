package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Cache is a keyed store with per-entry expiry and tag-based invalidation.
// Reads and writes are best effort; only invalidation reports errors so an
// operator learns when a purge did not reach every tier.
type Cache[T any] interface {
	Get(ctx context.Context, key string) (T, bool)
	Set(ctx context.Context, key string, value T, ttl time.Duration, tags ...string)
	Delete(ctx context.Context, key string)
	InvalidateTag(ctx context.Context, tag string) error
}

// Backend is a shared byte store such as Redis or MongoDB.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error
	Delete(ctx context.Context, key string) error
	InvalidateTag(ctx context.Context, tag string) error
	Ping(ctx context.Context) error
}

// Remote adapts a Backend into a typed Cache using JSON encoding.
type Remote[T any] struct {
	backend Backend
	prefix  string
	logger  *slog.Logger
}

func NewRemote[T any](backend Backend, prefix string, logger *slog.Logger) *Remote[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Remote[T]{backend: backend, prefix: prefix, logger: logger}
}

func (r *Remote[T]) Get(ctx context.Context, key string) (T, bool) {
	var zero T
	data, ok, err := r.backend.Get(ctx, r.prefix+key)
	if err != nil {
		r.logger.Warn("cache backend read failed", slog.String("key", r.prefix+key), slog.String("error", err.Error()))
		return zero, false
	}
	if !ok {
		return zero, false
	}
	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		r.logger.Warn("cache entry decode failed", slog.String("key", r.prefix+key), slog.String("error", err.Error()))
		return zero, false
	}
	return value, true
}

func (r *Remote[T]) Set(ctx context.Context, key string, value T, ttl time.Duration, tags ...string) {
	data, err := json.Marshal(value)
	if err != nil {
		r.logger.Warn("cache entry encode failed", slog.String("key", r.prefix+key), slog.String("error", err.Error()))
		return
	}
	if err := r.backend.Set(ctx, r.prefix+key, data, ttl, tags); err != nil {
		r.logger.Warn("cache backend write failed", slog.String("key", r.prefix+key), slog.String("error", err.Error()))
	}
}

func (r *Remote[T]) Delete(ctx context.Context, key string) {
	if err := r.backend.Delete(ctx, r.prefix+key); err != nil {
		r.logger.Warn("cache backend delete failed", slog.String("key", r.prefix+key), slog.String("error", err.Error()))
	}
}

func (r *Remote[T]) InvalidateTag(ctx context.Context, tag string) error {
	return r.backend.InvalidateTag(ctx, tag)
}

// Tiered keeps a short-lived local copy in front of a shared tier. Local
// copies live for at most localTTL so a purge issued by another replica
// becomes visible within that window. Copies filled from a remote hit carry
// no tags, so a tag purge clears the whole local tier.
type Tiered[T any] struct {
	local    *Memory[T]
	remote   Cache[T]
	localTTL time.Duration
}

func NewTiered[T any](local *Memory[T], remote Cache[T], localTTL time.Duration) *Tiered[T] {
	return &Tiered[T]{local: local, remote: remote, localTTL: localTTL}
}

func (t *Tiered[T]) Get(ctx context.Context, key string) (T, bool) {
	if value, ok := t.local.Get(ctx, key); ok {
		return value, true
	}
	value, ok := t.remote.Get(ctx, key)
	if !ok {
		return value, false
	}
	t.local.Set(ctx, key, value, t.localTTL)
	return value, true
}

func (t *Tiered[T]) Set(ctx context.Context, key string, value T, ttl time.Duration, tags ...string) {
	t.remote.Set(ctx, key, value, ttl, tags...)
	local := ttl
	if t.localTTL > 0 && t.localTTL < local {
		local = t.localTTL
	}
	t.local.Set(ctx, key, value, local, tags...)
}

func (t *Tiered[T]) Delete(ctx context.Context, key string) {
	t.local.Delete(ctx, key)
	t.remote.Delete(ctx, key)
}

func (t *Tiered[T]) InvalidateTag(ctx context.Context, tag string) error {
	t.local.Purge()
	return t.remote.InvalidateTag(ctx, tag)
}
