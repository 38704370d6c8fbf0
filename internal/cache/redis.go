package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "kb:cache:"
	redisTagPrefix = "kb:tag:"
)

// RedisBackend stores entries as plain keys with native expiry. Each tag is
// a set of member keys so a purge can delete them in one round trip. A tag
// set lives at least as long as its longest-lived member.
type RedisBackend struct {
	client *redis.Client
}

var _ Backend = (*RedisBackend)(nil)

func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (r *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisKeyPrefix+key, value, ttl)
		for _, tag := range tags {
			pipe.SAdd(ctx, redisTagPrefix+tag, redisKeyPrefix+key)
			// NX covers a freshly created set; GT only ever extends.
			pipe.ExpireNX(ctx, redisTagPrefix+tag, ttl)
			pipe.ExpireGT(ctx, redisTagPrefix+tag, ttl)
		}
		return nil
	})
	return err
}

func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, redisKeyPrefix+key).Err()
}

func (r *RedisBackend) InvalidateTag(ctx context.Context, tag string) error {
	keys, err := r.client.SMembers(ctx, redisTagPrefix+tag).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	keys = append(keys, redisTagPrefix+tag)
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisBackend) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
