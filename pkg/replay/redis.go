package replay

import (
	"context"
	"time"
)

// KeyClient is the part of the Redis client the store needs.
// *redis.Client from pkg/clients/redis satisfies it.
type KeyClient interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) (int64, error)
}

// RedisStore shares reuse state between gateway replicas. Each allowed use
// is written with SET NX PX window, so the key exists exactly while a repeat
// must be rejected and Redis provides the atomicity.
type RedisStore struct {
	client KeyClient
	prefix string
}

// NewRedisStore returns a store writing keys under cfg.KeyPrefix.
func NewRedisStore(client KeyClient, cfg Config) *RedisStore {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// CheckAndRecord implements [Store].
func (s *RedisStore) CheckAndRecord(ctx context.Context, fp string, now time.Time, window time.Duration) (bool, error) {
	return s.client.SetNX(ctx, s.prefix+fp, now.UnixMilli(), window)
}

// Release implements [Store] by deleting the key.
func (s *RedisStore) Release(ctx context.Context, fp string) error {
	_, err := s.client.Del(ctx, s.prefix+fp)
	return err
}
