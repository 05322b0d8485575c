package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisStore backs the per-origin storage with Redis so that multiple
// portal processes ("tabs") on the same machine share one session.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore creates and validates a Redis-backed store.
func NewRedisStore(ctx context.Context, redisURL string, log zerolog.Logger) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	rdb := redis.NewClient(opt)

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	log.Info().
		Str("addr", opt.Addr).
		Int("db", opt.DB).
		Msg("Shared storage connected")

	return &RedisStore{rdb: rdb}, nil
}

// Client exposes the underlying Redis client so the broadcast bus can share
// one connection pool with the store.
func (s *RedisStore) Client() *redis.Client {
	return s.rdb
}

// Get returns the value for key, or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("storage get %s: %w", key, err)
	}
	return val, nil
}

// Set stores value under key with no expiry; session keys are removed
// explicitly on logout rather than aged out.
func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.rdb.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("storage set %s: %w", key, err)
	}
	return nil
}

// Delete removes the given keys. Deleting absent keys is not an error.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("storage delete: %w", err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
