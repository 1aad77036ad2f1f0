package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores sealed values in Redis, the durable option for
// multi-process deployments (spec.md §3's storage is an external
// collaborator; this is the one concrete backend SPEC_FULL wires in
// since go-redis/v9 appears across the retrieved example corpus).
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend wraps an existing *redis.Client. prefix namespaces all
// keys this backend touches, letting several components share one Redis
// database without key collisions.
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	return &RedisBackend{client: client, prefix: prefix}
}

func (r *RedisBackend) fullKey(key string) string { return r.prefix + key }

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.client.Get(ctx, r.fullKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv/redis: get: %w", err)
	}
	return v, nil
}

func (r *RedisBackend) Put(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.fullKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("kv/redis: put: %w", err)
	}
	return nil
}

func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.fullKey(key)).Err(); err != nil {
		return fmt.Errorf("kv/redis: delete: %w", err)
	}
	return nil
}

func (r *RedisBackend) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	iter := r.client.Scan(ctx, 0, r.fullKey(prefix)+"*", 0).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val()[len(r.prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("kv/redis: scan: %w", err)
	}
	return out, nil
}

func (r *RedisBackend) SizeOf(ctx context.Context, key string) (int, error) {
	n, err := r.client.StrLen(ctx, r.fullKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("kv/redis: strlen: %w", err)
	}
	return int(n), nil
}
