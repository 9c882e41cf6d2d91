package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis keeps one hash per namespace; each field is an entity id and each
// value the JSON encoding of T.
//
// time.Time values lose their monotonic reading on the round trip, so
// elapsed-time checks against Redis-backed values fall back to wall clock.
type Redis[T any] struct {
	rdb *redis.Client
	key string
}

func NewRedis[T any](rdb *redis.Client, namespace string) *Redis[T] {
	return &Redis[T]{rdb: rdb, key: "acd:" + namespace}
}

func (r *Redis[T]) Get(ctx context.Context, id string) (T, bool, error) {
	var zero T
	raw, err := r.rdb.HGet(ctx, r.key, id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, false, nil
		}
		return zero, false, fmt.Errorf("kv: redis hget %s: %w", r.key, err)
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, false, fmt.Errorf("kv: decode %s/%s: %w", r.key, id, err)
	}
	return v, true, nil
}

func (r *Redis[T]) Put(ctx context.Context, id string, v T) error {
	if id == "" {
		return ErrEmptyID
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kv: encode %s/%s: %w", r.key, id, err)
	}
	if err := r.rdb.HSet(ctx, r.key, id, raw).Err(); err != nil {
		return fmt.Errorf("kv: redis hset %s: %w", r.key, err)
	}
	return nil
}

func (r *Redis[T]) Delete(ctx context.Context, id string) error {
	if err := r.rdb.HDel(ctx, r.key, id).Err(); err != nil {
		return fmt.Errorf("kv: redis hdel %s: %w", r.key, err)
	}
	return nil
}

func (r *Redis[T]) List(ctx context.Context) ([]T, error) {
	vals, err := r.rdb.HVals(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("kv: redis hvals %s: %w", r.key, err)
	}
	out := make([]T, 0, len(vals))
	for _, raw := range vals {
		var v T
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("kv: decode %s: %w", r.key, err)
		}
		out = append(out, v)
	}
	return out, nil
}
