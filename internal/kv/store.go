package kv

import (
	"context"
	"errors"
)

// Store is the persistence contract shared by the agent registry and the call
// record store. Values are keyed by entity id within one namespace.
//
// Implementations must be safe for concurrent use. They do not serialize
// read-modify-write cycles; callers hold a KeyedMutex for that.
type Store[T any] interface {
	Get(ctx context.Context, id string) (T, bool, error)
	Put(ctx context.Context, id string, v T) error
	Delete(ctx context.Context, id string) error
	// List returns a point-in-time snapshot of every value in the namespace.
	List(ctx context.Context) ([]T, error)
}

var ErrEmptyID = errors.New("kv: id required")

// Backend names accepted by STORAGE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)
