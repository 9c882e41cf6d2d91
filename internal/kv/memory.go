package kv

import (
	"context"
	"sync"
)

// Cloner is implemented by values that hold slices or pointers. Memory copies
// them on the way in and out so no caller shares backing arrays with the map.
type Cloner[T any] interface {
	Clone() T
}

// Memory is an in-process Store. Values are copied on Put, Get and List.
type Memory[T any] struct {
	mu   sync.RWMutex
	data map[string]T
}

func NewMemory[T any]() *Memory[T] {
	return &Memory[T]{data: make(map[string]T)}
}

func (m *Memory[T]) Get(ctx context.Context, id string) (T, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[id]
	return clone(v), ok, nil
}

func (m *Memory[T]) Put(ctx context.Context, id string, v T) error {
	if id == "" {
		return ErrEmptyID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[id] = clone(v)
	return nil
}

func (m *Memory[T]) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, id)
	return nil
}

func (m *Memory[T]) List(ctx context.Context) ([]T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]T, 0, len(m.data))
	for _, v := range m.data {
		out = append(out, clone(v))
	}
	return out, nil
}

func clone[T any](v T) T {
	if c, ok := any(v).(Cloner[T]); ok {
		return c.Clone()
	}
	return v
}
