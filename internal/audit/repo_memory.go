package audit

import (
	"context"
	"sync"
)

// MemoryRepo keeps events in insertion order. It backs the memory storage
// backend and tests.
type MemoryRepo struct {
	mu     sync.RWMutex
	events []Event
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(_ context.Context, e Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

// Find walks the log from the newest event backwards.
func (r *MemoryRepo) Find(_ context.Context, q Query) ([]Event, error) {
	q = q.normalized()
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Event, 0, q.Limit)
	for i := len(r.events) - 1; i >= 0 && len(out) < q.Limit; i-- {
		if q.matches(r.events[i]) {
			out = append(out, r.events[i])
		}
	}
	return out, nil
}

// Events returns every event oldest first.
func (r *MemoryRepo) Events() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Event(nil), r.events...)
}
