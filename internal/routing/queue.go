package routing

import "sync"

// Queue holds requests that could not be placed immediately. There is one
// FIFO bucket per priority; Dequeue always serves the highest-priority
// non-empty bucket first.
type Queue struct {
	mu      sync.Mutex
	buckets [len(priorityOrder)][]Request
}

func NewQueue() *Queue { return &Queue{} }

// Enqueue appends req to the tail of its priority bucket and returns its
// 1-based position in that bucket. A call that is already queued keeps its
// original place.
func (q *Queue) Enqueue(req Request) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if b, i := q.find(req.CallID); b >= 0 {
		return i + 1
	}
	b := req.Priority.bucket()
	if b < 0 {
		b = PriorityMedium.bucket()
	}
	q.buckets[b] = append(q.buckets[b], req)
	return len(q.buckets[b])
}

// Dequeue removes and returns the head of the highest-priority non-empty bucket.
func (q *Queue) Dequeue() (Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for b := range q.buckets {
		if len(q.buckets[b]) == 0 {
			continue
		}
		req := q.buckets[b][0]
		q.buckets[b] = q.buckets[b][1:]
		return req, true
	}
	return Request{}, false
}

// PushFront puts req back at the head of its bucket.
func (q *Queue) PushFront(req Request) {
	q.mu.Lock()
	defer q.mu.Unlock()

	b := req.Priority.bucket()
	if b < 0 {
		b = PriorityMedium.bucket()
	}
	q.buckets[b] = append([]Request{req}, q.buckets[b]...)
}

// Remove drops a queued request for callID, reporting whether one was found.
func (q *Queue) Remove(callID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	b, i := q.find(callID)
	if b < 0 {
		return false
	}
	q.buckets[b] = append(q.buckets[b][:i:i], q.buckets[b][i+1:]...)
	return true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, b := range q.buckets {
		n += len(b)
	}
	return n
}

// Snapshot returns a copy of every bucket keyed by priority.
func (q *Queue) Snapshot() map[Priority][]Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make(map[Priority][]Request, len(priorityOrder))
	for b, p := range priorityOrder {
		cp := make([]Request, len(q.buckets[b]))
		copy(cp, q.buckets[b])
		out[p] = cp
	}
	return out
}

func (q *Queue) find(callID string) (bucket, index int) {
	if callID == "" {
		return -1, -1
	}
	for b := range q.buckets {
		for i, r := range q.buckets[b] {
			if r.CallID == callID {
				return b, i
			}
		}
	}
	return -1, -1
}
