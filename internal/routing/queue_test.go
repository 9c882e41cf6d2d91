package routing

import "testing"

func TestQueue_PriorityThenFIFO(t *testing.T) {
	q := NewQueue()
	q.Enqueue(Request{CallID: "low-1", Priority: PriorityLow})
	q.Enqueue(Request{CallID: "med-1", Priority: PriorityMedium})
	q.Enqueue(Request{CallID: "urgent-1", Priority: PriorityUrgent})
	q.Enqueue(Request{CallID: "med-2", Priority: PriorityMedium})

	want := []string{"urgent-1", "med-1", "med-2", "low-1"}
	for _, id := range want {
		r, ok := q.Dequeue()
		if !ok || r.CallID != id {
			t.Fatalf("expected %s, got %+v (ok=%v)", id, r, ok)
		}
	}
	if _, ok := q.Dequeue(); ok {
		t.Fatalf("expected empty queue")
	}
}

func TestQueue_DedupesByCall(t *testing.T) {
	q := NewQueue()
	if pos := q.Enqueue(Request{CallID: "a", Priority: PriorityHigh}); pos != 1 {
		t.Fatalf("expected position 1, got %d", pos)
	}
	q.Enqueue(Request{CallID: "b", Priority: PriorityHigh})
	if pos := q.Enqueue(Request{CallID: "a", Priority: PriorityLow}); pos != 1 {
		t.Fatalf("expected original position, got %d", pos)
	}
	if q.Len() != 2 {
		t.Fatalf("expected 2 queued, got %d", q.Len())
	}
}

func TestQueue_PushFrontAndRemove(t *testing.T) {
	q := NewQueue()
	q.Enqueue(Request{CallID: "a", Priority: PriorityMedium})
	q.Enqueue(Request{CallID: "b", Priority: PriorityMedium})

	head, _ := q.Dequeue()
	q.PushFront(head)
	if snap := q.Snapshot()[PriorityMedium]; len(snap) != 2 || snap[0].CallID != "a" {
		t.Fatalf("expected a back at head, got %+v", snap)
	}

	if !q.Remove("a") || q.Remove("a") {
		t.Fatalf("expected single successful remove")
	}
	if r, _ := q.Dequeue(); r.CallID != "b" {
		t.Fatalf("expected b, got %s", r.CallID)
	}
}
