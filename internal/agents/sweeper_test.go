package agents

import (
	"context"
	"testing"
	"time"
)

func TestSweeper_StopsOnCancel(t *testing.T) {
	r, _ := newTestRegistry()
	s := NewSweeper(r, 10*time.Millisecond, time.Minute, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("sweeper did not stop after context cancel")
	}
}

func TestSweeper_DemotesStaleAgents(t *testing.T) {
	r, clk := newTestRegistry()
	ctx := context.Background()
	mustRegister(t, r, "a1", 1)
	_, _ = r.Heartbeat(ctx, "a1")
	clk.Advance(2 * time.Minute)

	s := NewSweeper(r, time.Second, time.Minute, nil)
	s.sweep(ctx)

	a, _ := r.Get(ctx, "a1")
	if a.Status != StatusOffline {
		t.Fatalf("expected offline, got %s", a.Status)
	}
}
