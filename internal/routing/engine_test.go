package routing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"contact-center/internal/agents"
	"contact-center/internal/calls"
	"contact-center/internal/kv"
)

type capturingDispatcher struct {
	mu      sync.Mutex
	results []Result
}

func (d *capturingDispatcher) Dispatch(ctx context.Context, res Result) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = append(d.results, res)
	return nil
}

type engineFixture struct {
	ctx      context.Context
	registry *agents.Registry
	calls    *calls.Store
	engine   *Engine
	sent     *capturingDispatcher
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &engineFixture{ctx: context.Background(), sent: &capturingDispatcher{}}
	f.registry = agents.NewRegistry(kv.NewMemory[agents.Agent](), log)
	f.calls = calls.NewStore(kv.NewMemory[calls.Call](), f.registry, log)
	f.engine = NewEngine(f.registry, f.calls, NewQueue(), f.sent, log)
	return f
}

func (f *engineFixture) online(t *testing.T, reg agents.Registration) {
	t.Helper()
	if reg.MaxConcurrentCalls == 0 {
		reg.MaxConcurrentCalls = 1
	}
	if reg.Address == "" {
		reg.Address = "sip:" + reg.ID + "@pbx"
	}
	if _, err := f.registry.Register(f.ctx, reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := f.registry.Heartbeat(f.ctx, reg.ID); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
}

func (f *engineFixture) ringing(t *testing.T, id string) {
	t.Helper()
	if _, _, err := f.calls.Create(f.ctx, calls.NewCall{ID: id, ProviderRef: "ref-" + id}); err != nil {
		t.Fatalf("create call: %v", err)
	}
}

func TestRoute_ReservesAndAssigns(t *testing.T) {
	f := newEngineFixture(t)
	f.online(t, agents.Registration{ID: "a1", Skills: []string{"sales"}})
	f.ringing(t, "c1")

	res, err := f.engine.Route(f.ctx, Request{CallID: "c1", RequiredSkills: []string{"sales"}, CustomerContext: []byte(`{"tier":"gold"}`)})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if res.Queued || res.AgentID != "a1" || res.Method != MethodSkill {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.ScreenPop == nil || string(res.ScreenPop.CustomerContext) != `{"tier":"gold"}` {
		t.Fatalf("expected screen-pop with context, got %+v", res.ScreenPop)
	}

	a, _ := f.registry.Get(f.ctx, "a1")
	if a.CurrentCalls != 1 || a.Status != agents.StatusBusy {
		t.Fatalf("expected reserved agent at capacity, got %+v", a)
	}
	c, _ := f.calls.Get(f.ctx, "c1")
	if c.AgentID != "a1" || !c.AgentReserved {
		t.Fatalf("expected call assignment, got %+v", c)
	}
	if len(f.sent.results) != 1 {
		t.Fatalf("expected one dispatch, got %d", len(f.sent.results))
	}
}

func TestRoute_QueuesWhenNoAgent(t *testing.T) {
	f := newEngineFixture(t)
	f.ringing(t, "c1")

	res, err := f.engine.Route(f.ctx, Request{CallID: "c1", Priority: PriorityHigh})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if !res.Queued || res.Method != MethodQueued || res.QueuePriority != PriorityHigh || res.QueuePosition != 1 {
		t.Fatalf("unexpected queued result: %+v", res)
	}
	if f.engine.Queue().Len() != 1 {
		t.Fatalf("expected one queued request")
	}
}

func TestRoute_RejectsBadRequest(t *testing.T) {
	f := newEngineFixture(t)
	if _, err := f.engine.Route(f.ctx, Request{}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if _, err := f.engine.Route(f.ctx, Request{CallID: "c1", Priority: "asap"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for priority, got %v", err)
	}
}

func TestRoute_TerminalCallReleasesReservation(t *testing.T) {
	f := newEngineFixture(t)
	f.online(t, agents.Registration{ID: "a1"})
	f.ringing(t, "c1")
	if _, err := f.calls.Transition(f.ctx, "c1", calls.StatusFailed, ""); err != nil {
		t.Fatalf("fail call: %v", err)
	}

	if _, err := f.engine.Route(f.ctx, Request{CallID: "c1"}); !errors.Is(err, calls.ErrTerminal) {
		t.Fatalf("expected ErrTerminal, got %v", err)
	}
	a, _ := f.registry.Get(f.ctx, "a1")
	if a.CurrentCalls != 0 || a.Status != agents.StatusAvailable {
		t.Fatalf("expected reservation released, got %+v", a)
	}
}

func TestRoute_UnknownCallHoldsNoCapacity(t *testing.T) {
	f := newEngineFixture(t)
	f.online(t, agents.Registration{ID: "a1"})

	if _, err := f.engine.Route(f.ctx, Request{CallID: "ghost"}); !errors.Is(err, calls.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	a, _ := f.registry.Get(f.ctx, "a1")
	if a.CurrentCalls != 0 || a.Status != agents.StatusAvailable {
		t.Fatalf("expected a1 untouched, got %+v", a)
	}
	if f.engine.Queue().Len() != 0 || len(f.sent.results) != 0 {
		t.Fatalf("unknown call must be neither queued nor dispatched")
	}
}

func TestDrain_ReleasesAgentForDeletedCall(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := newEngineFixture(t)
	callKV := kv.NewMemory[calls.Call]()
	f.calls = calls.NewStore(callKV, f.registry, log)
	f.engine = NewEngine(f.registry, f.calls, NewQueue(), f.sent, log)

	f.ringing(t, "c1")
	if res, _ := f.engine.Route(f.ctx, Request{CallID: "c1"}); !res.Queued {
		t.Fatalf("expected queued, got %+v", res)
	}
	if err := callKV.Delete(f.ctx, "c1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	f.online(t, agents.Registration{ID: "a1"})
	if n := f.engine.Drain(f.ctx); n != 0 {
		t.Fatalf("expected nothing placed, got %d", n)
	}
	a, _ := f.registry.Get(f.ctx, "a1")
	if a.CurrentCalls != 0 || a.Status != agents.StatusAvailable {
		t.Fatalf("expected reservation released, got %+v", a)
	}
	if f.engine.Queue().Len() != 0 {
		t.Fatalf("expected request dropped")
	}
}

func TestDrain_HighestPriorityFirst(t *testing.T) {
	f := newEngineFixture(t)
	for _, id := range []string{"low", "urgent", "medium"} {
		f.ringing(t, id)
	}
	f.engine.Route(f.ctx, Request{CallID: "low", Priority: PriorityLow})
	f.engine.Route(f.ctx, Request{CallID: "urgent", Priority: PriorityUrgent})
	f.engine.Route(f.ctx, Request{CallID: "medium", Priority: PriorityMedium})

	f.online(t, agents.Registration{ID: "a1"})
	if n := f.engine.Drain(f.ctx); n != 1 {
		t.Fatalf("expected one placement, got %d", n)
	}
	c, _ := f.calls.Get(f.ctx, "urgent")
	if c.AgentID != "a1" {
		t.Fatalf("expected urgent call routed first, got %+v", c)
	}
	if f.engine.Queue().Len() != 2 {
		t.Fatalf("expected two still queued, got %d", f.engine.Queue().Len())
	}

	f.online(t, agents.Registration{ID: "a2"})
	f.engine.Drain(f.ctx)
	if c, _ := f.calls.Get(f.ctx, "medium"); c.AgentID != "a2" {
		t.Fatalf("expected medium call next, got %+v", c)
	}
}

func TestDrain_DropsEndedCalls(t *testing.T) {
	f := newEngineFixture(t)
	f.ringing(t, "gone")
	f.ringing(t, "waiting")
	f.engine.Route(f.ctx, Request{CallID: "gone", Priority: PriorityUrgent})
	f.engine.Route(f.ctx, Request{CallID: "waiting"})
	f.calls.Transition(f.ctx, "gone", calls.StatusFailed, "")

	f.online(t, agents.Registration{ID: "a1"})
	f.engine.Drain(f.ctx)

	if c, _ := f.calls.Get(f.ctx, "waiting"); c.AgentID != "a1" {
		t.Fatalf("expected waiting call routed, got %+v", c)
	}
	if f.engine.Queue().Len() != 0 {
		t.Fatalf("expected empty queue")
	}
}

func TestCallEnded_RemovesQueuedRequest(t *testing.T) {
	f := newEngineFixture(t)
	f.calls.OnTerminal(f.engine.CallEnded)
	f.ringing(t, "c1")
	f.engine.Route(f.ctx, Request{CallID: "c1"})

	if _, err := f.calls.Transition(f.ctx, "c1", calls.StatusFailed, ""); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if f.engine.Queue().Len() != 0 {
		t.Fatalf("expected queued request removed")
	}
}

func TestRun_DrainsOnKick(t *testing.T) {
	f := newEngineFixture(t)
	f.registry.OnAvailable(f.engine.AgentAvailable)
	f.ringing(t, "c1")
	f.engine.Route(f.ctx, Request{CallID: "c1"})

	ctx, cancel := context.WithCancel(f.ctx)
	defer cancel()
	done := make(chan struct{})
	go func() {
		f.engine.Run(ctx)
		close(done)
	}()

	f.online(t, agents.Registration{ID: "a1"})
	f.engine.Kick()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if c, _ := f.calls.Get(f.ctx, "c1"); c.AgentID == "a1" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("drain loop did not route queued call")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if c, _ := f.calls.Get(f.ctx, "c1"); c.AgentID != "a1" {
		t.Fatalf("expected call routed by drain loop, got %+v", c)
	}
}
