package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"contact-center/internal/agents"
	"contact-center/internal/calls"
)

var ErrInvalidRequest = errors.New("routing: invalid request")

// AgentSource is the registry surface the engine reads and reserves from.
type AgentSource interface {
	ListAvailable(ctx context.Context) ([]agents.Agent, error)
	Reserve(ctx context.Context, agentID string) (agents.Agent, error)
	Release(ctx context.Context, agentID string) (agents.Agent, error)
}

// CallAssigner records a reservation on the call record.
type CallAssigner interface {
	Get(ctx context.Context, id string) (calls.Call, error)
	AssignAgent(ctx context.Context, callID, agentID string) (calls.Call, error)
}

// QueueAuditor is told about requests that had to wait.
type QueueAuditor interface {
	CallQueued(ctx context.Context, req Request, position int)
}

// Engine places routing requests with agents, queueing what it cannot place
// and draining the queue when agents free up.
//
// Decisions are made on a snapshot of available agents; the reservation on
// the registry is what actually claims capacity. A candidate whose
// reservation fails is dropped and the ladder re-runs.
type Engine struct {
	agents     AgentSource
	calls      CallAssigner
	queue      *Queue
	dispatcher Dispatcher
	auditor    QueueAuditor
	log        *slog.Logger

	Now func() time.Time

	drainMu sync.Mutex
	kick    chan struct{}
}

func NewEngine(src AgentSource, assigner CallAssigner, queue *Queue, dispatcher Dispatcher, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if queue == nil {
		queue = NewQueue()
	}
	if dispatcher == nil {
		dispatcher = LogDispatcher{Log: log}
	}
	return &Engine{
		agents:     src,
		calls:      assigner,
		queue:      queue,
		dispatcher: dispatcher,
		log:        log,
		Now:        time.Now,
		kick:       make(chan struct{}, 1),
	}
}

// SetAuditor installs an auditor for queued requests.
func (e *Engine) SetAuditor(a QueueAuditor) { e.auditor = a }

func (e *Engine) Queue() *Queue { return e.queue }

// Route places req with an agent or queues it. A queued outcome is a normal
// result, not an error.
func (e *Engine) Route(ctx context.Context, req Request) (Result, error) {
	if req.CallID == "" {
		return Result{}, ErrInvalidRequest
	}
	if req.Priority != "" && !req.Priority.Valid() {
		return Result{}, fmt.Errorf("%w: unknown priority %q", ErrInvalidRequest, req.Priority)
	}
	req = req.normalized()

	// Only calls the store tracks can hold a reservation; anything else
	// would pin the agent's capacity with nothing left to release it.
	if e.calls != nil {
		c, err := e.calls.Get(ctx, req.CallID)
		if err != nil {
			return Result{}, err
		}
		if c.Status.Terminal() {
			return Result{}, calls.ErrTerminal
		}
	}

	res, placed, err := e.place(ctx, req)
	if err != nil {
		return Result{}, err
	}
	if placed {
		e.dispatch(ctx, res)
		return res, nil
	}

	req.EnqueuedAt = e.Now().UTC()
	pos := e.queue.Enqueue(req)
	e.log.Info("call queued", "call_id", req.CallID, "priority", req.Priority, "position", pos)
	if e.auditor != nil {
		e.auditor.CallQueued(ctx, req, pos)
	}
	return Result{
		CallID:        req.CallID,
		Method:        MethodQueued,
		Queued:        true,
		QueuePriority: req.Priority,
		QueuePosition: pos,
	}, nil
}

// place tries to claim an agent for req. placed=false with a nil error means
// nobody could take it right now.
func (e *Engine) place(ctx context.Context, req Request) (Result, bool, error) {
	snapshot, err := e.agents.ListAvailable(ctx)
	if err != nil {
		return Result{}, false, err
	}

	for len(snapshot) > 0 {
		m, ok := Select(snapshot, req)
		if !ok {
			return Result{}, false, nil
		}

		if _, err := e.agents.Reserve(ctx, m.Agent.ID); err != nil {
			if errors.Is(err, agents.ErrAtCapacity) || errors.Is(err, agents.ErrUnavailable) || errors.Is(err, agents.ErrNotFound) {
				snapshot = without(snapshot, m.Agent.ID)
				continue
			}
			return Result{}, false, err
		}

		if err := e.attach(ctx, req.CallID, m.Agent.ID); err != nil {
			return Result{}, false, err
		}

		return Result{
			CallID:  req.CallID,
			AgentID: m.Agent.ID,
			Address: m.Agent.Address,
			Method:  m.Method,
			Score:   m.Score,
			ScreenPop: &ScreenPop{
				CallID:          req.CallID,
				AgentID:         m.Agent.ID,
				Method:          m.Method,
				CustomerContext: req.CustomerContext,
			},
		}, true, nil
	}
	return Result{}, false, nil
}

// attach records the reservation on the call. On any failure, including a
// call that vanished since Route checked it, the agent is released.
func (e *Engine) attach(ctx context.Context, callID, agentID string) error {
	if e.calls == nil {
		return nil
	}
	_, err := e.calls.AssignAgent(ctx, callID, agentID)
	if err == nil {
		return nil
	}
	if _, rerr := e.agents.Release(ctx, agentID); rerr != nil {
		e.log.Error("release after failed assignment", "call_id", callID, "agent_id", agentID, "err", rerr)
	}
	return err
}

// Drain places queued requests, highest priority first and FIFO within a
// priority, until the queue is empty or no agent can take the head request.
func (e *Engine) Drain(ctx context.Context) int {
	e.drainMu.Lock()
	defer e.drainMu.Unlock()

	placed := 0
	for {
		req, ok := e.queue.Dequeue()
		if !ok {
			return placed
		}

		res, ok, err := e.place(ctx, req)
		switch {
		case err != nil && (errors.Is(err, calls.ErrTerminal) || errors.Is(err, calls.ErrAlreadyAssigned) || errors.Is(err, calls.ErrNotFound)):
			e.log.Info("dropping queued request", "call_id", req.CallID, "err", err)
			continue
		case err != nil:
			e.queue.PushFront(req)
			e.log.Error("queue drain failed", "call_id", req.CallID, "err", err)
			return placed
		case !ok:
			e.queue.PushFront(req)
			return placed
		}

		placed++
		e.log.Info("queued call routed", "call_id", req.CallID, "agent_id", res.AgentID, "method", res.Method,
			"waited_ms", e.Now().Sub(req.EnqueuedAt).Milliseconds())
		e.dispatch(ctx, res)
	}
}

// Kick schedules a drain on the Run loop without blocking.
func (e *Engine) Kick() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// AgentAvailable is the registry availability hook.
func (e *Engine) AgentAvailable(agentID string) {
	e.Kick()
}

// CallEnded drops any queued request for a finished call.
func (e *Engine) CallEnded(c calls.Call) {
	if e.queue.Remove(c.ID) {
		e.log.Info("queued call ended before routing", "call_id", c.ID, "status", c.Status)
	}
}

// Run drains the queue whenever Kick is called, until ctx is cancelled.
// Draining off the caller's goroutine keeps registry and call-store locks
// out of the drain path.
func (e *Engine) Run(ctx context.Context) {
	e.log.Info("routing drain loop started")
	for {
		select {
		case <-ctx.Done():
			e.log.Info("routing drain loop stopped")
			return
		case <-e.kick:
			if n := e.Drain(ctx); n > 0 {
				e.log.Debug("queue drained", "placed", n, "remaining", e.queue.Len())
			}
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, res Result) {
	if err := e.dispatcher.Dispatch(ctx, res); err != nil {
		e.log.Warn("screen-pop dispatch failed", "call_id", res.CallID, "agent_id", res.AgentID, "err", err)
	}
}

func without(list []agents.Agent, id string) []agents.Agent {
	out := make([]agents.Agent, 0, len(list))
	for _, a := range list {
		if a.ID != id {
			out = append(out, a)
		}
	}
	return out
}
