package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"contact-center/internal/agents"
	"contact-center/internal/kv"
)

var (
	ErrNotFound          = errors.New("calls: not found")
	ErrInvalidArgument   = errors.New("calls: invalid argument")
	ErrIllegalTransition = errors.New("calls: illegal transition")
	ErrAgentRequired     = errors.New("calls: agent required")
	ErrAlreadyAssigned   = errors.New("calls: agent already assigned")
	ErrTerminal          = errors.New("calls: call already ended")
)

// AgentLedger is the slice of the agent registry the store needs to keep
// capacity and metrics in step with call outcomes.
type AgentLedger interface {
	Reserve(ctx context.Context, agentID string) (agents.Agent, error)
	Release(ctx context.Context, agentID string) (agents.Agent, error)
	CompleteCall(ctx context.Context, agentID string, reserved, answered bool, durationSeconds *float64) (agents.Agent, error)
}

// TransitionObserver is told about rejected transitions. Implementations must
// not block.
type TransitionObserver interface {
	IllegalTransition(ctx context.Context, err *TransitionError)
}

// Store is the call state machine. Every mutation for a given call id runs
// under that call's lock, so concurrent webhook deliveries for one call apply
// in arrival order. Calls for different ids never contend.
type Store struct {
	store    kv.Store[Call]
	locks    *kv.KeyedMutex
	ledger   AgentLedger
	observer TransitionObserver
	log      *slog.Logger

	Now func() time.Time

	hookMu     sync.RWMutex
	onTerminal []func(Call)
}

func NewStore(store kv.Store[Call], ledger AgentLedger, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{store: store, locks: kv.NewKeyedMutex(), ledger: ledger, log: log, Now: time.Now}
}

// SetObserver installs an observer for rejected transitions.
func (s *Store) SetObserver(o TransitionObserver) { s.observer = o }

// OnTerminal registers fn to run after a call reaches completed or failed.
func (s *Store) OnTerminal(fn func(Call)) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.onTerminal = append(s.onTerminal, fn)
}

// Create starts tracking a call in ringing state. Providers redeliver
// webhooks, so creating an existing id returns the stored record with
// created=false instead of an error.
func (s *Store) Create(ctx context.Context, in NewCall) (Call, bool, error) {
	if in.ID == "" {
		return Call{}, false, ErrInvalidArgument
	}

	unlock := s.locks.Lock(in.ID)
	defer unlock()

	existing, ok, err := s.store.Get(ctx, in.ID)
	if err != nil {
		return Call{}, false, err
	}
	if ok {
		return existing, false, nil
	}

	now := s.Now().UTC()
	c := Call{
		ID:          in.ID,
		ProviderRef: in.ProviderRef,
		From:        in.From,
		To:          in.To,
		Status:      StatusRinging,
		StartedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Put(ctx, c.ID, c); err != nil {
		return Call{}, false, err
	}
	return c, true, nil
}

// Transition moves the call to status to.
//
// answered requires an agent (argument or prior assignment) and stamps the
// answer time. completed/failed stamp the end time and, when an agent is
// attached, record the outcome on that agent and release its capacity in the
// same step.
func (s *Store) Transition(ctx context.Context, id string, to Status, agentID string) (Call, error) {
	if !to.Valid() {
		return Call{}, ErrInvalidArgument
	}

	unlock := s.locks.Lock(id)
	c, ok, err := s.store.Get(ctx, id)
	if err != nil {
		unlock()
		return Call{}, err
	}
	if !ok {
		unlock()
		return Call{}, ErrNotFound
	}

	if !CanTransition(c.Status, to) {
		unlock()
		terr := &TransitionError{CallID: id, From: c.Status, To: to}
		s.log.Warn("call transition rejected", "call_id", id, "from", c.Status, "to", to)
		if s.observer != nil {
			s.observer.IllegalTransition(ctx, terr)
		}
		return c, terr
	}

	next := c
	now := s.Now().UTC()

	switch to {
	case StatusAnswered:
		if err := s.answer(ctx, &next, agentID, now); err != nil {
			unlock()
			return c, err
		}
	case StatusCompleted, StatusFailed:
		if agentID != "" && next.AgentID == "" {
			next.AgentID = agentID
		}
		next.EndedAt = &now
		if err := s.settleAgent(ctx, &next, c.Status == StatusAnswered); err != nil {
			unlock()
			return c, err
		}
	default:
		if agentID != "" && next.AgentID == "" {
			next.AgentID = agentID
		}
	}

	next.Status = to
	next.UpdatedAt = now
	if err := s.store.Put(ctx, id, next); err != nil {
		unlock()
		s.log.Error("call write failed after agent update", "call_id", id, "status", to, "err", err)
		return c, err
	}
	unlock()

	if to.Terminal() {
		s.fireTerminal(next)
	}
	return next, nil
}

func (s *Store) answer(ctx context.Context, c *Call, agentID string, now time.Time) error {
	if agentID == "" {
		agentID = c.AgentID
	}
	if agentID == "" {
		return ErrAgentRequired
	}

	if !(c.AgentReserved && c.AgentID == agentID) && s.ledger != nil {
		// Someone other than the routed agent picked up (parallel dial), or
		// nobody was routed yet: the answering agent takes capacity now.
		if _, err := s.ledger.Reserve(ctx, agentID); err != nil {
			return fmt.Errorf("calls: reserve answering agent %s: %w", agentID, err)
		}
		if c.AgentReserved && c.AgentID != "" {
			if _, err := s.ledger.Release(ctx, c.AgentID); err != nil && !errors.Is(err, agents.ErrNotFound) {
				s.log.Error("release routed agent failed", "call_id", c.ID, "agent_id", c.AgentID, "err", err)
			}
		}
	}
	c.AgentID = agentID
	c.AgentReserved = s.ledger != nil
	c.AnsweredAt = &now
	return nil
}

func (s *Store) settleAgent(ctx context.Context, c *Call, wasAnswered bool) error {
	if c.AgentID == "" || s.ledger == nil {
		c.AgentReserved = false
		return nil
	}

	var dur *float64
	if wasAnswered && c.AnsweredAt != nil && c.EndedAt != nil {
		d := c.EndedAt.Sub(*c.AnsweredAt).Seconds()
		dur = &d
	}

	_, err := s.ledger.CompleteCall(ctx, c.AgentID, c.AgentReserved, wasAnswered, dur)
	if err != nil {
		if !errors.Is(err, agents.ErrNotFound) {
			return err
		}
		// The agent was unregistered mid-call; there is nothing left to settle.
		s.log.Warn("call ended for unknown agent", "call_id", c.ID, "agent_id", c.AgentID)
	}
	c.AgentReserved = false
	return nil
}

// AssignAgent records that the routing engine reserved agentID's capacity for
// this call. The caller owns the reservation until this returns nil.
func (s *Store) AssignAgent(ctx context.Context, id, agentID string) (Call, error) {
	if agentID == "" {
		return Call{}, ErrAgentRequired
	}
	return s.update(ctx, id, func(c *Call) error {
		if c.Status.Terminal() {
			return ErrTerminal
		}
		if c.AgentReserved {
			return ErrAlreadyAssigned
		}
		c.AgentID = agentID
		c.AgentReserved = true
		return nil
	})
}

// RecordAttempt notes that dial attempt n (1-based) was issued.
func (s *Store) RecordAttempt(ctx context.Context, id string, attempt int) (Call, error) {
	if attempt < 1 {
		return Call{}, ErrInvalidArgument
	}
	return s.update(ctx, id, func(c *Call) error {
		if c.Status.Terminal() {
			return ErrTerminal
		}
		if attempt > c.Attempts {
			c.Attempts = attempt
		}
		return nil
	})
}

// AttachArtifact stores recording and voicemail references.
func (s *Store) AttachArtifact(ctx context.Context, id string, a Artifacts) (Call, error) {
	return s.update(ctx, id, func(c *Call) error {
		if a.RecordingRef != "" {
			c.RecordingRef = a.RecordingRef
		}
		if a.VoicemailRef != "" {
			c.VoicemailRef = a.VoicemailRef
		}
		return nil
	})
}

func (s *Store) Get(ctx context.Context, id string) (Call, error) {
	c, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return Call{}, err
	}
	if !ok {
		return Call{}, ErrNotFound
	}
	return c, nil
}

// List returns every call ordered by start time.
func (s *Store) List(ctx context.Context) ([]Call, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].StartedAt.Equal(all[j].StartedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].StartedAt.Before(all[j].StartedAt)
	})
	return all, nil
}

// ListActive returns calls that have not reached a terminal status.
func (s *Store) ListActive(ctx context.Context) ([]Call, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Call, 0, len(all))
	for _, c := range all {
		if !c.Status.Terminal() {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) FindByProviderRef(ctx context.Context, ref string) (Call, error) {
	if ref == "" {
		return Call{}, ErrNotFound
	}
	all, err := s.store.List(ctx)
	if err != nil {
		return Call{}, err
	}
	for _, c := range all {
		if c.ProviderRef == ref {
			return c, nil
		}
	}
	return Call{}, ErrNotFound
}

func (s *Store) update(ctx context.Context, id string, fn func(c *Call) error) (Call, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	c, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return Call{}, err
	}
	if !ok {
		return Call{}, ErrNotFound
	}
	next := c
	if err := fn(&next); err != nil {
		return c, err
	}
	next.UpdatedAt = s.Now().UTC()
	if err := s.store.Put(ctx, id, next); err != nil {
		return c, err
	}
	return next, nil
}

func (s *Store) fireTerminal(c Call) {
	s.hookMu.RLock()
	hooks := make([]func(Call), len(s.onTerminal))
	copy(hooks, s.onTerminal)
	s.hookMu.RUnlock()

	for _, fn := range hooks {
		fn(c)
	}
}
