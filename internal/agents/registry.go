package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"contact-center/internal/kv"
)

var (
	ErrNotFound        = errors.New("agents: not found")
	ErrInvalidArgument = errors.New("agents: invalid argument")
	ErrAtCapacity      = errors.New("agents: at capacity")
	ErrUnavailable     = errors.New("agents: not available")
)

// Registry owns agent identity, presence, capacity and metrics.
//
// Mutations are serialized per agent id. Reads (Get, List*) go straight to
// the store and never take an agent lock, so routing decisions work on a
// point-in-time snapshot.
type Registry struct {
	store kv.Store[Agent]
	locks *kv.KeyedMutex
	log   *slog.Logger

	Now func() time.Time

	hookMu      sync.RWMutex
	onAvailable []func(agentID string)
}

func NewRegistry(store kv.Store[Agent], log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{store: store, locks: kv.NewKeyedMutex(), log: log, Now: time.Now}
}

// OnAvailable registers fn to be called whenever an agent becomes
// dispatchable. Hooks run synchronously after the agent lock is released.
func (r *Registry) OnAvailable(fn func(agentID string)) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.onAvailable = append(r.onAvailable, fn)
}

// Register upserts an agent. New agents start offline with zeroed metrics;
// re-registration refreshes capability fields and keeps presence, capacity
// usage and metrics.
func (r *Registry) Register(ctx context.Context, reg Registration) (Agent, error) {
	reg.ID = strings.TrimSpace(reg.ID)
	if reg.ID == "" || strings.TrimSpace(reg.Address) == "" {
		return Agent{}, ErrInvalidArgument
	}
	if reg.MaxConcurrentCalls < 0 {
		return Agent{}, ErrInvalidArgument
	}
	if reg.MaxConcurrentCalls == 0 {
		reg.MaxConcurrentCalls = 1
	}
	if reg.Experience == "" {
		reg.Experience = ExperienceJunior
	}

	unlock := r.locks.Lock(reg.ID)
	defer unlock()

	a, ok, err := r.store.Get(ctx, reg.ID)
	if err != nil {
		return Agent{}, err
	}
	if !ok {
		a = Agent{ID: reg.ID, Status: StatusOffline, CreatedAt: r.Now().UTC()}
	}
	if a.CurrentCalls > reg.MaxConcurrentCalls {
		// Lowering capacity below in-flight usage would break the
		// CurrentCalls <= MaxConcurrentCalls invariant or lose reservations.
		return Agent{}, fmt.Errorf("%w: max_concurrent_calls %d is below %d calls in flight", ErrInvalidArgument, reg.MaxConcurrentCalls, a.CurrentCalls)
	}
	a.ConnectionID = reg.ConnectionID
	a.Address = reg.Address
	a.DisplayName = reg.DisplayName
	a.Skills = cloneTags(reg.Skills)
	a.Languages = cloneTags(reg.Languages)
	a.Regions = cloneTags(reg.Regions)
	a.Experience = reg.Experience
	a.MaxConcurrentCalls = reg.MaxConcurrentCalls
	a.Priority = reg.Priority

	if err := r.store.Put(ctx, a.ID, a); err != nil {
		return Agent{}, err
	}
	return a, nil
}

// Unregister removes the agent.
func (r *Registry) Unregister(ctx context.Context, id string) error {
	unlock := r.locks.Lock(id)
	defer unlock()

	_, ok, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return r.store.Delete(ctx, id)
}

// Heartbeat refreshes last-seen and promotes an offline agent to available.
// A busy agent stays busy.
func (r *Registry) Heartbeat(ctx context.Context, id string) (Agent, error) {
	return r.update(ctx, id, func(a *Agent) error {
		a.LastSeen = r.Now()
		if a.Status == StatusOffline {
			a.Status = StatusAvailable
			a.CapacityBusy = false
		}
		return nil
	})
}

// HeartbeatWithStatus is Heartbeat with an optional explicit status.
func (r *Registry) HeartbeatWithStatus(ctx context.Context, id string, status *Status) (Agent, error) {
	if status == nil {
		return r.Heartbeat(ctx, id)
	}
	return r.SetStatus(ctx, id, *status)
}

// SetStatus applies an explicit status and refreshes last-seen.
func (r *Registry) SetStatus(ctx context.Context, id string, status Status) (Agent, error) {
	if !status.Valid() {
		return Agent{}, ErrInvalidArgument
	}
	return r.update(ctx, id, func(a *Agent) error {
		a.Status = status
		a.CapacityBusy = false
		a.LastSeen = r.Now()
		return nil
	})
}

// SweepOffline demotes every agent whose last heartbeat is older than maxAge
// and returns how many were demoted.
func (r *Registry) SweepOffline(ctx context.Context, maxAge time.Duration) (int, error) {
	snapshot, err := r.store.List(ctx)
	if err != nil {
		return 0, err
	}

	demoted := 0
	for _, s := range snapshot {
		if s.Status == StatusOffline {
			continue
		}
		var changed bool
		_, err := r.update(ctx, s.ID, func(a *Agent) error {
			// Re-check under the lock; a heartbeat may have landed since the snapshot.
			if a.Status == StatusOffline || r.Now().Sub(a.LastSeen) <= maxAge {
				return nil
			}
			a.Status = StatusOffline
			a.CapacityBusy = false
			changed = true
			return nil
		})
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return demoted, err
		}
		if changed {
			demoted++
			r.log.Info("agent marked offline", "agent_id", s.ID)
		}
	}
	return demoted, nil
}

// RecordCallOutcome updates the agent's rolling metrics. The average handle
// time is an incremental mean over answered calls.
func (r *Registry) RecordCallOutcome(ctx context.Context, id string, answered bool, durationSeconds *float64) (Agent, error) {
	return r.update(ctx, id, func(a *Agent) error {
		applyOutcome(&a.Metrics, answered, durationSeconds, r.Now().UTC())
		return nil
	})
}

func applyOutcome(m *Metrics, answered bool, durationSeconds *float64, at time.Time) {
	m.TotalCalls++
	if answered {
		m.AnsweredCalls++
		if durationSeconds != nil {
			n := float64(m.AnsweredCalls)
			m.AvgHandleSeconds = (m.AvgHandleSeconds*(n-1) + *durationSeconds) / n
		}
	} else {
		m.MissedCalls++
	}
	m.LastCallAt = &at
}

// Reserve takes one unit of capacity on a dispatchable agent.
func (r *Registry) Reserve(ctx context.Context, id string) (Agent, error) {
	return r.update(ctx, id, func(a *Agent) error {
		if a.Status != StatusAvailable {
			return ErrUnavailable
		}
		if a.CurrentCalls >= a.MaxConcurrentCalls {
			return ErrAtCapacity
		}
		a.CurrentCalls++
		if a.CurrentCalls >= a.MaxConcurrentCalls {
			a.Status = StatusBusy
			a.CapacityBusy = true
		}
		return nil
	})
}

// Release returns one unit of capacity. An agent that was busy only because
// it was full becomes available again.
func (r *Registry) Release(ctx context.Context, id string) (Agent, error) {
	return r.update(ctx, id, func(a *Agent) error {
		if a.CurrentCalls > 0 {
			a.CurrentCalls--
		}
		if a.CapacityBusy && a.CurrentCalls < a.MaxConcurrentCalls {
			a.Status = StatusAvailable
			a.CapacityBusy = false
		}
		return nil
	})
}

// CompleteCall releases the agent's reservation and records the outcome as
// one mutation, so capacity and metrics never disagree.
func (r *Registry) CompleteCall(ctx context.Context, id string, reserved, answered bool, durationSeconds *float64) (Agent, error) {
	return r.update(ctx, id, func(a *Agent) error {
		applyOutcome(&a.Metrics, answered, durationSeconds, r.Now().UTC())
		if !reserved {
			return nil
		}
		if a.CurrentCalls > 0 {
			a.CurrentCalls--
		}
		if a.CapacityBusy && a.CurrentCalls < a.MaxConcurrentCalls {
			a.Status = StatusAvailable
			a.CapacityBusy = false
		}
		return nil
	})
}

func (r *Registry) Get(ctx context.Context, id string) (Agent, error) {
	a, ok, err := r.store.Get(ctx, id)
	if err != nil {
		return Agent{}, err
	}
	if !ok {
		return Agent{}, ErrNotFound
	}
	return a, nil
}

func (r *Registry) Metrics(ctx context.Context, id string) (Metrics, error) {
	a, err := r.Get(ctx, id)
	if err != nil {
		return Metrics{}, err
	}
	return a.Metrics, nil
}

// List returns every agent ordered by id.
func (r *Registry) List(ctx context.Context) ([]Agent, error) {
	all, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all, nil
}

func (r *Registry) ListByStatus(ctx context.Context, status Status) ([]Agent, error) {
	return r.filter(ctx, func(a Agent) bool { return a.Status == status })
}

// ListAvailable returns agents that are available with spare capacity.
func (r *Registry) ListAvailable(ctx context.Context) ([]Agent, error) {
	return r.filter(ctx, Agent.Dispatchable)
}

// FindByConnection resolves the agent owning a switch-side connection id.
func (r *Registry) FindByConnection(ctx context.Context, connectionID string) (Agent, error) {
	if connectionID == "" {
		return Agent{}, ErrNotFound
	}
	all, err := r.store.List(ctx)
	if err != nil {
		return Agent{}, err
	}
	for _, a := range all {
		if a.ConnectionID == connectionID {
			return a, nil
		}
	}
	return Agent{}, ErrNotFound
}

func (r *Registry) filter(ctx context.Context, keep func(Agent) bool) ([]Agent, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Agent, 0, len(all))
	for _, a := range all {
		if keep(a) {
			out = append(out, a)
		}
	}
	return out, nil
}

// update runs fn on the stored agent under its lock. If fn returns an error
// nothing is written. Availability hooks fire after the lock is released.
func (r *Registry) update(ctx context.Context, id string, fn func(a *Agent) error) (Agent, error) {
	unlock := r.locks.Lock(id)

	before, ok, err := r.store.Get(ctx, id)
	if err != nil {
		unlock()
		return Agent{}, err
	}
	if !ok {
		unlock()
		return Agent{}, ErrNotFound
	}

	after := before
	if err := fn(&after); err != nil {
		unlock()
		return before, err
	}
	if err := r.store.Put(ctx, id, after); err != nil {
		unlock()
		return before, err
	}
	unlock()

	if !before.Dispatchable() && after.Dispatchable() {
		r.fireAvailable(id)
	}
	return after, nil
}

func (r *Registry) fireAvailable(id string) {
	r.hookMu.RLock()
	hooks := make([]func(string), len(r.onAvailable))
	copy(hooks, r.onAvailable)
	r.hookMu.RUnlock()

	for _, fn := range hooks {
		fn(id)
	}
}

func cloneTags(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
