package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"contact-center/internal/agents"
	"contact-center/internal/auth"
	"contact-center/internal/calls"
	"contact-center/internal/routing"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events. It is
// append-only: there are no Update or Delete methods.
type Repository interface {
	Append(ctx context.Context, e Event) error
	Find(ctx context.Context, q Query) ([]Event, error)
}

var ErrInvalidEvent = errors.New("audit: invalid event")

// Service records internal audit events. Audit is internal-only and
// best-effort: the Log* helpers and observer hooks swallow errors after
// logging them.
type Service struct {
	repo   Repository
	tenant string
	log    *slog.Logger
	clock  func() time.Time
}

// NewService builds a Service; tenant is used for events raised by the call
// flow rather than by an authenticated caller.
func NewService(repo Repository, tenant string, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if tenant == "" {
		tenant = "system"
	}
	return &Service{repo: repo, tenant: tenant, log: log, clock: time.Now}
}

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.TenantID == "" || e.Type == "" {
		return ErrInvalidEvent
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// SystemTenant is the tenant recorded on events raised by the call flow.
func (s *Service) SystemTenant() string { return s.tenant }

// Find reads the log. Callers scope q.Tenants themselves.
func (s *Service) Find(ctx context.Context, q Query) ([]Event, error) {
	if s.repo == nil {
		return nil, errors.New("audit: repository not configured")
	}
	return s.repo.Find(ctx, q)
}

// LogStatusOverride records a manual presence change made through the API.
func (s *Service) LogStatusOverride(ctx context.Context, agentID string, from, to agents.Status) {
	e := Event{
		Type:      EventTypeStatusOverride,
		AgentID:   agentID,
		IPAddress: ClientIP(ctx),
		Message:   "agent status set to " + string(to),
		Metadata:  metadata(map[string]string{"from": string(from), "to": string(to)}),
	}
	s.withActor(ctx, &e)
	s.bestEffort(ctx, e)
}

// IllegalTransition implements calls.TransitionObserver.
func (s *Service) IllegalTransition(ctx context.Context, terr *calls.TransitionError) {
	s.bestEffort(ctx, Event{
		TenantID: s.tenant,
		Type:     EventTypeIllegalTransition,
		CallID:   terr.CallID,
		Message:  terr.Error(),
		Metadata: metadata(map[string]string{"from": string(terr.From), "to": string(terr.To)}),
	})
}

// CallQueued implements routing.QueueAuditor.
func (s *Service) CallQueued(ctx context.Context, req routing.Request, position int) {
	s.bestEffort(ctx, Event{
		TenantID: s.tenant,
		Type:     EventTypeCallQueued,
		CallID:   req.CallID,
		Message:  "no agent available",
		Metadata: metadata(map[string]any{"priority": req.Priority, "position": position}),
	})
}

func (s *Service) withActor(ctx context.Context, e *Event) {
	e.TenantID = s.tenant
	if id, err := auth.IdentityFrom(ctx); err == nil {
		e.ActorUserID = id.UserID
		e.ActorRole = id.Role
		if id.TenantID != "" {
			e.TenantID = id.TenantID
		}
	}
}

func (s *Service) bestEffort(ctx context.Context, e Event) {
	if err := s.Append(ctx, e); err != nil {
		s.log.Warn("audit append failed", "type", e.Type, "call_id", e.CallID, "agent_id", e.AgentID, "err", err)
	}
}

func metadata(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

var (
	_ calls.TransitionObserver = (*Service)(nil)
	_ routing.QueueAuditor     = (*Service)(nil)
)
