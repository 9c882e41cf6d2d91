package audit

import (
	"slices"
	"time"
)

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - tenant_id is required for tenancy isolation.
// - actor and ip capture are best-effort; call handling never waits on audit.
type Event struct {
	ID       string    `json:"id" db:"id"`
	TenantID string    `json:"tenant_id" db:"tenant_id"`
	Type     EventType `json:"type" db:"type"`

	// Actor fields are empty for events raised by the call flow itself.
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`
	IPAddress   string `json:"ip_address,omitempty" db:"ip_address"`

	CallID  string `json:"call_id,omitempty" db:"call_id"`
	AgentID string `json:"agent_id,omitempty" db:"agent_id"`

	Message string `json:"message,omitempty" db:"message"`
	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeStatusOverride    EventType = "agent_status_override"
	EventTypeIllegalTransition EventType = "illegal_transition"
	EventTypeCallQueued        EventType = "call_queued"
)

// Query filters the audit log. Empty fields match everything; results are
// newest first.
type Query struct {
	// Tenants matches any of the listed tenant ids.
	Tenants []string
	Type     EventType
	CallID   string
	AgentID  string
	Since    time.Time
	Limit    int
}

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

func (q Query) normalized() Query {
	if q.Limit <= 0 {
		q.Limit = defaultQueryLimit
	}
	if q.Limit > maxQueryLimit {
		q.Limit = maxQueryLimit
	}
	return q
}

func (q Query) matches(e Event) bool {
	switch {
	case len(q.Tenants) > 0 && !slices.Contains(q.Tenants, e.TenantID):
		return false
	case q.Type != "" && e.Type != q.Type:
		return false
	case q.CallID != "" && e.CallID != q.CallID:
		return false
	case q.AgentID != "" && e.AgentID != q.AgentID:
		return false
	case !q.Since.IsZero() && e.CreatedAt.Before(q.Since):
		return false
	}
	return true
}
