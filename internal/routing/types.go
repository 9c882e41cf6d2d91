package routing

import (
	"encoding/json"
	"strings"
	"time"
)

// Request asks the engine to place a call with an agent. It is never
// persisted; queued requests live only in the in-process Queue.
type Request struct {
	CallID            string   `json:"call_id"`
	RequiredSkills    []string `json:"required_skills,omitempty"`
	PreferredLanguage string   `json:"preferred_language,omitempty"`
	Region            string   `json:"region,omitempty"`
	Priority          Priority `json:"priority"`

	// CustomerContext is validated at the API edge and passed through
	// untouched as the screen-pop payload.
	CustomerContext json.RawMessage `json:"customer_context,omitempty"`

	EnqueuedAt time.Time `json:"enqueued_at,omitempty"`
}

func (r Request) normalized() Request {
	out := r
	out.RequiredSkills = normalizeTags(r.RequiredSkills)
	out.PreferredLanguage = strings.ToLower(strings.TrimSpace(r.PreferredLanguage))
	out.Region = strings.ToLower(strings.TrimSpace(r.Region))
	if out.Priority == "" {
		out.Priority = PriorityMedium
	}
	return out
}

// Result is the routing outcome. Queued results carry no agent.
type Result struct {
	CallID  string  `json:"call_id"`
	AgentID string  `json:"agent_id,omitempty"`
	Address string  `json:"address,omitempty"`
	Method  Method  `json:"method"`
	Score   float64 `json:"score"`

	ScreenPop *ScreenPop `json:"screen_pop,omitempty"`

	Queued        bool     `json:"queued"`
	QueuePriority Priority `json:"queue_priority,omitempty"`
	QueuePosition int      `json:"queue_position,omitempty"`
}

// ScreenPop is what the agent's workstation shows when the call connects.
type ScreenPop struct {
	CallID          string          `json:"call_id"`
	AgentID         string          `json:"agent_id"`
	Method          Method          `json:"method"`
	CustomerContext json.RawMessage `json:"customer_context,omitempty"`
}

type Method string

const (
	MethodSkill      Method = "skill_match"
	MethodLanguage   Method = "language_match"
	MethodGeographic Method = "geographic_match"
	MethodLeastBusy  Method = "least_busy"
	MethodQueued     Method = "queued"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// priorityOrder lists buckets in drain order.
var priorityOrder = [...]Priority{PriorityUrgent, PriorityHigh, PriorityMedium, PriorityLow}

// Priorities returns every priority in drain order.
func Priorities() []Priority {
	out := make([]Priority, len(priorityOrder))
	copy(out, priorityOrder[:])
	return out
}

func (p Priority) Valid() bool {
	return p.bucket() >= 0
}

func (p Priority) bucket() int {
	for i, q := range priorityOrder {
		if q == p {
			return i
		}
	}
	return -1
}

func normalizeTags(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
