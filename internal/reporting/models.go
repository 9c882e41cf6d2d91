package reporting

import (
	"time"

	"contact-center/internal/agents"
)

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether t falls in [From, To).
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.From) && t.Before(r.To)
}

type CallsSummaryRequest struct {
	Range TimeRange `json:"range"`
}

type CallsSummary struct {
	Range TimeRange `json:"range"`

	TotalCalls int            `json:"total_calls"`
	ByStatus   map[string]int `json:"by_status"`

	AnsweredCalls  int `json:"answered_calls"`
	AbandonedCalls int `json:"abandoned_calls"`
	VoicemailCalls int `json:"voicemail_calls"`
	RecordedCalls  int `json:"recorded_calls"`
	ActiveCalls    int `json:"active_calls"`

	TotalHandleSeconds   float64 `json:"total_handle_seconds"`
	AverageHandleSeconds float64 `json:"average_handle_seconds"`
	AnswerRate           float64 `json:"answer_rate"`
}

type AgentRow struct {
	AgentID     string        `json:"agent_id"`
	DisplayName string        `json:"display_name,omitempty"`
	Status      agents.Status `json:"status"`

	CurrentCalls       int     `json:"current_calls"`
	MaxConcurrentCalls int     `json:"max_concurrent_calls"`
	Utilization        float64 `json:"utilization"`

	Metrics    agents.Metrics `json:"metrics"`
	AnswerRate float64        `json:"answer_rate"`
}

type AgentSummary struct {
	Agents    []AgentRow `json:"agents"`
	Available int        `json:"available"`
	Busy      int        `json:"busy"`
	Offline   int        `json:"offline"`
}
