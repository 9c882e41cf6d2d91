package calls

import (
	"fmt"
	"time"
)

// Call is one inbound or outbound call tracked from first ring to a terminal
// outcome. The Store exclusively owns Call values; other packages read copies
// and request changes through the Store API.
type Call struct {
	ID string `json:"id"`
	// ProviderRef is the switch-side call-control reference.
	ProviderRef string `json:"provider_ref"`

	From string `json:"from"`
	To   string `json:"to"`

	Status Status `json:"status"`

	// AgentID is the agent routed to or answering the call.
	AgentID string `json:"agent_id,omitempty"`
	// AgentReserved is true while the call holds one unit of AgentID's capacity.
	AgentReserved bool `json:"agent_reserved,omitempty"`

	// Attempts is the highest 1-based dial attempt issued for this call.
	Attempts int `json:"attempts"`

	StartedAt  time.Time  `json:"started_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`

	RecordingRef string `json:"recording_ref,omitempty"`
	VoicemailRef string `json:"voicemail_ref,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// HandleSeconds is the answered talk time of a finished call, or 0.
func (c Call) HandleSeconds() float64 {
	if c.AnsweredAt == nil || c.EndedAt == nil {
		return 0
	}
	return c.EndedAt.Sub(*c.AnsweredAt).Seconds()
}

type Status string

const (
	StatusRinging   Status = "ringing"
	StatusAnswered  Status = "answered"
	StatusBusy      Status = "busy"
	StatusNoAnswer  Status = "no_answer"
	StatusVoicemail Status = "voicemail"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) Valid() bool {
	switch s {
	case StatusRinging, StatusAnswered, StatusBusy, StatusNoAnswer, StatusVoicemail, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// transitions is the allowed status graph. Nothing leads back to ringing:
// retries are new dial attempts on the same call, not new ring states.
var transitions = map[Status][]Status{
	StatusRinging:   {StatusAnswered, StatusBusy, StatusNoAnswer, StatusFailed},
	StatusBusy:      {StatusAnswered, StatusVoicemail, StatusCompleted, StatusFailed},
	StatusNoAnswer:  {StatusAnswered, StatusVoicemail, StatusCompleted, StatusFailed},
	StatusVoicemail: {StatusCompleted, StatusFailed},
	StatusAnswered:  {StatusCompleted, StatusFailed},
}

// CanTransition reports whether from -> to is an edge of the status graph.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionError is returned for a status change outside the graph.
type TransitionError struct {
	CallID string
	From   Status
	To     Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("calls: illegal transition %s -> %s for call %s", e.From, e.To, e.CallID)
}

func (e *TransitionError) Unwrap() error { return ErrIllegalTransition }

// NewCall is the input to Store.Create.
type NewCall struct {
	ID          string
	ProviderRef string
	From        string
	To          string
}

// Artifacts are references attached after the fact. Empty fields are left
// unchanged.
type Artifacts struct {
	RecordingRef string `json:"recording_ref,omitempty"`
	VoicemailRef string `json:"voicemail_ref,omitempty"`
}
