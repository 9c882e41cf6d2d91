package agents

import "time"

// Agent is a registered human agent together with its live presence and
// rolling call metrics.
//
// Invariant: CurrentCalls <= MaxConcurrentCalls. Status only changes in
// response to an event (heartbeat, explicit set, reservation/release) or the
// offline sweep.
type Agent struct {
	ID           string `json:"id"`
	ConnectionID string `json:"connection_id"`
	// Address is the dialable endpoint for this agent, e.g. sip:alice@pbx.example.com.
	Address     string `json:"address"`
	DisplayName string `json:"display_name,omitempty"`

	Skills     []string   `json:"skills,omitempty"`
	Languages  []string   `json:"languages,omitempty"`
	Experience Experience `json:"experience"`
	Regions    []string   `json:"regions,omitempty"`

	MaxConcurrentCalls int `json:"max_concurrent_calls"`
	CurrentCalls       int `json:"current_calls"`
	Priority           int `json:"priority"`

	Status Status `json:"status"`
	// CapacityBusy marks a busy status that was set by reaching capacity
	// rather than by the agent or a supervisor.
	CapacityBusy bool      `json:"capacity_busy,omitempty"`
	LastSeen     time.Time `json:"last_seen"`
	CreatedAt    time.Time `json:"created_at"`

	Metrics Metrics `json:"metrics"`
}

// Clone returns a copy that shares no slices or pointers with a.
func (a Agent) Clone() Agent {
	out := a
	out.Skills = cloneSlice(a.Skills)
	out.Languages = cloneSlice(a.Languages)
	out.Regions = cloneSlice(a.Regions)
	if a.Metrics.LastCallAt != nil {
		t := *a.Metrics.LastCallAt
		out.Metrics.LastCallAt = &t
	}
	return out
}

func cloneSlice(in []string) []string {
	if in == nil {
		return nil
	}
	return append(make([]string, 0, len(in)), in...)
}

// Utilization is CurrentCalls / MaxConcurrentCalls; agents without capacity
// count as fully utilized.
func (a Agent) Utilization() float64 {
	if a.MaxConcurrentCalls <= 0 {
		return 1
	}
	return float64(a.CurrentCalls) / float64(a.MaxConcurrentCalls)
}

// Dispatchable reports whether the agent can take another call right now.
func (a Agent) Dispatchable() bool {
	return a.Status == StatusAvailable && a.CurrentCalls < a.MaxConcurrentCalls
}

type Status string

const (
	StatusAvailable Status = "available"
	StatusBusy      Status = "busy"
	StatusOffline   Status = "offline"
)

func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusBusy, StatusOffline:
		return true
	default:
		return false
	}
}

type Experience string

const (
	ExperienceJunior Experience = "junior"
	ExperienceMid    Experience = "mid"
	ExperienceSenior Experience = "senior"
	ExperienceExpert Experience = "expert"
)

// Metrics are maintained incrementally; no call history is kept.
type Metrics struct {
	TotalCalls       int        `json:"total_calls"`
	AnsweredCalls    int        `json:"answered_calls"`
	MissedCalls      int        `json:"missed_calls"`
	AvgHandleSeconds float64    `json:"avg_handle_seconds"`
	LastCallAt       *time.Time `json:"last_call_at,omitempty"`
}

// Registration is the input to Register.
type Registration struct {
	ID           string     `json:"id"`
	ConnectionID string     `json:"connection_id"`
	Address      string     `json:"address"`
	DisplayName  string     `json:"display_name,omitempty"`
	Skills       []string   `json:"skills,omitempty"`
	Languages    []string   `json:"languages,omitempty"`
	Experience   Experience `json:"experience,omitempty"`
	Regions      []string   `json:"regions,omitempty"`

	// MaxConcurrentCalls defaults to 1.
	MaxConcurrentCalls int `json:"max_concurrent_calls,omitempty"`
	Priority           int `json:"priority,omitempty"`
}
