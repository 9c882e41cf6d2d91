package reporting

import (
	"context"
	"errors"

	"contact-center/internal/agents"
	"contact-center/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// CallSource and AgentSource are read-only views of the call store and the
// agent registry. Reports are computed from point-in-time snapshots.
type CallSource interface {
	List(ctx context.Context) ([]calls.Call, error)
}

type AgentSource interface {
	List(ctx context.Context) ([]agents.Agent, error)
}

type Service struct {
	calls  CallSource
	agents AgentSource
}

func NewService(calls CallSource, agents AgentSource) *Service {
	return &Service{calls: calls, agents: agents}
}

// CallsSummary aggregates calls that started inside the range.
func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.calls == nil {
		return CallsSummary{}, errors.New("reporting: call source not configured")
	}

	rows, err := s.calls.List(ctx)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{Range: req.Range, ByStatus: map[string]int{}}
	handled := 0
	for _, c := range rows {
		if !req.Range.Contains(c.StartedAt) {
			continue
		}
		out.TotalCalls++
		out.ByStatus[string(c.Status)]++

		if c.AnsweredAt != nil {
			out.AnsweredCalls++
		}
		if c.Status == calls.StatusFailed && c.AnsweredAt == nil {
			out.AbandonedCalls++
		}
		if c.VoicemailRef != "" {
			out.VoicemailCalls++
		}
		if c.RecordingRef != "" {
			out.RecordedCalls++
		}
		if !c.Status.Terminal() {
			out.ActiveCalls++
		}
		if d := c.HandleSeconds(); d > 0 {
			out.TotalHandleSeconds += d
			handled++
		}
	}
	if handled > 0 {
		out.AverageHandleSeconds = out.TotalHandleSeconds / float64(handled)
	}
	if out.TotalCalls > 0 {
		out.AnswerRate = float64(out.AnsweredCalls) / float64(out.TotalCalls)
	}
	return out, nil
}

// AgentSummary returns one row per registered agent with its live load and
// rolling metrics.
func (s *Service) AgentSummary(ctx context.Context) (AgentSummary, error) {
	if s.agents == nil {
		return AgentSummary{}, errors.New("reporting: agent source not configured")
	}
	list, err := s.agents.List(ctx)
	if err != nil {
		return AgentSummary{}, err
	}

	out := AgentSummary{Agents: make([]AgentRow, 0, len(list))}
	for _, a := range list {
		row := AgentRow{
			AgentID:            a.ID,
			DisplayName:        a.DisplayName,
			Status:             a.Status,
			CurrentCalls:       a.CurrentCalls,
			MaxConcurrentCalls: a.MaxConcurrentCalls,
			Utilization:        a.Utilization(),
			Metrics:            a.Metrics,
		}
		if a.Metrics.TotalCalls > 0 {
			row.AnswerRate = float64(a.Metrics.AnsweredCalls) / float64(a.Metrics.TotalCalls)
		}
		out.Agents = append(out.Agents, row)

		switch a.Status {
		case agents.StatusAvailable:
			out.Available++
		case agents.StatusBusy:
			out.Busy++
		default:
			out.Offline++
		}
	}
	return out, nil
}
