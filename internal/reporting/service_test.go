package reporting

import (
	"context"
	"errors"
	"testing"
	"time"

	"contact-center/internal/agents"
	"contact-center/internal/calls"
)

type staticCalls []calls.Call

func (s staticCalls) List(ctx context.Context) ([]calls.Call, error) { return s, nil }

type staticAgents []agents.Agent

func (s staticAgents) List(ctx context.Context) ([]agents.Agent, error) { return s, nil }

func at(base time.Time, sec int) *time.Time {
	t := base.Add(time.Duration(sec) * time.Second)
	return &t
}

func TestCallsSummary_Aggregates(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	rows := staticCalls{
		{ID: "c1", Status: calls.StatusCompleted, StartedAt: now, AnsweredAt: at(now, 10), EndedAt: at(now, 130), RecordingRef: "r1"},
		{ID: "c2", Status: calls.StatusCompleted, StartedAt: now, AnsweredAt: at(now, 5), EndedAt: at(now, 65)},
		{ID: "c3", Status: calls.StatusFailed, StartedAt: now, EndedAt: at(now, 20)},
		{ID: "c4", Status: calls.StatusCompleted, StartedAt: now, EndedAt: at(now, 90), VoicemailRef: "vm1"},
		{ID: "c5", Status: calls.StatusRinging, StartedAt: now},
		{ID: "old", Status: calls.StatusCompleted, StartedAt: now.Add(-2 * time.Hour)},
	}
	svc := NewService(rows, nil)

	out, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCalls != 5 || out.ByStatus["completed"] != 3 || out.ByStatus["failed"] != 1 {
		t.Fatalf("unexpected counts: %+v", out)
	}
	if out.AnsweredCalls != 2 || out.AbandonedCalls != 1 || out.VoicemailCalls != 1 || out.RecordedCalls != 1 || out.ActiveCalls != 1 {
		t.Fatalf("unexpected breakdown: %+v", out)
	}
	if out.AverageHandleSeconds != 90 {
		t.Fatalf("expected average handle 90s, got %v", out.AverageHandleSeconds)
	}
}

func TestCallsSummary_RejectsBadRange(t *testing.T) {
	svc := NewService(staticCalls{}, nil)
	now := time.Now()
	_, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{Range: TimeRange{From: now, To: now}})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestAgentSummary_Rows(t *testing.T) {
	list := staticAgents{
		{ID: "a1", Status: agents.StatusBusy, CurrentCalls: 1, MaxConcurrentCalls: 2, Metrics: agents.Metrics{TotalCalls: 4, AnsweredCalls: 3}},
		{ID: "a2", Status: agents.StatusOffline, MaxConcurrentCalls: 1},
	}
	out, err := NewService(nil, list).AgentSummary(context.Background())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(out.Agents) != 2 || out.Busy != 1 || out.Offline != 1 {
		t.Fatalf("unexpected summary: %+v", out)
	}
	if out.Agents[0].Utilization != 0.5 || out.Agents[0].AnswerRate != 0.75 {
		t.Fatalf("unexpected row: %+v", out.Agents[0])
	}
}
