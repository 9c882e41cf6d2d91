package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"contact-center/internal/agents"
	"contact-center/internal/audit"
	"contact-center/internal/auth"
	"contact-center/internal/calls"
	"contact-center/internal/config"
	"contact-center/internal/kv"
	"contact-center/internal/reporting"
	"contact-center/internal/routing"

	"github.com/gin-gonic/gin"
)

type apiFixture struct {
	t        *testing.T
	router   *gin.Engine
	auth     *auth.Manager
	registry *agents.Registry
	calls    *calls.Store
	audit    *audit.MemoryRepo
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	m, err := auth.NewManager(config.AuthConfig{
		JWTSecret:       "secret",
		JWTIssuer:       "contact-center",
		JWTAudience:     "api",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	validator, err := NewContextValidator("")
	if err != nil {
		t.Fatalf("schema: %v", err)
	}

	registry := agents.NewRegistry(kv.NewMemory[agents.Agent](), log)
	store := calls.NewStore(kv.NewMemory[calls.Call](), registry, log)
	engine := routing.NewEngine(registry, store, nil, nil, log)
	repo := audit.NewMemoryRepo()

	h := Handlers{
		Auth:    m,
		Agents:  registry,
		Calls:   store,
		Engine:  engine,
		Reports: reporting.NewService(store, registry),
		Audit:   audit.NewService(repo, "acme", log),
		Context: validator,
	}

	r := gin.New()
	v1 := r.Group("/v1")
	h.RegisterAuthRoutes(v1)
	protected := v1.Group("")
	protected.Use(auth.RequireAccessToken(m))
	h.RegisterProtectedRoutes(protected)

	return &apiFixture{t: t, router: r, auth: m, registry: registry, calls: store, audit: repo}
}

func (f *apiFixture) token(role, agentID string) string {
	f.t.Helper()
	pair, err := f.auth.IssuePair(time.Now(), auth.Identity{UserID: "u-" + role, TenantID: "acme", Role: role, AgentID: agentID})
	if err != nil {
		f.t.Fatalf("issue: %v", err)
	}
	return pair.AccessToken
}

func (f *apiFixture) do(method, path, token string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			f.t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func (f *apiFixture) onlineAgent(id string, skills ...string) {
	f.t.Helper()
	sup := f.token("supervisor", "")
	w := f.do(http.MethodPost, "/v1/agents", sup, agents.Registration{
		ID:                 id,
		Address:            "sip:" + id + "@pbx.example.com",
		Skills:             skills,
		MaxConcurrentCalls: 1,
	})
	if w.Code != http.StatusOK {
		f.t.Fatalf("register %s: %d %s", id, w.Code, w.Body.String())
	}
	w = f.do(http.MethodPost, "/v1/agents/"+id+"/heartbeat", f.token("agent", id), nil)
	if w.Code != http.StatusOK {
		f.t.Fatalf("heartbeat %s: %d %s", id, w.Code, w.Body.String())
	}
}

func TestLoginAndMe(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodPost, "/v1/auth/login", "", map[string]string{"user_id": "u1", "tenant_id": "acme", "role": "supervisor"})
	if w.Code != http.StatusOK {
		t.Fatalf("login: %d %s", w.Code, w.Body.String())
	}
	var pair auth.TokenPair
	decode(t, w, &pair)
	if pair.AccessToken == "" || pair.ExpiresIn != 900 {
		t.Fatalf("unexpected pair: %+v", pair)
	}

	w = f.do(http.MethodGet, "/v1/me", pair.AccessToken, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"tenant_id":"acme"`) {
		t.Fatalf("me: %d %s", w.Code, w.Body.String())
	}
}

func TestLoginValidation(t *testing.T) {
	f := newAPIFixture(t)

	cases := []map[string]string{
		{"user_id": "u1", "tenant_id": "acme"},
		{"user_id": "u1", "tenant_id": "acme", "role": "janitor"},
		{"user_id": "u1", "tenant_id": "acme", "role": "agent"},
	}
	for _, body := range cases {
		if w := f.do(http.MethodPost, "/v1/auth/login", "", body); w.Code != http.StatusBadRequest {
			t.Fatalf("%v: expected 400, got %d", body, w.Code)
		}
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	f := newAPIFixture(t)
	if w := f.do(http.MethodGet, "/v1/agents", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestAgentLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	sup := f.token("supervisor", "")
	f.onlineAgent("a1", "billing")

	w := f.do(http.MethodGet, "/v1/agents?status=available", sup, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d %s", w.Code, w.Body.String())
	}
	var list struct {
		Agents []agents.Agent `json:"agents"`
	}
	decode(t, w, &list)
	if len(list.Agents) != 1 || list.Agents[0].ID != "a1" || list.Agents[0].Status != agents.StatusAvailable {
		t.Fatalf("unexpected list: %+v", list.Agents)
	}

	w = f.do(http.MethodPut, "/v1/agents/a1/status", sup, map[string]string{"status": "busy"})
	if w.Code != http.StatusOK {
		t.Fatalf("set status: %d %s", w.Code, w.Body.String())
	}
	evs := f.audit.Events()
	if len(evs) != 1 || evs[0].Type != audit.EventTypeStatusOverride || evs[0].AgentID != "a1" || evs[0].ActorRole != "supervisor" {
		t.Fatalf("expected status override audit event, got %+v", evs)
	}
	if evs[0].IPAddress == "" {
		t.Fatalf("expected client ip on audit event")
	}

	if w := f.do(http.MethodPut, "/v1/agents/a1/status", sup, map[string]string{"status": "lunch"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", w.Code)
	}
	if w := f.do(http.MethodGet, "/v1/agents?status=lunch", sup, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown filter, got %d", w.Code)
	}

	if w := f.do(http.MethodDelete, "/v1/agents/a1", sup, nil); w.Code != http.StatusNoContent {
		t.Fatalf("unregister: %d", w.Code)
	}
	if w := f.do(http.MethodDelete, "/v1/agents/a1", sup, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second unregister, got %d", w.Code)
	}
}

func TestHeartbeat_AgentsOnlyThemselves(t *testing.T) {
	f := newAPIFixture(t)
	f.onlineAgent("a1")
	f.onlineAgent("a2")

	if w := f.do(http.MethodPost, "/v1/agents/a2/heartbeat", f.token("agent", "a1"), nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if w := f.do(http.MethodGet, "/v1/agents", f.token("agent", "a1"), nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for agent listing, got %d", w.Code)
	}

	w := f.do(http.MethodPost, "/v1/agents/a1/heartbeat", f.token("agent", "a1"), map[string]string{"status": "busy"})
	if w.Code != http.StatusOK {
		t.Fatalf("heartbeat with status: %d %s", w.Code, w.Body.String())
	}
	var a agents.Agent
	decode(t, w, &a)
	if a.Status != agents.StatusBusy {
		t.Fatalf("expected busy, got %s", a.Status)
	}

	if w := f.do(http.MethodPost, "/v1/agents/ghost/heartbeat", f.token("owner", ""), nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown agent, got %d", w.Code)
	}
}

func TestRoute_AssignsAndQueues(t *testing.T) {
	f := newAPIFixture(t)
	sup := f.token("supervisor", "")
	ctx := context.Background()
	for _, id := range []string{"c1", "c2"} {
		if _, _, err := f.calls.Create(ctx, calls.NewCall{ID: id, ProviderRef: "ref-" + id}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	f.onlineAgent("a1", "billing")

	w := f.do(http.MethodPost, "/v1/routing/route", sup, map[string]any{
		"call_id":          "c1",
		"required_skills":  []string{"billing"},
		"priority":         "high",
		"customer_context": map[string]any{"customer_id": "cust-7", "tags": []string{"vip"}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("route: %d %s", w.Code, w.Body.String())
	}
	var res routing.Result
	decode(t, w, &res)
	if res.AgentID != "a1" || res.Queued || res.ScreenPop == nil || !strings.Contains(string(res.ScreenPop.CustomerContext), "cust-7") {
		t.Fatalf("unexpected result: %+v", res)
	}

	w = f.do(http.MethodPost, "/v1/routing/route", sup, map[string]any{"call_id": "c2", "priority": "urgent"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202 queued, got %d %s", w.Code, w.Body.String())
	}
	decode(t, w, &res)
	if !res.Queued || res.QueuePosition != 1 || res.QueuePriority != routing.PriorityUrgent {
		t.Fatalf("unexpected queued result: %+v", res)
	}

	w = f.do(http.MethodGet, "/v1/routing/queue", sup, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"total":1`) {
		t.Fatalf("queue: %d %s", w.Code, w.Body.String())
	}

	w = f.do(http.MethodGet, "/v1/calls/c1", sup, nil)
	var call calls.Call
	decode(t, w, &call)
	if call.AgentID != "a1" {
		t.Fatalf("expected call assigned to a1, got %+v", call)
	}

	if w := f.do(http.MethodPost, "/v1/routing/route", sup, map[string]any{"call_id": "ghost"}); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown call, got %d %s", w.Code, w.Body.String())
	}
}

func TestRoute_RejectsBadInput(t *testing.T) {
	f := newAPIFixture(t)
	sup := f.token("owner", "")

	cases := []map[string]any{
		{"priority": "high"},
		{"call_id": "c1", "priority": "whenever"},
		{"call_id": "c1", "customer_context": map[string]any{"tags": "not-a-list"}},
		{"call_id": "c1", "customer_context": []string{"not", "an", "object"}},
	}
	for _, body := range cases {
		if w := f.do(http.MethodPost, "/v1/routing/route", sup, body); w.Code != http.StatusBadRequest {
			t.Fatalf("%v: expected 400, got %d %s", body, w.Code, w.Body.String())
		}
	}
}

func TestCallsAndReports(t *testing.T) {
	f := newAPIFixture(t)
	sup := f.token("supervisor", "")
	if _, _, err := f.calls.Create(context.Background(), calls.NewCall{ID: "c1", ProviderRef: "ref-1"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if w := f.do(http.MethodGet, "/v1/calls/missing", sup, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	w := f.do(http.MethodGet, "/v1/calls/active", sup, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"id":"c1"`) {
		t.Fatalf("active: %d %s", w.Code, w.Body.String())
	}
	if w := f.do(http.MethodGet, "/v1/calls/active", f.token("agent", "a1"), nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for agent, got %d", w.Code)
	}

	w = f.do(http.MethodGet, "/v1/reports/calls", sup, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("calls report: %d %s", w.Code, w.Body.String())
	}
	var summary reporting.CallsSummary
	decode(t, w, &summary)
	if summary.TotalCalls != 1 || summary.ActiveCalls != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	if w := f.do(http.MethodGet, "/v1/reports/calls?from=yesterday", sup, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad from, got %d", w.Code)
	}
	if w := f.do(http.MethodGet, "/v1/reports/calls?from=2026-01-02T00:00:00Z&to=2026-01-01T00:00:00Z", sup, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for inverted range, got %d", w.Code)
	}
	if w := f.do(http.MethodGet, "/v1/reports/agents", sup, nil); w.Code != http.StatusOK {
		t.Fatalf("agents report: %d", w.Code)
	}
}

func TestAuditLog(t *testing.T) {
	f := newAPIFixture(t)
	sup := f.token("supervisor", "")
	f.onlineAgent("a1")

	if w := f.do(http.MethodPut, "/v1/agents/a1/status", sup, map[string]string{"status": "busy"}); w.Code != http.StatusOK {
		t.Fatalf("set status: %d", w.Code)
	}

	w := f.do(http.MethodGet, "/v1/audit?agent_id=a1&type=agent_status_override", sup, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("audit: %d %s", w.Code, w.Body.String())
	}
	var out struct {
		Events []audit.Event `json:"events"`
	}
	decode(t, w, &out)
	if len(out.Events) != 1 || out.Events[0].ActorUserID != "u-supervisor" {
		t.Fatalf("unexpected events: %+v", out.Events)
	}

	if w := f.do(http.MethodGet, "/v1/audit?limit=abc", sup, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", w.Code)
	}
	if w := f.do(http.MethodGet, "/v1/audit", f.token("agent", "a1"), nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for agent role, got %d", w.Code)
	}
}
