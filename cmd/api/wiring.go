package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"contact-center/internal/agents"
	"contact-center/internal/audit"
	"contact-center/internal/auth"
	"contact-center/internal/calls"
	"contact-center/internal/config"
	"contact-center/internal/httpapi"
	"contact-center/internal/kv"
	"contact-center/internal/reporting"
	"contact-center/internal/routing"
	"contact-center/internal/telephony"
	"contact-center/internal/workstation"
	"contact-center/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// app is the wired service graph. Background loops are started by main.
type app struct {
	registry *agents.Registry
	calls    *calls.Store
	engine   *routing.Engine
	sweeper  *agents.Sweeper
	hub      *workstation.Hub

	api   httpapi.Handlers
	voice *telephony.VoiceHandler

	db  *sql.DB
	rdb *redis.Client
}

func (a *app) Close() {
	if a.hub != nil {
		a.hub.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

func newApp(ctx context.Context, cfg config.Config, authManager *auth.Manager, log *slog.Logger) (*app, error) {
	a := &app{}

	if cfg.Storage.Backend == kv.BackendPostgres {
		db, err := utils.OpenPostgres(ctx, cfg.PostgresDSN(), utils.PostgresOptions{MaxConns: cfg.DB.MaxConns})
		if err != nil {
			return nil, fmt.Errorf("postgres init: %w", err)
		}
		a.db = db
		err = utils.InTx(ctx, db, func(tx *sql.Tx) error {
			if err := kv.EnsureSchema(ctx, tx); err != nil {
				return err
			}
			return audit.EnsureSchema(ctx, tx)
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
	}
	if cfg.Storage.Backend == kv.BackendRedis || cfg.Redis.Host != "" {
		rdb, err := utils.OpenRedis(ctx, utils.RedisOptions{
			Addr:     cfg.RedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("redis init: %w", err)
		}
		a.rdb = rdb
	}

	var (
		agentStore kv.Store[agents.Agent]
		callStore  kv.Store[calls.Call]
	)
	switch cfg.Storage.Backend {
	case kv.BackendPostgres:
		agentStore = kv.NewPostgres[agents.Agent](a.db, "agents")
		callStore = kv.NewPostgres[calls.Call](a.db, "calls")
	case kv.BackendRedis:
		agentStore = kv.NewRedis[agents.Agent](a.rdb, "agents")
		callStore = kv.NewRedis[calls.Call](a.rdb, "calls")
	default:
		agentStore = kv.NewMemory[agents.Agent]()
		callStore = kv.NewMemory[calls.Call]()
	}

	var auditRepo audit.Repository = audit.NewMemoryRepo()
	if a.db != nil {
		auditRepo = audit.NewPostgresRepo(a.db)
	}
	auditSvc := audit.NewService(auditRepo, "", log.With("component", "audit"))

	a.registry = agents.NewRegistry(agentStore, log.With("component", "agents"))
	a.hub = workstation.NewHub(a.registry, originChecker(cfg.App.AllowedOrigins), log.With("component", "workstation"))

	dispatchers := routing.MultiDispatcher{
		routing.LogDispatcher{Log: log.With("component", "screenpop")},
		a.hub,
	}
	if a.rdb != nil {
		dispatchers = append(dispatchers, routing.RedisDispatcher{Client: a.rdb})
	}

	a.calls = calls.NewStore(callStore, a.registry, log.With("component", "calls"))
	a.engine = routing.NewEngine(a.registry, a.calls, routing.NewQueue(), dispatchers, log.With("component", "routing"))
	a.engine.SetAuditor(auditSvc)
	a.calls.SetObserver(auditSvc)
	a.calls.OnTerminal(a.engine.CallEnded)
	a.registry.OnAvailable(a.engine.AgentAvailable)
	a.sweeper = agents.NewSweeper(a.registry, cfg.CallCenter.SweepInterval, cfg.CallCenter.HeartbeatMaxAge, log.With("component", "sweeper"))

	for _, reg := range cfg.CallCenter.InitialAgents {
		if _, err := a.registry.Register(ctx, reg); err != nil {
			a.Close()
			return nil, fmt.Errorf("register initial agent %q: %w", reg.ID, err)
		}
	}

	validator, err := httpapi.NewContextValidator("")
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("customer context schema: %w", err)
	}

	cc := cfg.CallCenter
	a.voice = &telephony.VoiceHandler{
		Calls:  a.calls,
		Agents: a.registry,
		Router: a.engine,
		Docs: telephony.NewDocuments(telephony.DocumentConfig{
			BaseURL:            cc.WebhookBaseURL,
			CallerID:           cc.Number,
			MaxDialAttempts:    cc.MaxDialAttempts,
			DialTimeout:        cc.DialTimeout,
			DialTimeLimit:      cc.DialTimeLimit,
			RecordingEnabled:   cc.RecordingEnabled,
			VoicemailEnabled:   cc.VoicemailEnabled,
			VoicemailMaxLength: cc.VoicemailMaxLength,
		}),
		EventSecret: cfg.Twilio.WebhookSecret,
	}

	a.api = httpapi.Handlers{
		Auth:    authManager,
		Agents:  a.registry,
		Calls:   a.calls,
		Engine:  a.engine,
		Reports: reporting.NewService(a.calls, a.registry),
		Audit:   auditSvc,
		Context: validator,

		Workstation: a.hub,
	}
	return a, nil
}

// originChecker restricts websocket upgrades to the CORS allow-list. An empty
// list accepts any origin.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
