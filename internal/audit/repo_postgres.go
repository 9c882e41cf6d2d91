package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id            TEXT PRIMARY KEY,
	tenant_id     TEXT NOT NULL,
	type          TEXT NOT NULL,
	actor_user_id TEXT NOT NULL DEFAULT '',
	actor_role    TEXT NOT NULL DEFAULT '',
	ip_address    TEXT NOT NULL DEFAULT '',
	call_id       TEXT NOT NULL DEFAULT '',
	agent_id      TEXT NOT NULL DEFAULT '',
	message       TEXT NOT NULL DEFAULT '',
	metadata      JSONB,
	created_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_events_tenant_created_idx ON audit_events (tenant_id, created_at);
`

// PostgresRepo appends events to audit_events. It only ever INSERTs.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

// EnsureSchema creates audit_events on db, which may be a transaction.
func EnsureSchema(ctx context.Context, db interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}) error {
	if db == nil {
		return errors.New("audit: db is nil")
	}
	_, err := db.ExecContext(ctx, schema)
	return err
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	var meta any
	if e.Metadata != "" {
		meta = e.Metadata
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO audit_events
	(id, tenant_id, type, actor_user_id, actor_role, ip_address, call_id, agent_id, message, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.TenantID, string(e.Type), e.ActorUserID, e.ActorRole, e.IPAddress,
		e.CallID, e.AgentID, e.Message, meta, e.CreatedAt,
	)
	return err
}

func (r *PostgresRepo) Find(ctx context.Context, q Query) ([]Event, error) {
	q = q.normalized()

	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if len(q.Tenants) > 0 {
		add("tenant_id = ANY($%d)", q.Tenants)
	}
	if q.Type != "" {
		add("type = $%d", string(q.Type))
	}
	if q.CallID != "" {
		add("call_id = $%d", q.CallID)
	}
	if q.AgentID != "" {
		add("agent_id = $%d", q.AgentID)
	}
	if !q.Since.IsZero() {
		add("created_at >= $%d", q.Since)
	}

	stmt := `
SELECT id, tenant_id, type, actor_user_id, actor_role, ip_address, call_id, agent_id, message,
       COALESCE(metadata::text, ''), created_at
FROM audit_events`
	if len(where) > 0 {
		stmt += "\nWHERE " + strings.Join(where, " AND ")
	}
	args = append(args, q.Limit)
	stmt += fmt.Sprintf("\nORDER BY created_at DESC\nLIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Event, 0)
	for rows.Next() {
		var (
			e   Event
			typ string
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &typ, &e.ActorUserID, &e.ActorRole, &e.IPAddress,
			&e.CallID, &e.AgentID, &e.Message, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = EventType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}
