package kv

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Schema is the single table shared by every Postgres-backed namespace.
// The body column holds the JSON encoding of the entity.
const Schema = `
CREATE TABLE IF NOT EXISTS acd_entities (
  namespace  TEXT        NOT NULL,
  id         TEXT        NOT NULL,
  body       JSONB       NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  PRIMARY KEY (namespace, id)
)
`

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// EnsureSchema creates the entity table if it does not exist.
func EnsureSchema(ctx context.Context, db Execer) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("kv: ensure schema: %w", err)
	}
	return nil
}

// Postgres is a Store on top of database/sql (pgx stdlib driver).
type Postgres[T any] struct {
	db        *sql.DB
	namespace string
	clock     func() time.Time
}

func NewPostgres[T any](db *sql.DB, namespace string) *Postgres[T] {
	return &Postgres[T]{db: db, namespace: namespace, clock: time.Now}
}

func (p *Postgres[T]) Get(ctx context.Context, id string) (T, bool, error) {
	const q = `
SELECT body
FROM acd_entities
WHERE namespace = $1 AND id = $2
`
	var zero T
	var raw []byte
	if err := p.db.QueryRowContext(ctx, q, p.namespace, id).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return zero, false, nil
		}
		return zero, false, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, false, fmt.Errorf("kv: decode %s/%s: %w", p.namespace, id, err)
	}
	return v, true, nil
}

func (p *Postgres[T]) Put(ctx context.Context, id string, v T) error {
	if id == "" {
		return ErrEmptyID
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kv: encode %s/%s: %w", p.namespace, id, err)
	}
	const q = `
INSERT INTO acd_entities (namespace, id, body, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (namespace, id)
DO UPDATE SET body = EXCLUDED.body,
              updated_at = EXCLUDED.updated_at
`
	_, err = p.db.ExecContext(ctx, q, p.namespace, id, raw, p.clock().UTC())
	return err
}

func (p *Postgres[T]) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM acd_entities WHERE namespace = $1 AND id = $2`
	_, err := p.db.ExecContext(ctx, q, p.namespace, id)
	return err
}

func (p *Postgres[T]) List(ctx context.Context) ([]T, error) {
	const q = `
SELECT body
FROM acd_entities
WHERE namespace = $1
ORDER BY id
`
	rows, err := p.db.QueryContext(ctx, q, p.namespace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]T, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("kv: decode %s: %w", p.namespace, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
