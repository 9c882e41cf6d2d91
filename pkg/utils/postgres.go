package utils

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresOptions sizes the pool shared by the entity store and the audit log.
type PostgresOptions struct {
	MaxConns    int
	MaxLifetime time.Duration
	PingTimeout time.Duration
}

func (o PostgresOptions) normalized() PostgresOptions {
	if o.MaxConns <= 0 {
		o.MaxConns = 10
	}
	if o.MaxLifetime <= 0 {
		o.MaxLifetime = 30 * time.Minute
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = 5 * time.Second
	}
	return o
}

// OpenPostgres opens a pool on the pgx stdlib driver and pings it.
// dsn carries credentials and must not be logged.
func OpenPostgres(ctx context.Context, dsn string, opts PostgresOptions) (*sql.DB, error) {
	opts = opts.normalized()

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(opts.MaxConns)
	db.SetMaxIdleConns(opts.MaxConns)
	db.SetConnMaxLifetime(opts.MaxLifetime)

	if err := PingPostgres(ctx, db, opts.PingTimeout); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// PingPostgres backs the readiness probe.
func PingPostgres(ctx context.Context, db *sql.DB, timeout time.Duration) error {
	if db == nil {
		return fmt.Errorf("postgres: no pool")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}

// InTx commits when fn returns nil and rolls back on error or panic.
func InTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres begin: %w", err)
	}
	// Rollback after a successful Commit is a no-op.
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
