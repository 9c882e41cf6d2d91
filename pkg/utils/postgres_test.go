package utils

import (
	"context"
	"database/sql"
	"testing"
	"time"
)

func TestPostgresOptionsDefaults(t *testing.T) {
	o := PostgresOptions{MaxConns: 4}.normalized()
	if o.MaxConns != 4 {
		t.Fatalf("explicit max conns overwritten: %d", o.MaxConns)
	}
	if o.MaxLifetime != 30*time.Minute || o.PingTimeout != 5*time.Second {
		t.Fatalf("unexpected defaults: %+v", o)
	}
}

func TestOpenPostgresUnreachable(t *testing.T) {
	dsn := "host=127.0.0.1 port=1 user=acd dbname=acd sslmode=disable connect_timeout=1"
	_, err := OpenPostgres(context.Background(), dsn, PostgresOptions{PingTimeout: 2 * time.Second})
	if err == nil {
		t.Fatalf("expected ping failure for closed port")
	}
}

func TestPingPostgresNilPool(t *testing.T) {
	var db *sql.DB
	if err := PingPostgres(context.Background(), db, time.Second); err == nil {
		t.Fatalf("expected error for nil pool")
	}
}
