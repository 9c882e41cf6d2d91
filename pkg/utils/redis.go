package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures the client used by the entity store and the
// screen-pop publisher.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int

	PoolSize int
	// Timeout bounds every socket operation.
	Timeout     time.Duration
	PingTimeout time.Duration
}

func (o RedisOptions) normalized() RedisOptions {
	if o.PoolSize <= 0 {
		o.PoolSize = 20
	}
	if o.Timeout <= 0 {
		o.Timeout = 2 * time.Second
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = 2 * time.Second
	}
	return o
}

// OpenRedis builds a client and fails fast when the server is unreachable.
func OpenRedis(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis: addr required")
	}
	opts = opts.normalized()

	rdb := redis.NewClient(&redis.Options{
		Addr:            opts.Addr,
		Password:        opts.Password,
		DB:              opts.DB,
		PoolSize:        opts.PoolSize,
		DialTimeout:     opts.Timeout,
		ReadTimeout:     opts.Timeout,
		WriteTimeout:    opts.Timeout,
		ConnMaxIdleTime: 5 * time.Minute,
	})
	if err := PingRedis(ctx, rdb, opts.PingTimeout); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

// PingRedis backs the readiness probe.
func PingRedis(ctx context.Context, rdb *redis.Client, timeout time.Duration) error {
	if rdb == nil {
		return fmt.Errorf("redis: no client")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
