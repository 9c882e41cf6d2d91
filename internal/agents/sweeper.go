package agents

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically demotes agents that stopped sending heartbeats.
// It runs independently of request traffic and has no effect on routing
// decisions already in flight.
type Sweeper struct {
	registry *Registry
	interval time.Duration
	maxAge   time.Duration
	log      *slog.Logger
}

func NewSweeper(registry *Registry, interval, maxAge time.Duration, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{registry: registry, interval: interval, maxAge: maxAge, log: log}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("presence sweeper started", "interval", s.interval.String(), "max_age", s.maxAge.String())

	for {
		select {
		case <-ctx.Done():
			s.log.Info("presence sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.registry.SweepOffline(ctx, s.maxAge)
	if err != nil {
		s.log.Error("presence sweep failed", "err", err)
		return
	}
	if n > 0 {
		s.log.Info("presence sweep", "demoted", n)
	}
}
