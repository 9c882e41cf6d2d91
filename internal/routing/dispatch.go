package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Dispatcher delivers a routing result to the chosen agent's workstation.
// Delivery is best-effort; a failure never undoes the assignment.
type Dispatcher interface {
	Dispatch(ctx context.Context, res Result) error
}

// LogDispatcher only logs the assignment.
type LogDispatcher struct {
	Log *slog.Logger
}

func (d LogDispatcher) Dispatch(ctx context.Context, res Result) error {
	l := d.Log
	if l == nil {
		l = slog.Default()
	}
	l.Info("screen-pop", "call_id", res.CallID, "agent_id", res.AgentID, "method", res.Method)
	return nil
}

// RedisDispatcher publishes the screen-pop on acd:screenpop:<agentID>, where
// workstation gateways subscribe.
type RedisDispatcher struct {
	Client *redis.Client
}

func ScreenPopChannel(agentID string) string {
	return "acd:screenpop:" + agentID
}

func (d RedisDispatcher) Dispatch(ctx context.Context, res Result) error {
	if d.Client == nil {
		return fmt.Errorf("routing: redis client is nil")
	}
	if res.ScreenPop == nil {
		return nil
	}
	payload, err := json.Marshal(res.ScreenPop)
	if err != nil {
		return err
	}
	return d.Client.Publish(ctx, ScreenPopChannel(res.AgentID), payload).Err()
}

// MultiDispatcher fans a result out to several dispatchers and returns the
// first error.
type MultiDispatcher []Dispatcher

func (m MultiDispatcher) Dispatch(ctx context.Context, res Result) error {
	var first error
	for _, d := range m {
		if err := d.Dispatch(ctx, res); err != nil && first == nil {
			first = err
		}
	}
	return first
}
