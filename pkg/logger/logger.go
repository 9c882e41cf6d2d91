package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// New returns the service logger writing JSON to stdout.
func New(appEnv, level string) *slog.Logger {
	return NewWithWriter(os.Stdout, appEnv, level)
}

// NewWithWriter is New with an explicit destination. level is one of
// debug, info, warn, error; empty picks debug for local and dev, info
// elsewhere.
func NewWithWriter(w io.Writer, appEnv, level string) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(appEnv, level)})
	return slog.New(h).With("service", "contact-center", "env", appEnv)
}

// ParseLevel resolves the handler level. Unknown names fall back to the
// environment default.
func ParseLevel(appEnv, level string) slog.Level {
	var l slog.Level
	if level != "" && l.UnmarshalText([]byte(level)) == nil {
		return l
	}
	if appEnv == "local" || appEnv == "dev" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

type ctxKey struct{}

// With stores a logger in context.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From returns the request-scoped logger or slog.Default().
func From(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}
