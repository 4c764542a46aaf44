// Package log carries a structured logger on the context so that attributes
// added for a poll cycle or an HTTP request follow every line logged below
// it.
package log

import (
	"context"
	"log/slog"
	"os"
)

// level backs the fallback logger and is adjusted once flags are parsed.
var level = func() *slog.LevelVar {
	var v slog.LevelVar
	v.Set(slog.LevelInfo)
	return &v
}()

var fallback = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
	AddSource: true,
	Level:     level,
}))

type ctxKey struct{}

// Ctx returns the logger stored by With, or the JSON stdout logger when the
// context has none.
func Ctx(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return fallback
}

// With stores logger on ctx.
func With(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// WithAttrs stores a child of the context's logger that adds attrs to every
// line, e.g. the poll cycle id.
func WithAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	return With(ctx, Ctx(ctx).With(args...))
}

// SetDefaultLogLevel sets the minimum level of the logger Ctx falls back to.
func SetDefaultLogLevel(l slog.Level) {
	level.Set(l)
}
