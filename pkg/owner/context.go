package owner

import (
	"context"
	"log/slog"
)

type contextKey struct{}

// WithOwner stores the owner an operation acts on.
func WithOwner(ctx context.Context, b Billable) context.Context {
	return context.WithValue(ctx, contextKey{}, b)
}

func FromContext(ctx context.Context) (Billable, bool) {
	b, ok := ctx.Value(contextKey{}).(Billable)
	return b, ok && b != nil
}

// LoggerExtractor enriches log records with the owner reference.
func LoggerExtractor() func(ctx context.Context) (slog.Attr, bool) {
	return func(ctx context.Context) (slog.Attr, bool) {
		if b, ok := FromContext(ctx); ok {
			return slog.String("owner", RefOf(b).String()), true
		}
		return slog.Attr{}, false
	}
}
