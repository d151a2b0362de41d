package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Handler processes jobs with a matching name.
type Handler interface {
	Name() string
	Handle(ctx context.Context, payload json.RawMessage) error
}

type HandlerFunc[T any] func(ctx context.Context, payload T) error

// NewHandler adapts a typed function. The job name is the payload's type
// name, matching what Enqueue derives for the same payload type.
func NewHandler[T any](fn HandlerFunc[T]) Handler {
	var zero T
	return &typedHandler[T]{name: jobName(zero), fn: fn}
}

type typedHandler[T any] struct {
	name string
	fn   HandlerFunc[T]
}

func (h *typedHandler[T]) Name() string { return h.name }

func (h *typedHandler[T]) Handle(ctx context.Context, payload json.RawMessage) error {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return fmt.Errorf("decode %s payload: %w", h.name, err)
	}
	return h.fn(ctx, v)
}

func jobName(v any) string {
	return strings.TrimLeft(fmt.Sprintf("%T", v), "*")
}
