package statemachine

import (
	"context"
	"fmt"
)

// Guard evaluates whether a transition may proceed for the given subject.
type Guard[S, E ~string, D any] func(ctx context.Context, from S, event E, data D) bool

// Action applies the side effects of a transition to the subject. Returning
// an error aborts the transition; actions that already ran are not undone, so
// callers keep them free of external effects or run them on a copy.
type Action[S, E ~string, D any] func(ctx context.Context, from, to S, event E, data D) error

// Transition defines a state change triggered by an event, with optional
// guards and actions.
type Transition[S, E ~string, D any] struct {
	From    S
	Event   E
	To      S
	Guards  []Guard[S, E, D]  // all must pass
	Actions []Action[S, E, D] // run in order
}

// Table is an immutable transition table. It holds no current state: the
// caller passes the subject's state on every call, which lets one Table serve
// every row of a store concurrently.
type Table[S, E ~string, D any] struct {
	transitions map[S]map[E][]Transition[S, E, D]
}

// Resolve returns the first transition from `from` on `event` whose guards
// all pass.
func (t *Table[S, E, D]) Resolve(ctx context.Context, from S, event E, data D) (Transition[S, E, D], error) {
	candidates := t.transitions[from][event]
	if len(candidates) == 0 {
		return Transition[S, E, D]{}, NewErrNoTransitionAvailable(string(from), string(event))
	}

	for _, tr := range candidates {
		if guardsPass(ctx, tr, from, event, data) {
			return tr, nil
		}
	}
	return Transition[S, E, D]{}, NewErrTransitionRejected(string(from), string(event))
}

// Fire resolves a transition, runs its actions against data and returns the
// target state. The caller persists the result.
func (t *Table[S, E, D]) Fire(ctx context.Context, from S, event E, data D) (S, error) {
	tr, err := t.Resolve(ctx, from, event, data)
	if err != nil {
		return from, err
	}
	for _, action := range tr.Actions {
		if err := action(ctx, from, tr.To, event, data); err != nil {
			return from, fmt.Errorf("action failed: %w", err)
		}
	}
	return tr.To, nil
}

// CanFire reports whether Resolve would succeed.
func (t *Table[S, E, D]) CanFire(ctx context.Context, from S, event E, data D) bool {
	_, err := t.Resolve(ctx, from, event, data)
	return err == nil
}

// Events lists events that have at least one transition out of `from`,
// ignoring guards.
func (t *Table[S, E, D]) Events(from S) []E {
	out := make([]E, 0, len(t.transitions[from]))
	for e := range t.transitions[from] {
		out = append(out, e)
	}
	return out
}

func guardsPass[S, E ~string, D any](ctx context.Context, tr Transition[S, E, D], from S, event E, data D) bool {
	for _, g := range tr.Guards {
		if !g(ctx, from, event, data) {
			return false
		}
	}
	return true
}
