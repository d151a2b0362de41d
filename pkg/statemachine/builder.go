package statemachine

import "fmt"

// Builder assembles a Table with a fluent API:
//
//	table, err := statemachine.NewBuilder[Status, Event, *Subscription]().
//		From(Active, Trialing).When(Cancel).To(Canceled).Add().
//		From(PastDue).When(PaymentSucceeded).To(Active).Add().
//		Build()
type Builder[S, E ~string, D any] struct {
	transitions []Transition[S, E, D]
	from        []S
	event       E
	to          S
	hasTo       bool
	guards      []Guard[S, E, D]
	actions     []Action[S, E, D]
	err         error
}

func NewBuilder[S, E ~string, D any]() *Builder[S, E, D] {
	return &Builder[S, E, D]{}
}

// From starts a transition. Several source states share the same event,
// target, guards and actions.
func (b *Builder[S, E, D]) From(states ...S) *Builder[S, E, D] {
	b.reset()
	b.from = states
	return b
}

func (b *Builder[S, E, D]) When(event E) *Builder[S, E, D] {
	b.event = event
	return b
}

func (b *Builder[S, E, D]) To(state S) *Builder[S, E, D] {
	b.to = state
	b.hasTo = true
	return b
}

func (b *Builder[S, E, D]) WithGuard(g Guard[S, E, D]) *Builder[S, E, D] {
	if g != nil {
		b.guards = append(b.guards, g)
	}
	return b
}

func (b *Builder[S, E, D]) WithAction(a Action[S, E, D]) *Builder[S, E, D] {
	if a != nil {
		b.actions = append(b.actions, a)
	}
	return b
}

// Add finalizes the current transition. The first invalid transition is
// reported by Build.
func (b *Builder[S, E, D]) Add() *Builder[S, E, D] {
	if b.err == nil {
		switch {
		case len(b.from) == 0, b.event == "", !b.hasTo:
			b.err = fmt.Errorf("%w: transition #%d", ErrInvalidTransition, len(b.transitions))
		default:
			for _, from := range b.from {
				b.transitions = append(b.transitions, Transition[S, E, D]{
					From:    from,
					Event:   b.event,
					To:      b.to,
					Guards:  append([]Guard[S, E, D](nil), b.guards...),
					Actions: append([]Action[S, E, D](nil), b.actions...),
				})
			}
		}
	}
	b.reset()
	return b
}

// Build returns the table. Transitions sharing a source state and event are
// tried in the order they were added.
func (b *Builder[S, E, D]) Build() (*Table[S, E, D], error) {
	if b.err != nil {
		return nil, b.err
	}
	t := &Table[S, E, D]{transitions: make(map[S]map[E][]Transition[S, E, D])}
	for _, tr := range b.transitions {
		if t.transitions[tr.From] == nil {
			t.transitions[tr.From] = make(map[E][]Transition[S, E, D])
		}
		t.transitions[tr.From][tr.Event] = append(t.transitions[tr.From][tr.Event], tr)
	}
	return t, nil
}

// MustBuild is Build for package-level tables; it panics on a malformed table.
func (b *Builder[S, E, D]) MustBuild() *Table[S, E, D] {
	t, err := b.Build()
	if err != nil {
		panic(fmt.Sprintf("statemachine: %v", err))
	}
	return t
}

func (b *Builder[S, E, D]) reset() {
	b.from = nil
	var zeroE E
	var zeroS S
	b.event = zeroE
	b.to = zeroS
	b.hasTo = false
	b.guards = nil
	b.actions = nil
}
