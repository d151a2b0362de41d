package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrymomot/clubbilling/pkg/owner"
)

// UpdateFunc receives the owner's current subscription, nil when there is
// none, and returns the subscription to store. Returning nil stores nothing.
type UpdateFunc func(ctx context.Context, current *Subscription) (*Subscription, error)

// Store persists subscriptions.
type Store interface {
	// Get returns ErrSubscriptionNotFound when the owner has none.
	Get(ctx context.Context, ref owner.Ref) (*Subscription, error)
	// Update runs fn while holding an exclusive per-owner lock and saves its
	// result with Version incremented.
	Update(ctx context.Context, ref owner.Ref, fn UpdateFunc) error
	// Due lists owners Sweep must look at: active subscriptions scheduled to
	// cancel with a period end at or before now, trials scheduled to cancel
	// with a trial end at or before now, and past-due subscriptions that
	// became past due at or before pastDueBefore.
	Due(ctx context.Context, now, pastDueBefore time.Time) ([]owner.Ref, error)
}

// MemoryStore is a Store for tests and single-process use.
type MemoryStore struct {
	mu    sync.Mutex
	locks map[owner.Ref]*sync.Mutex
	subs  map[owner.Ref]Subscription
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks: make(map[owner.Ref]*sync.Mutex),
		subs:  make(map[owner.Ref]Subscription),
	}
}

func (s *MemoryStore) ownerLock(ref owner.Ref) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[ref]
	if !ok {
		l = &sync.Mutex{}
		s.locks[ref] = l
	}
	return l
}

func (s *MemoryStore) Get(_ context.Context, ref owner.Ref) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[ref]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return &sub, nil
}

func (s *MemoryStore) Update(ctx context.Context, ref owner.Ref, fn UpdateFunc) error {
	l := s.ownerLock(ref)
	l.Lock()
	defer l.Unlock()

	current, err := s.Get(ctx, ref)
	if err != nil {
		current = nil
	}

	next, err := fn(ctx, current)
	if err != nil || next == nil {
		return err
	}

	next.Version = 1
	if current != nil {
		next.Version = current.Version + 1
	}
	s.mu.Lock()
	s.subs[ref] = *next
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Due(_ context.Context, now, pastDueBefore time.Time) ([]owner.Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []owner.Ref
	for ref, sub := range s.subs {
		switch {
		case sub.Status == StatusActive && sub.CancelAtPeriodEnd &&
			sub.CurrentPeriodEnd != nil && !sub.CurrentPeriodEnd.After(now):
			out = append(out, ref)
		case sub.Status == StatusTrialing && sub.CancelAtPeriodEnd &&
			sub.TrialEndsAt != nil && !sub.TrialEndsAt.After(now):
			out = append(out, ref)
		case sub.Status == StatusPastDue && sub.PastDueSince != nil &&
			!sub.PastDueSince.After(pastDueBefore):
			out = append(out, ref)
		}
	}
	return out, nil
}
