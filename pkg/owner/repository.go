package owner

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Repository loads owners for billing code.
type Repository interface {
	Get(ctx context.Context, ref Ref) (Billable, error)
	// FindByCustomerID matches a provider customer id against tenants and
	// clubs. It returns ErrNotFound when neither matches.
	FindByCustomerID(ctx context.Context, customerID string) (Billable, error)
	Tenant(ctx context.Context, id uuid.UUID) (*Tenant, error)
}

// PlanWriter records the plan an owner is on. The ledger calls it after a
// plan change commits so plan resolution follows the subscription.
type PlanWriter interface {
	SetPlan(ctx context.Context, ref Ref, planID string, tier Tier) error
}

// MemoryRepository is a Repository backed by maps.
type MemoryRepository struct {
	mu      sync.RWMutex
	tenants map[uuid.UUID]Tenant
	clubs   map[uuid.UUID]Club
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		tenants: make(map[uuid.UUID]Tenant),
		clubs:   make(map[uuid.UUID]Club),
	}
}

func (r *MemoryRepository) PutTenant(t Tenant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants[t.ID] = t
}

func (r *MemoryRepository) PutClub(c Club) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clubs[c.ID] = c
}

func (r *MemoryRepository) Get(_ context.Context, ref Ref) (Billable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch ref.Kind {
	case KindTenant:
		if t, ok := r.tenants[ref.ID]; ok {
			return &t, nil
		}
	case KindClub:
		if c, ok := r.clubs[ref.ID]; ok {
			return &c, nil
		}
	default:
		return nil, ErrInvalidKind
	}
	return nil, ErrNotFound
}

func (r *MemoryRepository) FindByCustomerID(_ context.Context, customerID string) (Billable, error) {
	if customerID == "" {
		return nil, ErrNotFound
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.clubs {
		if c.StripeCustomerID == customerID {
			return &c, nil
		}
	}
	for _, t := range r.tenants {
		if t.StripeCustomerID == customerID {
			return &t, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepository) Tenant(_ context.Context, id uuid.UUID) (*Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (r *MemoryRepository) SetPlan(_ context.Context, ref Ref, planID string, tier Tier) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ref.Kind {
	case KindTenant:
		t, ok := r.tenants[ref.ID]
		if !ok {
			return ErrNotFound
		}
		t.SubscriptionTier = tier
		r.tenants[ref.ID] = t
	case KindClub:
		c, ok := r.clubs[ref.ID]
		if !ok {
			return ErrNotFound
		}
		c.PlanID = planID
		r.clubs[ref.ID] = c
	default:
		return ErrInvalidKind
	}
	return nil
}
