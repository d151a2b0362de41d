package plan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/clubbilling/pkg/logger"
	"github.com/dmitrymomot/clubbilling/pkg/owner"
)

// Catalog holds validated plan definitions and resolves an owner's active plan.
type Catalog struct {
	mu     sync.RWMutex
	plans  map[string]Plan
	byTier map[owner.Tier]string
	logger *slog.Logger
	now    func() time.Time
}

type CatalogOption func(*Catalog)

func WithLogger(l *slog.Logger) CatalogOption {
	return func(c *Catalog) { c.logger = logger.OrDiscard(l) }
}

func WithClock(now func() time.Time) CatalogOption {
	return func(c *Catalog) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCatalog loads and validates plans from src. Every invalid plan is
// reported in the returned error.
func NewCatalog(ctx context.Context, src Source, opts ...CatalogOption) (*Catalog, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: source is nil", ErrLoadPlans)
	}
	plans, err := src.Load(ctx)
	if err != nil {
		return nil, errors.Join(ErrLoadPlans, err)
	}

	c := &Catalog{
		plans:  make(map[string]Plan, len(plans)),
		byTier: make(map[owner.Tier]string),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	var errs []error
	prices := make(map[string]string)
	for _, p := range plans {
		if err := validate(p); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := c.plans[p.ID]; dup {
			errs = append(errs, fmt.Errorf("%w: duplicate plan id %q", ErrInvalidPlan, p.ID))
			continue
		}
		if p.PriceID != "" {
			if other, dup := prices[p.PriceID]; dup {
				errs = append(errs, fmt.Errorf("%w: plans %q and %q share price %q", ErrInvalidPlan, other, p.ID, p.PriceID))
				continue
			}
			prices[p.PriceID] = p.ID
		}
		if p.Scope == ScopePlatform {
			if other, dup := c.byTier[p.Tier]; dup {
				errs = append(errs, fmt.Errorf("%w: plans %q and %q share tier %q", ErrInvalidPlan, other, p.ID, p.Tier))
				continue
			}
			c.byTier[p.Tier] = p.ID
		}
		if p.IsFree() {
			p.Synced = true
		}
		c.plans[p.ID] = p
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	c.logger.InfoContext(ctx, "plan catalog loaded", slog.Int("plans", len(c.plans)))
	return c, nil
}

func validate(p Plan) error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: plan %q: %s", ErrInvalidPlan, p.ID, fmt.Sprintf(format, args...))
	}

	switch {
	case p.ID == "":
		return fmt.Errorf("%w: empty plan id", ErrInvalidPlan)
	case p.TrialDays < 0:
		return fail("negative trial days")
	case p.Price.Amount < 0:
		return fail("negative price")
	case p.IsFree() && (p.ProductID != "" || p.PriceID != ""):
		return fail("free plan must not reference provider product or price")
	case !p.IsFree() && p.Interval != IntervalMonthly && p.Interval != IntervalYearly:
		return fail("paid plan needs a monthly or yearly interval, got %q", p.Interval)
	}

	switch p.Scope {
	case ScopePlatform:
		if p.TenantID != uuid.Nil {
			return fail("platform plan must not have a tenant")
		}
		if !p.Tier.Valid() {
			return fail("platform plan has invalid tier %q", p.Tier)
		}
	case ScopeClub:
		if p.TenantID == uuid.Nil {
			return fail("club plan needs a tenant")
		}
	default:
		return fail("unknown scope %q", p.Scope)
	}

	for metric, limit := range p.Limits {
		if limit < Unlimited {
			return fail("limit %s is %d, must be >= -1", metric, limit)
		}
	}
	return nil
}

// Get returns the plan with the given id.
func (c *Catalog) Get(id string) (Plan, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.plans[id]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrPlanNotFound, id)
	}
	return p, nil
}

// ByPriceID returns the paid plan billed through the provider price id.
func (c *Catalog) ByPriceID(priceID string) (Plan, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if priceID != "" {
		for _, p := range c.plans {
			if p.PriceID == priceID {
				return p, nil
			}
		}
	}
	return Plan{}, fmt.Errorf("%w: price %q", ErrPlanNotFound, priceID)
}

// ForTier returns the platform plan sold for a tenant tier.
func (c *Catalog) ForTier(tier owner.Tier) (Plan, error) {
	c.mu.RLock()
	id, ok := c.byTier[tier]
	c.mu.RUnlock()
	if !ok {
		return Plan{}, fmt.Errorf("%w: tier %q", ErrPlanNotFound, tier)
	}
	return c.Get(id)
}

// ForTenant lists the club plans defined by a tenant, ordered by price.
func (c *Catalog) ForTenant(tenantID uuid.UUID) []Plan {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Plan
	for _, p := range c.plans {
		if p.Scope == ScopeClub && p.TenantID == tenantID {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b Plan) int {
		if a.Price.Amount != b.Price.Amount {
			if a.Price.Amount < b.Price.Amount {
				return -1
			}
			return 1
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out
}

// ResolveActivePlan returns the plan an owner is on: the referenced plan for
// a club, the tier's platform plan for a tenant. A club pointing at another
// tenant's plan yields ErrTenantMismatch.
func (c *Catalog) ResolveActivePlan(ctx context.Context, b owner.Billable) (Plan, error) {
	planID, tier := b.AssignedPlan()

	var (
		p   Plan
		err error
	)
	switch {
	case planID != "":
		p, err = c.Get(planID)
	case tier != "":
		p, err = c.ForTier(tier)
	default:
		return Plan{}, ErrPlanNotAssigned
	}
	if errors.Is(err, ErrPlanNotFound) {
		// A dangling reference is as good as no assignment.
		return Plan{}, errors.Join(ErrPlanNotAssigned, err)
	}
	if err != nil {
		return Plan{}, err
	}

	if err := p.CheckScope(b); err != nil {
		c.logger.ErrorContext(ctx, "owner references a plan outside its scope",
			logger.OwnerID(b.OwnerID()),
			logger.OwnerKind(string(b.OwnerKind())),
			logger.TenantID(b.TenantScope()),
			logger.PlanID(p.ID),
			logger.Error(err))
		return Plan{}, err
	}
	return p, nil
}

// AvailableClubPlans lists the tenant's club plans that fit inside the
// tenant's own platform plan: no club plan may grant a feature or a limit
// the tenant itself does not have.
func (c *Catalog) AvailableClubPlans(ctx context.Context, tenant owner.Billable) ([]Plan, error) {
	tenantPlan, err := c.ResolveActivePlan(ctx, tenant)
	if err != nil {
		return nil, err
	}
	var out []Plan
	for _, p := range c.ForTenant(tenant.TenantScope()) {
		if ValidateAgainstTenant(p, tenantPlan) == nil {
			out = append(out, p)
		}
	}
	return out, nil
}

// ValidateAgainstTenant checks a club plan against the platform plan of its
// tenant and reports every feature or limit that exceeds it.
func ValidateAgainstTenant(clubPlan, tenantPlan Plan) error {
	var errs []error
	for _, f := range clubPlan.Features {
		if !tenantPlan.HasFeature(f) {
			errs = append(errs, fmt.Errorf("feature %q not available in tenant plan %q", f, tenantPlan.ID))
		}
	}
	for metric, limit := range clubPlan.Limits {
		tenantLimit, ok := tenantPlan.Limits[metric]
		if !ok || IsUnlimited(tenantLimit) {
			continue
		}
		if IsUnlimited(limit) || limit > tenantLimit {
			errs = append(errs, fmt.Errorf("limit %s (%d) exceeds tenant limit (%d)", metric, limit, tenantLimit))
		}
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidPlan}, errs...)...)
	}
	return nil
}
