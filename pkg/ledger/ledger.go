package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/clubbilling/pkg/logger"
	"github.com/dmitrymomot/clubbilling/pkg/owner"
	"github.com/dmitrymomot/clubbilling/pkg/plan"
	"github.com/dmitrymomot/clubbilling/pkg/statemachine"
)

// PlanLookup finds plans by id. *plan.Catalog implements it.
type PlanLookup interface {
	Get(id string) (plan.Plan, error)
}

// Provider mirrors user-initiated changes to the external billing provider.
// Each call runs under the owner's lock before the local change is stored;
// an error aborts the local change.
type Provider interface {
	CancelSubscription(ctx context.Context, sub Subscription, immediate bool) error
	SwapSubscriptionPlan(ctx context.Context, sub Subscription, target plan.Plan, proration Proration) error
	// ResumeSubscription returns the provider subscription id to store, which
	// differs from sub's when the provider had to start a new subscription.
	ResumeSubscription(ctx context.Context, sub Subscription, p plan.Plan) (string, error)
}

// DowngradeGuard vetoes swaps to plans the owner's current usage does not
// fit. *usage.Tracker implements it.
type DowngradeGuard interface {
	CanDowngrade(ctx context.Context, b owner.Billable, target plan.Plan) error
}

// Ledger applies subscription changes for tenants and clubs.
type Ledger struct {
	store      Store
	plans      PlanLookup
	table      *statemachine.Table[Status, Event, *change]
	provider   Provider
	planWriter owner.PlanWriter
	guard      DowngradeGuard
	grace      time.Duration
	proration  Proration
	now        func() time.Time
	logger     *slog.Logger
}

type Option func(*Ledger)

func WithLogger(l *slog.Logger) Option {
	return func(led *Ledger) { led.logger = logger.OrDiscard(l) }
}

func WithClock(now func() time.Time) Option {
	return func(led *Ledger) {
		if now != nil {
			led.now = now
		}
	}
}

// WithProvider pushes Cancel, SwapPlan and Resume to the billing provider.
func WithProvider(p Provider) Option {
	return func(led *Ledger) { led.provider = p }
}

// WithPlanWriter records plan changes on the owner so plan resolution
// follows the ledger.
func WithPlanWriter(w owner.PlanWriter) Option {
	return func(led *Ledger) { led.planWriter = w }
}

// WithDowngradeGuard checks usage against the target plan before SwapPlan.
func WithDowngradeGuard(g DowngradeGuard) Option {
	return func(led *Ledger) { led.guard = g }
}

func WithConfig(cfg Config) Option {
	return func(led *Ledger) {
		if cfg.GracePeriod > 0 {
			led.grace = cfg.GracePeriod
		}
		if cfg.DefaultProration.Valid() {
			led.proration = cfg.DefaultProration
		}
	}
}

func New(store Store, plans PlanLookup, opts ...Option) *Ledger {
	l := &Ledger{
		store:     store,
		plans:     plans,
		table:     newTable(),
		grace:     72 * time.Hour,
		proration: ProrationCreate,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Get returns the owner's subscription or ErrSubscriptionNotFound.
func (l *Ledger) Get(ctx context.Context, ref owner.Ref) (*Subscription, error) {
	return l.store.Get(ctx, ref)
}

// HasAccess reports whether the owner currently has paid access.
func (l *Ledger) HasAccess(ctx context.Context, ref owner.Ref) (bool, error) {
	sub, err := l.store.Get(ctx, ref)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return HasAccess(sub, l.now()), nil
}

// transition is the single place a subscription changes status. It returns
// the moved copy; cur is left untouched.
func (l *Ledger) transition(ctx context.Context, cur Subscription, ev Event, data EventData, now time.Time) (Subscription, error) {
	next := cur
	c := &change{sub: &next, now: now, grace: l.grace, data: data}
	to, err := l.table.Fire(ctx, cur.Status, ev, c)
	if err != nil {
		return cur, l.transitionError(cur, ev, err)
	}
	next.Status = to
	data.merge(cur.Status, &next)
	if next.Status != StatusNone {
		next.UpdatedAt = now
	}
	return next, nil
}

// check verifies a move is legal without applying it.
func (l *Ledger) check(ctx context.Context, cur Subscription, ev Event, data EventData, now time.Time) error {
	next := cur
	c := &change{sub: &next, now: now, grace: l.grace, data: data}
	if _, err := l.table.Resolve(ctx, cur.Status, ev, c); err != nil {
		return l.transitionError(cur, ev, err)
	}
	return nil
}

func (l *Ledger) transitionError(cur Subscription, ev Event, err error) error {
	switch {
	case ev == EventResumed && cur.Status == StatusCanceled:
		return ErrGracePeriodExpired
	case ev == EventTrialStarted && statemachine.IsTransitionRejectedError(err):
		return fmt.Errorf("%w: trial already used", ErrIllegalTransition)
	}
	status := string(cur.Status)
	if status == "" {
		status = "none"
	}
	return fmt.Errorf("%w: %s on %s: %v", ErrIllegalTransition, ev, status, err)
}

func blank(ref owner.Ref, tenantScope uuid.UUID, now time.Time) Subscription {
	return Subscription{Owner: ref, TenantID: tenantScope, CreatedAt: now}
}

func (l *Ledger) recordPlan(ctx context.Context, b owner.Billable, p plan.Plan) {
	if l.planWriter == nil {
		return
	}
	planID, tier := p.ID, owner.Tier("")
	if b.OwnerKind() == owner.KindTenant {
		planID, tier = "", p.Tier
	}
	if err := l.planWriter.SetPlan(ctx, owner.RefOf(b), planID, tier); err != nil {
		// The subscription is already committed; plan resolution lags until
		// the next change or a manual fix.
		l.logger.ErrorContext(ctx, "failed to record plan on owner",
			logger.OwnerID(b.OwnerID()),
			logger.OwnerKind(string(b.OwnerKind())),
			logger.PlanID(p.ID),
			logger.Error(err))
	}
}

func (l *Ledger) logMove(ctx context.Context, from, to Subscription, ev Event) {
	l.logger.InfoContext(ctx, "subscription transition",
		logger.OwnerID(to.Owner.ID),
		logger.OwnerKind(string(to.Owner.Kind)),
		logger.PlanID(to.PlanID),
		slog.String("event", string(ev)),
		slog.String("from", string(from.Status)),
		logger.Status(string(to.Status)))
}
