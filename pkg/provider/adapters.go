package provider

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/clubbilling/pkg/fees"
	"github.com/dmitrymomot/clubbilling/pkg/ledger"
	"github.com/dmitrymomot/clubbilling/pkg/logger"
	"github.com/dmitrymomot/clubbilling/pkg/owner"
	"github.com/dmitrymomot/clubbilling/pkg/plan"
	"github.com/dmitrymomot/clubbilling/pkg/reconciler"
)

// PriceFetcher lets plan.Catalog.Sync read prices through a Provider.
type PriceFetcher struct {
	provider Provider
	bc       BillingContext
}

func NewPriceFetcher(p Provider, bc BillingContext) *PriceFetcher {
	return &PriceFetcher{provider: p, bc: bc}
}

func (f *PriceFetcher) FetchPrice(ctx context.Context, priceID string) (plan.PriceInfo, error) {
	return f.provider.RetrievePrice(ctx, f.bc, priceID)
}

// SplitFor builds the destination split for a club payment of gross minor
// units made to t's connected account.
func SplitFor(t fees.ConnectedTenant, gross int64) (*Split, error) {
	cs, err := fees.ApplicationFeeParams(t, gross)
	if err != nil {
		return nil, err
	}
	return &Split{Destination: cs.DestinationAccount, ApplicationFeePercent: cs.FeePercent(gross)}, nil
}

// CheckoutFor prepares a checkout for b on p. The metadata lets the
// reconciler resolve the owner and plan when the session completes. Clubs
// need split set to route the payment to their tenant.
func CheckoutFor(b owner.Billable, p plan.Plan, split *Split) CheckoutParams {
	md := map[string]string{
		reconciler.MetaOwnerID:   b.OwnerID().String(),
		reconciler.MetaOwnerType: string(b.OwnerKind()),
		reconciler.MetaTenantID:  b.TenantScope().String(),
		reconciler.MetaPlanID:    p.ID,
	}
	if b.OwnerKind() == owner.KindClub {
		md[reconciler.MetaClubID] = b.OwnerID().String()
	}
	return CheckoutParams{
		CustomerID: b.ExternalCustomerID(),
		Email:      b.BillingEmail(),
		PriceID:    p.PriceID,
		TrialDays:  p.TrialDays,
		Split:      split,
		Metadata:   md,
	}
}

// LedgerHooks mirrors ledger changes onto provider subscriptions. It
// implements ledger.Provider.
type LedgerHooks struct {
	provider Provider
	bc       BillingContext
	owners   owner.Repository
	logger   *slog.Logger
}

func NewLedgerHooks(p Provider, bc BillingContext, owners owner.Repository, l *slog.Logger) *LedgerHooks {
	return &LedgerHooks{provider: p, bc: bc, owners: owners, logger: logger.OrDiscard(l)}
}

// key derives an idempotency key from the subscription version so a
// repeated ledger call reuses it.
func (h *LedgerHooks) key(op string, sub ledger.Subscription) BillingContext {
	return h.bc.WithIdempotencyKey(fmt.Sprintf("%s:%s:%d", op, sub.Owner.ID, sub.Version))
}

func (h *LedgerHooks) CancelSubscription(ctx context.Context, sub ledger.Subscription, immediate bool) error {
	bc := h.key("cancel", sub)
	if immediate {
		return h.provider.CancelSubscription(ctx, bc, sub.ProviderSubscriptionID)
	}
	_, err := h.provider.UpdateSubscription(ctx, bc, sub.ProviderSubscriptionID,
		SubscriptionUpdate{CancelAtPeriodEnd: boolPtr(true)})
	return err
}

func (h *LedgerHooks) SwapSubscriptionPlan(ctx context.Context, sub ledger.Subscription, target plan.Plan, proration ledger.Proration) error {
	if target.IsFree() {
		// Free plans have no provider price; billing stops now.
		return h.provider.CancelSubscription(ctx, h.key("swap", sub), sub.ProviderSubscriptionID)
	}
	if target.PriceID == "" {
		return fmt.Errorf("%w: plan %s", ErrNoPrice, target.ID)
	}
	u := SubscriptionUpdate{PriceID: target.PriceID, Proration: proration}
	split, err := h.split(ctx, sub, target)
	if err != nil {
		return err
	}
	if split != nil {
		u.ApplicationFeePercent = &split.ApplicationFeePercent
	}
	_, err = h.provider.UpdateSubscription(ctx, h.key("swap", sub), sub.ProviderSubscriptionID, u)
	return err
}

// ResumeSubscription withdraws a scheduled cancel. A subscription the
// provider already ended is replaced by a new one that starts billing when
// the paid period runs out.
func (h *LedgerHooks) ResumeSubscription(ctx context.Context, sub ledger.Subscription, p plan.Plan) (string, error) {
	bc := h.key("resume", sub)
	if sub.Status != ledger.StatusCanceled {
		_, err := h.provider.UpdateSubscription(ctx, bc, sub.ProviderSubscriptionID,
			SubscriptionUpdate{CancelAtPeriodEnd: boolPtr(false)})
		return sub.ProviderSubscriptionID, err
	}

	split, err := h.split(ctx, sub, p)
	if err != nil {
		return "", err
	}
	info, err := h.provider.CreateSubscription(ctx, bc, SubscriptionParams{
		CustomerID: sub.ProviderCustomerID,
		PriceID:    p.PriceID,
		TrialEnd:   sub.CurrentPeriodEnd,
		Split:      split,
		Metadata: map[string]string{
			reconciler.MetaOwnerID:   sub.Owner.ID.String(),
			reconciler.MetaOwnerType: string(sub.Owner.Kind),
			reconciler.MetaTenantID:  sub.TenantID.String(),
			reconciler.MetaPlanID:    p.ID,
		},
	})
	if err != nil {
		return "", err
	}
	h.logger.InfoContext(ctx, "replaced ended provider subscription",
		logger.OwnerID(sub.Owner.ID),
		logger.ExternalRef(info.ID),
		slog.String("previous", sub.ProviderSubscriptionID))
	return info.ID, nil
}

// split returns nil for tenant subscriptions, which are paid to the
// platform.
func (h *LedgerHooks) split(ctx context.Context, sub ledger.Subscription, p plan.Plan) (*Split, error) {
	if sub.Owner.Kind != owner.KindClub {
		return nil, nil
	}
	t, err := h.owners.Tenant(ctx, sub.TenantID)
	if err != nil {
		return nil, fmt.Errorf("load tenant %s: %w", sub.TenantID, err)
	}
	return SplitFor(t, p.Price.Amount)
}

// RefreshConnectStatus reads the tenant's connected account and updates its
// ConnectStatus. It reports whether the status changed; persisting the
// tenant is up to the caller.
func RefreshConnectStatus(ctx context.Context, p Provider, bc BillingContext, t *owner.Tenant) (bool, error) {
	if t.ConnectAccountID == "" {
		changed := t.ConnectStatus != owner.ConnectNone
		t.ConnectStatus = owner.ConnectNone
		return changed, nil
	}
	st, err := p.RetrieveAccountStatus(ctx, bc, t.ConnectAccountID)
	if err != nil {
		return false, err
	}
	before := t.ConnectStatus
	t.SetConnectFlags(st.ChargesEnabled, st.PayoutsEnabled, st.DetailsSubmitted)
	return before != t.ConnectStatus, nil
}

func boolPtr(b bool) *bool { return &b }

var (
	_ ledger.Provider   = (*LedgerHooks)(nil)
	_ plan.PriceFetcher = (*PriceFetcher)(nil)
	_ Provider          = (*Stripe)(nil)
)
