package provider

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/clubbilling/pkg/ledger"
	"github.com/dmitrymomot/clubbilling/pkg/owner"
	"github.com/dmitrymomot/clubbilling/pkg/plan"
)

// BillingContext carries the credentials and routing for one provider call.
type BillingContext struct {
	APIKey string
	// ConnectAccountID routes the call to a connected account when set.
	ConnectAccountID string
	IdempotencyKey   string
}

// WithIdempotencyKey returns a copy of bc carrying key.
func (bc BillingContext) WithIdempotencyKey(key string) BillingContext {
	bc.IdempotencyKey = key
	return bc
}

type CustomerParams struct {
	Email    string
	Name     string
	Metadata map[string]string
}

// Split routes a subscription's payments to a connected account and keeps
// the platform's share.
type Split struct {
	Destination           string
	ApplicationFeePercent decimal.Decimal
}

type SubscriptionParams struct {
	CustomerID string
	PriceID    string
	TrialEnd   *time.Time
	Split      *Split
	Metadata   map[string]string
}

// SubscriptionUpdate changes an existing subscription. Nil fields are left
// alone.
type SubscriptionUpdate struct {
	PriceID           string
	Proration         ledger.Proration
	CancelAtPeriodEnd *bool
	// ApplicationFeePercent replaces the platform share on split
	// subscriptions.
	ApplicationFeePercent *decimal.Decimal
}

// SubscriptionInfo is the provider's view of a subscription.
type SubscriptionInfo struct {
	ID                string
	CustomerID        string
	Status            ledger.Status
	PriceID           string
	CurrentPeriodEnd  *time.Time
	CancelAtPeriodEnd bool
	TrialEnd          *time.Time
}

type CheckoutParams struct {
	CustomerID string
	Email      string
	PriceID    string
	TrialDays  int
	SuccessURL string
	CancelURL  string
	Split      *Split
	Metadata   map[string]string
}

type CheckoutSession struct {
	ID  string
	URL string
}

// AccountStatus holds the capability flags of a connected account.
type AccountStatus struct {
	ID               string
	ChargesEnabled   bool
	PayoutsEnabled   bool
	DetailsSubmitted bool
}

func (a AccountStatus) Status() owner.ConnectStatus {
	return owner.ConnectStatusFor(a.ChargesEnabled, a.PayoutsEnabled, a.DetailsSubmitted)
}

// Provider is the external billing provider. Every error it returns matches
// ErrExternalProvider.
type Provider interface {
	CreateCustomer(ctx context.Context, bc BillingContext, p CustomerParams) (string, error)
	CreateSubscription(ctx context.Context, bc BillingContext, p SubscriptionParams) (SubscriptionInfo, error)
	UpdateSubscription(ctx context.Context, bc BillingContext, id string, u SubscriptionUpdate) (SubscriptionInfo, error)
	CancelSubscription(ctx context.Context, bc BillingContext, id string) error
	CreateCheckoutSession(ctx context.Context, bc BillingContext, p CheckoutParams) (CheckoutSession, error)
	RetrievePrice(ctx context.Context, bc BillingContext, id string) (plan.PriceInfo, error)
	RetrieveAccountStatus(ctx context.Context, bc BillingContext, accountID string) (AccountStatus, error)
}
