package owner

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Tier is the platform subscription tier of a tenant.
type Tier string

const (
	TierFree         Tier = "free"
	TierBasic        Tier = "basic"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
)

func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierBasic, TierProfessional, TierEnterprise:
		return true
	}
	return false
}

// ConnectStatus is the state of a tenant's connected payout account.
type ConnectStatus string

const (
	ConnectNone       ConnectStatus = "none"
	ConnectPending    ConnectStatus = "pending"
	ConnectActive     ConnectStatus = "active"
	ConnectRestricted ConnectStatus = "restricted"
)

// ConnectStatusFor derives the status from the provider's account flags.
// An account is active only when it can both charge and receive payouts.
func ConnectStatusFor(chargesEnabled, payoutsEnabled, detailsSubmitted bool) ConnectStatus {
	switch {
	case chargesEnabled && payoutsEnabled:
		return ConnectActive
	case detailsSubmitted:
		return ConnectRestricted
	default:
		return ConnectPending
	}
}

// Tenant is the top-level billing entity: a club organisation subscribed to
// the platform.
type Tenant struct {
	ID                    uuid.UUID
	Name                  string
	Email                 string
	SubscriptionTier      Tier
	TrialEndsAt           *time.Time
	StripeCustomerID      string
	ConnectAccountID      string
	ConnectStatus         ConnectStatus
	ApplicationFeePercent decimal.Decimal
	ApplicationFeeFixed   int64
	IsSuspended           bool
	CreatedAt             time.Time
}

func (t *Tenant) OwnerID() uuid.UUID         { return t.ID }
func (t *Tenant) OwnerKind() Kind            { return KindTenant }
func (t *Tenant) TenantScope() uuid.UUID     { return t.ID }
func (t *Tenant) ExternalCustomerID() string { return t.StripeCustomerID }
func (t *Tenant) BillingEmail() string       { return t.Email }

func (t *Tenant) AssignedPlan() (string, Tier) { return "", t.SubscriptionTier }

// ApplicationFee returns the platform fee configuration applied to payments
// routed to this tenant's connected account.
func (t *Tenant) ApplicationFee() (percent decimal.Decimal, fixed int64) {
	return t.ApplicationFeePercent, t.ApplicationFeeFixed
}

// ConnectedAccount returns the connected account id and whether it may
// currently receive application-fee charges.
func (t *Tenant) ConnectedAccount() (string, bool) {
	return t.ConnectAccountID, t.ConnectAccountID != "" && t.ConnectStatus == ConnectActive
}

// SetConnectFlags updates ConnectStatus from the provider's account flags.
func (t *Tenant) SetConnectFlags(chargesEnabled, payoutsEnabled, detailsSubmitted bool) {
	if t.ConnectAccountID == "" {
		t.ConnectStatus = ConnectNone
		return
	}
	t.ConnectStatus = ConnectStatusFor(chargesEnabled, payoutsEnabled, detailsSubmitted)
}

// OnTrial reports whether the tenant's platform trial is still running.
func (t *Tenant) OnTrial(now time.Time) bool {
	return t.TrialEndsAt != nil && now.Before(*t.TrialEndsAt)
}
