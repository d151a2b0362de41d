package owner

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Kind names the type of billable owner.
type Kind string

const (
	KindTenant Kind = "tenant"
	KindClub   Kind = "club"
)

func (k Kind) Valid() bool {
	return k == KindTenant || k == KindClub
}

// ParseKind accepts the kind names used in provider metadata.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
	return k, nil
}

// Billable is implemented by every entity that can carry a plan, a
// subscription and usage quotas. Billing code depends only on this interface
// and never switches on the concrete owner type.
type Billable interface {
	OwnerID() uuid.UUID
	OwnerKind() Kind
	// TenantScope is the tenant whose catalog the owner's plans must come
	// from. A tenant is its own scope.
	TenantScope() uuid.UUID
	ExternalCustomerID() string
	BillingEmail() string
	// AssignedPlan returns what the owner record points at: a plan id for
	// clubs, a platform tier for tenants. Empty values mean nothing is set.
	AssignedPlan() (planID string, tier Tier)
}

// Ref identifies an owner without loading it.
type Ref struct {
	ID   uuid.UUID `json:"id"`
	Kind Kind      `json:"kind"`
}

func RefOf(b Billable) Ref {
	return Ref{ID: b.OwnerID(), Kind: b.OwnerKind()}
}

func (r Ref) IsZero() bool {
	return r.ID == uuid.Nil
}

func (r Ref) String() string {
	return string(r.Kind) + ":" + r.ID.String()
}
