package owner

import (
	"time"

	"github.com/google/uuid"
)

// Club belongs to exactly one tenant and is billed separately from it, on a
// plan taken from that tenant's club catalog.
type Club struct {
	ID                   uuid.UUID
	TenantID             uuid.UUID
	Name                 string
	Email                string
	PlanID               string
	StripeCustomerID     string
	StripeSubscriptionID string
	CreatedAt            time.Time
}

func (c *Club) OwnerID() uuid.UUID         { return c.ID }
func (c *Club) OwnerKind() Kind            { return KindClub }
func (c *Club) TenantScope() uuid.UUID     { return c.TenantID }
func (c *Club) ExternalCustomerID() string { return c.StripeCustomerID }
func (c *Club) BillingEmail() string       { return c.Email }

func (c *Club) AssignedPlan() (string, Tier) { return c.PlanID, "" }
