package ledger

import (
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/clubbilling/pkg/owner"
)

// Status is the lifecycle state of a subscription. StatusNone means the
// owner has never had one.
type Status string

const (
	StatusNone       Status = ""
	StatusTrialing   Status = "trialing"
	StatusActive     Status = "active"
	StatusPastDue    Status = "past_due"
	StatusCanceled   Status = "canceled"
	StatusIncomplete Status = "incomplete"
)

func (s Status) Valid() bool {
	switch s {
	case StatusTrialing, StatusActive, StatusPastDue, StatusCanceled, StatusIncomplete:
		return true
	}
	return false
}

// Event triggers a transition.
type Event string

const (
	EventTrialStarted      Event = "trial_started"
	EventCheckoutCompleted Event = "checkout_completed"
	EventAwaitingPayment   Event = "awaiting_payment"
	EventPaymentFailed     Event = "payment_failed"
	EventPaymentSucceeded  Event = "payment_succeeded"
	EventGraceExpired      Event = "grace_expired"
	EventCanceled          Event = "canceled"
	EventCancelScheduled   Event = "cancel_scheduled"
	EventPeriodEnded       Event = "period_ended"
	EventResumed           Event = "resumed"
	EventPlanSwapped       Event = "plan_swapped"
	// EventSynced mirrors the provider's view of the subscription status,
	// carried in EventData.Status.
	EventSynced Event = "synced"
)

// Proration controls how the provider bills a mid-period plan swap.
type Proration string

const (
	ProrationCreate        Proration = "create_prorations"
	ProrationNone          Proration = "none"
	ProrationAlwaysInvoice Proration = "always_invoice"
)

func (p Proration) Valid() bool {
	switch p {
	case ProrationCreate, ProrationNone, ProrationAlwaysInvoice:
		return true
	}
	return false
}

// Subscription is the ledger row for one owner.
type Subscription struct {
	Owner                  owner.Ref
	TenantID               uuid.UUID
	PlanID                 string
	Status                 Status
	ProviderCustomerID     string
	ProviderSubscriptionID string
	CurrentPeriodEnd       *time.Time
	CancelAtPeriodEnd      bool
	TrialEndsAt            *time.Time
	HadTrial               bool
	PastDueSince           *time.Time
	CanceledAt             *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
	Version                int64
}

// HasAccess reports whether sub grants access to paid features at now.
// A nil subscription grants nothing.
func HasAccess(sub *Subscription, now time.Time) bool {
	if sub == nil {
		return false
	}
	switch sub.Status {
	case StatusTrialing:
		return sub.TrialEndsAt == nil || now.Before(*sub.TrialEndsAt)
	case StatusActive:
		if sub.CancelAtPeriodEnd && sub.CurrentPeriodEnd != nil {
			return now.Before(*sub.CurrentPeriodEnd)
		}
		return true
	case StatusPastDue:
		// Access continues until Sweep cancels after the grace window.
		return true
	}
	return false
}

// EventData carries provider facts merged into the subscription on Apply.
// Nil and empty fields leave the stored value untouched.
type EventData struct {
	PlanID                 string
	Status                 Status // target status for EventSynced
	ProviderCustomerID     string
	ProviderSubscriptionID string
	CurrentPeriodEnd       *time.Time
	CancelAtPeriodEnd      *bool
	TrialEndsAt            *time.Time
}

// merge writes d onto sub after a move from status from. Once a
// subscription is canceled, later events cannot extend its period past the
// cancellation.
func (d EventData) merge(from Status, sub *Subscription) {
	if d.PlanID != "" {
		sub.PlanID = d.PlanID
	}
	if d.ProviderCustomerID != "" {
		sub.ProviderCustomerID = d.ProviderCustomerID
	}
	if d.ProviderSubscriptionID != "" {
		sub.ProviderSubscriptionID = d.ProviderSubscriptionID
	}
	if d.CurrentPeriodEnd != nil {
		end := d.CurrentPeriodEnd
		if from == StatusCanceled && sub.Status == StatusCanceled &&
			sub.CanceledAt != nil && end.After(*sub.CanceledAt) {
			end = sub.CanceledAt
		}
		sub.CurrentPeriodEnd = end
	}
	if d.CancelAtPeriodEnd != nil && sub.Status != StatusCanceled {
		sub.CancelAtPeriodEnd = *d.CancelAtPeriodEnd
	}
	if d.TrialEndsAt != nil {
		sub.TrialEndsAt = d.TrialEndsAt
	}
}

// AssignOptions controls how AssignPlan starts a subscription.
type AssignOptions struct {
	// PaymentMethodAttached activates the subscription right away.
	PaymentMethodAttached bool
	// StartTrial starts the plan's trial if the owner never had one.
	StartTrial bool
	// ProviderCustomerID and ProviderSubscriptionID link an existing
	// provider subscription, if one was created by the caller.
	ProviderCustomerID     string
	ProviderSubscriptionID string
}

// SweepReport summarizes one Sweep run.
type SweepReport struct {
	Checked  int
	Canceled int
	Errors   []error
}
