package reconciler

import (
	"encoding/json"
	"time"

	"github.com/dmitrymomot/clubbilling/pkg/ledger"
	"github.com/dmitrymomot/clubbilling/pkg/owner"
)

// Provider event types the reconciler understands. Any other type is
// recorded and acknowledged without a ledger change.
const (
	TypeCheckoutCompleted       = "checkout.session.completed"
	TypeSubscriptionCreated     = "customer.subscription.created"
	TypeSubscriptionUpdated     = "customer.subscription.updated"
	TypeSubscriptionDeleted     = "customer.subscription.deleted"
	TypeSubscriptionTrialEnding = "customer.subscription.trial_will_end"
	TypeInvoicePaid             = "invoice.paid"
	TypeInvoicePaymentSucceeded = "invoice.payment_succeeded"
	TypeInvoicePaymentFailed    = "invoice.payment_failed"
	TypeSetupIntentSucceeded    = "setup_intent.succeeded"
)

// Metadata keys written on provider objects at checkout.
const (
	MetaOwnerID   = "owner_id"
	MetaOwnerType = "owner_type"
	MetaTenantID  = "tenant_id"
	MetaClubID    = "club_id"
	MetaPlanID    = "plan_id"
)

// Event is a verified provider event in provider-neutral form.
type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	CustomerID string            `json:"customer_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	// Data is the raw provider object, kept for audit and replay.
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	// Subscription is the provider's view of the subscription the event is
	// about. Nil for events that do not concern one.
	Subscription *SubscriptionState `json:"subscription,omitempty"`
}

// SubscriptionState carries the subscription facts extracted by the provider.
type SubscriptionState struct {
	ID                string        `json:"id"`
	Status            ledger.Status `json:"status,omitempty"`
	PriceID           string        `json:"price_id,omitempty"`
	CurrentPeriodEnd  *time.Time    `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd *bool         `json:"cancel_at_period_end,omitempty"`
	TrialEnd          *time.Time    `json:"trial_end,omitempty"`
}

// Status is the processing state of a recorded event.
type Status string

const (
	StatusPending    Status = "pending"
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusFailed     Status = "failed"
)

// Record is the stored trace of one event.
type Record struct {
	EventID             string
	Type                string
	Owner               *owner.Ref
	Status              Status
	RetryCount          int
	Error               string
	Payload             json.RawMessage
	ReceivedAt          time.Time
	QueuedAt            *time.Time
	ProcessingStartedAt *time.Time
	ProcessedAt         *time.Time
}

// Event decodes the stored payload.
func (r Record) Event() (Event, error) {
	var ev Event
	if err := json.Unmarshal(r.Payload, &ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// Outcome is what Receive, Retry and ProcessQueued did with an event.
type Outcome string

const (
	OutcomeProcessed        Outcome = "processed"
	OutcomeQueued           Outcome = "queued"
	OutcomeAlreadyProcessed Outcome = "already_processed"
	OutcomeFailed           Outcome = "failed"
)

// Stats summarizes recorded events since a point in time.
type Stats struct {
	Since             time.Time
	Total             int
	Processed         int
	Failed            int
	Pending           int // pending and queued
	SuccessRate       float64
	AvgProcessingTime time.Duration
	ByType            map[string]int
}

// ProcessJob is the queue payload for an event handed to the background
// worker.
type ProcessJob struct {
	EventID string `json:"event_id"`
}
