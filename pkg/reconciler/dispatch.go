package reconciler

// Mode says where an event is applied.
type Mode string

const (
	DispatchSync   Mode = "sync"
	DispatchQueued Mode = "queued"
)

// DefaultFastPath lists the events applied inline: the ones that move access
// or complete a purchase.
var DefaultFastPath = []string{
	TypeInvoicePaymentFailed,
	TypeSubscriptionDeleted,
	TypeSetupIntentSucceeded,
	TypeCheckoutCompleted,
}

// DispatchTable maps event types to a Mode. Types not in the table are
// queued.
type DispatchTable map[string]Mode

// NewDispatchTable builds a table with fastPath applied inline. An empty
// list falls back to DefaultFastPath.
func NewDispatchTable(fastPath ...string) DispatchTable {
	if len(fastPath) == 0 {
		fastPath = DefaultFastPath
	}
	t := make(DispatchTable, len(fastPath))
	for _, typ := range fastPath {
		t[typ] = DispatchSync
	}
	return t
}

func (t DispatchTable) Mode(eventType string) Mode {
	if m, ok := t[eventType]; ok {
		return m
	}
	return DispatchQueued
}

// DefaultOwnedTypes lists the events that always concern a tenant or club.
var DefaultOwnedTypes = []string{
	TypeCheckoutCompleted,
	TypeSubscriptionCreated,
	TypeSubscriptionUpdated,
	TypeSubscriptionDeleted,
	TypeSubscriptionTrialEnding,
	TypeInvoicePaid,
	TypeInvoicePaymentSucceeded,
	TypeInvoicePaymentFailed,
	TypeSetupIntentSucceeded,
}

// OwnerTable lists the event types that must resolve to an owner. Such an
// event fails and goes to triage when its owner is unknown. Types outside
// the table, such as platform account events, are recorded without one.
type OwnerTable map[string]bool

// NewOwnerTable builds a table requiring an owner for types. An empty list
// falls back to DefaultOwnedTypes.
func NewOwnerTable(types ...string) OwnerTable {
	if len(types) == 0 {
		types = DefaultOwnedTypes
	}
	t := make(OwnerTable, len(types))
	for _, typ := range types {
		t[typ] = true
	}
	return t
}

func (t OwnerTable) Required(eventType string) bool {
	return t[eventType]
}
