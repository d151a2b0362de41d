package reconciler

import "errors"

var (
	ErrInvalidEvent  = errors.New("invalid billing event")
	ErrEventNotFound = errors.New("billing event not found")
	// ErrDuplicateEvent is returned by Store.Create when the event id is
	// already recorded.
	ErrDuplicateEvent = errors.New("billing event already recorded")
	// ErrInvalidRetryState means Retry was called on an event that has not
	// failed.
	ErrInvalidRetryState = errors.New("only failed events can be retried")
	// ErrOwnerUnresolvable means neither the event metadata nor the provider
	// customer id identifies a known tenant or club.
	ErrOwnerUnresolvable = errors.New("event owner cannot be resolved")
	ErrUnknownStatus     = errors.New("unknown provider subscription status")
	ErrNoBillingEmail    = errors.New("owner has no billing email")
)
