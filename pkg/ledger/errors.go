package ledger

import "errors"

var (
	// ErrNoActiveSubscription means the owner has no subscription, or only a
	// canceled one, where the operation needs a live one.
	ErrNoActiveSubscription = errors.New("no active subscription")
	// ErrGracePeriodExpired means a canceled subscription can no longer be
	// resumed; a new checkout is required.
	ErrGracePeriodExpired   = errors.New("grace period expired")
	ErrIllegalTransition    = errors.New("illegal subscription transition")
	ErrAlreadySubscribed    = errors.New("owner already has a live subscription")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrPlanRequired         = errors.New("plan id required to create a subscription")
	ErrProviderFailed       = errors.New("billing provider rejected the change")
	ErrConcurrentUpdate     = errors.New("subscription was modified concurrently")
)
