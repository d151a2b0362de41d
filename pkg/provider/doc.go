// Package provider is the boundary to the external billing provider.
//
// Every call takes a BillingContext carrying the API key, the optional
// connected account and the idempotency key, so no process-wide client
// configuration is ever mutated. Stripe implements Provider on stripe-go
// with a client built per call.
//
// Errors returned by a provider are *Error values that match
// ErrExternalProvider and say whether a retry may help:
//
//	err := provider.WithRetry(ctx, "create_customer", func(ctx context.Context) error {
//		id, err = p.CreateCustomer(ctx, bctx, params)
//		return err
//	})
//	if provider.IsRetryable(err) {
//		// still failing after the backoff; try again later
//	}
//
// ParseEvent verifies webhook signatures and turns provider events into
// reconciler events. LedgerHooks and PriceFetcher adapt a Provider to the
// subscription ledger and the plan catalog.
package provider
