// Package reconciler turns billing provider events into subscription ledger
// changes exactly once.
//
// Every event is recorded by id before anything else happens, so a provider
// redelivery is answered with OutcomeAlreadyProcessed and never applied twice.
// A DispatchTable decides whether an event is applied inline (the fast path)
// or handed to the background queue with a short delay:
//
//	r := reconciler.New(store, led, owners,
//		reconciler.WithPlans(catalog),
//		reconciler.WithEnqueuer(enqueuer),
//		reconciler.WithTriage(reconciler.NewEmailTriage(sender, cfg.OperatorEmail)),
//	)
//	outcome, err := r.Receive(ctx, event)
//
// Events whose owner cannot be found are recorded as failed and reported to
// the TriageNotifier. Failed records are retried explicitly with Retry.
package reconciler
