// Package ledger keeps the subscription state of every billable owner.
//
// Each owner has at most one Subscription. Its status only changes through
// the transition table in transitions.go, and every change for one owner is
// serialized through Store.Update, which holds a per-owner lock for the
// duration of the change.
//
// User-initiated operations (AssignPlan, Cancel, SwapPlan, Resume) reject
// illegal moves with typed errors. Provider-driven changes arrive through
// Apply, which treats moves that would not change anything as successful
// no-ops so duplicate and out-of-order deliveries are harmless.
//
// Sweep runs periodically and cancels subscriptions whose deferred
// cancellation has reached the period end, and past-due subscriptions whose
// grace window has elapsed.
package ledger
