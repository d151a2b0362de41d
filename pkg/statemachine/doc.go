// Package statemachine implements a stateless finite-state transition table.
//
// A Table maps (state, event) pairs to transitions with optional guards and
// actions. It does not remember a current state; callers pass the subject's
// persisted state to Resolve or Fire and store the result themselves. This
// makes a single package-level Table the one place where legal moves for a
// record type are defined and checked.
//
// Rich error types distinguish "no such transition"
// (ErrNoTransitionAvailable) from "transition exists but a guard refused it"
// (ErrTransitionRejected).
package statemachine
