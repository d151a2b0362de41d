// Package usage answers whether a tenant or club may consume one more unit
// of a metric under its active plan.
//
// Current usage is never stored here. Each metric has a CounterFunc that
// counts live entities at check time. A CachedCounter may sit in front of
// an expensive counter, but then every mutation of the counted entities
// must call Invalidate.
//
// Checks have no side effects and reserve nothing. Two concurrent callers
// may both pass and overshoot a cap by one unit.
package usage
