// Package fees computes the platform's application fee on payments routed to
// a tenant's connected account.
//
// All amounts are int64 minor units. Percentages are decimal.Decimal and the
// percentage part is rounded half away from zero before the fixed part is
// added. The result is always clamped to [0, gross].
package fees
