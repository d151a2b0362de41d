// Package owner defines the billable owners of the platform: tenants (club
// organisations subscribed to the platform) and clubs (billed inside a
// tenant, on plans from that tenant's own catalog).
//
// Both implement Billable, so the plan catalog, usage tracker and
// subscription ledger handle them without type switches. Ref is the
// lightweight identifier used in stores and events.
package owner
