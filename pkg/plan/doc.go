// Package plan holds the plan catalog: platform tier plans sold to tenants
// and club plans each tenant defines for its own clubs.
//
// Plans are loaded once from a Source and validated as a whole. The catalog
// resolves the active plan of any owner.Billable and enforces that a club
// only ever uses plans of its own tenant.
//
// Caps are int64 values where Unlimited (-1) means no cap. Always test the
// sentinel with IsUnlimited. A metric a plan does not list has a cap of 0.
//
// Prices are integer minor units. ParsePrice is the single conversion point
// from decimal major units.
package plan
