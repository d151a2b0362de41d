package plan

import "errors"

var (
	ErrPlanNotFound = errors.New("plan not found")
	// ErrPlanNotAssigned means the owner has no plan or tier set. Callers
	// should apply the most restrictive defaults, never treat it as unlimited.
	ErrPlanNotAssigned = errors.New("no plan assigned")
	// ErrTenantMismatch is a configuration bug: a club references a plan from
	// another tenant's catalog. It is never retried.
	ErrTenantMismatch = errors.New("plan belongs to a different tenant")
	ErrScopeMismatch  = errors.New("plan scope does not match owner kind")
	ErrInvalidPlan    = errors.New("invalid plan definition")
	ErrInvalidPrice   = errors.New("invalid plan price")
	ErrLoadPlans      = errors.New("failed to load plans")
)
