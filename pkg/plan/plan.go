package plan

import (
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/clubbilling/pkg/owner"
)

// Metric names a countable resource capped by a plan.
type Metric string

const (
	MaxTeams                    Metric = "max_teams"
	MaxPlayers                  Metric = "max_players"
	MaxStorageGB                Metric = "max_storage_gb"
	MaxGamesPerMonth            Metric = "max_games_per_month"
	MaxAPICallsPerHour          Metric = "max_api_calls_per_hour"
	MaxUsers                    Metric = "max_users"
	MaxTrainingSessionsPerMonth Metric = "max_training_sessions_per_month"
)

// Unlimited is the cap value meaning "no limit". Compare caps with
// IsUnlimited rather than against the literal.
const Unlimited int64 = -1

// IsUnlimited is the single predicate for the unlimited sentinel.
func IsUnlimited(limit int64) bool {
	return limit == Unlimited
}

// Feature is a capability flag carried by a plan.
type Feature string

// Scope says which kind of owner a plan is sold to.
type Scope string

const (
	// ScopePlatform plans are sold by the platform to tenants, one per tier.
	ScopePlatform Scope = "platform"
	// ScopeClub plans are defined by a tenant for its own clubs.
	ScopeClub Scope = "club"
)

type Interval string

const (
	IntervalNone    Interval = ""
	IntervalMonthly Interval = "monthly"
	IntervalYearly  Interval = "yearly"
)

// Money is an amount in minor currency units.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func (m Money) IsZero() bool { return m.Amount == 0 }

// Plan is a subscription plan definition.
type Plan struct {
	ID        string
	Scope     Scope
	TenantID  uuid.UUID // uuid.Nil for platform plans
	Tier      owner.Tier
	Name      string
	Price     Money
	Interval  Interval
	TrialDays int
	Limits    map[Metric]int64
	Features  []Feature

	// External provider references. Free plans have none.
	ProductID string
	PriceID   string

	Synced       bool
	LastSyncedAt *time.Time
}

func (p Plan) IsFree() bool {
	return p.Price.IsZero()
}

// HasFeature reports whether the plan grants f.
func (p Plan) HasFeature(f Feature) bool {
	for _, have := range p.Features {
		if have == f {
			return true
		}
	}
	return false
}

// TrialEndsAt returns when a trial started at start ends, or start itself
// when the plan has no trial.
func (p Plan) TrialEndsAt(start time.Time) time.Time {
	if p.TrialDays <= 0 {
		return start
	}
	return start.AddDate(0, 0, p.TrialDays)
}

// GetLimit returns the cap for metric. A metric the plan does not list
// yields 0, the most restrictive cap; a missing entry never means unlimited.
func GetLimit(p Plan, metric Metric) int64 {
	limit, ok := p.Limits[metric]
	if !ok {
		return 0
	}
	return limit
}

// CheckScope verifies the plan may be assigned to b: club plans only to
// clubs of the owning tenant, platform plans only to tenants.
func (p Plan) CheckScope(b owner.Billable) error {
	switch p.Scope {
	case ScopeClub:
		if p.TenantID != b.TenantScope() {
			return ErrTenantMismatch
		}
		if b.OwnerKind() != owner.KindClub {
			return ErrScopeMismatch
		}
	case ScopePlatform:
		if b.OwnerKind() != owner.KindTenant {
			return ErrScopeMismatch
		}
	default:
		return ErrScopeMismatch
	}
	return nil
}
