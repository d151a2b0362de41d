package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrymomot/clubbilling/pkg/logger"
	"github.com/dmitrymomot/clubbilling/pkg/owner"
	"github.com/dmitrymomot/clubbilling/pkg/plan"
)

// ApproachingThreshold is the usage percentage above which a metric is
// reported as near its limit.
const ApproachingThreshold = 80.0

// PlanResolver finds the plan an owner is on. *plan.Catalog implements it.
type PlanResolver interface {
	ResolveActivePlan(ctx context.Context, b owner.Billable) (plan.Plan, error)
}

// Check is the outcome of a single limit check.
type Check struct {
	Owner     owner.Ref
	Metric    plan.Metric
	Current   int64
	Increment int64
	Limit     int64
	Allowed   bool
}

// Usage is one row of an owner's usage dashboard.
type Usage struct {
	Metric     plan.Metric `json:"metric"`
	Current    int64       `json:"current"`
	Limit      int64       `json:"limit"`
	Remaining  int64       `json:"remaining"` // plan.Unlimited when unlimited
	Percentage float64     `json:"percentage"`
	Unlimited  bool        `json:"unlimited"`
	NearLimit  bool        `json:"near_limit"`
	OverLimit  bool        `json:"over_limit"`
}

// Requirement is one owner/metric pair in a multi-owner check.
type Requirement struct {
	Owner     owner.Billable
	Metric    plan.Metric
	Increment int64
}

// Tracker checks usage against plan limits.
type Tracker struct {
	plans       PlanResolver
	counters    Registry
	invalidator Invalidator
	logger      *slog.Logger
	metrics     *metrics
}

type Option func(*Tracker)

func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = logger.OrDiscard(l) }
}

// WithMetrics registers the usage_limit_denied_total counter on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(t *Tracker) { t.metrics = newMetrics(reg) }
}

func NewTracker(plans PlanResolver, counters Registry, opts ...Option) *Tracker {
	if counters == nil {
		counters = NewRegistry()
	}
	t := &Tracker{
		plans:    plans,
		counters: counters,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// resolve returns the owner's plan. An owner without a plan gets an empty
// plan, so every metric has a cap of 0.
func (t *Tracker) resolve(ctx context.Context, b owner.Billable) (plan.Plan, error) {
	p, err := t.plans.ResolveActivePlan(ctx, b)
	if errors.Is(err, plan.ErrPlanNotAssigned) {
		t.logger.WarnContext(ctx, "owner has no plan, applying zero limits",
			logger.OwnerID(b.OwnerID()),
			logger.OwnerKind(string(b.OwnerKind())))
		return plan.Plan{}, nil
	}
	return p, err
}

// CurrentUsage counts the metric for b through its registered counter.
func (t *Tracker) CurrentUsage(ctx context.Context, b owner.Billable, metric plan.Metric) (int64, error) {
	counter, ok := t.counters[metric]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoCounter, metric)
	}
	ref := owner.RefOf(b)
	n, err := counter(ctx, ref)
	if err != nil {
		return 0, errors.Join(ErrCountFailed, err)
	}
	if n < 0 {
		t.logger.WarnContext(ctx, "counter returned negative usage",
			logger.OwnerID(ref.ID),
			logger.Metric(string(metric)),
			slog.Int64("count", n))
		return 0, nil
	}
	return n, nil
}

// CheckLimit reports whether b can add increment units of metric. A failed
// check returns the Check together with a *LimitExceededError.
func (t *Tracker) CheckLimit(ctx context.Context, b owner.Billable, metric plan.Metric, increment int64) (Check, error) {
	p, err := t.resolve(ctx, b)
	if err != nil {
		return Check{}, err
	}
	return t.check(ctx, b, p, metric, increment)
}

func (t *Tracker) check(ctx context.Context, b owner.Billable, p plan.Plan, metric plan.Metric, increment int64) (Check, error) {
	limit := plan.GetLimit(p, metric)
	c := Check{
		Owner:     owner.RefOf(b),
		Metric:    metric,
		Increment: increment,
		Limit:     limit,
	}
	if plan.IsUnlimited(limit) {
		c.Allowed = true
		return c, nil
	}

	current, err := t.CurrentUsage(ctx, b, metric)
	if err != nil {
		return Check{}, err
	}
	c.Current = current
	c.Allowed = current+increment <= limit
	if c.Allowed {
		return c, nil
	}

	v := &LimitExceededError{
		Owner:      c.Owner,
		Metric:     metric,
		Current:    current,
		Increment:  increment,
		Limit:      limit,
		Percentage: percentage(current, limit),
	}
	t.metrics.deny(v)
	t.logger.InfoContext(ctx, "usage limit reached",
		logger.OwnerID(c.Owner.ID),
		logger.OwnerKind(string(c.Owner.Kind)),
		logger.Metric(string(metric)),
		slog.Int64("current", current),
		slog.Int64("limit", limit))
	return c, v
}

// UsagePercentage is 0 for unlimited metrics and 100 for a cap of 0.
// Otherwise it is current/cap as a percentage with one decimal, capped at 100.
func (t *Tracker) UsagePercentage(ctx context.Context, b owner.Billable, metric plan.Metric) (float64, error) {
	p, err := t.resolve(ctx, b)
	if err != nil {
		return 0, err
	}
	limit := plan.GetLimit(p, metric)
	if plan.IsUnlimited(limit) {
		return 0, nil
	}
	current, err := t.CurrentUsage(ctx, b, metric)
	if err != nil {
		return 0, err
	}
	return percentage(current, limit), nil
}

// IsApproachingLimit reports usage above ApproachingThreshold.
func (t *Tracker) IsApproachingLimit(ctx context.Context, b owner.Billable, metric plan.Metric) (bool, error) {
	pct, err := t.UsagePercentage(ctx, b, metric)
	if err != nil {
		return false, err
	}
	return pct > ApproachingThreshold, nil
}

func percentage(current, limit int64) float64 {
	if plan.IsUnlimited(limit) {
		return 0
	}
	if limit <= 0 {
		return 100
	}
	pct := math.Round(float64(current)*1000/float64(limit)) / 10
	return math.Min(pct, 100)
}

// AllUsage lists every metric the owner's plan caps, sorted by metric name.
// Metrics without a registered counter are skipped.
func (t *Tracker) AllUsage(ctx context.Context, b owner.Billable) ([]Usage, error) {
	p, err := t.resolve(ctx, b)
	if err != nil {
		return nil, err
	}

	names := make([]plan.Metric, 0, len(p.Limits))
	for m := range p.Limits {
		if _, ok := t.counters[m]; ok {
			names = append(names, m)
		}
	}
	slices.Sort(names)

	out := make([]Usage, 0, len(names))
	for _, m := range names {
		current, err := t.CurrentUsage(ctx, b, m)
		if err != nil {
			return nil, err
		}
		limit := plan.GetLimit(p, m)
		u := Usage{
			Metric:    m,
			Current:   current,
			Limit:     limit,
			Unlimited: plan.IsUnlimited(limit),
		}
		if u.Unlimited {
			u.Remaining = plan.Unlimited
		} else {
			u.Remaining = max(0, limit-current)
			u.Percentage = percentage(current, limit)
			u.OverLimit = current > limit
			u.NearLimit = !u.OverLimit && u.Percentage > ApproachingThreshold
		}
		out = append(out, u)
	}
	return out, nil
}

// CheckMany checks requirements spanning several owners. Increments for the
// same owner and metric are summed, each owner's plan is resolved once, and
// every violation is returned in a *MultiLimitError.
func (t *Tracker) CheckMany(ctx context.Context, reqs []Requirement) error {
	type key struct {
		ref    owner.Ref
		metric plan.Metric
	}
	var (
		order  []key
		totals = make(map[key]int64)
		owners = make(map[owner.Ref]owner.Billable)
	)
	for _, r := range reqs {
		k := key{ref: owner.RefOf(r.Owner), metric: r.Metric}
		if _, seen := totals[k]; !seen {
			order = append(order, k)
		}
		totals[k] += r.Increment
		owners[k.ref] = r.Owner
	}

	plans := make(map[owner.Ref]plan.Plan, len(owners))
	var violations []*LimitExceededError
	for _, k := range order {
		b := owners[k.ref]
		p, ok := plans[k.ref]
		if !ok {
			var err error
			if p, err = t.resolve(ctx, b); err != nil {
				return fmt.Errorf("%s: %w", k.ref, err)
			}
			plans[k.ref] = p
		}

		_, err := t.check(ctx, b, p, k.metric, totals[k])
		var v *LimitExceededError
		switch {
		case errors.As(err, &v):
			violations = append(violations, v)
		case err != nil:
			return fmt.Errorf("%s: %w", k.ref, err)
		}
	}

	if len(violations) > 0 {
		return &MultiLimitError{Violations: violations}
	}
	return nil
}

// CanDowngrade verifies current usage fits every limit that target lowers.
func (t *Tracker) CanDowngrade(ctx context.Context, b owner.Billable, target plan.Plan) error {
	if err := target.CheckScope(b); err != nil {
		return err
	}
	current, err := t.resolve(ctx, b)
	if err != nil {
		return err
	}

	cmp := plan.Compare(current, target)
	names := make([]plan.Metric, 0, len(cmp.DecreasedLimits))
	for m := range cmp.DecreasedLimits {
		names = append(names, m)
	}
	slices.Sort(names)

	var violations []*LimitExceededError
	for _, m := range names {
		if _, ok := t.counters[m]; !ok {
			continue
		}
		_, err := t.check(ctx, b, target, m, 0)
		var v *LimitExceededError
		switch {
		case errors.As(err, &v):
			violations = append(violations, v)
		case err != nil:
			return err
		}
	}
	if len(violations) > 0 {
		return errors.Join(ErrCannotDowngrade, &MultiLimitError{Violations: violations})
	}
	return nil
}
