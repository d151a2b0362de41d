package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/clubbilling/pkg/logger"
	"github.com/dmitrymomot/clubbilling/pkg/owner"
	"github.com/dmitrymomot/clubbilling/pkg/plan"
)

// AssignPlan starts a subscription for b on p. The plan's tenant scope is
// checked before anything is stored. Free plans become active at once. A
// trial starts when requested, offered by the plan and never used by the
// owner. Otherwise the subscription is active with a payment method
// attached and incomplete without one. An owner on a trial may assign again
// to switch plans or to complete checkout.
func (l *Ledger) AssignPlan(ctx context.Context, b owner.Billable, p plan.Plan, opts AssignOptions) (*Subscription, error) {
	if err := p.CheckScope(b); err != nil {
		return nil, err
	}

	ref := owner.RefOf(b)
	var out *Subscription
	err := l.store.Update(ctx, ref, func(ctx context.Context, current *Subscription) (*Subscription, error) {
		now := l.now()
		cur := blank(ref, b.TenantScope(), now)
		if current != nil {
			cur = *current
		}

		data := EventData{
			PlanID:                 p.ID,
			ProviderCustomerID:     opts.ProviderCustomerID,
			ProviderSubscriptionID: opts.ProviderSubscriptionID,
		}
		if data.ProviderCustomerID == "" {
			data.ProviderCustomerID = b.ExternalCustomerID()
		}

		var ev Event
		switch {
		case p.IsFree():
			ev = EventCheckoutCompleted
		case opts.StartTrial && p.TrialDays > 0 && !cur.HadTrial && cur.Status != StatusTrialing:
			ev = EventTrialStarted
			ends := p.TrialEndsAt(now)
			data.TrialEndsAt = &ends
		case opts.PaymentMethodAttached:
			ev = EventCheckoutCompleted
			data.CurrentPeriodEnd = periodEnd(p, now)
		case cur.Status == StatusTrialing:
			ev = EventPlanSwapped
		default:
			ev = EventAwaitingPayment
		}

		switch cur.Status {
		case StatusActive, StatusPastDue:
			return nil, fmt.Errorf("%w: use SwapPlan", ErrAlreadySubscribed)
		case StatusIncomplete:
			if ev == EventTrialStarted {
				ev = EventAwaitingPayment
			}
		}

		next, err := l.transition(ctx, cur, ev, data, now)
		if err != nil {
			return nil, err
		}
		l.logMove(ctx, cur, next, ev)
		out = &next
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	l.recordPlan(ctx, b, p)
	return out, nil
}

// periodEnd is the local estimate of the first billing period. The provider
// reports the authoritative value on its next event.
func periodEnd(p plan.Plan, from time.Time) *time.Time {
	var end time.Time
	switch p.Interval {
	case plan.IntervalMonthly:
		end = from.AddDate(0, 1, 0)
	case plan.IntervalYearly:
		end = from.AddDate(1, 0, 0)
	default:
		return nil
	}
	return &end
}

// Cancel ends the owner's subscription. Immediate cancellation ends access
// now. Deferred cancellation keeps the subscription active until the
// current period ends, or a trial until the trial ends, when Sweep cancels
// it. Canceling a canceled subscription is a no-op.
func (l *Ledger) Cancel(ctx context.Context, b owner.Billable, immediate bool) (*Subscription, error) {
	ev := EventCancelScheduled
	if immediate {
		ev = EventCanceled
	}
	return l.userChange(ctx, owner.RefOf(b), ev, EventData{}, func(ctx context.Context, cur Subscription) (EventData, error) {
		if l.provider == nil || cur.ProviderSubscriptionID == "" {
			return EventData{}, nil
		}
		return EventData{}, l.provider.CancelSubscription(ctx, cur, immediate)
	})
}

// SwapPlan moves a live subscription to target. Usage is owner-scoped and
// is not reset. An empty proration uses the configured default.
func (l *Ledger) SwapPlan(ctx context.Context, b owner.Billable, target plan.Plan, proration Proration) (*Subscription, error) {
	if err := target.CheckScope(b); err != nil {
		return nil, err
	}
	if proration == "" {
		proration = l.proration
	}
	if !proration.Valid() {
		return nil, fmt.Errorf("%w: unknown proration %q", ErrIllegalTransition, proration)
	}
	if l.guard != nil {
		if err := l.guard.CanDowngrade(ctx, b, target); err != nil {
			return nil, err
		}
	}

	sub, err := l.userChange(ctx, owner.RefOf(b), EventPlanSwapped, EventData{PlanID: target.ID},
		func(ctx context.Context, cur Subscription) (EventData, error) {
			if l.provider == nil || cur.ProviderSubscriptionID == "" {
				return EventData{}, nil
			}
			return EventData{}, l.provider.SwapSubscriptionPlan(ctx, cur, target, proration)
		})
	if err != nil {
		return nil, err
	}
	l.recordPlan(ctx, b, target)
	return sub, nil
}

// Resume reactivates a canceled subscription while its paid period is still
// running, or withdraws a scheduled cancellation. After the period has ended
// it fails with ErrGracePeriodExpired.
func (l *Ledger) Resume(ctx context.Context, b owner.Billable) (*Subscription, error) {
	return l.userChange(ctx, owner.RefOf(b), EventResumed, EventData{},
		func(ctx context.Context, cur Subscription) (EventData, error) {
			if l.provider == nil || cur.ProviderSubscriptionID == "" {
				return EventData{}, nil
			}
			p, err := l.plans.Get(cur.PlanID)
			if err != nil {
				return EventData{}, err
			}
			id, err := l.provider.ResumeSubscription(ctx, cur, p)
			if err != nil {
				return EventData{}, err
			}
			return EventData{ProviderSubscriptionID: id}, nil
		})
}

// userChange runs a user-initiated move: the owner needs a subscription,
// the move must be legal, then the provider hook runs, then the move is
// stored.
func (l *Ledger) userChange(
	ctx context.Context,
	ref owner.Ref,
	ev Event,
	data EventData,
	push func(ctx context.Context, cur Subscription) (EventData, error),
) (*Subscription, error) {
	var out *Subscription
	err := l.store.Update(ctx, ref, func(ctx context.Context, current *Subscription) (*Subscription, error) {
		if current == nil {
			return nil, ErrNoActiveSubscription
		}
		cur := *current
		now := l.now()

		switch {
		case (ev == EventCanceled || ev == EventCancelScheduled) && cur.Status == StatusCanceled:
			out = current
			return nil, nil
		case ev != EventResumed && cur.Status == StatusCanceled:
			return nil, ErrNoActiveSubscription
		}

		if err := l.check(ctx, cur, ev, data, now); err != nil {
			return nil, err
		}

		extra, err := push(ctx, cur)
		if err != nil {
			l.logger.ErrorContext(ctx, "billing provider rejected subscription change",
				logger.OwnerID(ref.ID),
				logger.OwnerKind(string(ref.Kind)),
				logger.Operation(string(ev)),
				logger.ExternalRef(cur.ProviderSubscriptionID),
				logger.Error(err))
			return nil, errors.Join(ErrProviderFailed, err)
		}
		if extra.ProviderSubscriptionID != "" {
			data.ProviderSubscriptionID = extra.ProviderSubscriptionID
		}

		next, err := l.transition(ctx, cur, ev, data, now)
		if err != nil {
			return nil, err
		}
		l.logMove(ctx, cur, next, ev)
		out = &next
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Apply moves the owner's subscription on a provider event. Moves that leave
// the subscription as it is succeed without error. A subscription that does
// not exist yet is created by EventCheckoutCompleted or EventSynced when
// data names a plan within the owner's scope.
func (l *Ledger) Apply(ctx context.Context, b owner.Billable, ev Event, data EventData) (*Subscription, error) {
	ref := owner.RefOf(b)

	var newPlan *plan.Plan
	if data.PlanID != "" {
		p, err := l.plans.Get(data.PlanID)
		if err != nil {
			return nil, err
		}
		if err := p.CheckScope(b); err != nil {
			return nil, err
		}
		newPlan = &p
	}

	var (
		out         *Subscription
		planChanged bool
	)
	err := l.store.Update(ctx, ref, func(ctx context.Context, current *Subscription) (*Subscription, error) {
		now := l.now()
		cur := blank(ref, b.TenantScope(), now)
		if current != nil {
			cur = *current
		}

		if stale(cur, ev, data) {
			l.logger.WarnContext(ctx, "ignoring event for a replaced provider subscription",
				logger.OwnerID(ref.ID),
				logger.ExternalRef(data.ProviderSubscriptionID),
				slog.String("event", string(ev)))
			out = current
			return nil, nil
		}

		if current == nil && data.PlanID == "" && (ev == EventCheckoutCompleted || ev == EventSynced) {
			if ev == EventSynced && data.Status == StatusCanceled {
				return nil, nil
			}
			return nil, ErrPlanRequired
		}

		next, err := l.transition(ctx, cur, ev, data, now)
		if err != nil {
			return nil, err
		}
		if next.Status == StatusNone {
			// Nothing to record for an owner without a subscription.
			return nil, nil
		}
		planChanged = next.PlanID != cur.PlanID
		if next.Status != cur.Status || planChanged {
			l.logMove(ctx, cur, next, ev)
		}
		out = &next
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	if planChanged && newPlan != nil {
		l.recordPlan(ctx, b, *newPlan)
	}
	return out, nil
}

// stale reports an event about a provider subscription other than the one
// on record. A new checkout may replace the id; nothing else may.
func stale(cur Subscription, ev Event, data EventData) bool {
	return ev != EventCheckoutCompleted &&
		cur.Status != StatusCanceled &&
		cur.ProviderSubscriptionID != "" &&
		data.ProviderSubscriptionID != "" &&
		data.ProviderSubscriptionID != cur.ProviderSubscriptionID
}

// Sweep cancels subscriptions whose scheduled cancellation reached the end
// of the period and past-due subscriptions beyond the grace window.
func (l *Ledger) Sweep(ctx context.Context) (SweepReport, error) {
	now := l.now()
	refs, err := l.store.Due(ctx, now, now.Add(-l.grace))
	if err != nil {
		return SweepReport{}, err
	}

	report := SweepReport{Checked: len(refs)}
	for _, ref := range refs {
		canceled := false
		err := l.store.Update(ctx, ref, func(ctx context.Context, current *Subscription) (*Subscription, error) {
			if current == nil {
				return nil, nil
			}
			cur := *current
			ev := EventPeriodEnded
			if cur.Status == StatusPastDue {
				ev = EventGraceExpired
			}
			// Re-checked under the lock; the row may have moved since Due.
			if l.check(ctx, cur, ev, EventData{}, now) != nil {
				return nil, nil
			}
			next, err := l.transition(ctx, cur, ev, EventData{}, now)
			if err != nil {
				return nil, err
			}
			canceled = next.Status == StatusCanceled && cur.Status != StatusCanceled
			l.logMove(ctx, cur, next, ev)
			return &next, nil
		})
		if err != nil {
			report.Errors = append(report.Errors, fmt.Errorf("%s: %w", ref, err))
			l.logger.ErrorContext(ctx, "sweep failed for owner",
				logger.OwnerID(ref.ID), logger.OwnerKind(string(ref.Kind)), logger.Error(err))
			continue
		}
		if canceled {
			report.Canceled++
		}
	}

	if report.Checked > 0 {
		l.logger.InfoContext(ctx, "subscription sweep finished",
			slog.Int("checked", report.Checked),
			slog.Int("canceled", report.Canceled),
			slog.Int("errors", len(report.Errors)))
	}
	return report, nil
}
