package ledger

import (
	"context"
	"time"

	"github.com/dmitrymomot/clubbilling/pkg/statemachine"
)

// change is the data threaded through guards and actions. Actions write to
// sub, which is always the caller's working copy.
type change struct {
	sub   *Subscription
	now   time.Time
	grace time.Duration
	data  EventData
}

type (
	guard  = statemachine.Guard[Status, Event, *change]
	action = statemachine.Action[Status, Event, *change]
)

var live = []Status{StatusTrialing, StatusActive, StatusPastDue, StatusIncomplete}

func neverTrialed(_ context.Context, _ Status, _ Event, c *change) bool {
	return !c.sub.HadTrial
}

func graceElapsed(_ context.Context, _ Status, _ Event, c *change) bool {
	return c.sub.PastDueSince != nil && !c.now.Before(c.sub.PastDueSince.Add(c.grace))
}

func periodEnded(_ context.Context, _ Status, _ Event, c *change) bool {
	return c.sub.CancelAtPeriodEnd && c.sub.CurrentPeriodEnd != nil && !c.now.Before(*c.sub.CurrentPeriodEnd)
}

func trialEnded(_ context.Context, _ Status, _ Event, c *change) bool {
	return c.sub.CancelAtPeriodEnd && c.sub.TrialEndsAt != nil && !c.now.Before(*c.sub.TrialEndsAt)
}

func withinPeriod(_ context.Context, _ Status, _ Event, c *change) bool {
	return c.sub.CurrentPeriodEnd != nil && c.now.Before(*c.sub.CurrentPeriodEnd)
}

func cancelScheduled(_ context.Context, _ Status, _ Event, c *change) bool {
	return c.sub.CancelAtPeriodEnd
}

func hasPeriodEnd(_ context.Context, _ Status, _ Event, c *change) bool {
	return c.sub.CurrentPeriodEnd != nil || c.data.CurrentPeriodEnd != nil
}

func hasTrialEnd(_ context.Context, _ Status, _ Event, c *change) bool {
	return c.sub.TrialEndsAt != nil || c.data.TrialEndsAt != nil
}

func syncTo(target Status) guard {
	return func(_ context.Context, _ Status, _ Event, c *change) bool {
		return c.data.Status == target
	}
}

func startTrial(_ context.Context, _, _ Status, _ Event, c *change) error {
	c.sub.HadTrial = true
	c.sub.CanceledAt = nil
	c.sub.CancelAtPeriodEnd = false
	if c.data.TrialEndsAt != nil {
		c.sub.TrialEndsAt = c.data.TrialEndsAt
		c.sub.CurrentPeriodEnd = c.data.TrialEndsAt
	}
	return nil
}

func activate(_ context.Context, _, _ Status, _ Event, c *change) error {
	c.sub.PastDueSince = nil
	c.sub.CanceledAt = nil
	return nil
}

// restart clears the remains of a previous subscription when a new one
// begins from canceled.
func restart(_ context.Context, from, _ Status, _ Event, c *change) error {
	if from == StatusCanceled {
		c.sub.CancelAtPeriodEnd = false
		c.sub.CurrentPeriodEnd = nil
		c.sub.ProviderSubscriptionID = ""
	}
	return nil
}

func markPastDue(_ context.Context, _, _ Status, _ Event, c *change) error {
	if c.sub.PastDueSince == nil {
		now := c.now
		c.sub.PastDueSince = &now
	}
	return nil
}

// cancelNow ends access at once: the period end is pulled back to now.
func cancelNow(_ context.Context, _, _ Status, _ Event, c *change) error {
	now := c.now
	c.sub.CanceledAt = &now
	c.sub.CancelAtPeriodEnd = false
	c.sub.PastDueSince = nil
	if c.sub.CurrentPeriodEnd == nil || c.sub.CurrentPeriodEnd.After(now) {
		c.sub.CurrentPeriodEnd = &now
	}
	return nil
}

func scheduleCancel(_ context.Context, _, _ Status, _ Event, c *change) error {
	c.sub.CancelAtPeriodEnd = true
	return nil
}

func endPeriod(_ context.Context, _, _ Status, _ Event, c *change) error {
	now := c.now
	c.sub.CanceledAt = &now
	c.sub.CancelAtPeriodEnd = false
	return nil
}

func resume(_ context.Context, _, _ Status, _ Event, c *change) error {
	c.sub.CanceledAt = nil
	c.sub.CancelAtPeriodEnd = false
	return nil
}

// newTable builds the single table of legal moves. Self-moves that change
// nothing let provider events arrive twice or out of order.
func newTable() *statemachine.Table[Status, Event, *change] {
	b := statemachine.NewBuilder[Status, Event, *change]()

	// Starting a subscription.
	b.From(StatusNone, StatusCanceled).When(EventTrialStarted).To(StatusTrialing).
		WithGuard(neverTrialed).WithAction(restart).WithAction(startTrial).Add()
	b.From(StatusTrialing).When(EventTrialStarted).To(StatusTrialing).Add()
	b.From(StatusNone, StatusTrialing, StatusIncomplete, StatusPastDue, StatusCanceled).
		When(EventCheckoutCompleted).To(StatusActive).
		WithAction(restart).WithAction(activate).Add()
	b.From(StatusActive).When(EventCheckoutCompleted).To(StatusActive).Add()
	b.From(StatusNone, StatusCanceled).When(EventAwaitingPayment).To(StatusIncomplete).
		WithAction(restart).Add()
	b.From(StatusIncomplete).When(EventAwaitingPayment).To(StatusIncomplete).Add()

	// Payments.
	b.From(StatusActive, StatusTrialing, StatusPastDue).When(EventPaymentFailed).To(StatusPastDue).
		WithAction(markPastDue).Add()
	b.From(StatusPastDue, StatusIncomplete).When(EventPaymentSucceeded).To(StatusActive).
		WithAction(activate).Add()
	b.From(StatusActive).When(EventPaymentSucceeded).To(StatusActive).Add()
	// A zero-amount invoice opens every trial; it must not end it.
	b.From(StatusTrialing).When(EventPaymentSucceeded).To(StatusTrialing).Add()
	b.From(StatusIncomplete).When(EventPaymentFailed).To(StatusIncomplete).Add()
	b.From(StatusPastDue).When(EventGraceExpired).To(StatusCanceled).
		WithGuard(graceElapsed).WithAction(cancelNow).Add()

	// Cancellation and resume.
	b.From(live...).When(EventCanceled).To(StatusCanceled).WithAction(cancelNow).Add()
	b.From(StatusActive).When(EventCancelScheduled).To(StatusActive).
		WithGuard(hasPeriodEnd).WithAction(scheduleCancel).Add()
	b.From(StatusActive).When(EventPeriodEnded).To(StatusCanceled).
		WithGuard(periodEnded).WithAction(endPeriod).Add()
	b.From(StatusCanceled).When(EventResumed).To(StatusActive).
		WithGuard(withinPeriod).WithAction(resume).Add()
	b.From(StatusActive).When(EventResumed).To(StatusActive).
		WithGuard(cancelScheduled).WithAction(resume).Add()
	// A trial scheduled to cancel runs to its end and never converts.
	b.From(StatusTrialing).When(EventCancelScheduled).To(StatusTrialing).
		WithGuard(hasTrialEnd).WithAction(scheduleCancel).Add()
	b.From(StatusTrialing).When(EventPeriodEnded).To(StatusCanceled).
		WithGuard(trialEnded).WithAction(endPeriod).Add()
	b.From(StatusTrialing).When(EventResumed).To(StatusTrialing).
		WithGuard(cancelScheduled).WithAction(resume).Add()

	for _, s := range live {
		b.From(s).When(EventPlanSwapped).To(s).Add()
	}

	// Provider status sync. A canceled subscription is never revived by a
	// late update; only a new checkout starts it again.
	for _, target := range live {
		b.From(StatusNone).When(EventSynced).To(target).WithGuard(syncTo(target)).WithAction(activateIf(target)).Add()
		b.From(live...).When(EventSynced).To(target).WithGuard(syncTo(target)).WithAction(activateIf(target)).Add()
	}
	b.From(live...).When(EventSynced).To(StatusCanceled).WithGuard(syncTo(StatusCanceled)).
		WithAction(cancelNow).Add()
	b.From(StatusCanceled).When(EventSynced).To(StatusCanceled).Add()

	// Late or duplicate deliveries against a state that already reflects them.
	b.From(StatusCanceled).When(EventCanceled).To(StatusCanceled).Add()
	b.From(StatusCanceled).When(EventPaymentFailed).To(StatusCanceled).Add()
	b.From(StatusCanceled).When(EventPaymentSucceeded).To(StatusCanceled).Add()
	b.From(StatusCanceled).When(EventPeriodEnded).To(StatusCanceled).Add()
	b.From(StatusCanceled).When(EventGraceExpired).To(StatusCanceled).Add()
	b.From(StatusNone).When(EventPaymentFailed).To(StatusNone).Add()
	b.From(StatusNone).When(EventPaymentSucceeded).To(StatusNone).Add()
	b.From(StatusNone).When(EventCanceled).To(StatusNone).Add()
	b.From(StatusNone).When(EventSynced).To(StatusNone).Add()

	return b.MustBuild()
}

func activateIf(target Status) action {
	return func(ctx context.Context, from, to Status, ev Event, c *change) error {
		switch target {
		case StatusActive:
			return activate(ctx, from, to, ev, c)
		case StatusPastDue:
			return markPastDue(ctx, from, to, ev, c)
		case StatusTrialing:
			c.sub.HadTrial = true
		}
		return nil
	}
}
