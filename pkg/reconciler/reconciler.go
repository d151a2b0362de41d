package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrymomot/clubbilling/pkg/ledger"
	"github.com/dmitrymomot/clubbilling/pkg/logger"
	"github.com/dmitrymomot/clubbilling/pkg/owner"
	"github.com/dmitrymomot/clubbilling/pkg/plan"
	"github.com/dmitrymomot/clubbilling/pkg/queue"
)

// Applier moves an owner's subscription. *ledger.Ledger implements it.
type Applier interface {
	Apply(ctx context.Context, b owner.Billable, ev ledger.Event, data ledger.EventData) (*ledger.Subscription, error)
}

// PriceLookup maps a provider price id to a plan. *plan.Catalog implements it.
type PriceLookup interface {
	ByPriceID(priceID string) (plan.Plan, error)
}

// Enqueuer hands work to the background queue. *queue.Enqueuer implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload any, opts ...queue.EnqueueOption) (*queue.Job, error)
}

// Reconciler records provider events and applies them to the ledger.
type Reconciler struct {
	store    Store
	ledger   Applier
	owners   owner.Repository
	prices   PriceLookup
	enqueuer Enqueuer
	triage   TriageNotifier
	notifier OwnerNotifier
	dispatch DispatchTable
	owned    OwnerTable
	delay    time.Duration
	queue    string
	metrics  *metrics
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Reconciler)

func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = logger.OrDiscard(l) }
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// WithPlans resolves plans from provider price ids when the event metadata
// carries no plan id.
func WithPlans(p PriceLookup) Option {
	return func(r *Reconciler) { r.prices = p }
}

// WithEnqueuer enables the queued path. Without it every event is applied
// inline.
func WithEnqueuer(e Enqueuer) Option {
	return func(r *Reconciler) { r.enqueuer = e }
}

func WithTriage(n TriageNotifier) Option {
	return func(r *Reconciler) { r.triage = n }
}

// WithOwnerNotifier tells owners about payments, cancellations and trials.
func WithOwnerNotifier(n OwnerNotifier) Option {
	return func(r *Reconciler) { r.notifier = n }
}

func WithOwnerTable(t OwnerTable) Option {
	return func(r *Reconciler) {
		if t != nil {
			r.owned = t
		}
	}
}

func WithDispatchTable(t DispatchTable) Option {
	return func(r *Reconciler) {
		if t != nil {
			r.dispatch = t
		}
	}
}

func WithMetrics(reg prometheus.Registerer) Option {
	return func(r *Reconciler) { r.metrics = newMetrics(reg) }
}

func WithConfig(cfg Config) Option {
	return func(r *Reconciler) {
		if cfg.QueueDelay > 0 {
			r.delay = cfg.QueueDelay
		}
		if cfg.Queue != "" {
			r.queue = cfg.Queue
		}
		if len(cfg.FastPathEvents) > 0 {
			r.dispatch = NewDispatchTable(cfg.FastPathEvents...)
		}
	}
}

func New(store Store, applier Applier, owners owner.Repository, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:    store,
		ledger:   applier,
		owners:   owners,
		dispatch: NewDispatchTable(),
		owned:    NewOwnerTable(),
		delay:    5 * time.Second,
		queue:    "webhooks",
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handler returns the queue handler for events dispatched to the background.
func (r *Reconciler) Handler() queue.Handler {
	return queue.NewHandler(func(ctx context.Context, job ProcessJob) error {
		_, err := r.ProcessQueued(ctx, job.EventID)
		return err
	})
}

// Queue is the queue name events are dispatched to.
func (r *Reconciler) Queue() string { return r.queue }

// Receive records ev and applies it inline or queues it. Any event already
// recorded, whatever its state, yields OutcomeAlreadyProcessed. Processing
// failures are recorded on the event and reported as OutcomeFailed; the
// error is non-nil only when the event could not be recorded.
func (r *Reconciler) Receive(ctx context.Context, ev Event) (Outcome, error) {
	if ev.ID == "" || ev.Type == "" {
		return "", fmt.Errorf("%w: id and type are required", ErrInvalidEvent)
	}
	log := r.logger.With(logger.EventID(ev.ID), logger.EventType(ev.Type))

	if existing, err := r.store.Get(ctx, ev.ID); err == nil {
		log.InfoContext(ctx, "billing event already recorded", logger.Status(string(existing.Status)))
		r.metrics.observe(ev.Type, OutcomeAlreadyProcessed)
		return OutcomeAlreadyProcessed, nil
	} else if !errors.Is(err, ErrEventNotFound) {
		return "", err
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("encode billing event: %w", err)
	}
	rec := &Record{
		EventID:    ev.ID,
		Type:       ev.Type,
		Status:     StatusPending,
		Payload:    payload,
		ReceivedAt: r.now(),
	}
	if err := r.store.Create(ctx, rec); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			// A concurrent delivery won the insert.
			r.metrics.observe(ev.Type, OutcomeAlreadyProcessed)
			return OutcomeAlreadyProcessed, nil
		}
		return "", err
	}

	return r.dispatchEvent(ctx, rec, ev)
}

// Retry re-dispatches a failed event.
func (r *Reconciler) Retry(ctx context.Context, eventID string) (Outcome, error) {
	rec, err := r.store.Get(ctx, eventID)
	if err != nil {
		return "", err
	}
	if rec.Status != StatusFailed {
		r.logger.WarnContext(ctx, "refusing to retry billing event",
			logger.EventID(eventID), logger.Status(string(rec.Status)))
		return "", fmt.Errorf("%w: event %s is %s", ErrInvalidRetryState, eventID, rec.Status)
	}
	ev, err := rec.Event()
	if err != nil {
		return "", fmt.Errorf("decode billing event %s: %w", eventID, err)
	}

	rec.RetryCount++
	rec.Status = StatusPending
	rec.Error = ""
	rec.QueuedAt, rec.ProcessingStartedAt, rec.ProcessedAt = nil, nil, nil
	if err := r.store.Update(ctx, rec); err != nil {
		return "", err
	}
	r.logger.InfoContext(ctx, "retrying billing event",
		logger.EventID(eventID), logger.EventType(rec.Type), logger.RetryCount(rec.RetryCount))
	return r.dispatchEvent(ctx, rec, ev)
}

// ProcessQueued applies an event the queue worker picked up. Events that are
// already processed or failed are left alone.
func (r *Reconciler) ProcessQueued(ctx context.Context, eventID string) (Outcome, error) {
	rec, err := r.store.Get(ctx, eventID)
	if err != nil {
		return "", err
	}
	switch rec.Status {
	case StatusProcessed:
		return OutcomeAlreadyProcessed, nil
	case StatusFailed:
		return OutcomeFailed, nil
	}
	ev, err := rec.Event()
	if err != nil {
		return "", fmt.Errorf("decode billing event %s: %w", eventID, err)
	}
	return r.process(ctx, rec, ev)
}

// Stats summarizes events received since the given time.
func (r *Reconciler) Stats(ctx context.Context, since time.Time) (Stats, error) {
	return r.store.Stats(ctx, since)
}

// Cleanup removes processed events older than olderThan. Failed and pending
// events are kept for triage.
func (r *Reconciler) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := r.now().Add(-olderThan)
	n, err := r.store.DeleteProcessed(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	r.logger.InfoContext(ctx, "cleaned up billing events",
		slog.Int64("deleted", n), slog.Time("cutoff", cutoff))
	return n, nil
}

// Housekeep reports event health over the retention window, then removes
// processed events older than it.
func (r *Reconciler) Housekeep(ctx context.Context, retention time.Duration) (Stats, int64, error) {
	st, err := r.Stats(ctx, r.now().Add(-retention))
	if err != nil {
		return Stats{}, 0, err
	}
	attrs := []any{
		slog.Int("total", st.Total),
		slog.Int("processed", st.Processed),
		slog.Int("failed", st.Failed),
		slog.Int("pending", st.Pending),
		slog.Float64("success_rate", st.SuccessRate),
	}
	if st.Failed > 0 {
		r.logger.WarnContext(ctx, "billing events awaiting triage", attrs...)
	} else {
		r.logger.InfoContext(ctx, "billing event stats", attrs...)
	}

	n, err := r.Cleanup(ctx, retention)
	if err != nil {
		return st, 0, err
	}
	return st, n, nil
}

func (r *Reconciler) dispatchEvent(ctx context.Context, rec *Record, ev Event) (Outcome, error) {
	if r.enqueuer == nil || r.dispatch.Mode(ev.Type) == DispatchSync {
		return r.process(ctx, rec, ev)
	}

	if _, err := r.enqueuer.Enqueue(ctx, ProcessJob{EventID: ev.ID},
		queue.WithQueue(r.queue), queue.WithDelay(r.delay)); err != nil {
		r.logger.ErrorContext(ctx, "failed to queue billing event",
			logger.EventID(ev.ID), logger.EventType(ev.Type), logger.Error(err))
		return r.fail(ctx, rec, err)
	}

	now := r.now()
	rec.Status = StatusQueued
	rec.QueuedAt = &now
	if err := r.store.Update(ctx, rec); err != nil {
		return "", err
	}
	r.logger.InfoContext(ctx, "billing event queued",
		logger.EventID(ev.ID), logger.EventType(ev.Type), slog.Duration("delay", r.delay))
	r.metrics.observe(ev.Type, OutcomeQueued)
	return OutcomeQueued, nil
}

func (r *Reconciler) process(ctx context.Context, rec *Record, ev Event) (Outcome, error) {
	started := r.now()
	rec.Status = StatusProcessing
	rec.ProcessingStartedAt = &started
	if err := r.store.Update(ctx, rec); err != nil {
		return "", err
	}

	res, err := r.apply(ctx, rec, ev)
	if err != nil {
		r.logger.ErrorContext(ctx, "billing event processing failed",
			logger.EventID(ev.ID), logger.EventType(ev.Type), logger.Error(err))
		outcome, saveErr := r.fail(ctx, rec, err)
		if errors.Is(err, ErrOwnerUnresolvable) && r.triage != nil {
			if nerr := r.triage.Notify(ctx, *rec, err); nerr != nil {
				r.logger.ErrorContext(ctx, "failed to send billing triage notice",
					logger.EventID(ev.ID), logger.Error(nerr))
			}
		}
		return outcome, saveErr
	}

	done := r.now()
	rec.Status = StatusProcessed
	rec.Error = ""
	rec.ProcessedAt = &done
	if err := r.store.Update(ctx, rec); err != nil {
		return "", err
	}
	r.logger.InfoContext(ctx, "billing event processed",
		logger.EventID(ev.ID), logger.EventType(ev.Type), slog.Duration("took", done.Sub(started)))
	r.metrics.observe(ev.Type, OutcomeProcessed)
	r.notifyOwner(ctx, ev, res)
	return OutcomeProcessed, nil
}

func (r *Reconciler) fail(ctx context.Context, rec *Record, cause error) (Outcome, error) {
	done := r.now()
	rec.Status = StatusFailed
	rec.Error = cause.Error()
	rec.ProcessedAt = &done
	if err := r.store.Update(ctx, rec); err != nil {
		return "", err
	}
	r.metrics.observe(rec.Type, OutcomeFailed)
	return OutcomeFailed, nil
}

// applied is what processing an event did.
type applied struct {
	owner owner.Billable
	sub   *ledger.Subscription
	moved bool
}

// apply maps ev to a ledger move and runs it. Events of types in the owner
// table fail when their owner is unknown. Event types without a ledger
// meaning are acknowledged once their owner, if any, is noted.
func (r *Reconciler) apply(ctx context.Context, rec *Record, ev Event) (applied, error) {
	move, ok, err := r.translate(ctx, ev)
	if err != nil {
		return applied{}, err
	}

	b, err := r.resolveOwner(ctx, ev)
	if err != nil {
		if r.owned.Required(ev.Type) {
			return applied{}, err
		}
		r.logger.DebugContext(ctx, "billing event recorded without owner",
			logger.EventID(ev.ID), logger.EventType(ev.Type))
		return applied{}, nil
	}
	ref := owner.RefOf(b)
	rec.Owner = &ref
	if !ok {
		r.logger.DebugContext(ctx, "billing event recorded without ledger change",
			logger.EventID(ev.ID), logger.EventType(ev.Type), logger.OwnerID(ref.ID))
		return applied{owner: b}, nil
	}

	sub, err := r.ledger.Apply(ctx, b, move.event, move.data)
	if err != nil {
		return applied{}, err
	}
	return applied{owner: b, sub: sub, moved: true}, nil
}

// notifyOwner sends the notice for an applied event. Failures are logged;
// the event stays processed.
func (r *Reconciler) notifyOwner(ctx context.Context, ev Event, res applied) {
	kind, ok := notices[ev.Type]
	if r.notifier == nil || res.owner == nil || !ok {
		return
	}
	if kind != NoticeTrialEnding && (!res.moved || res.sub == nil || !noticeFits(kind, res.sub.Status)) {
		return
	}

	n := Notice{Kind: kind, EventID: ev.ID}
	if res.sub != nil {
		n.PlanID = res.sub.PlanID
		n.PeriodEnd = res.sub.CurrentPeriodEnd
		n.TrialEndsAt = res.sub.TrialEndsAt
	}
	if ev.Subscription != nil && ev.Subscription.TrialEnd != nil {
		n.TrialEndsAt = ev.Subscription.TrialEnd
	}
	if kind == NoticeWelcome && res.sub.Status != ledger.StatusTrialing {
		n.TrialEndsAt = nil
	}

	if err := r.notifier.NotifyOwner(ctx, res.owner, n); err != nil {
		r.logger.WarnContext(ctx, "failed to notify billing owner",
			logger.EventID(ev.ID),
			logger.OwnerID(res.owner.OwnerID()),
			slog.String("notice", string(kind)),
			logger.Error(err))
	}
}

type move struct {
	event ledger.Event
	data  ledger.EventData
}

// translate maps a provider event to a ledger move. ok is false for events
// that change nothing in the ledger.
func (r *Reconciler) translate(ctx context.Context, ev Event) (m move, ok bool, err error) {
	sub := ev.Subscription
	data := ledger.EventData{ProviderCustomerID: ev.CustomerID}
	if sub != nil {
		data.ProviderSubscriptionID = sub.ID
		data.CurrentPeriodEnd = sub.CurrentPeriodEnd
	}

	switch ev.Type {
	case TypeCheckoutCompleted:
		if sub == nil || sub.ID == "" {
			// Setup or one-off payment sessions carry no subscription.
			return move{}, false, nil
		}
		data.PlanID = r.planID(ctx, ev)
		data.TrialEndsAt = sub.TrialEnd
		return move{event: ledger.EventCheckoutCompleted, data: data}, true, nil

	case TypeSubscriptionCreated, TypeSubscriptionUpdated:
		if sub == nil {
			return move{}, false, fmt.Errorf("%w: %s without subscription", ErrInvalidEvent, ev.Type)
		}
		if !sub.Status.Valid() {
			return move{}, false, fmt.Errorf("%w: %q", ErrUnknownStatus, sub.Status)
		}
		data.Status = sub.Status
		data.PlanID = r.planID(ctx, ev)
		data.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
		data.TrialEndsAt = sub.TrialEnd
		return move{event: ledger.EventSynced, data: data}, true, nil

	case TypeSubscriptionDeleted:
		return move{event: ledger.EventCanceled, data: data}, true, nil

	case TypeInvoicePaymentFailed:
		return move{event: ledger.EventPaymentFailed, data: data}, true, nil

	case TypeInvoicePaid, TypeInvoicePaymentSucceeded:
		return move{event: ledger.EventPaymentSucceeded, data: data}, true, nil
	}
	return move{}, false, nil
}

// planID prefers the plan id written to metadata at checkout and falls back
// to the plan sold under the subscription's price.
func (r *Reconciler) planID(ctx context.Context, ev Event) string {
	if id := ev.Metadata[MetaPlanID]; id != "" {
		return id
	}
	if r.prices == nil || ev.Subscription == nil || ev.Subscription.PriceID == "" {
		return ""
	}
	p, err := r.prices.ByPriceID(ev.Subscription.PriceID)
	if err != nil {
		r.logger.WarnContext(ctx, "no plan for provider price",
			logger.EventID(ev.ID), logger.ExternalRef(ev.Subscription.PriceID))
		return ""
	}
	return p.ID
}

// resolveOwner finds the tenant or club an event is about: explicit
// metadata first, then the provider customer id.
func (r *Reconciler) resolveOwner(ctx context.Context, ev Event) (owner.Billable, error) {
	md := ev.Metadata
	var (
		rawID string
		kind  owner.Kind
	)
	switch {
	case md[MetaOwnerID] != "":
		rawID = md[MetaOwnerID]
		k, err := owner.ParseKind(md[MetaOwnerType])
		if err != nil {
			return nil, errors.Join(ErrOwnerUnresolvable, err)
		}
		kind = k
	case md[MetaClubID] != "":
		rawID, kind = md[MetaClubID], owner.KindClub
	case md[MetaTenantID] != "":
		rawID, kind = md[MetaTenantID], owner.KindTenant
	}

	if rawID != "" {
		id, err := uuid.Parse(rawID)
		if err != nil {
			return nil, fmt.Errorf("%w: bad owner id %q", ErrOwnerUnresolvable, rawID)
		}
		b, err := r.owners.Get(ctx, owner.Ref{ID: id, Kind: kind})
		if err != nil {
			return nil, errors.Join(ErrOwnerUnresolvable, err)
		}
		return b, nil
	}

	if ev.CustomerID != "" {
		b, err := r.owners.FindByCustomerID(ctx, ev.CustomerID)
		if err != nil {
			return nil, errors.Join(ErrOwnerUnresolvable, fmt.Errorf("customer %s: %w", ev.CustomerID, err))
		}
		return b, nil
	}
	return nil, fmt.Errorf("%w: no owner metadata or customer id", ErrOwnerUnresolvable)
}
