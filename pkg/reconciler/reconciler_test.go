package reconciler_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/clubbilling/pkg/ledger"
	"github.com/dmitrymomot/clubbilling/pkg/logger"
	"github.com/dmitrymomot/clubbilling/pkg/owner"
	"github.com/dmitrymomot/clubbilling/pkg/plan"
	"github.com/dmitrymomot/clubbilling/pkg/queue"
	"github.com/dmitrymomot/clubbilling/pkg/reconciler"
)

var tenantID = uuid.MustParse("9a4b2c1d-7e6f-4a5b-8c9d-0e1f2a3b4c5d")

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type triageMock struct {
	mock.Mock
}

func (m *triageMock) Notify(ctx context.Context, rec reconciler.Record, cause error) error {
	return m.Called(ctx, rec.EventID, cause).Error(0)
}

type env struct {
	rec     *reconciler.Reconciler
	store   *reconciler.MemoryStore
	ledger  *ledger.Ledger
	owners  *owner.MemoryRepository
	jobs    *queue.MemoryStorage
	worker  *queue.Worker
	clock   *clock
	reg     *prometheus.Registry
	club    owner.Club
	triage  *triageMock
	catalog *plan.Catalog
}

func newEnv(t *testing.T, opts ...reconciler.Option) *env {
	t.Helper()
	ctx := context.Background()

	e := &env{
		store:  reconciler.NewMemoryStore(),
		owners: owner.NewMemoryRepository(),
		clock:  &clock{now: time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)},
		reg:    prometheus.NewRegistry(),
		triage: &triageMock{},
	}

	catalog, err := plan.NewCatalog(ctx, plan.NewInMemSource(
		plan.Plan{
			ID: "club-monthly", Scope: plan.ScopeClub, TenantID: tenantID,
			Price: plan.Money{Amount: 1500, Currency: "EUR"}, Interval: plan.IntervalMonthly,
			ProductID: "prod_club", PriceID: "price_club_monthly",
		},
		plan.Plan{
			ID: "club-yearly", Scope: plan.ScopeClub, TenantID: tenantID,
			Price: plan.Money{Amount: 15000, Currency: "EUR"}, Interval: plan.IntervalYearly,
			ProductID: "prod_club", PriceID: "price_club_yearly",
		},
	), plan.WithLogger(logger.Discard()))
	require.NoError(t, err)
	e.catalog = catalog

	e.club = owner.Club{ID: uuid.New(), TenantID: tenantID, Email: "club@example.com", StripeCustomerID: "cus_club"}
	e.owners.PutClub(e.club)

	e.ledger = ledger.New(ledger.NewMemoryStore(), catalog,
		ledger.WithLogger(logger.Discard()),
		ledger.WithClock(e.clock.Now),
		ledger.WithPlanWriter(e.owners))

	e.jobs = queue.NewMemoryStorage().WithClock(e.clock.Now)
	enq, err := queue.NewEnqueuer(e.jobs, queue.WithEnqueuerClock(e.clock.Now))
	require.NoError(t, err)

	base := []reconciler.Option{
		reconciler.WithLogger(logger.Discard()),
		reconciler.WithClock(e.clock.Now),
		reconciler.WithPlans(catalog),
		reconciler.WithEnqueuer(enq),
		reconciler.WithTriage(e.triage),
		reconciler.WithMetrics(e.reg),
	}
	e.rec = reconciler.New(e.store, e.ledger, e.owners, append(base, opts...)...)

	e.worker, err = queue.NewWorker(e.jobs,
		queue.WithQueues(e.rec.Queue()),
		queue.WithWorkerLogger(logger.Discard()),
		queue.WithWorkerClock(e.clock.Now))
	require.NoError(t, err)
	e.worker.Register(e.rec.Handler())
	return e
}

func (e *env) checkout(id string) reconciler.Event {
	end := e.clock.Now().AddDate(0, 1, 0)
	return reconciler.Event{
		ID:         id,
		Type:       reconciler.TypeCheckoutCompleted,
		CustomerID: "cus_club",
		Metadata: map[string]string{
			reconciler.MetaClubID:   e.club.ID.String(),
			reconciler.MetaTenantID: tenantID.String(),
			reconciler.MetaPlanID:   "club-monthly",
		},
		Subscription: &reconciler.SubscriptionState{ID: "sub_1", Status: ledger.StatusActive, CurrentPeriodEnd: &end},
	}
}

func (e *env) sub(t *testing.T) *ledger.Subscription {
	t.Helper()
	sub, err := e.ledger.Get(context.Background(), owner.RefOf(&e.club))
	require.NoError(t, err)
	return sub
}

func (e *env) record(t *testing.T, id string) *reconciler.Record {
	t.Helper()
	rec, err := e.store.Get(context.Background(), id)
	require.NoError(t, err)
	return rec
}

func TestReceive_FastPath(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	outcome, err := e.rec.Receive(ctx, e.checkout("evt_checkout"))
	require.NoError(t, err)
	assert.Equal(t, reconciler.OutcomeProcessed, outcome)

	sub := e.sub(t)
	assert.Equal(t, ledger.StatusActive, sub.Status)
	assert.Equal(t, "club-monthly", sub.PlanID)
	assert.Equal(t, "sub_1", sub.ProviderSubscriptionID)

	rec := e.record(t, "evt_checkout")
	assert.Equal(t, reconciler.StatusProcessed, rec.Status)
	require.NotNil(t, rec.Owner)
	assert.Equal(t, owner.RefOf(&e.club), *rec.Owner)
	assert.NotNil(t, rec.ProcessingStartedAt)
	assert.NotNil(t, rec.ProcessedAt)

	stored, err := e.owners.Get(ctx, owner.RefOf(&e.club))
	require.NoError(t, err)
	planID, _ := stored.AssignedPlan()
	assert.Equal(t, "club-monthly", planID)

	expected := `
# HELP billing_events_total Total number of billing provider events by type and outcome
# TYPE billing_events_total counter
billing_events_total{outcome="processed",type="checkout.session.completed"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(e.reg, strings.NewReader(expected), "billing_events_total"))
}

func TestReceive_Idempotent(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	failed := reconciler.Event{ID: "evt_fail", Type: reconciler.TypeInvoicePaymentFailed, CustomerID: "cus_club"}

	_, err := e.rec.Receive(ctx, e.checkout("evt_checkout"))
	require.NoError(t, err)
	outcome, err := e.rec.Receive(ctx, failed)
	require.NoError(t, err)
	require.Equal(t, reconciler.OutcomeProcessed, outcome)
	first := e.sub(t)
	require.Equal(t, ledger.StatusPastDue, first.Status)

	e.clock.Advance(time.Hour)
	for range 3 {
		outcome, err = e.rec.Receive(ctx, failed)
		require.NoError(t, err)
		assert.Equal(t, reconciler.OutcomeAlreadyProcessed, outcome)
	}
	again := e.sub(t)
	assert.Equal(t, first.Version, again.Version, "redelivery never reaches the ledger")
	assert.Equal(t, first.PastDueSince, again.PastDueSince)
}

func TestReceive_Queued(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.rec.Receive(ctx, e.checkout("evt_checkout"))
	require.NoError(t, err)

	cancel := true
	end := e.clock.Now().AddDate(0, 1, 0)
	updated := reconciler.Event{
		ID:         "evt_updated",
		Type:       reconciler.TypeSubscriptionUpdated,
		CustomerID: "cus_club",
		Subscription: &reconciler.SubscriptionState{
			ID:                "sub_1",
			Status:            ledger.StatusActive,
			PriceID:           "price_club_yearly",
			CurrentPeriodEnd:  &end,
			CancelAtPeriodEnd: &cancel,
		},
	}
	outcome, err := e.rec.Receive(ctx, updated)
	require.NoError(t, err)
	assert.Equal(t, reconciler.OutcomeQueued, outcome)

	rec := e.record(t, "evt_updated")
	assert.Equal(t, reconciler.StatusQueued, rec.Status)
	require.NotNil(t, rec.QueuedAt)

	ran, err := e.worker.ProcessNext(ctx)
	require.NoError(t, err)
	assert.False(t, ran, "queued events wait for the delay")

	e.clock.Advance(5 * time.Second)
	ran, err = e.worker.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, ran)

	assert.Equal(t, reconciler.StatusProcessed, e.record(t, "evt_updated").Status)
	sub := e.sub(t)
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.Equal(t, "club-yearly", sub.PlanID, "plan resolved from the price")

	outcome, err = e.rec.ProcessQueued(ctx, "evt_updated")
	require.NoError(t, err)
	assert.Equal(t, reconciler.OutcomeAlreadyProcessed, outcome)
}

func TestReceive_UnresolvableOwner(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	ev := reconciler.Event{ID: "evt_orphan", Type: reconciler.TypeSubscriptionDeleted, CustomerID: "cus_unknown"}
	e.triage.On("Notify", mock.Anything, "evt_orphan", mock.MatchedBy(func(err error) bool {
		return errors.Is(err, reconciler.ErrOwnerUnresolvable)
	})).Return(nil).Once()

	outcome, err := e.rec.Receive(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, reconciler.OutcomeFailed, outcome)

	rec := e.record(t, "evt_orphan")
	assert.Equal(t, reconciler.StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "cus_unknown")
	e.triage.AssertExpectations(t)

	outcome, err = e.rec.Receive(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, reconciler.OutcomeAlreadyProcessed, outcome, "a failed event is still a known event")
}

func TestRetry(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.rec.Receive(ctx, e.checkout("evt_checkout"))
	require.NoError(t, err)
	_, err = e.rec.Retry(ctx, "evt_checkout")
	require.ErrorIs(t, err, reconciler.ErrInvalidRetryState)

	_, err = e.rec.Retry(ctx, "evt_missing")
	require.ErrorIs(t, err, reconciler.ErrEventNotFound)

	ev := reconciler.Event{ID: "evt_late", Type: reconciler.TypeSubscriptionDeleted, CustomerID: "cus_new"}
	e.triage.On("Notify", mock.Anything, "evt_late", mock.Anything).Return(errors.New("smtp down")).Once()
	outcome, err := e.rec.Receive(ctx, ev)
	require.NoError(t, err)
	require.Equal(t, reconciler.OutcomeFailed, outcome)

	// The operator links the customer, then retries.
	e.club.StripeCustomerID = "cus_new"
	e.owners.PutClub(e.club)

	outcome, err = e.rec.Retry(ctx, "evt_late")
	require.NoError(t, err)
	assert.Equal(t, reconciler.OutcomeProcessed, outcome)

	rec := e.record(t, "evt_late")
	assert.Equal(t, reconciler.StatusProcessed, rec.Status)
	assert.Equal(t, 1, rec.RetryCount)
	assert.Empty(t, rec.Error)
	assert.Equal(t, ledger.StatusCanceled, e.sub(t).Status)
}

func TestReceive_NoLedgerChange(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	for _, ev := range []reconciler.Event{
		{ID: "evt_setup", Type: reconciler.TypeSetupIntentSucceeded, CustomerID: "cus_club"},
		{ID: "evt_payment_mode", Type: reconciler.TypeCheckoutCompleted, CustomerID: "cus_club"},
	} {
		outcome, err := e.rec.Receive(ctx, ev)
		require.NoError(t, err)
		assert.Equal(t, reconciler.OutcomeProcessed, outcome, ev.ID)
	}

	outcome, err := e.rec.Receive(ctx, reconciler.Event{ID: "evt_platform", Type: "account.updated"})
	require.NoError(t, err)
	require.Equal(t, reconciler.OutcomeQueued, outcome)
	e.clock.Advance(5 * time.Second)
	ran, err := e.worker.ProcessNext(ctx)
	require.NoError(t, err)
	require.True(t, ran)

	_, err = e.ledger.Get(ctx, owner.RefOf(&e.club))
	assert.ErrorIs(t, err, ledger.ErrSubscriptionNotFound)
	assert.NotNil(t, e.record(t, "evt_setup").Owner)
	platform := e.record(t, "evt_platform")
	assert.Equal(t, reconciler.StatusProcessed, platform.Status)
	assert.Nil(t, platform.Owner, "types outside the owner table need no owner")
}

func TestReceive_OwnedTypeWithoutOwner(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	e.triage.On("Notify", mock.Anything, "evt_setup_orphan", mock.MatchedBy(func(err error) bool {
		return errors.Is(err, reconciler.ErrOwnerUnresolvable)
	})).Return(nil).Once()

	outcome, err := e.rec.Receive(ctx, reconciler.Event{
		ID:         "evt_setup_orphan",
		Type:       reconciler.TypeSetupIntentSucceeded,
		CustomerID: "cus_nobody",
	})
	require.NoError(t, err)
	assert.Equal(t, reconciler.OutcomeFailed, outcome)

	rec := e.record(t, "evt_setup_orphan")
	assert.Equal(t, reconciler.StatusFailed, rec.Status)
	assert.Nil(t, rec.Owner)
	assert.Contains(t, rec.Error, "cus_nobody")
	e.triage.AssertExpectations(t)
}

func TestOwnerTable(t *testing.T) {
	t.Parallel()

	def := reconciler.NewOwnerTable()
	for _, typ := range reconciler.DefaultOwnedTypes {
		assert.True(t, def.Required(typ), typ)
	}
	assert.False(t, def.Required("account.updated"))

	custom := reconciler.NewOwnerTable(reconciler.TypeInvoicePaid)
	assert.True(t, custom.Required(reconciler.TypeInvoicePaid))
	assert.False(t, custom.Required(reconciler.TypeSetupIntentSucceeded))
}

func TestReceive_DeletionAfterImmediateCancel(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.rec.Receive(ctx, e.checkout("evt_checkout"))
	require.NoError(t, err)
	paidUntil := *e.sub(t).CurrentPeriodEnd

	_, err = e.ledger.Cancel(ctx, &e.club, true)
	require.NoError(t, err)

	e.clock.Advance(time.Minute)
	outcome, err := e.rec.Receive(ctx, reconciler.Event{
		ID:           "evt_deleted",
		Type:         reconciler.TypeSubscriptionDeleted,
		CustomerID:   "cus_club",
		Subscription: &reconciler.SubscriptionState{ID: "sub_1", Status: ledger.StatusCanceled, CurrentPeriodEnd: &paidUntil},
	})
	require.NoError(t, err)
	require.Equal(t, reconciler.OutcomeProcessed, outcome)

	sub := e.sub(t)
	assert.Equal(t, ledger.StatusCanceled, sub.Status)
	assert.True(t, sub.CurrentPeriodEnd.Before(paidUntil), "the echo keeps the cancellation time")

	_, err = e.ledger.Resume(ctx, &e.club)
	assert.ErrorIs(t, err, ledger.ErrGracePeriodExpired)
}

func TestReceive_Validation(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	_, err := e.rec.Receive(context.Background(), reconciler.Event{Type: reconciler.TypeInvoicePaid})
	assert.ErrorIs(t, err, reconciler.ErrInvalidEvent)
}

func TestReceive_ConcurrentDeliveries(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		processed int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := e.rec.Receive(ctx, e.checkout("evt_race"))
			assert.NoError(t, err)
			if outcome == reconciler.OutcomeProcessed {
				mu.Lock()
				processed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, processed)
	assert.Equal(t, int64(1), e.sub(t).Version)
}

func TestStatsAndCleanup(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	start := e.clock.Now()

	_, err := e.rec.Receive(ctx, e.checkout("evt_1"))
	require.NoError(t, err)
	_, err = e.rec.Receive(ctx, reconciler.Event{ID: "evt_2", Type: reconciler.TypeInvoicePaid, CustomerID: "cus_club"})
	require.NoError(t, err)
	e.triage.On("Notify", mock.Anything, "evt_3", mock.Anything).Return(nil)
	_, err = e.rec.Receive(ctx, reconciler.Event{ID: "evt_3", Type: reconciler.TypeInvoicePaymentFailed})
	require.NoError(t, err)

	st, err := e.rec.Stats(ctx, start)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 1, st.Processed)
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, 1, st.Pending, "invoice.paid waits in the queue")
	assert.InDelta(t, 33.33, st.SuccessRate, 0.001)
	assert.Equal(t, 1, st.ByType[reconciler.TypeCheckoutCompleted])

	e.clock.Advance(31 * 24 * time.Hour)
	n, err := e.rec.Cleanup(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "only processed events are removed")

	_, err = e.store.Get(ctx, "evt_1")
	assert.ErrorIs(t, err, reconciler.ErrEventNotFound)
	_, err = e.store.Get(ctx, "evt_3")
	assert.NoError(t, err)
}

func TestHousekeep(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	retention := 30 * 24 * time.Hour

	_, err := e.rec.Receive(ctx, e.checkout("evt_1"))
	require.NoError(t, err)
	e.triage.On("Notify", mock.Anything, "evt_2", mock.Anything).Return(nil)
	_, err = e.rec.Receive(ctx, reconciler.Event{ID: "evt_2", Type: reconciler.TypeInvoicePaymentFailed})
	require.NoError(t, err)

	e.clock.Advance(24 * time.Hour)
	st, n, err := e.rec.Housekeep(ctx, retention)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 1, st.Processed)
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, int64(0), n, "events inside the retention window stay")

	e.clock.Advance(retention)
	_, n, err = e.rec.Housekeep(ctx, retention)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = e.store.Get(ctx, "evt_2")
	assert.NoError(t, err, "failed events are kept for triage")
}

func TestDispatchTable(t *testing.T) {
	t.Parallel()

	def := reconciler.NewDispatchTable()
	assert.Equal(t, reconciler.DispatchSync, def.Mode(reconciler.TypeInvoicePaymentFailed))
	assert.Equal(t, reconciler.DispatchSync, def.Mode(reconciler.TypeCheckoutCompleted))
	assert.Equal(t, reconciler.DispatchQueued, def.Mode(reconciler.TypeSubscriptionUpdated))
	assert.Equal(t, reconciler.DispatchQueued, def.Mode("charge.refunded"))

	custom := reconciler.NewDispatchTable(reconciler.TypeInvoicePaid)
	assert.Equal(t, reconciler.DispatchSync, custom.Mode(reconciler.TypeInvoicePaid))
	assert.Equal(t, reconciler.DispatchQueued, custom.Mode(reconciler.TypeInvoicePaymentFailed))
}
