package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/clubbilling/pkg/ledger"
	"github.com/dmitrymomot/clubbilling/pkg/logger"
	"github.com/dmitrymomot/clubbilling/pkg/owner"
	"github.com/dmitrymomot/clubbilling/pkg/pg/pgtest"
	"github.com/dmitrymomot/clubbilling/pkg/plan"
)

func TestPGStore(t *testing.T) {
	pool := pgtest.Pool(t)
	ctx := context.Background()
	store := ledger.NewPGStore(pool)
	clk := newClock()
	led := ledger.New(store, newCatalog(t),
		ledger.WithLogger(logger.Discard()),
		ledger.WithClock(clk.Now))

	club := newClub()
	ref := owner.RefOf(club)

	_, err := store.Get(ctx, ref)
	require.ErrorIs(t, err, ledger.ErrSubscriptionNotFound)

	created, err := led.AssignPlan(ctx, club, mustPlan(t, "club-pro"), ledger.AssignOptions{PaymentMethodAttached: true})
	require.NoError(t, err)

	stored, err := store.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)
	assert.Equal(t, ledger.StatusActive, stored.Status)
	assert.Equal(t, "club-pro", stored.PlanID)
	assert.Equal(t, tenantID, stored.TenantID)
	require.NotNil(t, stored.CurrentPeriodEnd)
	assert.True(t, created.CurrentPeriodEnd.Equal(*stored.CurrentPeriodEnd))

	t.Run("due lists scheduled cancellations", func(t *testing.T) {
		_, err := led.Cancel(ctx, club, false)
		require.NoError(t, err)

		refs, err := store.Due(ctx, clk.Now(), clk.Now())
		require.NoError(t, err)
		assert.Empty(t, refs)

		refs, err = store.Due(ctx, clk.Now().AddDate(0, 2, 0), clk.Now())
		require.NoError(t, err)
		assert.Equal(t, []owner.Ref{ref}, refs)
	})

	t.Run("due lists trials scheduled to cancel", func(t *testing.T) {
		trialing := &owner.Club{ID: uuid.New(), TenantID: tenantID}
		_, err := led.AssignPlan(ctx, trialing, mustPlan(t, "club-starter"), ledger.AssignOptions{StartTrial: true})
		require.NoError(t, err)
		_, err = led.Cancel(ctx, trialing, false)
		require.NoError(t, err)

		refs, err := store.Due(ctx, clk.Now().AddDate(0, 0, 8), clk.Now())
		require.NoError(t, err)
		assert.Equal(t, []owner.Ref{owner.RefOf(trialing)}, refs)
	})

	t.Run("updates are serialized per owner", func(t *testing.T) {
		other := &owner.Club{ID: uuid.New(), TenantID: tenantID}
		_, err := led.AssignPlan(ctx, other, mustPlan(t, "club-pro"), ledger.AssignOptions{PaymentMethodAttached: true})
		require.NoError(t, err)

		var wg sync.WaitGroup
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = led.Apply(ctx, other, ledger.EventPaymentFailed, ledger.EventData{})
			}()
		}
		wg.Wait()

		sub, err := store.Get(ctx, owner.RefOf(other))
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusPastDue, sub.Status)
		assert.Equal(t, int64(11), sub.Version)
	})

	t.Run("sweep cancels after the period", func(t *testing.T) {
		clk.Advance(40 * 24 * time.Hour)
		report, err := led.Sweep(ctx)
		require.NoError(t, err)
		assert.Empty(t, report.Errors)
		assert.GreaterOrEqual(t, report.Canceled, 1)

		sub, err := store.Get(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusCanceled, sub.Status)
		assert.False(t, sub.CancelAtPeriodEnd)
	})
}

func mustPlan(t *testing.T, id string) plan.Plan {
	t.Helper()
	p, err := newCatalog(t).Get(id)
	require.NoError(t, err)
	return p
}
