package usage_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/clubbilling/pkg/logger"
	"github.com/dmitrymomot/clubbilling/pkg/owner"
	"github.com/dmitrymomot/clubbilling/pkg/plan"
	"github.com/dmitrymomot/clubbilling/pkg/usage"
)

var tenantID = uuid.MustParse("0b5d3a1e-7a64-4c1e-9f0a-2d9e8c7b6a51")

func newCatalog(t *testing.T) *plan.Catalog {
	t.Helper()
	c, err := plan.NewCatalog(context.Background(), plan.NewInMemSource(
		plan.Plan{
			ID:    "tier-basic",
			Scope: plan.ScopePlatform,
			Tier:  owner.TierBasic,
			Limits: map[plan.Metric]int64{
				plan.MaxTeams:   plan.Unlimited,
				plan.MaxPlayers: 100,
			},
		},
		plan.Plan{
			ID:       "club-small",
			Scope:    plan.ScopeClub,
			TenantID: tenantID,
			Limits: map[plan.Metric]int64{
				plan.MaxTeams:   2,
				plan.MaxPlayers: 10,
			},
		},
		plan.Plan{
			ID:       "club-large",
			Scope:    plan.ScopeClub,
			TenantID: tenantID,
			Limits: map[plan.Metric]int64{
				plan.MaxTeams:   plan.Unlimited,
				plan.MaxPlayers: 50,
			},
		},
	), plan.WithLogger(logger.Discard()))
	require.NoError(t, err)
	return c
}

// fixedCounts serves counts per owner from a map.
func fixedCounts(counts map[owner.Ref]int64) usage.CounterFunc {
	return func(_ context.Context, o owner.Ref) (int64, error) {
		return counts[o], nil
	}
}

func newClub(planID string) *owner.Club {
	return &owner.Club{ID: uuid.New(), TenantID: tenantID, PlanID: planID}
}

func TestTracker_CheckLimit(t *testing.T) {
	t.Parallel()

	club := newClub("club-small")
	ref := owner.RefOf(club)

	reg := usage.NewRegistry()
	reg.Register(plan.MaxPlayers, fixedCounts(map[owner.Ref]int64{ref: 9}))
	reg.Register(plan.MaxTeams, fixedCounts(map[owner.Ref]int64{ref: 2}))
	tracker := usage.NewTracker(newCatalog(t), reg, usage.WithLogger(logger.Discard()))
	ctx := context.Background()

	t.Run("under the cap", func(t *testing.T) {
		t.Parallel()
		c, err := tracker.CheckLimit(ctx, club, plan.MaxPlayers, 1)
		require.NoError(t, err)
		assert.True(t, c.Allowed)
		assert.Equal(t, int64(9), c.Current)
		assert.Equal(t, int64(10), c.Limit)
	})

	t.Run("over the cap", func(t *testing.T) {
		t.Parallel()
		c, err := tracker.CheckLimit(ctx, club, plan.MaxPlayers, 2)
		require.ErrorIs(t, err, usage.ErrLimitExceeded)
		assert.False(t, c.Allowed)

		var lerr *usage.LimitExceededError
		require.ErrorAs(t, err, &lerr)
		assert.Equal(t, ref, lerr.Owner)
		assert.Equal(t, plan.MaxPlayers, lerr.Metric)
		assert.InDelta(t, 90.0, lerr.Percentage, 0.001)
	})

	t.Run("unknown metric has a cap of zero", func(t *testing.T) {
		t.Parallel()
		reg := usage.NewRegistry()
		reg.Register(plan.MaxStorageGB, fixedCounts(nil))
		tr := usage.NewTracker(newCatalog(t), reg, usage.WithLogger(logger.Discard()))
		_, err := tr.CheckLimit(ctx, club, plan.MaxStorageGB, 1)
		assert.ErrorIs(t, err, usage.ErrLimitExceeded)
	})

	t.Run("unlimited never counts", func(t *testing.T) {
		t.Parallel()
		reg := usage.NewRegistry()
		reg.Register(plan.MaxTeams, func(context.Context, owner.Ref) (int64, error) {
			return 0, errors.New("must not be called")
		})
		tr := usage.NewTracker(newCatalog(t), reg, usage.WithLogger(logger.Discard()))
		c, err := tr.CheckLimit(ctx, newClub("club-large"), plan.MaxTeams, 1000)
		require.NoError(t, err)
		assert.True(t, c.Allowed)
	})

	t.Run("owner without plan gets zero limits", func(t *testing.T) {
		t.Parallel()
		_, err := tracker.CheckLimit(ctx, newClub(""), plan.MaxPlayers, 1)
		assert.ErrorIs(t, err, usage.ErrLimitExceeded)
	})

	t.Run("club on another tenant's plan", func(t *testing.T) {
		t.Parallel()
		stray := &owner.Club{ID: uuid.New(), TenantID: uuid.New(), PlanID: "club-small"}
		_, err := tracker.CheckLimit(ctx, stray, plan.MaxPlayers, 1)
		assert.ErrorIs(t, err, plan.ErrTenantMismatch)
	})

	t.Run("missing counter", func(t *testing.T) {
		t.Parallel()
		tr := usage.NewTracker(newCatalog(t), nil, usage.WithLogger(logger.Discard()))
		_, err := tr.CheckLimit(ctx, club, plan.MaxPlayers, 1)
		assert.ErrorIs(t, err, usage.ErrNoCounter)
	})

	t.Run("counter failure", func(t *testing.T) {
		t.Parallel()
		reg := usage.NewRegistry()
		reg.Register(plan.MaxPlayers, func(context.Context, owner.Ref) (int64, error) {
			return 0, errors.New("db down")
		})
		tr := usage.NewTracker(newCatalog(t), reg, usage.WithLogger(logger.Discard()))
		_, err := tr.CheckLimit(ctx, club, plan.MaxPlayers, 1)
		assert.ErrorIs(t, err, usage.ErrCountFailed)
	})
}

func TestTracker_CurrentUsage_ClampsNegative(t *testing.T) {
	t.Parallel()

	reg := usage.NewRegistry()
	reg.Register(plan.MaxPlayers, func(context.Context, owner.Ref) (int64, error) { return -3, nil })
	tracker := usage.NewTracker(newCatalog(t), reg, usage.WithLogger(logger.Discard()))

	n, err := tracker.CurrentUsage(context.Background(), newClub("club-small"), plan.MaxPlayers)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestTracker_UsagePercentage(t *testing.T) {
	t.Parallel()

	small := newClub("club-small")
	large := newClub("club-large")
	counts := map[owner.Ref]int64{
		owner.RefOf(small): 9,
		owner.RefOf(large): 17,
	}
	reg := usage.NewRegistry()
	reg.Register(plan.MaxPlayers, fixedCounts(counts))
	reg.Register(plan.MaxTeams, fixedCounts(counts))
	reg.Register(plan.MaxStorageGB, fixedCounts(counts))
	tracker := usage.NewTracker(newCatalog(t), reg, usage.WithLogger(logger.Discard()))
	ctx := context.Background()

	pct, err := tracker.UsagePercentage(ctx, small, plan.MaxPlayers)
	require.NoError(t, err)
	assert.InDelta(t, 90.0, pct, 0.001)

	pct, err = tracker.UsagePercentage(ctx, large, plan.MaxPlayers)
	require.NoError(t, err)
	assert.InDelta(t, 34.0, pct, 0.001)

	pct, err = tracker.UsagePercentage(ctx, large, plan.MaxTeams)
	require.NoError(t, err)
	assert.Zero(t, pct, "unlimited")

	pct, err = tracker.UsagePercentage(ctx, small, plan.MaxStorageGB)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, pct, 0.001, "cap of zero")

	pct, err = tracker.UsagePercentage(ctx, small, plan.MaxTeams)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, pct, 0.001, "capped at 100")

	near, err := tracker.IsApproachingLimit(ctx, small, plan.MaxPlayers)
	require.NoError(t, err)
	assert.True(t, near)

	near, err = tracker.IsApproachingLimit(ctx, large, plan.MaxPlayers)
	require.NoError(t, err)
	assert.False(t, near)
}

func TestTracker_AllUsage(t *testing.T) {
	t.Parallel()

	club := newClub("club-small")
	ref := owner.RefOf(club)
	reg := usage.NewRegistry()
	reg.Register(plan.MaxPlayers, fixedCounts(map[owner.Ref]int64{ref: 12}))
	reg.Register(plan.MaxTeams, fixedCounts(map[owner.Ref]int64{ref: 1}))
	tracker := usage.NewTracker(newCatalog(t), reg, usage.WithLogger(logger.Discard()))

	rows, err := tracker.AllUsage(context.Background(), club)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	players, teams := rows[0], rows[1]
	assert.Equal(t, plan.MaxPlayers, players.Metric)
	assert.True(t, players.OverLimit)
	assert.False(t, players.NearLimit)
	assert.Equal(t, int64(0), players.Remaining)

	assert.Equal(t, plan.MaxTeams, teams.Metric)
	assert.Equal(t, int64(1), teams.Remaining)
	assert.InDelta(t, 50.0, teams.Percentage, 0.001)
	assert.False(t, teams.OverLimit)
}

func TestTracker_CheckMany(t *testing.T) {
	t.Parallel()

	a, b, c := newClub("club-small"), newClub("club-small"), newClub("club-large")
	counts := map[owner.Ref]int64{
		owner.RefOf(a): 9,
		owner.RefOf(b): 10,
		owner.RefOf(c): 1,
	}
	reg := usage.NewRegistry()
	reg.Register(plan.MaxPlayers, fixedCounts(counts))
	tracker := usage.NewTracker(newCatalog(t), reg, usage.WithLogger(logger.Discard()))
	ctx := context.Background()

	t.Run("names every failing owner", func(t *testing.T) {
		t.Parallel()
		err := tracker.CheckMany(ctx, []usage.Requirement{
			{Owner: a, Metric: plan.MaxPlayers, Increment: 1},
			{Owner: a, Metric: plan.MaxPlayers, Increment: 1}, // summed to 2
			{Owner: b, Metric: plan.MaxPlayers, Increment: 1},
			{Owner: c, Metric: plan.MaxPlayers, Increment: 1},
		})
		var merr *usage.MultiLimitError
		require.ErrorAs(t, err, &merr)
		assert.ErrorIs(t, err, usage.ErrLimitExceeded)
		require.Len(t, merr.Violations, 2)
		assert.Equal(t, []owner.Ref{owner.RefOf(a), owner.RefOf(b)}, merr.Owners())
		assert.Equal(t, int64(2), merr.Violations[0].Increment)
	})

	t.Run("all pass", func(t *testing.T) {
		t.Parallel()
		err := tracker.CheckMany(ctx, []usage.Requirement{
			{Owner: a, Metric: plan.MaxPlayers, Increment: 1},
			{Owner: c, Metric: plan.MaxPlayers, Increment: 5},
		})
		assert.NoError(t, err)
	})
}

func TestTracker_CanDowngrade(t *testing.T) {
	t.Parallel()

	catalog := newCatalog(t)
	small, err := catalog.Get("club-small")
	require.NoError(t, err)

	club := newClub("club-large")
	ref := owner.RefOf(club)
	ctx := context.Background()

	t.Run("usage fits", func(t *testing.T) {
		t.Parallel()
		reg := usage.NewRegistry()
		reg.Register(plan.MaxPlayers, fixedCounts(map[owner.Ref]int64{ref: 10}))
		reg.Register(plan.MaxTeams, fixedCounts(map[owner.Ref]int64{ref: 2}))
		tracker := usage.NewTracker(catalog, reg, usage.WithLogger(logger.Discard()))
		assert.NoError(t, tracker.CanDowngrade(ctx, club, small))
	})

	t.Run("unlimited teams over the new cap", func(t *testing.T) {
		t.Parallel()
		reg := usage.NewRegistry()
		reg.Register(plan.MaxPlayers, fixedCounts(map[owner.Ref]int64{ref: 11}))
		reg.Register(plan.MaxTeams, fixedCounts(map[owner.Ref]int64{ref: 3}))
		tracker := usage.NewTracker(catalog, reg, usage.WithLogger(logger.Discard()))

		err := tracker.CanDowngrade(ctx, club, small)
		require.ErrorIs(t, err, usage.ErrCannotDowngrade)
		var merr *usage.MultiLimitError
		require.ErrorAs(t, err, &merr)
		assert.Len(t, merr.Violations, 2)
	})

	t.Run("platform plan for a club", func(t *testing.T) {
		t.Parallel()
		tier, err := catalog.Get("tier-basic")
		require.NoError(t, err)
		tracker := usage.NewTracker(catalog, nil, usage.WithLogger(logger.Discard()))
		assert.ErrorIs(t, tracker.CanDowngrade(ctx, club, tier), plan.ErrScopeMismatch)
	})
}

func TestTracker_Metrics(t *testing.T) {
	t.Parallel()

	club := newClub("club-small")
	reg := usage.NewRegistry()
	reg.Register(plan.MaxPlayers, fixedCounts(map[owner.Ref]int64{owner.RefOf(club): 10}))

	promReg := prometheus.NewRegistry()
	tracker := usage.NewTracker(newCatalog(t), reg,
		usage.WithLogger(logger.Discard()),
		usage.WithMetrics(promReg))

	_, err := tracker.CheckLimit(context.Background(), club, plan.MaxPlayers, 1)
	require.Error(t, err)

	n, err := testutil.GatherAndCount(promReg, "usage_limit_denied_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRegistry_RegisterNilPanics(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { usage.NewRegistry().Register(plan.MaxTeams, nil) })
}
