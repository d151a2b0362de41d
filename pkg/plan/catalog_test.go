package plan_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/clubbilling/pkg/logger"
	"github.com/dmitrymomot/clubbilling/pkg/owner"
	"github.com/dmitrymomot/clubbilling/pkg/plan"
)

var hoopsTenantID = uuid.MustParse("6f1c9a52-3a38-4bb4-9d5e-1f6a0c2b7e10")

func loadCatalog(t *testing.T) *plan.Catalog {
	t.Helper()
	c, err := plan.NewCatalog(context.Background(), plan.NewYAMLSource("testdata/plans.yaml"),
		plan.WithLogger(logger.Discard()))
	require.NoError(t, err)
	return c
}

func TestNewCatalog_YAML(t *testing.T) {
	t.Parallel()

	c := loadCatalog(t)

	basic, err := c.Get("tier-basic")
	require.NoError(t, err)
	assert.Equal(t, plan.ScopePlatform, basic.Scope)
	assert.Equal(t, plan.Money{Amount: 4900, Currency: "EUR"}, basic.Price)
	assert.Equal(t, int64(5), plan.GetLimit(basic, plan.MaxTeams))
	assert.False(t, basic.Synced)

	free, err := c.Get("tier-free")
	require.NoError(t, err)
	assert.True(t, free.Synced, "free plans are always synced")
	assert.Equal(t, 14, free.TrialDays)

	_, err = c.Get("missing")
	assert.ErrorIs(t, err, plan.ErrPlanNotFound)

	byPrice, err := c.ByPriceID("price_basic")
	require.NoError(t, err)
	assert.Equal(t, "tier-basic", byPrice.ID)

	_, err = c.ByPriceID("")
	assert.ErrorIs(t, err, plan.ErrPlanNotFound, "free plans have no price")
}

func TestNewCatalog_Validation(t *testing.T) {
	t.Parallel()

	valid := func() plan.Plan {
		return plan.Plan{
			ID:     "p",
			Scope:  plan.ScopePlatform,
			Tier:   owner.TierFree,
			Limits: map[plan.Metric]int64{plan.MaxTeams: 1},
		}
	}

	tests := []struct {
		name   string
		mutate func(p *plan.Plan)
	}{
		{name: "empty id", mutate: func(p *plan.Plan) { p.ID = "" }},
		{name: "negative trial", mutate: func(p *plan.Plan) { p.TrialDays = -1 }},
		{name: "limit below unlimited", mutate: func(p *plan.Plan) { p.Limits[plan.MaxTeams] = -2 }},
		{name: "free plan with price id", mutate: func(p *plan.Plan) { p.PriceID = "price_1" }},
		{name: "paid plan without interval", mutate: func(p *plan.Plan) { p.Price = plan.Money{Amount: 100, Currency: "EUR"} }},
		{name: "club plan without tenant", mutate: func(p *plan.Plan) { p.Scope = plan.ScopeClub; p.Tier = "" }},
		{name: "platform plan with tenant", mutate: func(p *plan.Plan) { p.TenantID = uuid.New() }},
		{name: "platform plan with bad tier", mutate: func(p *plan.Plan) { p.Tier = "gold" }},
		{name: "unknown scope", mutate: func(p *plan.Plan) { p.Scope = "global" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := valid()
			tt.mutate(&p)
			_, err := plan.NewCatalog(context.Background(), plan.NewInMemSource(p), plan.WithLogger(logger.Discard()))
			assert.ErrorIs(t, err, plan.ErrInvalidPlan)
		})
	}

	t.Run("duplicate ids", func(t *testing.T) {
		t.Parallel()
		a, b := valid(), valid()
		b.Tier = owner.TierBasic
		_, err := plan.NewCatalog(context.Background(), plan.NewInMemSource(a, b), plan.WithLogger(logger.Discard()))
		assert.ErrorIs(t, err, plan.ErrInvalidPlan)
	})

	t.Run("two plans for one tier", func(t *testing.T) {
		t.Parallel()
		a, b := valid(), valid()
		b.ID = "q"
		_, err := plan.NewCatalog(context.Background(), plan.NewInMemSource(a, b), plan.WithLogger(logger.Discard()))
		assert.ErrorIs(t, err, plan.ErrInvalidPlan)
	})

	t.Run("nil source", func(t *testing.T) {
		t.Parallel()
		_, err := plan.NewCatalog(context.Background(), nil)
		assert.ErrorIs(t, err, plan.ErrLoadPlans)
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := plan.NewCatalog(context.Background(), plan.NewYAMLSource("testdata/nope.yaml"))
		assert.ErrorIs(t, err, plan.ErrLoadPlans)
	})
}

func TestCatalog_ResolveActivePlan(t *testing.T) {
	t.Parallel()

	c := loadCatalog(t)
	ctx := context.Background()

	t.Run("tenant resolves by tier", func(t *testing.T) {
		t.Parallel()
		tenant := &owner.Tenant{ID: hoopsTenantID, SubscriptionTier: owner.TierBasic}
		p, err := c.ResolveActivePlan(ctx, tenant)
		require.NoError(t, err)
		assert.Equal(t, "tier-basic", p.ID)
	})

	t.Run("club resolves by plan id", func(t *testing.T) {
		t.Parallel()
		club := &owner.Club{ID: uuid.New(), TenantID: hoopsTenantID, PlanID: "hoops-pro"}
		p, err := c.ResolveActivePlan(ctx, club)
		require.NoError(t, err)
		assert.Equal(t, "hoops-pro", p.ID)
		assert.True(t, plan.IsUnlimited(plan.GetLimit(p, plan.MaxTeams)))
	})

	t.Run("club of another tenant", func(t *testing.T) {
		t.Parallel()
		club := &owner.Club{ID: uuid.New(), TenantID: uuid.New(), PlanID: "hoops-pro"}
		_, err := c.ResolveActivePlan(ctx, club)
		assert.ErrorIs(t, err, plan.ErrTenantMismatch)
	})

	t.Run("club on a platform plan", func(t *testing.T) {
		t.Parallel()
		club := &owner.Club{ID: uuid.New(), TenantID: hoopsTenantID, PlanID: "tier-basic"}
		_, err := c.ResolveActivePlan(ctx, club)
		assert.ErrorIs(t, err, plan.ErrScopeMismatch)
	})

	t.Run("no plan", func(t *testing.T) {
		t.Parallel()
		club := &owner.Club{ID: uuid.New(), TenantID: hoopsTenantID}
		_, err := c.ResolveActivePlan(ctx, club)
		assert.ErrorIs(t, err, plan.ErrPlanNotAssigned)
	})

	t.Run("dangling plan id", func(t *testing.T) {
		t.Parallel()
		club := &owner.Club{ID: uuid.New(), TenantID: hoopsTenantID, PlanID: "deleted"}
		_, err := c.ResolveActivePlan(ctx, club)
		assert.ErrorIs(t, err, plan.ErrPlanNotAssigned)
	})
}

func TestCatalog_ForTenant(t *testing.T) {
	t.Parallel()

	c := loadCatalog(t)

	plans := c.ForTenant(hoopsTenantID)
	require.Len(t, plans, 2)
	assert.Equal(t, "hoops-starter", plans[0].ID, "ordered by price")
	assert.Equal(t, "hoops-pro", plans[1].ID)

	assert.Empty(t, c.ForTenant(uuid.New()))
}

func TestCatalog_AvailableClubPlans(t *testing.T) {
	t.Parallel()

	c := loadCatalog(t)
	tenant := &owner.Tenant{ID: hoopsTenantID, SubscriptionTier: owner.TierBasic}

	plans, err := c.AvailableClubPlans(context.Background(), tenant)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, "hoops-starter", plans[0].ID)
}

func TestValidateAgainstTenant(t *testing.T) {
	t.Parallel()

	tenantPlan := plan.Plan{
		ID:       "tier-basic",
		Features: []plan.Feature{"live_scoring"},
		Limits:   map[plan.Metric]int64{plan.MaxTeams: 5, plan.MaxPlayers: plan.Unlimited},
	}

	t.Run("within limits", func(t *testing.T) {
		t.Parallel()
		club := plan.Plan{
			Features: []plan.Feature{"live_scoring"},
			Limits:   map[plan.Metric]int64{plan.MaxTeams: 5, plan.MaxPlayers: plan.Unlimited},
		}
		assert.NoError(t, plan.ValidateAgainstTenant(club, tenantPlan))
	})

	t.Run("feature not in tenant plan", func(t *testing.T) {
		t.Parallel()
		club := plan.Plan{Features: []plan.Feature{"video_analysis"}}
		assert.ErrorIs(t, plan.ValidateAgainstTenant(club, tenantPlan), plan.ErrInvalidPlan)
	})

	t.Run("limit above tenant", func(t *testing.T) {
		t.Parallel()
		club := plan.Plan{Limits: map[plan.Metric]int64{plan.MaxTeams: 6}}
		assert.Error(t, plan.ValidateAgainstTenant(club, tenantPlan))
	})

	t.Run("unlimited against limited tenant", func(t *testing.T) {
		t.Parallel()
		club := plan.Plan{Limits: map[plan.Metric]int64{plan.MaxTeams: plan.Unlimited}}
		assert.Error(t, plan.ValidateAgainstTenant(club, tenantPlan))
	})
}

func TestGetLimit_UnknownMetricIsZero(t *testing.T) {
	t.Parallel()

	p := plan.Plan{Limits: map[plan.Metric]int64{plan.MaxTeams: plan.Unlimited}}
	assert.Equal(t, int64(0), plan.GetLimit(p, plan.MaxPlayers))
	assert.False(t, plan.IsUnlimited(plan.GetLimit(p, plan.MaxPlayers)))
	assert.True(t, plan.IsUnlimited(plan.GetLimit(p, plan.MaxTeams)))
}
