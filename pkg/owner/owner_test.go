package owner_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/clubbilling/pkg/logger"
	"github.com/dmitrymomot/clubbilling/pkg/owner"
)

func TestConnectStatusFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name                       string
		charges, payouts, detailed bool
		want                       owner.ConnectStatus
	}{
		{name: "fully enabled", charges: true, payouts: true, detailed: true, want: owner.ConnectActive},
		{name: "charges only", charges: true, detailed: true, want: owner.ConnectRestricted},
		{name: "payouts only", payouts: true, detailed: true, want: owner.ConnectRestricted},
		{name: "onboarding", want: owner.ConnectPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, owner.ConnectStatusFor(tt.charges, tt.payouts, tt.detailed))
		})
	}
}

func TestTenant(t *testing.T) {
	t.Parallel()

	tenant := &owner.Tenant{
		ID:                    uuid.New(),
		Email:                 "owner@hoops.example",
		StripeCustomerID:      "cus_T",
		ApplicationFeePercent: decimal.RequireFromString("2.5"),
		ApplicationFeeFixed:   30,
	}

	assert.Equal(t, tenant.ID, tenant.TenantScope())
	assert.Equal(t, owner.KindTenant, tenant.OwnerKind())
	assert.Equal(t, "cus_T", tenant.ExternalCustomerID())

	pct, fixed := tenant.ApplicationFee()
	assert.True(t, pct.Equal(decimal.RequireFromString("2.5")))
	assert.Equal(t, int64(30), fixed)

	_, ok := tenant.ConnectedAccount()
	assert.False(t, ok)

	tenant.SetConnectFlags(true, true, true)
	assert.Equal(t, owner.ConnectNone, tenant.ConnectStatus)

	tenant.ConnectAccountID = "acct_1"
	tenant.SetConnectFlags(true, false, true)
	assert.Equal(t, owner.ConnectRestricted, tenant.ConnectStatus)
	tenant.SetConnectFlags(true, true, true)
	acct, ok := tenant.ConnectedAccount()
	assert.True(t, ok)
	assert.Equal(t, "acct_1", acct)

	now := time.Now()
	ends := now.Add(time.Hour)
	tenant.TrialEndsAt = &ends
	assert.True(t, tenant.OnTrial(now))
	assert.False(t, tenant.OnTrial(ends))
}

func TestClubScope(t *testing.T) {
	t.Parallel()

	tenantID := uuid.New()
	club := &owner.Club{ID: uuid.New(), TenantID: tenantID, Email: "club@hoops.example"}

	var b owner.Billable = club
	assert.Equal(t, tenantID, b.TenantScope())
	assert.Equal(t, owner.Ref{ID: club.ID, Kind: owner.KindClub}, owner.RefOf(b))
	assert.Equal(t, "club:"+club.ID.String(), owner.RefOf(b).String())
}

func TestParseKind(t *testing.T) {
	t.Parallel()

	k, err := owner.ParseKind(" Club ")
	require.NoError(t, err)
	assert.Equal(t, owner.KindClub, k)

	_, err = owner.ParseKind("team")
	assert.ErrorIs(t, err, owner.ErrInvalidKind)
}

func TestMemoryRepository(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	repo := owner.NewMemoryRepository()
	tenant := owner.Tenant{ID: uuid.New(), StripeCustomerID: "cus_tenant", SubscriptionTier: owner.TierBasic}
	club := owner.Club{ID: uuid.New(), TenantID: tenant.ID, StripeCustomerID: "cus_club"}
	repo.PutTenant(tenant)
	repo.PutClub(club)

	got, err := repo.Get(ctx, owner.Ref{ID: club.ID, Kind: owner.KindClub})
	require.NoError(t, err)
	assert.Equal(t, club.ID, got.OwnerID())

	got, err = repo.FindByCustomerID(ctx, "cus_tenant")
	require.NoError(t, err)
	assert.Equal(t, owner.KindTenant, got.OwnerKind())

	_, err = repo.FindByCustomerID(ctx, "cus_missing")
	assert.ErrorIs(t, err, owner.ErrNotFound)
	_, err = repo.FindByCustomerID(ctx, "")
	assert.ErrorIs(t, err, owner.ErrNotFound)
	_, err = repo.Get(ctx, owner.Ref{ID: uuid.New(), Kind: owner.KindTenant})
	assert.ErrorIs(t, err, owner.ErrNotFound)

	require.NoError(t, repo.SetPlan(ctx, owner.Ref{ID: club.ID, Kind: owner.KindClub}, "club-pro", ""))
	require.NoError(t, repo.SetPlan(ctx, owner.Ref{ID: tenant.ID, Kind: owner.KindTenant}, "platform-pro", owner.TierProfessional))

	got, _ = repo.Get(ctx, owner.Ref{ID: club.ID, Kind: owner.KindClub})
	assert.Equal(t, "club-pro", got.(*owner.Club).PlanID)
	tn, err := repo.Tenant(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, owner.TierProfessional, tn.SubscriptionTier)
}

func TestLoggerExtractor(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := logger.New(logger.WithOutput(buf), logger.WithContextExtractors(owner.LoggerExtractor()))

	club := &owner.Club{ID: uuid.New()}
	log.InfoContext(owner.WithOwner(context.Background(), club), "checked")
	assert.Contains(t, buf.String(), `"owner":"club:`+club.ID.String()+`"`)

	_, ok := owner.FromContext(context.Background())
	assert.False(t, ok)
}
