package owner

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/clubbilling/pkg/pg"
)

// PGRepository reads owners from the tenants and clubs tables.
type PGRepository struct {
	db pg.Querier
}

func NewPGRepository(db pg.Querier) *PGRepository {
	return &PGRepository{db: db}
}

const (
	tenantColumns = `id, name, email, subscription_tier, trial_ends_at, coalesce(stripe_customer_id, ''),
		coalesce(connect_account_id, ''), connect_status, application_fee_percent, application_fee_fixed,
		is_suspended, created_at`
	clubColumns = `id, tenant_id, name, billing_email, coalesce(plan_id, ''), coalesce(stripe_customer_id, ''),
		coalesce(stripe_subscription_id, ''), created_at`
)

func scanTenant(row pgx.Row) (*Tenant, error) {
	var t Tenant
	err := row.Scan(&t.ID, &t.Name, &t.Email, &t.SubscriptionTier, &t.TrialEndsAt, &t.StripeCustomerID,
		&t.ConnectAccountID, &t.ConnectStatus, &t.ApplicationFeePercent, &t.ApplicationFeeFixed,
		&t.IsSuspended, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan tenant: %w", err)
	}
	return &t, nil
}

func scanClub(row pgx.Row) (*Club, error) {
	var c Club
	err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.Email, &c.PlanID, &c.StripeCustomerID,
		&c.StripeSubscriptionID, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan club: %w", err)
	}
	return &c, nil
}

func (r *PGRepository) Get(ctx context.Context, ref Ref) (Billable, error) {
	switch ref.Kind {
	case KindTenant:
		return r.Tenant(ctx, ref.ID)
	case KindClub:
		return scanClub(r.db.QueryRow(ctx, `SELECT `+clubColumns+` FROM clubs WHERE id = $1`, ref.ID))
	default:
		return nil, ErrInvalidKind
	}
}

func (r *PGRepository) Tenant(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	return scanTenant(r.db.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id))
}

func (r *PGRepository) FindByCustomerID(ctx context.Context, customerID string) (Billable, error) {
	if customerID == "" {
		return nil, ErrNotFound
	}
	c, err := scanClub(r.db.QueryRow(ctx, `SELECT `+clubColumns+` FROM clubs WHERE stripe_customer_id = $1`, customerID))
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return scanTenant(r.db.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE stripe_customer_id = $1`, customerID))
}

func (r *PGRepository) SetPlan(ctx context.Context, ref Ref, planID string, tier Tier) error {
	var (
		sql string
		arg any
	)
	switch ref.Kind {
	case KindTenant:
		sql, arg = `UPDATE tenants SET subscription_tier = $2 WHERE id = $1`, tier
	case KindClub:
		sql, arg = `UPDATE clubs SET plan_id = $2 WHERE id = $1`, planID
	default:
		return ErrInvalidKind
	}
	tag, err := r.db.Exec(ctx, sql, ref.ID, arg)
	if err != nil {
		return fmt.Errorf("set plan for %s: %w", ref, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveTenant upserts a tenant row.
func (r *PGRepository) SaveTenant(ctx context.Context, t Tenant) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO tenants (id, name, email, subscription_tier, trial_ends_at, stripe_customer_id,
			connect_account_id, connect_status, application_fee_percent, application_fee_fixed, is_suspended, created_at)
		VALUES ($1, $2, $3, $4, $5, nullif($6, ''), nullif($7, ''), $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, email = excluded.email, subscription_tier = excluded.subscription_tier,
			trial_ends_at = excluded.trial_ends_at, stripe_customer_id = excluded.stripe_customer_id,
			connect_account_id = excluded.connect_account_id, connect_status = excluded.connect_status,
			application_fee_percent = excluded.application_fee_percent,
			application_fee_fixed = excluded.application_fee_fixed, is_suspended = excluded.is_suspended`,
		t.ID, t.Name, t.Email, t.SubscriptionTier, t.TrialEndsAt, t.StripeCustomerID, t.ConnectAccountID,
		t.ConnectStatus, t.ApplicationFeePercent, t.ApplicationFeeFixed, t.IsSuspended, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("save tenant: %w", err)
	}
	return nil
}

// SaveClub upserts a club row.
func (r *PGRepository) SaveClub(ctx context.Context, c Club) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO clubs (id, tenant_id, name, billing_email, plan_id, stripe_customer_id, stripe_subscription_id, created_at)
		VALUES ($1, $2, $3, $4, nullif($5, ''), nullif($6, ''), nullif($7, ''), $8)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, billing_email = excluded.billing_email, plan_id = excluded.plan_id,
			stripe_customer_id = excluded.stripe_customer_id, stripe_subscription_id = excluded.stripe_subscription_id`,
		c.ID, c.TenantID, c.Name, c.Email, c.PlanID, c.StripeCustomerID, c.StripeSubscriptionID, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("save club: %w", err)
	}
	return nil
}
