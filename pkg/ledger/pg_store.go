package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/clubbilling/pkg/owner"
	"github.com/dmitrymomot/clubbilling/pkg/pg"
)

// PGStore keeps subscriptions in the subscriptions table. Update takes a
// transaction-scoped advisory lock on the owner, so the first subscription of
// an owner is serialized as well as later row updates.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const subscriptionColumns = `owner_kind, owner_id, tenant_id, plan_id, status, provider_customer_id,
	provider_subscription_id, current_period_end, cancel_at_period_end, trial_ends_at, had_trial,
	past_due_since, canceled_at, created_at, updated_at, version`

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var s Subscription
	err := row.Scan(&s.Owner.Kind, &s.Owner.ID, &s.TenantID, &s.PlanID, &s.Status, &s.ProviderCustomerID,
		&s.ProviderSubscriptionID, &s.CurrentPeriodEnd, &s.CancelAtPeriodEnd, &s.TrialEndsAt, &s.HadTrial,
		&s.PastDueSince, &s.CanceledAt, &s.CreatedAt, &s.UpdatedAt, &s.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	return &s, nil
}

func (s *PGStore) Get(ctx context.Context, ref owner.Ref) (*Subscription, error) {
	return scanSubscription(s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE owner_kind = $1 AND owner_id = $2`,
		ref.Kind, ref.ID))
}

func (s *PGStore) Update(ctx context.Context, ref owner.Ref, fn UpdateFunc) error {
	return pg.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, ref.String()); err != nil {
			return fmt.Errorf("lock owner: %w", err)
		}

		current, err := scanSubscription(tx.QueryRow(ctx,
			`SELECT `+subscriptionColumns+` FROM subscriptions WHERE owner_kind = $1 AND owner_id = $2 FOR UPDATE`,
			ref.Kind, ref.ID))
		if errors.Is(err, ErrSubscriptionNotFound) {
			current = nil
		} else if err != nil {
			return err
		}

		next, err := fn(ctx, current)
		if err != nil || next == nil {
			return err
		}

		var version int64
		if current != nil {
			version = current.Version
		}
		return save(ctx, tx, next, version)
	})
}

func save(ctx context.Context, tx pgx.Tx, sub *Subscription, prevVersion int64) error {
	tag, err := tx.Exec(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16 + 1)
		ON CONFLICT (owner_kind, owner_id) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id,
			plan_id = EXCLUDED.plan_id,
			status = EXCLUDED.status,
			provider_customer_id = EXCLUDED.provider_customer_id,
			provider_subscription_id = EXCLUDED.provider_subscription_id,
			current_period_end = EXCLUDED.current_period_end,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			trial_ends_at = EXCLUDED.trial_ends_at,
			had_trial = EXCLUDED.had_trial,
			past_due_since = EXCLUDED.past_due_since,
			canceled_at = EXCLUDED.canceled_at,
			updated_at = EXCLUDED.updated_at,
			version = EXCLUDED.version
		WHERE subscriptions.version = $16`,
		sub.Owner.Kind, sub.Owner.ID, sub.TenantID, sub.PlanID, sub.Status, sub.ProviderCustomerID,
		sub.ProviderSubscriptionID, sub.CurrentPeriodEnd, sub.CancelAtPeriodEnd, sub.TrialEndsAt, sub.HadTrial,
		sub.PastDueSince, sub.CanceledAt, sub.CreatedAt, sub.UpdatedAt, prevVersion)
	if err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConcurrentUpdate
	}
	sub.Version = prevVersion + 1
	return nil
}

func (s *PGStore) Due(ctx context.Context, now, pastDueBefore time.Time) ([]owner.Ref, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT owner_kind, owner_id FROM subscriptions
		WHERE (status = 'active' AND cancel_at_period_end AND current_period_end <= $1)
		   OR (status = 'trialing' AND cancel_at_period_end AND trial_ends_at <= $1)
		   OR (status = 'past_due' AND past_due_since <= $2)`,
		now, pastDueBefore)
	if err != nil {
		return nil, fmt.Errorf("query due subscriptions: %w", err)
	}
	refs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (owner.Ref, error) {
		var ref owner.Ref
		err := row.Scan(&ref.Kind, &ref.ID)
		return ref, err
	})
	if err != nil {
		return nil, fmt.Errorf("collect due subscriptions: %w", err)
	}
	return refs, nil
}
