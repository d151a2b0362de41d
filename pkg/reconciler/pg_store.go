package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/clubbilling/pkg/owner"
	"github.com/dmitrymomot/clubbilling/pkg/pg"
)

// PGStore keeps records in the billing_events table.
type PGStore struct {
	db pg.Querier
}

func NewPGStore(db pg.Querier) *PGStore {
	return &PGStore{db: db}
}

const recordColumns = `event_id, type, COALESCE(owner_kind, ''), COALESCE(owner_id::text, ''), status,
	retry_count, error, payload, received_at, queued_at, processing_started_at, processed_at`

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		rec                Record
		ownerKind, ownerID string
	)
	err := row.Scan(&rec.EventID, &rec.Type, &ownerKind, &ownerID, &rec.Status,
		&rec.RetryCount, &rec.Error, &rec.Payload, &rec.ReceivedAt, &rec.QueuedAt,
		&rec.ProcessingStartedAt, &rec.ProcessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan billing event: %w", err)
	}
	if ownerID != "" {
		id, err := uuid.Parse(ownerID)
		if err != nil {
			return nil, fmt.Errorf("billing event %s: owner id: %w", rec.EventID, err)
		}
		rec.Owner = &owner.Ref{ID: id, Kind: owner.Kind(ownerKind)}
	}
	return &rec, nil
}

func ownerArgs(ref *owner.Ref) (kind, id any) {
	if ref == nil {
		return nil, nil
	}
	return string(ref.Kind), ref.ID
}

func (s *PGStore) Get(ctx context.Context, eventID string) (*Record, error) {
	return scanRecord(s.db.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM billing_events WHERE event_id = $1`, eventID))
}

func (s *PGStore) Create(ctx context.Context, rec *Record) error {
	kind, id := ownerArgs(rec.Owner)
	_, err := s.db.Exec(ctx, `
		INSERT INTO billing_events (event_id, type, owner_kind, owner_id, status, retry_count, error,
			payload, received_at, queued_at, processing_started_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.EventID, rec.Type, kind, id, rec.Status, rec.RetryCount, rec.Error,
		rec.Payload, rec.ReceivedAt, rec.QueuedAt, rec.ProcessingStartedAt, rec.ProcessedAt)
	if pg.IsDuplicateKeyError(err) {
		return ErrDuplicateEvent
	}
	if err != nil {
		return fmt.Errorf("insert billing event: %w", err)
	}
	return nil
}

func (s *PGStore) Update(ctx context.Context, rec *Record) error {
	kind, id := ownerArgs(rec.Owner)
	tag, err := s.db.Exec(ctx, `
		UPDATE billing_events SET owner_kind = $2, owner_id = $3, status = $4, retry_count = $5,
			error = $6, queued_at = $7, processing_started_at = $8, processed_at = $9
		WHERE event_id = $1`,
		rec.EventID, kind, id, rec.Status, rec.RetryCount, rec.Error,
		rec.QueuedAt, rec.ProcessingStartedAt, rec.ProcessedAt)
	if err != nil {
		return fmt.Errorf("update billing event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}

func (s *PGStore) Stats(ctx context.Context, since time.Time) (Stats, error) {
	st := Stats{Since: since, ByType: make(map[string]int)}
	var avgSeconds float64
	err := s.db.QueryRow(ctx, `
		SELECT count(*),
			count(*) FILTER (WHERE status = 'processed'),
			count(*) FILTER (WHERE status = 'failed'),
			count(*) FILTER (WHERE status IN ('pending', 'queued')),
			COALESCE(avg(extract(epoch FROM processed_at - processing_started_at))
				FILTER (WHERE processed_at IS NOT NULL AND processing_started_at IS NOT NULL), 0)::float8
		FROM billing_events WHERE received_at >= $1`, since).
		Scan(&st.Total, &st.Processed, &st.Failed, &st.Pending, &avgSeconds)
	if err != nil {
		return Stats{}, fmt.Errorf("billing event stats: %w", err)
	}
	st.AvgProcessingTime = time.Duration(avgSeconds * float64(time.Second))
	st.SuccessRate = successRate(st.Processed, st.Total)

	rows, err := s.db.Query(ctx, `
		SELECT type, count(*) FROM billing_events WHERE received_at >= $1 GROUP BY type`, since)
	if err != nil {
		return Stats{}, fmt.Errorf("billing event stats by type: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			typ string
			n   int
		)
		if err := rows.Scan(&typ, &n); err != nil {
			return Stats{}, fmt.Errorf("scan billing event stats: %w", err)
		}
		st.ByType[typ] = n
	}
	return st, rows.Err()
}

func (s *PGStore) DeleteProcessed(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM billing_events WHERE status = 'processed' AND received_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete processed billing events: %w", err)
	}
	return tag.RowsAffected(), nil
}
