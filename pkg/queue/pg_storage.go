package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/clubbilling/pkg/pg"
)

// PGStorage stores jobs in the billing_jobs table. Claim uses
// FOR UPDATE SKIP LOCKED so several workers can poll the same table.
type PGStorage struct {
	db pg.Querier
}

func NewPGStorage(db pg.Querier) *PGStorage {
	return &PGStorage{db: db}
}

func (s *PGStorage) Create(ctx context.Context, job *Job) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO billing_jobs (id, queue, name, payload, status, attempts, max_attempts, run_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.Queue, job.Name, job.Payload, job.Status, job.Attempts, job.MaxAttempts, job.RunAt, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *PGStorage) Claim(ctx context.Context, queues []string, lockFor time.Duration) (*Job, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE billing_jobs SET
			status = 'running',
			attempts = attempts + 1,
			locked_until = now() + make_interval(secs => $2)
		WHERE id = (
			SELECT id FROM billing_jobs
			WHERE queue = ANY($1)
			  AND run_at <= now()
			  AND (status = 'pending' OR (status = 'running' AND locked_until <= now()))
			ORDER BY run_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, queue, name, payload, status, attempts, max_attempts, run_at, locked_until, coalesce(error, ''), created_at`,
		queues, lockFor.Seconds())

	var j Job
	err := row.Scan(&j.ID, &j.Queue, &j.Name, &j.Payload, &j.Status, &j.Attempts, &j.MaxAttempts,
		&j.RunAt, &j.LockedUntil, &j.Error, &j.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return &j, nil
}

func (s *PGStorage) Complete(ctx context.Context, id uuid.UUID) error {
	return s.exec(ctx, `UPDATE billing_jobs SET status = 'completed', locked_until = NULL WHERE id = $1`, id)
}

func (s *PGStorage) Retry(ctx context.Context, id uuid.UUID, runAt time.Time, errMsg string) error {
	return s.exec(ctx, `UPDATE billing_jobs SET status = 'pending', locked_until = NULL, run_at = $2, error = $3 WHERE id = $1`,
		id, runAt, errMsg)
}

func (s *PGStorage) Bury(ctx context.Context, id uuid.UUID, errMsg string) error {
	return s.exec(ctx, `UPDATE billing_jobs SET status = 'dead', locked_until = NULL, error = $2 WHERE id = $1`, id, errMsg)
}

func (s *PGStorage) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}
