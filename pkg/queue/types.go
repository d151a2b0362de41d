package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DefaultQueueName is used when no queue is specified.
const DefaultQueueName = "default"

// JobStatus represents the status of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	// JobStatusDead marks a job that exhausted its attempts or has no handler.
	JobStatusDead JobStatus = "dead"
)

// Job is a unit of deferred work.
type Job struct {
	ID          uuid.UUID  `json:"id"`
	Queue       string     `json:"queue"`
	Name        string     `json:"name"`
	Payload     []byte     `json:"payload,omitempty"`
	Status      JobStatus  `json:"status"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	RunAt       time.Time  `json:"run_at"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Storage persists jobs. Claim must hand each due job to at most one
// worker until its lock expires.
type Storage interface {
	Create(ctx context.Context, job *Job) error
	// Claim returns the oldest due pending job from queues, marks it running
	// and increments Attempts. It returns ErrNoJob when nothing is due.
	Claim(ctx context.Context, queues []string, lockFor time.Duration) (*Job, error)
	Complete(ctx context.Context, id uuid.UUID) error
	// Retry puts a running job back to pending, due at runAt.
	Retry(ctx context.Context, id uuid.UUID, runAt time.Time, errMsg string) error
	// Bury marks a job dead.
	Bury(ctx context.Context, id uuid.UUID, errMsg string) error
}
