package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Enqueuer serializes payloads into jobs.
type Enqueuer struct {
	storage     Storage
	queue       string
	maxAttempts int
	now         func() time.Time
}

type EnqueuerOption func(*Enqueuer)

// WithDefaultQueue sets the queue used when Enqueue gets no WithQueue option.
func WithDefaultQueue(queue string) EnqueuerOption {
	return func(e *Enqueuer) {
		if queue != "" {
			e.queue = queue
		}
	}
}

func WithDefaultMaxAttempts(n int) EnqueuerOption {
	return func(e *Enqueuer) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithEnqueuerClock overrides time.Now, used in tests.
func WithEnqueuerClock(now func() time.Time) EnqueuerOption {
	return func(e *Enqueuer) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEnqueuer(storage Storage, opts ...EnqueuerOption) (*Enqueuer, error) {
	if storage == nil {
		return nil, ErrStorageNil
	}
	e := &Enqueuer{
		storage:     storage,
		queue:       DefaultQueueName,
		maxAttempts: 3,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

type enqueueOptions struct {
	queue       string
	name        string
	delay       time.Duration
	maxAttempts int
}

// EnqueueOption tweaks a single Enqueue call.
type EnqueueOption func(*enqueueOptions)

func WithQueue(queue string) EnqueueOption {
	return func(o *enqueueOptions) {
		if queue != "" {
			o.queue = queue
		}
	}
}

// WithDelay postpones the first run of the job.
func WithDelay(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		if d > 0 {
			o.delay = d
		}
	}
}

func WithMaxAttempts(n int) EnqueueOption {
	return func(o *enqueueOptions) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithName overrides the job name derived from the payload type.
func WithName(name string) EnqueueOption {
	return func(o *enqueueOptions) {
		if name != "" {
			o.name = name
		}
	}
}

// Enqueue stores payload as a pending job and returns it.
func (e *Enqueuer) Enqueue(ctx context.Context, payload any, opts ...EnqueueOption) (*Job, error) {
	if payload == nil {
		return nil, ErrPayloadNil
	}

	o := enqueueOptions{queue: e.queue, maxAttempts: e.maxAttempts}
	for _, opt := range opts {
		opt(&o)
	}
	if o.name == "" {
		o.name = jobName(payload)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload of type %T: %w", payload, err)
	}

	now := e.now()
	job := &Job{
		ID:          uuid.New(),
		Queue:       o.queue,
		Name:        o.name,
		Payload:     raw,
		Status:      JobStatusPending,
		MaxAttempts: o.maxAttempts,
		RunAt:       now.Add(o.delay),
		CreatedAt:   now,
	}
	if err := e.storage.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job %q in queue %q: %w", job.Name, job.Queue, err)
	}
	return job, nil
}
