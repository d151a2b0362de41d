package usage

import (
	"context"
	"fmt"
	"slices"

	"github.com/dmitrymomot/clubbilling/pkg/logger"
	"github.com/dmitrymomot/clubbilling/pkg/owner"
	"github.com/dmitrymomot/clubbilling/pkg/plan"
	"github.com/dmitrymomot/clubbilling/pkg/queue"
)

// InvalidateQueue is the queue invalidation jobs run on.
const InvalidateQueue = "usage"

// Invalidator drops cached counts. *CachedCounter implements it.
type Invalidator interface {
	Invalidate(ctx context.Context, o owner.Ref, metrics ...plan.Metric) error
}

// InvalidateJob asks the worker to drop cached counts for an owner. An
// empty Metrics list means every registered metric.
type InvalidateJob struct {
	Owner   owner.Ref     `json:"owner"`
	Metrics []plan.Metric `json:"metrics,omitempty"`
}

// Enqueuer stores jobs. *queue.Enqueuer implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload any, opts ...queue.EnqueueOption) (*queue.Job, error)
}

// EnqueueInvalidate queues an InvalidateJob. Code that creates or deletes
// counted entities outside this process calls it once the change commits.
func EnqueueInvalidate(ctx context.Context, enq Enqueuer, o owner.Ref, metrics ...plan.Metric) error {
	if _, err := enq.Enqueue(ctx, InvalidateJob{Owner: o, Metrics: metrics}, queue.WithQueue(InvalidateQueue)); err != nil {
		return fmt.Errorf("enqueue usage invalidation for %s: %w", o, err)
	}
	return nil
}

// WithInvalidator sets the cache Invalidate drops counts from.
func WithInvalidator(inv Invalidator) Option {
	return func(t *Tracker) { t.invalidator = inv }
}

// Invalidate drops the cached counts of o so the next check counts again.
// Without metrics every registered metric is dropped. It is a no-op when
// the tracker has no cache.
func (t *Tracker) Invalidate(ctx context.Context, o owner.Ref, metrics ...plan.Metric) error {
	if t.invalidator == nil {
		return nil
	}
	if len(metrics) == 0 {
		for m := range t.counters {
			metrics = append(metrics, m)
		}
		slices.Sort(metrics)
	}
	for _, m := range metrics {
		if _, ok := t.counters[m]; !ok {
			return fmt.Errorf("%w: %s", ErrNoCounter, m)
		}
	}
	if err := t.invalidator.Invalidate(ctx, o, metrics...); err != nil {
		return err
	}
	t.logger.DebugContext(ctx, "usage cache invalidated",
		logger.OwnerID(o.ID),
		logger.OwnerKind(string(o.Kind)))
	return nil
}

// Handler runs InvalidateJob payloads.
func (t *Tracker) Handler() queue.Handler {
	return queue.NewHandler(func(ctx context.Context, job InvalidateJob) error {
		return t.Invalidate(ctx, job.Owner, job.Metrics...)
	})
}
