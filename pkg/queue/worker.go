package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Worker polls Storage and dispatches due jobs to registered handlers.
type Worker struct {
	storage  Storage
	handlers map[string]Handler
	queues   []string

	pollInterval time.Duration
	lockTimeout  time.Duration
	retryBackoff time.Duration
	concurrency  int
	logger       *slog.Logger
	now          func() time.Time

	mu      sync.Mutex
	started bool
}

type WorkerOption func(*Worker)

func WithQueues(queues ...string) WorkerOption {
	return func(w *Worker) {
		if len(queues) > 0 {
			w.queues = queues
		}
	}
}

// WithWorkerConfig applies poll, lock, backoff and concurrency settings.
func WithWorkerConfig(cfg Config) WorkerOption {
	return func(w *Worker) {
		if cfg.PollInterval > 0 {
			w.pollInterval = cfg.PollInterval
		}
		if cfg.LockTimeout > 0 {
			w.lockTimeout = cfg.LockTimeout
		}
		if cfg.RetryBackoff > 0 {
			w.retryBackoff = cfg.RetryBackoff
		}
		if cfg.MaxConcurrentTasks > 0 {
			w.concurrency = cfg.MaxConcurrentTasks
		}
	}
}

func WithWorkerLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

func WithWorkerClock(now func() time.Time) WorkerOption {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

func NewWorker(storage Storage, opts ...WorkerOption) (*Worker, error) {
	if storage == nil {
		return nil, ErrStorageNil
	}
	w := &Worker{
		storage:      storage,
		handlers:     make(map[string]Handler),
		queues:       []string{DefaultQueueName},
		pollInterval: time.Second,
		lockTimeout:  2 * time.Minute,
		retryBackoff: 10 * time.Second,
		concurrency:  1,
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Register adds handlers. Later registrations replace earlier ones with the
// same name.
func (w *Worker) Register(handlers ...Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, h := range handlers {
		if h != nil {
			w.handlers[h.Name()] = h
		}
	}
}

// Run returns a function suitable for errgroup. It polls until ctx is done
// and waits for in-flight jobs before returning.
func (w *Worker) Run(ctx context.Context) func() error {
	return func() error {
		w.mu.Lock()
		if w.started {
			w.mu.Unlock()
			return ErrAlreadyStarted
		}
		if len(w.handlers) == 0 {
			w.mu.Unlock()
			return ErrNoHandlers
		}
		w.started = true
		w.mu.Unlock()

		w.logger.InfoContext(ctx, "queue worker started",
			slog.Any("queues", w.queues),
			slog.Int("concurrency", w.concurrency))

		var wg sync.WaitGroup
		sem := make(chan struct{}, w.concurrency)
		ticker := time.NewTicker(w.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				wg.Wait()
				w.logger.Info("queue worker stopped")
				return nil
			case <-ticker.C:
			}

		drain:
			for {
				select {
				case sem <- struct{}{}:
				default:
					break drain
				}
				// Jobs run on a context detached from shutdown so an
				// in-flight job is allowed to finish.
				job, err := w.storage.Claim(context.WithoutCancel(ctx), w.queues, w.lockTimeout)
				if err != nil {
					<-sem
					if !errors.Is(err, ErrNoJob) {
						w.logger.ErrorContext(ctx, "failed to claim job", slog.Any("error", err))
					}
					break drain
				}
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer func() { <-sem }()
					w.process(context.WithoutCancel(ctx), job)
				}()
			}
		}
	}
}

// ProcessNext claims and runs a single due job. It reports false when no job
// was due.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	job, err := w.storage.Claim(ctx, w.queues, w.lockTimeout)
	if errors.Is(err, ErrNoJob) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, w.process(ctx, job)
}

func (w *Worker) process(ctx context.Context, job *Job) (err error) {
	log := w.logger.With(
		slog.String("job_id", job.ID.String()),
		slog.String("job_name", job.Name),
		slog.Int("attempt", job.Attempts))

	w.mu.Lock()
	h, ok := w.handlers[job.Name]
	w.mu.Unlock()
	if !ok {
		log.ErrorContext(ctx, "no handler registered for job")
		return errors.Join(ErrHandlerNotFound, w.storage.Bury(ctx, job.ID, ErrHandlerNotFound.Error()))
	}

	ctx, cancel := context.WithTimeout(ctx, w.lockTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = w.fail(ctx, log, job, fmt.Errorf("panic in handler: %v", r))
		}
	}()

	if herr := h.Handle(ctx, job.Payload); herr != nil {
		return w.fail(ctx, log, job, herr)
	}
	if err := w.storage.Complete(ctx, job.ID); err != nil {
		return fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	log.DebugContext(ctx, "job completed")
	return nil
}

// fail schedules a retry with linear backoff, or buries the job when its
// attempts are exhausted.
func (w *Worker) fail(ctx context.Context, log *slog.Logger, job *Job, cause error) error {
	if job.Attempts >= job.MaxAttempts {
		log.ErrorContext(ctx, "job exhausted attempts", slog.Any("error", cause))
		if err := w.storage.Bury(ctx, job.ID, cause.Error()); err != nil {
			return errors.Join(cause, err)
		}
		return cause
	}

	runAt := w.now().Add(time.Duration(job.Attempts) * w.retryBackoff)
	log.WarnContext(ctx, "job failed, will retry", slog.Any("error", cause), slog.Time("run_at", runAt))
	if err := w.storage.Retry(ctx, job.ID, runAt, cause.Error()); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}
