package provider

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type retryOptions struct {
	maxRetries uint64
	initial    time.Duration
	max        time.Duration
	maxElapsed time.Duration
	notify     func(err error, wait time.Duration)
}

type RetryOption func(*retryOptions)

// RetryMaxRetries caps the number of retries after the first attempt.
func RetryMaxRetries(n uint64) RetryOption {
	return func(o *retryOptions) { o.maxRetries = n }
}

// RetryIntervals sets the first and the largest wait between attempts.
func RetryIntervals(initial, max time.Duration) RetryOption {
	return func(o *retryOptions) {
		if initial > 0 {
			o.initial = initial
		}
		if max > 0 {
			o.max = max
		}
	}
}

// RetryMaxElapsed bounds the total time spent retrying.
func RetryMaxElapsed(d time.Duration) RetryOption {
	return func(o *retryOptions) { o.maxElapsed = d }
}

// RetryNotify is called before every wait.
func RetryNotify(fn func(err error, wait time.Duration)) RetryOption {
	return func(o *retryOptions) { o.notify = fn }
}

// WithRetry runs fn with exponential backoff. Only retryable provider errors
// are retried; anything else is returned at once. The returned error is
// classified under op.
func WithRetry(ctx context.Context, op string, fn func(ctx context.Context) error, opts ...RetryOption) error {
	o := retryOptions{
		maxRetries: 3,
		initial:    500 * time.Millisecond,
		max:        10 * time.Second,
		maxElapsed: time.Minute,
	}
	for _, opt := range opts {
		opt(&o)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = o.initial
	eb.MaxInterval = o.max
	eb.MaxElapsedTime = o.maxElapsed
	b := backoff.WithContext(backoff.WithMaxRetries(eb, o.maxRetries), ctx)

	var notify backoff.Notify
	if o.notify != nil {
		notify = o.notify
	}

	err := backoff.RetryNotify(func() error {
		err := classify(op, fn(ctx))
		if err != nil && !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, notify)
	return classify(op, err)
}
