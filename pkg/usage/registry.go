package usage

import (
	"context"
	"fmt"

	"github.com/dmitrymomot/clubbilling/pkg/owner"
	"github.com/dmitrymomot/clubbilling/pkg/plan"
)

// CounterFunc counts the live usage of one metric for an owner.
type CounterFunc func(ctx context.Context, o owner.Ref) (int64, error)

// Registry maps a metric to its counter.
// Not thread-safe: register all counters at startup only.
type Registry map[plan.Metric]CounterFunc

func NewRegistry() Registry {
	return make(Registry)
}

// Register sets or replaces the counter for metric. Panics if fn is nil.
func (r Registry) Register(metric plan.Metric, fn CounterFunc) {
	if fn == nil {
		panic(fmt.Sprintf("usage: CounterFunc for metric %q cannot be nil", metric))
	}
	r[metric] = fn
}
