package usage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrymomot/clubbilling/pkg/owner"
	"github.com/dmitrymomot/clubbilling/pkg/plan"
)

var (
	ErrLimitExceeded   = errors.New("usage limit exceeded")
	ErrNoCounter       = errors.New("no counter registered for metric")
	ErrCountFailed     = errors.New("failed to count usage")
	ErrCannotDowngrade = errors.New("current usage exceeds target plan")
)

// LimitExceededError names the owner and metric that failed a check.
type LimitExceededError struct {
	Owner      owner.Ref
	Metric     plan.Metric
	Current    int64
	Increment  int64
	Limit      int64
	Percentage float64
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s: %s at %d/%d, cannot add %d", e.Owner, e.Metric, e.Current, e.Limit, e.Increment)
}

func (e *LimitExceededError) Unwrap() error { return ErrLimitExceeded }

// MultiLimitError aggregates every violation of a multi-owner check.
type MultiLimitError struct {
	Violations []*LimitExceededError
}

func (e *MultiLimitError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.Error()
	}
	return fmt.Sprintf("%d usage limits exceeded: %s", len(e.Violations), strings.Join(parts, "; "))
}

func (e *MultiLimitError) Unwrap() []error {
	errs := make([]error, len(e.Violations))
	for i, v := range e.Violations {
		errs[i] = v
	}
	return errs
}

// Owners lists the distinct owners that failed, in violation order.
func (e *MultiLimitError) Owners() []owner.Ref {
	var out []owner.Ref
	seen := make(map[owner.Ref]bool)
	for _, v := range e.Violations {
		if !seen[v.Owner] {
			seen[v.Owner] = true
			out = append(out, v.Owner)
		}
	}
	return out
}
