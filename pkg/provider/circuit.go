package provider

import (
	"sync"
	"time"
)

// CircuitState is the state of a Circuit.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Circuit stops calls to the provider after repeated outages. Only retryable
// failures count: a declined card or a bad request says nothing about the
// provider's health. Safe for concurrent use.
type Circuit struct {
	mu sync.Mutex

	failureThreshold int
	successThreshold int
	recoveryTimeout  time.Duration
	now              func() time.Time

	state           CircuitState
	failures        int
	successes       int
	lastFailureTime time.Time
}

// NewCircuit builds a closed circuit. Non-positive arguments take defaults:
// open after 5 failures, close after 2 successes, probe again after 30s.
func NewCircuit(failureThreshold, successThreshold int, recoveryTimeout time.Duration) *Circuit {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if successThreshold <= 0 {
		successThreshold = 2
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = 30 * time.Second
	}
	return &Circuit{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		recoveryTimeout:  recoveryTimeout,
		now:              time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (c *Circuit) WithClock(now func() time.Time) *Circuit {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now != nil {
		c.now = now
	}
	return c
}

// Allow reports whether a call may go out. An open circuit turns half-open
// once the recovery timeout has passed.
func (c *Circuit) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case CircuitClosed, CircuitHalfOpen:
		return true
	case CircuitOpen:
		if c.now().Sub(c.lastFailureTime) >= c.recoveryTimeout {
			c.state = CircuitHalfOpen
			c.successes = 0
			return true
		}
		return false
	default:
		return false
	}
}

// Record feeds the outcome of a call into the circuit.
func (c *Circuit) Record(err error) {
	if err != nil && IsRetryable(err) {
		c.recordFailure()
		return
	}
	c.recordSuccess()
}

func (c *Circuit) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case CircuitClosed:
		c.failures = 0
	case CircuitHalfOpen:
		c.successes++
		if c.successes >= c.successThreshold {
			c.state = CircuitClosed
			c.failures = 0
			c.successes = 0
		}
	}
}

func (c *Circuit) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastFailureTime = c.now()
	switch c.state {
	case CircuitClosed:
		c.failures++
		if c.failures >= c.failureThreshold {
			c.state = CircuitOpen
		}
	case CircuitHalfOpen:
		c.state = CircuitOpen
		c.successes = 0
	}
}

// State returns the current state as Allow would see it.
func (c *Circuit) State() CircuitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == CircuitOpen && c.now().Sub(c.lastFailureTime) >= c.recoveryTimeout {
		return CircuitHalfOpen
	}
	return c.state
}
