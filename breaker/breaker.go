package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

/* CircuitBreaker guards calls to one logical dependency ("stripe", "webhook:<id>")
 * Closed -> Open when FailureThreshold failures land inside MonitoringPeriod
 * Open -> HalfOpen lazily, on the first call after ResetTimeout
 * HalfOpen -> Closed after HalfOpenMaxCalls consecutive successes
 * HalfOpen -> Open on any failure
 */

// ErrCircuitOpen is returned without invoking the operation while the breaker is open
var ErrCircuitOpen = errors.New("circuit open: service unavailable")

// OpenError carries the breaker name and the time left until the next probe
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit %s open, retry after %s", e.Name, e.RetryAfter)
}

func (e *OpenError) Unwrap() error {
	return ErrCircuitOpen
}

const maxFailureSummary = 200

type failure struct {
	at      time.Time
	summary string
}

type CircuitBreaker struct {
	name    string
	options Options
	clock   Clock

	mu                sync.Mutex
	state             State
	failures          []failure
	lastFailureTime   time.Time
	halfOpenSuccesses int
	pending           []transition
}

type transition struct {
	from, to State
}

// New creates a closed breaker; zero option fields fall back to DefaultOptions
func New(name string, opts ...Option) *CircuitBreaker {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	options = options.withDefaults()

	clock := options.Clock
	if clock == nil {
		clock = realClock{}
	}

	return &CircuitBreaker{
		name:    name,
		options: options,
		clock:   clock,
		state:   Closed,
	}
}

// Execute runs operation unless the breaker is open.
// The operation's error is recorded and returned unchanged.
func (cb *CircuitBreaker) Execute(ctx context.Context, operation func(ctx context.Context) error) error {
	if err := cb.before(); err != nil {
		return err
	}

	err := operation(ctx)
	if err != nil {
		cb.onFailure(err)
		return err
	}

	cb.onSuccess()
	return nil
}

// Do is Execute for operations that return a value
func Do[T any](ctx context.Context, cb *CircuitBreaker, operation func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := cb.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = operation(ctx)
		return err
	})
	return result, err
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	defer cb.unlockAndNotify()

	now := cb.clock.Now()
	cb.pruneLocked(now)

	if cb.state != Open {
		return nil
	}

	elapsed := now.Sub(cb.lastFailureTime)
	if elapsed >= cb.options.ResetTimeout {
		cb.transitionLocked(HalfOpen)
		return nil
	}

	return &OpenError{Name: cb.name, RetryAfter: cb.options.ResetTimeout - elapsed}
}

func (cb *CircuitBreaker) onSuccess() {
	cb.mu.Lock()
	defer cb.unlockAndNotify()

	switch cb.state {
	case Closed:
		cb.failures = nil
	case HalfOpen:
		cb.halfOpenSuccesses++
		if cb.halfOpenSuccesses >= cb.options.HalfOpenMaxCalls {
			cb.failures = nil
			cb.transitionLocked(Closed)
		}
	}
}

func (cb *CircuitBreaker) onFailure(err error) {
	cb.mu.Lock()
	defer cb.unlockAndNotify()

	now := cb.clock.Now()
	cb.pruneLocked(now)

	summary := err.Error()
	if len(summary) > maxFailureSummary {
		summary = summary[:maxFailureSummary]
	}
	cb.failures = append(cb.failures, failure{at: now, summary: summary})
	cb.lastFailureTime = now

	switch cb.state {
	case HalfOpen:
		cb.transitionLocked(Open)
	case Closed:
		if len(cb.failures) >= cb.options.FailureThreshold {
			cb.transitionLocked(Open)
		}
	case Open:
		// a call admitted just before another goroutine tripped the breaker
	}
}

// pruneLocked drops failures older than the monitoring period
func (cb *CircuitBreaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-cb.options.MonitoringPeriod)
	i := 0
	for i < len(cb.failures) && !cb.failures[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		cb.failures = append(cb.failures[:0], cb.failures[i:]...)
	}
}

func (cb *CircuitBreaker) transitionLocked(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.halfOpenSuccesses = 0
	cb.pending = append(cb.pending, transition{from: from, to: to})
}

// unlockAndNotify releases the lock before running the state change hook,
// so the hook may call back into the breaker
func (cb *CircuitBreaker) unlockAndNotify() {
	pending := cb.pending
	cb.pending = nil
	cb.mu.Unlock()

	if cb.options.OnStateChange == nil {
		return
	}
	for _, t := range pending {
		cb.options.OnStateChange(cb.name, t.from, t.to)
	}
}

// Name returns the dependency name this breaker guards
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State returns the current state without triggering the lazy Open -> HalfOpen check
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker closed and forgets its failure history
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.unlockAndNotify()
	cb.failures = nil
	cb.lastFailureTime = time.Time{}
	cb.transitionLocked(Closed)
}

// HealthStatus is the operational view of a breaker
type HealthStatus struct {
	Name            string     `json:"name"`
	State           State      `json:"state"`
	FailureCount    int        `json:"failure_count"`
	LastFailureTime *time.Time `json:"last_failure_time,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
}

func (cb *CircuitBreaker) HealthStatus() HealthStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.pruneLocked(cb.clock.Now())

	status := HealthStatus{
		Name:         cb.name,
		State:        cb.state,
		FailureCount: len(cb.failures),
	}
	if !cb.lastFailureTime.IsZero() {
		t := cb.lastFailureTime
		status.LastFailureTime = &t
	}
	if n := len(cb.failures); n > 0 {
		status.LastError = cb.failures[n-1].summary
	}
	return status
}
