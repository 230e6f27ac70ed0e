package job

import (
	"fmt"
	"time"
)

// Policy is the default retry behaviour of a queue
type Policy struct {
	Attempts int
	Backoff  Backoff
}

// DefaultPolicies returns the built-in per-queue retry defaults
func DefaultPolicies() map[Queue]Policy {
	return map[Queue]Policy{
		Email:         {Attempts: 5, Backoff: ExponentialBackoff(2 * time.Second)},
		Webhook:       {Attempts: 3, Backoff: ExponentialBackoff(time.Second)},
		Workflow:      {Attempts: 3, Backoff: ExponentialBackoff(time.Second)},
		Report:        {Attempts: 2, Backoff: ExponentialBackoff(time.Second)},
		UploadCleanup: {Attempts: 1, Backoff: ExponentialBackoff(time.Second)},
	}
}

type options struct {
	attempts    int
	backoff     *Backoff
	delay       time.Duration
	priority    int
	id          string
	hasAttempts bool
}

// Option customizes a single enqueue
type Option func(*options)

// WithAttempts overrides the maximum number of attempts, including the first
func WithAttempts(n int) Option {
	return func(o *options) {
		o.attempts = n
		o.hasAttempts = true
	}
}

func WithBackoff(b Backoff) Option {
	return func(o *options) {
		o.backoff = &b
	}
}

// WithDelay makes the job claimable only after d has passed
func WithDelay(d time.Duration) Option {
	return func(o *options) {
		o.delay = d
	}
}

// WithPriority puts the job ahead of normal jobs when p > 0
func WithPriority(p int) Option {
	return func(o *options) {
		o.priority = p
	}
}

// WithJobID makes enqueue idempotent: a second enqueue with the same ID is a no-op
func WithJobID(id string) Option {
	return func(o *options) {
		o.id = id
	}
}

func (o options) validate() error {
	if o.hasAttempts && o.attempts < 1 {
		return fmt.Errorf("%w: attempts must be at least 1, got %d", ErrInvalidOptions, o.attempts)
	}
	if o.delay < 0 {
		return fmt.Errorf("%w: delay cannot be negative", ErrInvalidOptions)
	}
	if o.priority < 0 {
		return fmt.Errorf("%w: priority cannot be negative", ErrInvalidOptions)
	}
	if o.backoff != nil {
		if err := o.backoff.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
		}
	}
	return nil
}
