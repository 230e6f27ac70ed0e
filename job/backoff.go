package job

import (
	"fmt"
	"time"
)

// BackoffType selects how retry delays grow
type BackoffType int

const (
	Fixed BackoffType = iota + 1
	Exponential
)

// DefaultBackoffCap bounds exponential delays when no cap is configured
const DefaultBackoffCap = time.Hour

// String returns the string representation of the backoff type
func (t BackoffType) String() string {
	switch t {
	case Fixed:
		return "fixed"
	case Exponential:
		return "exponential"
	default:
		return "unknown"
	}
}

// NewBackoffType creates a BackoffType from a string
func NewBackoffType(s string) BackoffType {
	switch s {
	case "fixed":
		return Fixed
	default:
		return Exponential
	}
}

// Backoff is the retry delay policy of a job
type Backoff struct {
	Type  BackoffType
	Delay time.Duration
	Cap   time.Duration
}

func FixedBackoff(delay time.Duration) Backoff {
	return Backoff{Type: Fixed, Delay: delay}
}

func ExponentialBackoff(base time.Duration) Backoff {
	return Backoff{Type: Exponential, Delay: base, Cap: DefaultBackoffCap}
}

// Validate checks if the backoff policy is usable
func (b Backoff) Validate() error {
	if b.Type != Fixed && b.Type != Exponential {
		return fmt.Errorf("invalid backoff type: %d", b.Type)
	}
	if b.Delay < 0 {
		return fmt.Errorf("backoff delay cannot be negative")
	}
	if b.Cap < 0 {
		return fmt.Errorf("backoff cap cannot be negative")
	}
	return nil
}

// Next returns the delay before the attempt after attemptsMade.
// Exponential: min(Delay * 2^(attemptsMade-1), Cap). Fixed: Delay.
func (b Backoff) Next(attemptsMade int) time.Duration {
	if b.Type == Fixed {
		return b.Delay
	}

	limit := b.Cap
	if limit <= 0 {
		limit = DefaultBackoffCap
	}
	if b.Delay <= 0 {
		return 0
	}
	if b.Delay >= limit {
		return limit
	}
	if attemptsMade < 1 {
		attemptsMade = 1
	}

	delay := b.Delay
	for i := 1; i < attemptsMade; i++ {
		// doubling past the cap also guards against overflow
		if delay > limit/2 {
			return limit
		}
		delay *= 2
	}
	return delay
}
