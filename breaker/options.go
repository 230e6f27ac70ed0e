package breaker

import (
	"encoding/json"
	"fmt"
	"time"
)

// State is the breaker's position in its state machine
type State int

const (
	Closed State = iota + 1
	Open
	HalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Clock abstracts time for testing
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Options configures a breaker
type Options struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	MonitoringPeriod time.Duration
	HalfOpenMaxCalls int

	// OnStateChange runs after every transition, outside the breaker's lock
	OnStateChange func(name string, from, to State)

	Clock Clock
}

func DefaultOptions() Options {
	return Options{
		FailureThreshold: 5,
		ResetTimeout:     60 * time.Second,
		MonitoringPeriod: 120 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.FailureThreshold < 1 {
		o.FailureThreshold = d.FailureThreshold
	}
	if o.ResetTimeout <= 0 {
		o.ResetTimeout = d.ResetTimeout
	}
	if o.MonitoringPeriod <= 0 {
		o.MonitoringPeriod = d.MonitoringPeriod
	}
	if o.HalfOpenMaxCalls < 1 {
		o.HalfOpenMaxCalls = d.HalfOpenMaxCalls
	}
	return o
}

// Validate rejects option sets that could never trip or recover
func (o Options) Validate() error {
	if o.FailureThreshold < 1 {
		return fmt.Errorf("failure threshold must be at least 1")
	}
	if o.HalfOpenMaxCalls < 1 {
		return fmt.Errorf("half-open max calls must be at least 1")
	}
	if o.ResetTimeout <= 0 || o.MonitoringPeriod <= 0 {
		return fmt.Errorf("reset timeout and monitoring period must be positive")
	}
	return nil
}

type Option func(*Options)

func WithFailureThreshold(n int) Option {
	return func(o *Options) { o.FailureThreshold = n }
}

func WithResetTimeout(d time.Duration) Option {
	return func(o *Options) { o.ResetTimeout = d }
}

func WithMonitoringPeriod(d time.Duration) Option {
	return func(o *Options) { o.MonitoringPeriod = d }
}

func WithHalfOpenMaxCalls(n int) Option {
	return func(o *Options) { o.HalfOpenMaxCalls = n }
}

func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(o *Options) { o.OnStateChange = fn }
}

func WithClock(c Clock) Option {
	return func(o *Options) { o.Clock = c }
}

// WithOptions replaces every field at once; later options still apply on top
func WithOptions(opts Options) Option {
	return func(o *Options) { *o = opts }
}
