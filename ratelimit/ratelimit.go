package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

/* Fixed-window limiter over a shared counter store
 * The first INCR of a window sets the key's expiry; the window ends when the
 * key expires, never by explicit clearing. Store errors fail open.
 */

const keyPrefix = "throttle"

// Counter is the subset of the coordination store the limiter needs.
// Every call touches a single key.
type Counter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// TTL returns a negative duration when the key has no expiry or does not exist
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// Identity names who is calling; empty fields fall back to anonymous/unknown
type Identity struct {
	CompanyID string
	ClientIP  string
}

// Rule is a window length and the number of requests allowed inside it
type Rule struct {
	TTL   time.Duration
	Limit int64
}

func (r Rule) Validate() error {
	if r.TTL < time.Second {
		return fmt.Errorf("ttl must be at least one second")
	}
	if r.Limit < 1 {
		return fmt.Errorf("limit must be at least 1")
	}
	return nil
}

// Decision is the outcome of a single check
type Decision struct {
	Allowed    bool
	Count      int64
	Limit      int64
	RetryAfter time.Duration
	// FailOpen is set when the store could not be reached and the request was let through
	FailOpen bool
}

// Remaining returns how many requests are left in the current window
func (d Decision) Remaining() int64 {
	if d.Count >= d.Limit {
		return 0
	}
	return d.Limit - d.Count
}

// Key builds throttle:{tenant}:{client}:{route}
func Key(id Identity, routeID string) string {
	company := id.CompanyID
	if company == "" {
		company = "anonymous"
	}
	ip := id.ClientIP
	if ip == "" {
		ip = "unknown"
	}
	return fmt.Sprintf("%s:%s:%s:%s", keyPrefix, company, ip, routeID)
}

type Limiter struct {
	counter    Counter
	logger     zerolog.Logger
	sometimes  *rate.Sometimes
	onFailOpen func(ctx context.Context, routeID string, err error)
}

type Option func(*Limiter)

// WithFailOpenHook is called on every fail-open decision, including the ones
// whose log line was sampled away
func WithFailOpenHook(fn func(ctx context.Context, routeID string, err error)) Option {
	return func(l *Limiter) { l.onFailOpen = fn }
}

// WithLogSampling changes how often fail-open warnings are written
func WithLogSampling(interval time.Duration) Option {
	return func(l *Limiter) { l.sometimes = &rate.Sometimes{First: 1, Interval: interval} }
}

func NewLimiter(counter Counter, logger zerolog.Logger, opts ...Option) *Limiter {
	l := &Limiter{
		counter:   counter,
		logger:    logger,
		sometimes: &rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check counts one request against the window for (identity, route)
func (l *Limiter) Check(ctx context.Context, id Identity, routeID string, rule Rule) Decision {
	key := Key(id, routeID)

	count, err := l.counter.Incr(ctx, key)
	if err != nil {
		return l.failOpen(ctx, routeID, rule, fmt.Errorf("incrementing %s: %w", key, err))
	}

	if count == 1 {
		if err := l.counter.Expire(ctx, key, rule.TTL); err != nil {
			return l.failOpen(ctx, routeID, rule, fmt.Errorf("setting expiry on %s: %w", key, err))
		}
	}

	decision := Decision{
		Allowed: count <= rule.Limit,
		Count:   count,
		Limit:   rule.Limit,
	}
	if decision.Allowed {
		return decision
	}

	ttl, err := l.counter.TTL(ctx, key)
	if err != nil {
		// the counter already says no; without a TTL the full window is the best hint
		decision.RetryAfter = rule.TTL
		return decision
	}
	if ttl < 0 {
		// expiry was lost (e.g. EXPIRE failed after INCR); restart the window so the key cannot stick
		if err := l.counter.Expire(ctx, key, rule.TTL); err != nil {
			l.sometimes.Do(func() {
				l.logger.Warn().
					Err(err).
					Str("route_id", routeID).
					Str("event", "ratelimit.expiry_repair_failed").
					Msg("could not restore expiry on rate limit key")
			})
		}
		ttl = rule.TTL
	}
	decision.RetryAfter = ttl
	return decision
}

func (l *Limiter) failOpen(ctx context.Context, routeID string, rule Rule, err error) Decision {
	if l.onFailOpen != nil {
		l.onFailOpen(ctx, routeID, err)
	}
	l.sometimes.Do(func() {
		l.logger.Warn().
			Err(err).
			Str("route_id", routeID).
			Str("event", "ratelimit.fail_open").
			Msg("rate limit store unavailable, allowing request")
	})
	return Decision{
		Allowed:  true,
		Limit:    rule.Limit,
		FailOpen: true,
	}
}
