package job

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

/* Service is the producer-facing API of the queue
 * Uses pointer semantics as it's an API, not data
 */

// UseCase defines the queue operations exposed to the rest of the system
type UseCase interface {
	Enqueue(ctx context.Context, queue Queue, name string, payload Payload, opts ...Option) (Handle, error)
	Get(ctx context.Context, id string) (*Job, error)
	Stats(ctx context.Context) ([]QueueStats, error)
	Dead(ctx context.Context, queue Queue, limit int) ([]*Job, error)
}

type Service struct {
	Store    Store
	policies map[Queue]Policy
	now      func() time.Time
}

// NewService creates a queue service; policies override DefaultPolicies per queue
func NewService(store Store, policies map[Queue]Policy) *Service {
	merged := DefaultPolicies()
	for q, p := range policies {
		merged[q] = p
	}
	return &Service{
		Store:    store,
		policies: merged,
		now:      time.Now,
	}
}

// Policy returns the effective default retry policy of a queue
func (s *Service) Policy(queue Queue) Policy {
	return s.policies[queue]
}

// Enqueue persists a job and returns as soon as the store write succeeds
func (s *Service) Enqueue(ctx context.Context, queue Queue, name string, payload Payload, opts ...Option) (Handle, error) {
	if err := queue.Validate(); err != nil {
		return Handle{}, err
	}
	if payload == nil {
		return Handle{}, fmt.Errorf("%w: payload is nil", ErrInvalidPayload)
	}
	if payload.Kind().Queue() != queue {
		return Handle{}, fmt.Errorf("%w: %s on %s", ErrPayloadQueueMismatch, payload.Kind(), queue)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.validate(); err != nil {
		return Handle{}, err
	}

	policy := s.policies[queue]
	attempts := policy.Attempts
	if o.hasAttempts {
		attempts = o.attempts
	}
	backoff := policy.Backoff
	if o.backoff != nil {
		backoff = *o.backoff
	}
	id := o.id
	if id == "" {
		id = uuid.New().String()
	}
	if name == "" {
		name = string(payload.Kind())
	}

	now := s.now()
	job := &Job{
		ID:          id,
		Queue:       queue,
		Name:        name,
		Payload:     payload,
		MaxAttempts: attempts,
		Backoff:     backoff,
		Priority:    o.priority,
		Status:      Pending,
		RunAt:       now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if o.delay > 0 {
		job.Status = Delayed
		job.RunAt = now.Add(o.delay)
	}

	if _, err := s.Store.Add(ctx, job); err != nil {
		return Handle{}, fmt.Errorf("adding job: %w", err)
	}

	return Handle{ID: id, Queue: queue}, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	job, err := s.Store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting job: %w", err)
	}
	return job, nil
}

// Stats returns a snapshot of every queue
func (s *Service) Stats(ctx context.Context) ([]QueueStats, error) {
	stats := make([]QueueStats, 0, len(Queues()))
	for _, q := range Queues() {
		st, err := s.Store.Stats(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("getting stats for %s: %w", q, err)
		}
		stats = append(stats, st)
	}
	return stats, nil
}

// Dead lists the most recent dead-lettered jobs of a queue
func (s *Service) Dead(ctx context.Context, queue Queue, limit int) ([]*Job, error) {
	if err := queue.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	jobs, err := s.Store.Dead(ctx, queue, limit)
	if err != nil {
		return nil, fmt.Errorf("listing dead jobs: %w", err)
	}
	return jobs, nil
}
