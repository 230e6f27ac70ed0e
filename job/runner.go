package job

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Handler processes one job. Returning an error schedules a retry unless
// the error is Permanent or the job has no attempts left.
type Handler interface {
	Handle(ctx context.Context, job *Job) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, job *Job) error

func (f HandlerFunc) Handle(ctx context.Context, job *Job) error {
	return f(ctx, job)
}

// Outcome is what happened to a job after one attempt
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeRetried   Outcome = "retried"
	OutcomeDead      Outcome = "dead"
	OutcomeLost      Outcome = "lost"
)

const (
	defaultConcurrency       = 5
	defaultLease             = 30 * time.Second
	defaultPollInterval      = 250 * time.Millisecond
	defaultPromoteInterval   = time.Second
	defaultHeartbeatInterval = 30 * time.Second
	errorBackoff             = time.Second
)

type RunnerOptions struct {
	WorkerID    string
	Concurrency int
	Lease       time.Duration
	// PollInterval is the wait after an empty claim
	PollInterval      time.Duration
	PromoteInterval   time.Duration
	HeartbeatInterval time.Duration
	Heartbeater       Heartbeater
	OnOutcome         func(queue Queue, outcome Outcome, elapsed time.Duration)
}

/* Runner consumes one queue with a fixed number of consumer goroutines
 * Each claimed job keeps its lease alive while the handler runs; when the
 * context is cancelled the runner stops claiming and waits for in-flight
 * handlers to return.
 */
type Runner struct {
	consumer Consumer
	queue    Queue
	handler  Handler
	opts     RunnerOptions
	logger   zerolog.Logger
	now      func() time.Time
	active   atomic.Int64
}

func NewRunner(consumer Consumer, queue Queue, handler Handler, logger zerolog.Logger, opts RunnerOptions) *Runner {
	if opts.Concurrency < 1 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.Lease <= 0 {
		opts.Lease = defaultLease
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.PromoteInterval <= 0 {
		opts.PromoteInterval = defaultPromoteInterval
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeatInterval
	}
	if opts.WorkerID == "" {
		opts.WorkerID = "worker"
	}
	return &Runner{
		consumer: consumer,
		queue:    queue,
		handler:  handler,
		opts:     opts,
		logger:   logger.With().Str("queue", queue.String()).Str("worker_id", opts.WorkerID).Logger(),
		now:      time.Now,
	}
}

// Queue returns the queue this runner consumes
func (r *Runner) Queue() Queue {
	return r.queue
}

// Run blocks until ctx is cancelled and every in-flight job has been settled
func (r *Runner) Run(ctx context.Context) error {
	if err := r.queue.Validate(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < r.opts.Concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", r.opts.WorkerID, i)
		g.Go(func() error {
			r.consume(ctx, consumer)
			return nil
		})
	}
	g.Go(func() error {
		r.promote(ctx)
		return nil
	})
	if r.opts.Heartbeater != nil {
		g.Go(func() error {
			r.heartbeat(ctx)
			return nil
		})
	}

	r.logger.Info().Int("concurrency", r.opts.Concurrency).Msg("runner started")
	err := g.Wait()
	r.logger.Info().Msg("runner stopped")
	return err
}

func (r *Runner) consume(ctx context.Context, consumer string) {
	for ctx.Err() == nil {
		j, err := r.consumer.Claim(ctx, r.queue, consumer, r.opts.Lease)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error().Err(err).Msg("claiming job")
			sleep(ctx, errorBackoff)
			continue
		}
		if j == nil {
			sleep(ctx, r.opts.PollInterval)
			continue
		}
		r.process(ctx, j)
	}
}

// process runs one attempt; settling uses a context that survives shutdown
func (r *Runner) process(ctx context.Context, j *Job) {
	r.active.Add(1)
	defer r.active.Add(-1)

	settleCtx := context.WithoutCancel(ctx)
	log := r.logger.With().Str("job_id", j.ID).Str("job_name", j.Name).Int("attempt", j.AttemptsMade).Logger()
	started := r.now()

	herr := r.runHandler(settleCtx, j)
	elapsed := r.now().Sub(started)

	var (
		outcome Outcome
		err     error
	)
	switch {
	case herr == nil:
		outcome = OutcomeCompleted
		err = r.consumer.Complete(settleCtx, j)
	case IsPermanent(herr) || j.Exhausted():
		outcome = OutcomeDead
		err = r.consumer.Fail(settleCtx, j, herr)
	default:
		outcome = OutcomeRetried
		err = r.consumer.Retry(settleCtx, j, r.now().Add(j.Backoff.Next(j.AttemptsMade)), herr)
	}

	if errors.Is(err, ErrLeaseLost) {
		outcome = OutcomeLost
		log.Warn().Msg("lease lost before settling, another worker owns the job")
	} else if err != nil {
		log.Error().Err(err).Str("outcome", string(outcome)).Msg("settling job")
		return
	}

	switch outcome {
	case OutcomeCompleted:
		log.Debug().Dur("elapsed", elapsed).Msg("job completed")
	case OutcomeRetried:
		log.Warn().Err(herr).Dur("elapsed", elapsed).Msg("job failed, retry scheduled")
	case OutcomeDead:
		log.Error().Err(herr).Dur("elapsed", elapsed).Int("max_attempts", j.MaxAttempts).Msg("job moved to dead set")
	}

	if r.opts.OnOutcome != nil {
		r.opts.OnOutcome(r.queue, outcome, elapsed)
	}
}

func (r *Runner) runHandler(ctx context.Context, j *Job) (err error) {
	if j.Payload == nil {
		return Permanent(fmt.Errorf("%w: job %s has no decodable payload", ErrInvalidPayload, j.ID))
	}

	hctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go r.keepLease(hctx, j)

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return r.handler.Handle(hctx, j)
}

func (r *Runner) keepLease(ctx context.Context, j *Job) {
	ticker := time.NewTicker(r.opts.Lease / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.consumer.ExtendLease(ctx, j, r.opts.Lease); err != nil {
				if ctx.Err() != nil {
					return
				}
				r.logger.Warn().Err(err).Str("job_id", j.ID).Msg("extending lease")
			}
		}
	}
}

func (r *Runner) promote(ctx context.Context) {
	ticker := time.NewTicker(r.opts.PromoteInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.consumer.PromoteDue(ctx, r.queue, r.now())
			if err != nil {
				if ctx.Err() == nil {
					r.logger.Error().Err(err).Msg("promoting delayed jobs")
				}
				continue
			}
			if n > 0 {
				r.logger.Debug().Int("count", n).Msg("promoted delayed jobs")
			}
		}
	}
}

func (r *Runner) heartbeat(ctx context.Context) {
	beat := func() {
		status := "idle"
		if r.active.Load() > 0 {
			status = "processing"
		}
		if err := r.opts.Heartbeater.SetWorkerHeartbeat(ctx, r.opts.WorkerID, r.queue, status); err != nil && ctx.Err() == nil {
			r.logger.Warn().Err(err).Msg("sending heartbeat")
		}
	}

	beat()
	ticker := time.NewTicker(r.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			beat()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
