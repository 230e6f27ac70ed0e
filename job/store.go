package job

import (
	"context"
	"time"
)

/* Small interfaces split by who uses them:
 * producers add jobs, the runner consumes them, the API inspects them
 */

// Producer stores new jobs
type Producer interface {
	/* Add stores a job and makes it claimable at job.RunAt
	 * Returns created=false without error when a job with the same ID exists
	 */
	Add(ctx context.Context, job *Job) (created bool, err error)
}

// Consumer is the worker side of the queue
type Consumer interface {
	/* Claim hands out at most one job to one consumer at a time
	 * Returns nil, nil when nothing is ready. Claiming counts as an attempt.
	 */
	Claim(ctx context.Context, queue Queue, consumer string, lease time.Duration) (*Job, error)
	ExtendLease(ctx context.Context, job *Job, lease time.Duration) error
	Complete(ctx context.Context, job *Job) error
	// Retry releases the claim and schedules the job to run again at runAt
	Retry(ctx context.Context, job *Job, runAt time.Time, cause error) error
	// Fail moves the job to the dead set; it is not retried automatically
	Fail(ctx context.Context, job *Job, cause error) error
	// PromoteDue makes delayed jobs whose run time has passed claimable
	PromoteDue(ctx context.Context, queue Queue, now time.Time) (int, error)
}

// Inspector provides read operations for the API and metrics
type Inspector interface {
	Get(ctx context.Context, id string) (*Job, error)
	Stats(ctx context.Context, queue Queue) (QueueStats, error)
	Dead(ctx context.Context, queue Queue, limit int) ([]*Job, error)
}

// Heartbeater records that a worker is alive
type Heartbeater interface {
	SetWorkerHeartbeat(ctx context.Context, workerID string, queue Queue, status string) error
}

type Store interface {
	Producer
	Consumer
	Inspector
	Close(ctx context.Context) error
}
