package metrics

import (
	"context"
	"time"

	"github.com/marcelsud/dispatch/breaker"
	"github.com/marcelsud/dispatch/job"
)

// Metrics is a point-in-time snapshot of the dispatch system.
type Metrics struct {
	// Queues holds the job counts of every queue
	Queues []job.QueueStats `json:"queues"`

	// Breakers holds the health of every known circuit breaker
	Breakers []breaker.HealthStatus `json:"breakers"`

	// Workers maps queue name to its live workers
	Workers map[string][]WorkerInfo `json:"workers"`

	// Timestamp when metrics were collected
	Timestamp time.Time `json:"timestamp"`
}

// WorkerInfo represents information about an active worker.
type WorkerInfo struct {
	// WorkerID is a unique identifier for the worker
	WorkerID string `json:"worker_id"`

	// Queue is the queue this worker consumes
	Queue string `json:"queue"`

	// Status is the current status of the worker (e.g., "idle", "processing")
	Status string `json:"status"`

	// LastHeartbeat is the timestamp of the last heartbeat
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// Collector defines the interface for collecting metrics from the dispatch system.
type Collector interface {
	// Collect gathers current metrics from the system
	Collect(ctx context.Context) (Metrics, error)

	// GetQueueStats returns job counts per queue
	GetQueueStats(ctx context.Context) ([]job.QueueStats, error)

	// GetBreakers returns the health of every circuit breaker
	GetBreakers() []breaker.HealthStatus

	// GetActiveWorkers returns information about active workers per queue
	GetActiveWorkers(ctx context.Context) (map[string][]WorkerInfo, error)
}
