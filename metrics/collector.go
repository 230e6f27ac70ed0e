package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/marcelsud/dispatch/breaker"
	"github.com/marcelsud/dispatch/job"
	jobredis "github.com/marcelsud/dispatch/job/redis"
)

// StatsSource reports job counts per queue; *job.Service implements it
type StatsSource interface {
	Stats(ctx context.Context) ([]job.QueueStats, error)
}

// WorkerSource reports live workers; *jobredis.Store implements it
type WorkerSource interface {
	GetAllActiveWorkers(ctx context.Context) (map[job.Queue][]jobredis.WorkerHeartbeat, error)
}

// StoreCollector implements Collector on top of the job store and the breaker registry
type StoreCollector struct {
	stats    StatsSource
	breakers *breaker.Manager
	workers  WorkerSource
}

// NewStoreCollector creates a collector; workers may be nil when no heartbeats are kept
func NewStoreCollector(stats StatsSource, breakers *breaker.Manager, workers WorkerSource) *StoreCollector {
	return &StoreCollector{
		stats:    stats,
		breakers: breakers,
		workers:  workers,
	}
}

// Collect gathers all metrics
func (c *StoreCollector) Collect(ctx context.Context) (Metrics, error) {
	queues, err := c.GetQueueStats(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting queue stats: %w", err)
	}

	workers, err := c.GetActiveWorkers(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting active workers: %w", err)
	}

	return Metrics{
		Queues:    queues,
		Breakers:  c.GetBreakers(),
		Workers:   workers,
		Timestamp: time.Now(),
	}, nil
}

func (c *StoreCollector) GetQueueStats(ctx context.Context) ([]job.QueueStats, error) {
	return c.stats.Stats(ctx)
}

func (c *StoreCollector) GetBreakers() []breaker.HealthStatus {
	if c.breakers == nil {
		return nil
	}
	return c.breakers.Statuses()
}

// GetActiveWorkers groups live workers by queue name
func (c *StoreCollector) GetActiveWorkers(ctx context.Context) (map[string][]WorkerInfo, error) {
	workers := make(map[string][]WorkerInfo)
	if c.workers == nil {
		return workers, nil
	}

	byQueue, err := c.workers.GetAllActiveWorkers(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting worker heartbeats: %w", err)
	}

	for queue, heartbeats := range byQueue {
		for _, hb := range heartbeats {
			workers[queue.String()] = append(workers[queue.String()], WorkerInfo{
				WorkerID:      hb.WorkerID,
				Queue:         queue.String(),
				Status:        hb.Status,
				LastHeartbeat: hb.LastHeartbeat,
			})
		}
	}

	return workers, nil
}
