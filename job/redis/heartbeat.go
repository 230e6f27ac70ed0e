package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/marcelsud/dispatch/job"
	"github.com/redis/go-redis/v9"
)

// HeartbeatTTL is how long a worker counts as alive after its last heartbeat
const HeartbeatTTL = 60 * time.Second

// WorkerHeartbeat represents the heartbeat data for a worker
type WorkerHeartbeat struct {
	WorkerID      string    `json:"worker_id"`
	Queue         job.Queue `json:"queue"`
	Status        string    `json:"status"` // "idle", "processing"
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// SetWorkerHeartbeat stores or updates a worker's heartbeat in Redis
// If a worker doesn't send a heartbeat within HeartbeatTTL it's considered inactive
func (s *Store) SetWorkerHeartbeat(ctx context.Context, workerID string, queue job.Queue, status string) error {
	key := fmt.Sprintf("worker:heartbeat:%s:%s", queue, workerID)

	heartbeat := WorkerHeartbeat{
		WorkerID:      workerID,
		Queue:         queue,
		Status:        status,
		LastHeartbeat: s.now(),
	}

	data, err := json.Marshal(heartbeat)
	if err != nil {
		return fmt.Errorf("marshaling heartbeat: %w", err)
	}

	err = s.client.Set(ctx, key, data, HeartbeatTTL).Err()
	if err != nil {
		return fmt.Errorf("setting heartbeat: %w", err)
	}

	return nil
}

// GetActiveWorkers retrieves all live workers of one queue
func (s *Store) GetActiveWorkers(ctx context.Context, queue job.Queue) ([]WorkerHeartbeat, error) {
	return s.scanHeartbeats(ctx, fmt.Sprintf("worker:heartbeat:%s:*", queue))
}

// GetAllActiveWorkers retrieves all live workers grouped by queue
func (s *Store) GetAllActiveWorkers(ctx context.Context) (map[job.Queue][]WorkerHeartbeat, error) {
	workers, err := s.scanHeartbeats(ctx, "worker:heartbeat:*")
	if err != nil {
		return nil, err
	}

	byQueue := make(map[job.Queue][]WorkerHeartbeat)
	for _, hb := range workers {
		byQueue[hb.Queue] = append(byQueue[hb.Queue], hb)
	}
	return byQueue, nil
}

func (s *Store) scanHeartbeats(ctx context.Context, pattern string) ([]WorkerHeartbeat, error) {
	var workers []WorkerHeartbeat

	var cursor uint64
	for {
		keys, nextCursor, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scanning worker keys: %w", err)
		}

		for _, key := range keys {
			data, err := s.client.Get(ctx, key).Result()
			if err == redis.Nil {
				// Key expired between scan and get
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("getting worker heartbeat: %w", err)
			}

			var heartbeat WorkerHeartbeat
			if err := json.Unmarshal([]byte(data), &heartbeat); err != nil {
				continue
			}

			workers = append(workers, heartbeat)
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return workers, nil
}
