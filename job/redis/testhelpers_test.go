//go:build integration

package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/marcelsud/dispatch/job"
	"github.com/marcelsud/dispatch/job/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	testcontainersredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// SetupRedisContainer starts a Redis testcontainer and returns its address
func SetupRedisContainer(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()

	redisContainer, err := testcontainersredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err, "failed to start Redis container")

	addr, err := redisContainer.ConnectionString(ctx)
	require.NoError(t, err, "failed to get Redis connection string")

	// Remove redis:// prefix if present
	if len(addr) > 8 && addr[:8] == "redis://" {
		addr = addr[8:]
	}

	cleanup := func() {
		if err := redisContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate Redis container: %v", err)
		}
	}

	return addr, cleanup
}

// CreateTestStore creates a job store connected to the test container
func CreateTestStore(t *testing.T, addr string, retention job.Retention) (*redis.Store, *goredis.Client) {
	t.Helper()

	client, err := redis.NewClient(addr, "", 0)
	require.NoError(t, err, "failed to connect to Redis")

	store := redis.NewStore(client, retention, redis.WithBlock(50*time.Millisecond))
	return store, client
}

func newJob(id string, queue job.Queue, payload job.Payload) *job.Job {
	now := time.Now()
	return &job.Job{
		ID:          id,
		Queue:       queue,
		Name:        "test",
		Payload:     payload,
		MaxAttempts: 3,
		Backoff:     job.ExponentialBackoff(time.Second),
		Status:      job.Pending,
		RunAt:       now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
