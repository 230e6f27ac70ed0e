//go:build integration

package redis_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/marcelsud/dispatch/job"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Integration(t *testing.T) {
	ctx := context.Background()
	addr, cleanup := SetupRedisContainer(t, ctx)
	defer cleanup()

	t.Run("add is idempotent by id", func(t *testing.T) {
		store, client := CreateTestStore(t, addr, job.DefaultRetention())
		defer client.FlushDB(ctx)

		created, err := store.Add(ctx, newJob("idem", job.Email, job.EmailPayload{Subject: "first"}))
		require.NoError(t, err)
		assert.True(t, created)

		created, err = store.Add(ctx, newJob("idem", job.Email, job.EmailPayload{Subject: "second"}))
		require.NoError(t, err)
		assert.False(t, created)

		got, err := store.Get(ctx, "idem")
		require.NoError(t, err)
		assert.Equal(t, "first", got.Payload.(job.EmailPayload).Subject)

		stats, err := store.Stats(ctx, job.Email)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.Waiting)
	})

	t.Run("claim, complete and retain", func(t *testing.T) {
		store, client := CreateTestStore(t, addr, job.Retention{CompletedKeep: 10, CompletedTTL: time.Hour, FailedKeep: 10, FailedTTL: time.Hour})
		defer client.FlushDB(ctx)

		_, err := store.Add(ctx, newJob("c1", job.Webhook, job.WebhookPayload{WebhookID: "wh-1", Event: "a.b"}))
		require.NoError(t, err)

		j, err := store.Claim(ctx, job.Webhook, "w1", time.Minute)
		require.NoError(t, err)
		require.NotNil(t, j)
		assert.Equal(t, "c1", j.ID)
		assert.Equal(t, 1, j.AttemptsMade)
		assert.Equal(t, job.Active, j.Status)
		assert.Equal(t, "wh-1", j.Payload.(job.WebhookPayload).WebhookID)

		require.NoError(t, store.Complete(ctx, j))

		got, err := store.Get(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, job.Completed, got.Status)

		ttl, err := client.TTL(ctx, "job:c1").Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, 59*time.Minute)

		stats, err := store.Stats(ctx, job.Webhook)
		require.NoError(t, err)
		assert.Equal(t, job.QueueStats{Queue: job.Webhook, Completed: 1}, stats)
	})

	t.Run("exactly one of many concurrent consumers claims a job", func(t *testing.T) {
		store, client := CreateTestStore(t, addr, job.DefaultRetention())
		defer client.FlushDB(ctx)

		_, err := store.Add(ctx, newJob("once", job.Report, job.ReportPayload{ReportID: "r"}))
		require.NoError(t, err)

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			claimed int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				j, err := store.Claim(ctx, job.Report, "w"+string(rune('a'+i)), time.Minute)
				if err == nil && j != nil {
					mu.Lock()
					claimed++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, claimed)
	})

	t.Run("expired lease is reclaimed by another consumer", func(t *testing.T) {
		store, client := CreateTestStore(t, addr, job.DefaultRetention())
		defer client.FlushDB(ctx)

		_, err := store.Add(ctx, newJob("stale", job.Workflow, job.WorkflowPayload{WorkflowID: "w"}))
		require.NoError(t, err)

		first, err := store.Claim(ctx, job.Workflow, "crashed", 200*time.Millisecond)
		require.NoError(t, err)
		require.NotNil(t, first)

		none, err := store.Claim(ctx, job.Workflow, "other", 200*time.Millisecond)
		require.NoError(t, err)
		assert.Nil(t, none)

		time.Sleep(300 * time.Millisecond)

		second, err := store.Claim(ctx, job.Workflow, "other", 200*time.Millisecond)
		require.NoError(t, err)
		require.NotNil(t, second)
		assert.Equal(t, "stale", second.ID)
		assert.Equal(t, 2, second.AttemptsMade)

		assert.ErrorIs(t, store.Complete(ctx, first), job.ErrLeaseLost)
		require.NoError(t, store.Complete(ctx, second))
	})

	t.Run("retry waits in the delayed set until promoted", func(t *testing.T) {
		store, client := CreateTestStore(t, addr, job.DefaultRetention())
		defer client.FlushDB(ctx)

		_, err := store.Add(ctx, newJob("retry", job.Email, job.EmailPayload{}))
		require.NoError(t, err)
		j, err := store.Claim(ctx, job.Email, "w", time.Minute)
		require.NoError(t, err)

		runAt := time.Now().Add(time.Second)
		require.NoError(t, store.Retry(ctx, j, runAt, errors.New("smtp timeout")))

		stats, err := store.Stats(ctx, job.Email)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.Delayed)
		assert.Equal(t, int64(0), stats.Active)

		n, err := store.PromoteDue(ctx, job.Email, time.Now())
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		n, err = store.PromoteDue(ctx, job.Email, runAt.Add(time.Millisecond))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		again, err := store.Claim(ctx, job.Email, "w", time.Minute)
		require.NoError(t, err)
		require.NotNil(t, again)
		assert.Equal(t, 2, again.AttemptsMade)
		assert.Equal(t, "smtp timeout", again.LastError)
	})

	t.Run("fail moves the job to the dead list", func(t *testing.T) {
		store, client := CreateTestStore(t, addr, job.DefaultRetention())
		defer client.FlushDB(ctx)

		_, err := store.Add(ctx, newJob("dead", job.UploadCleanup, job.CleanupPayload{}))
		require.NoError(t, err)
		j, err := store.Claim(ctx, job.UploadCleanup, "w", time.Minute)
		require.NoError(t, err)
		require.NoError(t, store.Fail(ctx, j, errors.New("bucket gone")))

		dead, err := store.Dead(ctx, job.UploadCleanup, 10)
		require.NoError(t, err)
		require.Len(t, dead, 1)
		assert.Equal(t, "bucket gone", dead[0].LastError)
		assert.Equal(t, job.Failed, dead[0].Status)
	})

	t.Run("priority stream is served first", func(t *testing.T) {
		store, client := CreateTestStore(t, addr, job.DefaultRetention())
		defer client.FlushDB(ctx)

		_, err := store.Add(ctx, newJob("normal", job.Email, job.EmailPayload{}))
		require.NoError(t, err)
		urgent := newJob("urgent", job.Email, job.EmailPayload{})
		urgent.Priority = 1
		_, err = store.Add(ctx, urgent)
		require.NoError(t, err)

		j, err := store.Claim(ctx, job.Email, "w", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, "urgent", j.ID)
	})

	t.Run("heartbeats are listed per queue", func(t *testing.T) {
		store, client := CreateTestStore(t, addr, job.DefaultRetention())
		defer client.FlushDB(ctx)

		require.NoError(t, store.SetWorkerHeartbeat(ctx, "w1", job.Email, "idle"))
		require.NoError(t, store.SetWorkerHeartbeat(ctx, "w2", job.Webhook, "processing"))

		workers, err := store.GetActiveWorkers(ctx, job.Email)
		require.NoError(t, err)
		require.Len(t, workers, 1)
		assert.Equal(t, "w1", workers[0].WorkerID)

		all, err := store.GetAllActiveWorkers(ctx)
		require.NoError(t, err)
		assert.Len(t, all[job.Webhook], 1)
	})

	t.Run("failed enqueue releases the job id", func(t *testing.T) {
		store, client := CreateTestStore(t, addr, job.DefaultRetention())
		defer client.FlushDB(ctx)

		// a string under the stream key makes XADD fail with WRONGTYPE
		require.NoError(t, client.Set(ctx, "jobs:email", "not a stream", 0).Err())

		created, err := store.Add(ctx, newJob("orphan", job.Email, job.EmailPayload{}))
		require.Error(t, err)
		assert.False(t, created)

		_, err = store.Get(ctx, "orphan")
		assert.ErrorIs(t, err, job.ErrNotFound)
		exists, err := client.Exists(ctx, "job:orphan").Result()
		require.NoError(t, err)
		assert.Zero(t, exists)

		require.NoError(t, client.Del(ctx, "jobs:email").Err())
		created, err = store.Add(ctx, newJob("orphan", job.Email, job.EmailPayload{}))
		require.NoError(t, err)
		assert.True(t, created)
	})

	t.Run("failed promotion puts the job back in the delayed set", func(t *testing.T) {
		store, client := CreateTestStore(t, addr, job.DefaultRetention())
		defer client.FlushDB(ctx)

		later := newJob("later", job.Report, job.ReportPayload{ReportID: "r-1"})
		later.RunAt = time.Now().Add(time.Second)
		_, err := store.Add(ctx, later)
		require.NoError(t, err)
		require.NoError(t, client.Set(ctx, "jobs:report", "not a stream", 0).Err())

		due := later.RunAt.Add(time.Millisecond)
		n, err := store.PromoteDue(ctx, job.Report, due)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "promoting job later")
		assert.Equal(t, 0, n)

		_, err = client.ZScore(ctx, "jobs:report:delayed", "later").Result()
		require.NoError(t, err)

		require.NoError(t, client.Del(ctx, "jobs:report").Err())
		n, err = store.PromoteDue(ctx, job.Report, due)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}
