//go:build integration

package delivery_test

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/marcelsud/dispatch/breaker"
	"github.com/marcelsud/dispatch/delivery"
	"github.com/marcelsud/dispatch/job"
	jobredis "github.com/marcelsud/dispatch/job/redis"
	"github.com/marcelsud/dispatch/webhook"
	webhookredis "github.com/marcelsud/dispatch/webhook/redis"
	"github.com/marcelsud/dispatch/webhook/signature"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testcontainersredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// TestRedisDelivery_EndToEnd runs fan-out, signing, retries and dead-lettering against a real Redis
func TestRedisDelivery_EndToEnd(t *testing.T) {
	ctx := context.Background()

	container, err := testcontainersredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err, "failed to start Redis container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate Redis container: %v", err)
		}
	})
	addr, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	addr = strings.TrimPrefix(addr, "redis://")

	client, err := jobredis.NewClient(addr, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store := jobredis.NewStore(client, job.DefaultRetention(), jobredis.WithBlock(50*time.Millisecond))
	policies := job.DefaultPolicies()
	jobs := job.NewService(store, policies)
	webhooks := webhook.NewService(webhookredis.NewRepository(client), jobs)

	healthy := newEndpoint(t)
	broken := newEndpoint(t, http.StatusBadGateway, http.StatusBadGateway, http.StatusBadGateway)

	subscribed, err := webhooks.Register(ctx, "acme", healthy.URL, []string{"task.*"}, webhook.RegisterOptions{})
	require.NoError(t, err)
	failing, err := webhooks.Register(ctx, "acme", broken.URL, []string{"task.updated"}, webhook.RegisterOptions{Retries: 1})
	require.NoError(t, err)
	other, err := webhooks.Register(ctx, "acme", healthy.URL, []string{"invoice.paid"}, webhook.RegisterOptions{})
	require.NoError(t, err)

	handles, err := webhooks.Dispatch(ctx, "acme", "task.updated", json.RawMessage(`{"task_id":"t-1"}`))
	require.NoError(t, err)
	require.Len(t, handles, 2)

	handler := delivery.NewWebhookHandler(webhooks, breaker.NewManager(), zerolog.Nop(), delivery.WebhookHandlerOptions{
		Client: delivery.NewHTTPClient(2 * time.Second),
	})
	runner := job.NewRunner(store, job.Webhook, handler, zerolog.Nop(), job.RunnerOptions{
		WorkerID:          "integration",
		Concurrency:       2,
		Lease:             5 * time.Second,
		PollInterval:      10 * time.Millisecond,
		PromoteInterval:   50 * time.Millisecond,
		HeartbeatInterval: 100 * time.Millisecond,
		Heartbeater:       store,
	})
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- runner.Run(runCtx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	t.Run("success - subscribed endpoint gets one signed delivery", func(t *testing.T) {
		require.Eventually(t, func() bool {
			logs, err := webhooks.Logs(ctx, subscribed.ID, 10)
			return err == nil && len(logs) == 1
		}, 10*time.Second, 50*time.Millisecond)

		secret, err := signature.ParseSecret(subscribed.Secret)
		require.NoError(t, err)
		reqs := healthy.seen()
		require.Len(t, reqs, 1)
		ok, err := signature.Verify(secret, reqs[0].body, reqs[0].headers.Get(signature.HeaderName))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, subscribed.ID, reqs[0].headers.Get("X-Webhook-ID"))

		got, err := webhooks.Get(ctx, subscribed.ID)
		require.NoError(t, err)
		assert.Equal(t, webhook.Success, got.LastStatus)
	})

	t.Run("success - unsubscribed webhook is never called", func(t *testing.T) {
		logs, err := webhooks.Logs(ctx, other.ID, 10)
		require.NoError(t, err)
		assert.Empty(t, logs)
	})

	t.Run("error - exhausted job lands in the dead list", func(t *testing.T) {
		require.Eventually(t, func() bool {
			dead, err := jobs.Dead(ctx, job.Webhook, 10)
			return err == nil && len(dead) == 1
		}, 10*time.Second, 50*time.Millisecond)

		dead, err := jobs.Dead(ctx, job.Webhook, 10)
		require.NoError(t, err)
		assert.Equal(t, 1, dead[0].AttemptsMade)
		assert.Contains(t, dead[0].LastError, "status 502")

		logs, err := webhooks.Logs(ctx, failing.ID, 10)
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, webhook.Failed, logs[0].Status)
		assert.Equal(t, http.StatusBadGateway, logs[0].StatusCode)
	})

	t.Run("success - worker heartbeat is visible", func(t *testing.T) {
		require.Eventually(t, func() bool {
			workers, err := store.GetAllActiveWorkers(ctx)
			return err == nil && len(workers[job.Webhook]) == 1
		}, 5*time.Second, 50*time.Millisecond)
	})
}
