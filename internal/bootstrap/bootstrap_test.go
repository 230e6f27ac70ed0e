package bootstrap_test

import (
	"context"
	"testing"
	"time"

	"github.com/marcelsud/dispatch/breaker"
	"github.com/marcelsud/dispatch/config"
	"github.com/marcelsud/dispatch/internal/bootstrap"
	"github.com/marcelsud/dispatch/job"
	"github.com/marcelsud/dispatch/webhook"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		LogLevel:                  "debug",
		QueueStore:                "memory",
		QueueAttemptsEmail:        7,
		QueueAttemptsWebhook:      3,
		QueueBackoffType:          "fixed",
		QueueBackoffDelayMS:       500,
		QueueBackoffCapMS:         60000,
		CompletedKeep:             10,
		CompletedTTLHours:         1,
		FailedKeep:                20,
		FailedTTLHours:            2,
		BreakerFailureThreshold:   2,
		BreakerResetTimeoutMS:     1000,
		BreakerMonitoringPeriodMS: 5000,
		BreakerHalfOpenMaxCalls:   1,
	}
}

func TestPolicies(t *testing.T) {
	policies := bootstrap.Policies(testConfig())

	assert.Equal(t, 7, policies[job.Email].Attempts)
	assert.Equal(t, 3, policies[job.Webhook].Attempts)
	// unset attempts keep the built-in default
	assert.Equal(t, job.DefaultPolicies()[job.Report].Attempts, policies[job.Report].Attempts)
	assert.Equal(t, job.Backoff{Type: job.Fixed, Delay: 500 * time.Millisecond, Cap: time.Minute}, policies[job.Webhook].Backoff)
}

func TestPoliciesKeepQueueDefaults(t *testing.T) {
	t.Run("success - unset backoff keeps each queue's default", func(t *testing.T) {
		policies := bootstrap.Policies(&config.Config{})

		assert.Equal(t, job.DefaultPolicies(), policies)
		assert.Equal(t, job.ExponentialBackoff(2*time.Second), policies[job.Email].Backoff)
		assert.Equal(t, job.ExponentialBackoff(time.Second), policies[job.Webhook].Backoff)
	})

	t.Run("success - per-queue delay wins over the global one", func(t *testing.T) {
		policies := bootstrap.Policies(&config.Config{
			QueueBackoffDelayMS:      300,
			QueueBackoffDelayEmailMS: 5000,
		})

		assert.Equal(t, 5*time.Second, policies[job.Email].Backoff.Delay)
		assert.Equal(t, job.Exponential, policies[job.Email].Backoff.Type)
		assert.Equal(t, 300*time.Millisecond, policies[job.Report].Backoff.Delay)
		assert.Equal(t, job.DefaultBackoffCap, policies[job.Report].Backoff.Cap)
	})
}

func TestNew(t *testing.T) {
	stack, err := bootstrap.New(testConfig(), zerolog.Nop())
	require.NoError(t, err)
	defer stack.Close(context.Background())

	assert.Nil(t, stack.Redis)
	assert.Nil(t, stack.Heartbeater())

	wh, err := stack.Webhooks.Register(context.Background(), "acme", "https://example.com/hook", []string{"task.updated"}, webhook.RegisterOptions{})
	require.NoError(t, err)
	h, err := stack.Webhooks.Trigger(context.Background(), wh.ID, "task.updated", nil)
	require.NoError(t, err)

	j, err := stack.Jobs.Get(context.Background(), h.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, j.MaxAttempts)

	cb := stack.Breakers.Get("email")
	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func(context.Context) error { return assert.AnError })
	}
	assert.Equal(t, breaker.Open, cb.State())
}
