//go:build integration

package redis_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/marcelsud/dispatch/webhook"
	"github.com/marcelsud/dispatch/webhook/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	testcontainersredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

/* Test Helpers for Redis Integration Tests
 * Following the pattern from: https://eltonminetto.dev/post/2024-02-15-using-test-helpers/
 */

// SetupRedisClient starts a Redis testcontainer and returns a connected client
func SetupRedisClient(t *testing.T, ctx context.Context) *goredis.Client {
	t.Helper()

	redisContainer, err := testcontainersredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err, "failed to start Redis container")
	t.Cleanup(func() {
		if err := redisContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate Redis container: %v", err)
		}
	})

	uri, err := redisContainer.ConnectionString(ctx)
	require.NoError(t, err, "failed to get Redis connection string")
	opts, err := goredis.ParseURL(uri)
	require.NoError(t, err)

	return goredis.NewClient(opts)
}

// CreateTestRepository creates a repository connected to the test container
func CreateTestRepository(t *testing.T, client *goredis.Client) *redis.Repository {
	t.Helper()
	return redis.NewRepository(client)
}

// GenerateID is a helper to generate test webhook IDs
func GenerateID(t *testing.T, index int) string {
	t.Helper()
	return fmt.Sprintf("test-webhook-%d-%d", index, time.Now().UnixNano())
}

func newWebhook(t *testing.T, index int, companyID string) webhook.Webhook {
	t.Helper()
	now := time.Now().Add(time.Duration(index) * time.Millisecond)
	return webhook.Webhook{
		ID:        GenerateID(t, index),
		CompanyID: companyID,
		URL:       "https://example.com/hooks",
		Secret:    "whsec_AQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQE=",
		Events:    []string{"user.created", "invoice.*"},
		Retries:   3,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
