package memory_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/marcelsud/dispatch/webhook"
	"github.com/marcelsud/dispatch/webhook/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWebhook(id, company string, created time.Time) webhook.Webhook {
	return webhook.Webhook{
		ID:        id,
		CompanyID: company,
		URL:       "https://example.com/" + id,
		Events:    []string{"task.updated"},
		Retries:   3,
		IsActive:  true,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestRepository(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("success - create, list by company and isolate copies", func(t *testing.T) {
		repo := memory.NewRepository()
		require.NoError(t, repo.Create(ctx, newWebhook("wh-2", "acme", now.Add(time.Second))))
		require.NoError(t, repo.Create(ctx, newWebhook("wh-1", "acme", now)))
		require.NoError(t, repo.Create(ctx, newWebhook("wh-3", "globex", now)))

		list, err := repo.ListByCompany(ctx, "acme")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "wh-1", list[0].ID)
		assert.Equal(t, "wh-2", list[1].ID)

		list[0].Events[0] = "changed"
		got, err := repo.Get(ctx, "wh-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"task.updated"}, got.Events)
	})

	t.Run("error - duplicate and missing ids", func(t *testing.T) {
		repo := memory.NewRepository()
		require.NoError(t, repo.Create(ctx, newWebhook("wh-1", "acme", now)))
		assert.Error(t, repo.Create(ctx, newWebhook("wh-1", "acme", now)))

		_, err := repo.Get(ctx, "missing")
		assert.ErrorIs(t, err, webhook.ErrNotFound)
		assert.ErrorIs(t, repo.Update(ctx, newWebhook("missing", "acme", now)), webhook.ErrNotFound)
		assert.ErrorIs(t, repo.RecordAttempt(ctx, "missing", webhook.Success, now), webhook.ErrNotFound)
	})

	t.Run("success - update keeps the last delivery status", func(t *testing.T) {
		repo := memory.NewRepository()
		wh := newWebhook("wh-1", "acme", now)
		require.NoError(t, repo.Create(ctx, wh))
		require.NoError(t, repo.RecordAttempt(ctx, "wh-1", webhook.Failed, now))

		wh.URL = "https://example.com/new"
		require.NoError(t, repo.Update(ctx, wh))

		got, err := repo.Get(ctx, "wh-1")
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/new", got.URL)
		assert.Equal(t, webhook.Failed, got.LastStatus)
		assert.True(t, got.LastAttemptAt.Equal(now))
	})

	t.Run("success - logs newest first and capped", func(t *testing.T) {
		repo := memory.NewRepository()
		require.NoError(t, repo.Create(ctx, newWebhook("wh-1", "acme", now)))
		for i := 1; i <= memory.MaxLogs+5; i++ {
			require.NoError(t, repo.AppendLog(ctx, webhook.Log{
				ID:        fmt.Sprintf("log-%d", i),
				WebhookID: "wh-1",
				Status:    webhook.Failed,
				Attempt:   i,
			}))
		}

		logs, err := repo.Logs(ctx, "wh-1", 2)
		require.NoError(t, err)
		require.Len(t, logs, 2)
		assert.Equal(t, memory.MaxLogs+5, logs[0].Attempt)

		all, err := repo.Logs(ctx, "wh-1", 10_000)
		require.NoError(t, err)
		assert.Len(t, all, memory.MaxLogs)

		require.NoError(t, repo.Delete(ctx, "wh-1"))
		logs, err = repo.Logs(ctx, "wh-1", 10)
		require.NoError(t, err)
		assert.Empty(t, logs)
	})
}
