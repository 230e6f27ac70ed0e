package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/marcelsud/dispatch/config"
	"github.com/marcelsud/dispatch/delivery"
	"github.com/marcelsud/dispatch/internal/bootstrap"
	"github.com/marcelsud/dispatch/job"
	"github.com/marcelsud/dispatch/webhook"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminHandlerSeesDeliveryBreakers(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{
		QueueStore:                "memory",
		WebhookTimeoutMS:          2000,
		BreakerFailureThreshold:   1,
		BreakerResetTimeoutMS:     60000,
		BreakerMonitoringPeriodMS: 60000,
		BreakerHalfOpenMaxCalls:   1,
	}
	stack, err := bootstrap.New(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer stack.Close(ctx)

	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer endpoint.Close()

	wh, err := stack.Webhooks.Register(ctx, "acme", endpoint.URL, []string{"task.updated"}, webhook.RegisterOptions{})
	require.NoError(t, err)

	handler, err := newHandlers(cfg, stack).For(job.Webhook)
	require.NoError(t, err)
	err = handler.Handle(ctx, &job.Job{
		ID:    "job-1",
		Queue: job.Webhook,
		Payload: job.WebhookPayload{
			WebhookID: wh.ID,
			Event:     "task.updated",
			Data:      json.RawMessage(`{"task_id":"t-1"}`),
		},
	})
	require.Error(t, err)

	admin := adminHandler(stack)
	do := func(method, path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		admin.ServeHTTP(w, httptest.NewRequest(method, path, nil))
		return w
	}

	w := do(http.MethodGet, "/v1/breakers")
	require.Equal(t, http.StatusOK, w.Code)
	var statuses []struct {
		Name  string `json:"name"`
		State string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &statuses))
	require.Len(t, statuses, 1)
	assert.Equal(t, delivery.WebhookBreaker(wh.ID), statuses[0].Name)
	assert.Equal(t, "OPEN", statuses[0].State)

	w = do(http.MethodPost, "/v1/breakers/"+delivery.WebhookBreaker(wh.ID)+"/reset")
	assert.Equal(t, http.StatusNoContent, w.Code)
	cb, ok := stack.Breakers.Lookup(delivery.WebhookBreaker(wh.ID))
	require.True(t, ok)
	assert.Equal(t, "CLOSED", cb.State().String())
}
