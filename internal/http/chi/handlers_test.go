package chi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/marcelsud/dispatch/breaker"
	"github.com/marcelsud/dispatch/job"
	jobmemory "github.com/marcelsud/dispatch/job/memory"
	"github.com/marcelsud/dispatch/ratelimit"
	"github.com/marcelsud/dispatch/routes"
	"github.com/marcelsud/dispatch/webhook"
	"github.com/marcelsud/dispatch/webhook/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

/* These tests drive the router against the in-memory stores, so the
 * services behave as they do in production without Redis
 */

type api struct {
	handler http.Handler
	jobs    *job.Service
	store   *jobmemory.Store
}

func newAPI(t *testing.T, limiter *ratelimit.Limiter) api {
	t.Helper()
	store := jobmemory.NewStore(job.DefaultRetention())
	jobs := job.NewService(store, job.DefaultPolicies())
	loader := routes.NewLoader(ratelimit.Rule{TTL: time.Minute, Limit: 100})
	return api{
		handler: Handlers(context.Background(), Dependencies{
			Webhooks: webhook.NewService(memory.NewRepository(), jobs),
			Jobs:     jobs,
			Limiter:  limiter,
			Rules:    loader,
			Metrics:  http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("# metrics")) }),
			Logger:   zerolog.Nop(),
		}),
		jobs:    jobs,
		store:   store,
	}
}

func (a api) do(t *testing.T, method, path, company string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if company != "" {
		req.Header.Set(CompanyHeader, company)
	}
	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)
	return w
}

func (a api) register(t *testing.T, company string) webhookResponse {
	t.Helper()
	w := a.do(t, http.MethodPost, "/v1/webhooks", company, registerRequest{
		URL:    "https://example.com/hooks",
		Events: []string{"task.updated"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var wh webhookResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &wh))
	return wh
}

func TestHealthAndMetrics(t *testing.T) {
	a := newAPI(t, nil)

	w := a.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())

	w = a.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "# metrics", w.Body.String())
}

func TestWebhookRoutes(t *testing.T) {
	t.Run("success - register returns the secret once", func(t *testing.T) {
		a := newAPI(t, nil)
		wh := a.register(t, "acme")

		assert.NotEmpty(t, wh.ID)
		assert.Equal(t, "acme", wh.CompanyID)
		assert.Contains(t, wh.Secret, "whsec_")
		assert.True(t, wh.IsActive)
		assert.Equal(t, webhook.DefaultRetries, wh.Retries)

		w := a.do(t, http.MethodGet, "/v1/webhooks/"+wh.ID, "acme", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var got webhookResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Empty(t, got.Secret)

		w = a.do(t, http.MethodGet, "/v1/webhooks", "acme", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var list []webhookResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
		assert.Len(t, list, 1)
	})

	t.Run("error - tenant header is required", func(t *testing.T) {
		a := newAPI(t, nil)
		w := a.do(t, http.MethodGet, "/v1/webhooks", "", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("error - invalid registration", func(t *testing.T) {
		a := newAPI(t, nil)
		w := a.do(t, http.MethodPost, "/v1/webhooks", "acme", registerRequest{URL: "not a url", Events: []string{"a.b"}})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("error - other tenants get 404", func(t *testing.T) {
		a := newAPI(t, nil)
		wh := a.register(t, "acme")

		w := a.do(t, http.MethodGet, "/v1/webhooks/"+wh.ID, "globex", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		w = a.do(t, http.MethodDelete, "/v1/webhooks/"+wh.ID, "globex", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("success - trigger enqueues one job", func(t *testing.T) {
		a := newAPI(t, nil)
		wh := a.register(t, "acme")

		w := a.do(t, http.MethodPost, "/v1/webhooks/"+wh.ID+"/trigger", "acme", map[string]any{
			"event": "task.updated",
			"data":  map[string]string{"task_id": "t-1"},
		})
		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
		var h job.Handle
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &h))
		assert.Equal(t, job.Webhook, h.Queue)

		w = a.do(t, http.MethodGet, "/v1/jobs/"+h.ID, "acme", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var j jobResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &j))
		assert.Equal(t, "pending", j.Status)
		assert.Equal(t, 3, j.MaxAttempts)
		assert.Contains(t, string(j.Payload), `"kind":"webhook.deliver"`)
	})

	t.Run("error - unsubscribed event is 422", func(t *testing.T) {
		a := newAPI(t, nil)
		wh := a.register(t, "acme")

		w := a.do(t, http.MethodPost, "/v1/webhooks/"+wh.ID+"/trigger", "acme", map[string]any{"event": "task.created"})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("error - revoked webhook is 409", func(t *testing.T) {
		a := newAPI(t, nil)
		wh := a.register(t, "acme")
		inactive := false

		w := a.do(t, http.MethodPatch, "/v1/webhooks/"+wh.ID, "acme", updateRequest{IsActive: &inactive})
		require.Equal(t, http.StatusOK, w.Code)

		w = a.do(t, http.MethodPost, "/v1/webhooks/"+wh.ID+"/test", "acme", nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("success - rotate, fan out, logs and delete", func(t *testing.T) {
		a := newAPI(t, nil)
		wh := a.register(t, "acme")

		w := a.do(t, http.MethodPost, "/v1/webhooks/"+wh.ID+"/rotate-secret", "acme", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var rotated webhookResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rotated))
		assert.NotEqual(t, wh.Secret, rotated.Secret)

		w = a.do(t, http.MethodPost, "/v1/events", "acme", map[string]any{"event": "task.updated"})
		require.Equal(t, http.StatusAccepted, w.Code)
		var fanout dispatchResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fanout))
		assert.Len(t, fanout.Jobs, 1)

		w = a.do(t, http.MethodGet, "/v1/webhooks/"+wh.ID+"/logs?limit=10", "acme", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `[]`, w.Body.String())

		w = a.do(t, http.MethodDelete, "/v1/webhooks/"+wh.ID, "acme", nil)
		assert.Equal(t, http.StatusNoContent, w.Code)
		w = a.do(t, http.MethodGet, "/v1/webhooks/"+wh.ID, "acme", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestQueueRoutes(t *testing.T) {
	t.Run("success - queue stats and dead list", func(t *testing.T) {
		a := newAPI(t, nil)

		w := a.do(t, http.MethodGet, "/v1/queues", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var stats []job.QueueStats
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
		assert.Len(t, stats, len(job.Queues()))

		w = a.do(t, http.MethodGet, "/v1/queues/cleanup/dead", "acme", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		w = a.do(t, http.MethodGet, "/v1/queues/fax/dead", "acme", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		w = a.do(t, http.MethodGet, "/v1/jobs/missing", "acme", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("error - tenant header is required", func(t *testing.T) {
		a := newAPI(t, nil)
		assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodGet, "/v1/jobs/any", "", nil).Code)
		assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodGet, "/v1/queues/email/dead", "", nil).Code)
	})

	t.Run("error - jobs of other tenants are hidden", func(t *testing.T) {
		a := newAPI(t, nil)
		ctx := context.Background()
		for _, company := range []string{"acme", "globex"} {
			_, err := a.jobs.Enqueue(ctx, job.Email, "send", job.EmailPayload{CompanyID: company, To: []string{"ops@example.com"}})
			require.NoError(t, err)
			j, err := a.store.Claim(ctx, job.Email, "w", time.Minute)
			require.NoError(t, err)
			require.NoError(t, a.store.Fail(ctx, j, errors.New("mailbox full")))
		}
		dead, err := a.jobs.Dead(ctx, job.Email, 10)
		require.NoError(t, err)
		require.Len(t, dead, 2)

		for _, j := range dead {
			owner := job.CompanyOf(j.Payload)
			w := a.do(t, http.MethodGet, "/v1/jobs/"+j.ID, owner, nil)
			assert.Equal(t, http.StatusOK, w.Code)
			other := "acme"
			if owner == "acme" {
				other = "globex"
			}
			w = a.do(t, http.MethodGet, "/v1/jobs/"+j.ID, other, nil)
			assert.Equal(t, http.StatusNotFound, w.Code)
		}

		w := a.do(t, http.MethodGet, "/v1/queues/email/dead", "acme", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var listed []jobResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
		require.Len(t, listed, 1)
		assert.Contains(t, string(listed[0].Payload), `"company_id":"acme"`)
	})
}

type brokenCounter struct{}

func (brokenCounter) Incr(context.Context, string) (int64, error) {
	return 0, errors.New("connection refused")
}
func (brokenCounter) Expire(context.Context, string, time.Duration) error { return nil }
func (brokenCounter) TTL(context.Context, string) (time.Duration, error) { return 0, nil }

func TestRateLimit(t *testing.T) {
	t.Run("error - throttles per tenant and route pattern", func(t *testing.T) {
		counter := ratelimit.NewMemoryCounter()
		limiter := ratelimit.NewLimiter(counter, zerolog.Nop())
		a := newAPI(t, limiter)

		var last *httptest.ResponseRecorder
		for i := 0; i < 101; i++ {
			// different ids share the "/v1/jobs/{id}" window
			last = a.do(t, http.MethodGet, fmt.Sprintf("/v1/jobs/j-%d", i), "acme", nil)
		}

		assert.Equal(t, http.StatusTooManyRequests, last.Code)
		assert.Equal(t, "100", last.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "0", last.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, last.Header().Get("Retry-After"))

		ttl, err := counter.TTL(context.Background(), ratelimit.Key(ratelimit.Identity{CompanyID: "acme", ClientIP: "192.0.2.1"}, "GET /v1/jobs/{id}"))
		require.NoError(t, err)
		assert.Greater(t, ttl, time.Duration(0))

		// another tenant has its own window
		w := a.do(t, http.MethodGet, "/v1/jobs/j-1", "globex", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "99", w.Header().Get("X-RateLimit-Remaining"))
	})

	t.Run("success - store failure lets requests through", func(t *testing.T) {
		a := newAPI(t, ratelimit.NewLimiter(brokenCounter{}, zerolog.Nop()))

		w := a.do(t, http.MethodGet, "/v1/queues", "acme", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	})
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{webhook.ErrInvalidInput, http.StatusBadRequest},
		{job.ErrUnknownQueue, http.StatusBadRequest},
		{fmt.Errorf("getting: %w", webhook.ErrNotFound), http.StatusNotFound},
		{job.ErrNotFound, http.StatusNotFound},
		{webhook.ErrInactive, http.StatusConflict},
		{webhook.ErrEventNotSubscribed, http.StatusUnprocessableEntity},
		{&breaker.OpenError{Name: "email"}, http.StatusServiceUnavailable},
		{fmt.Errorf("send: %w", breaker.ErrCircuitOpen), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}
