package chi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog"
	"github.com/marcelsud/dispatch/job"
	"github.com/marcelsud/dispatch/ratelimit"
	"github.com/marcelsud/dispatch/webhook"
	"github.com/rs/zerolog"
)

// Dependencies are the services behind the HTTP API.
// A nil Limiter disables throttling; a nil Metrics handler hides /metrics.
type Dependencies struct {
	Webhooks webhook.UseCase
	Jobs     job.UseCase
	Limiter  *ratelimit.Limiter
	Rules    RuleSource
	Metrics  http.Handler
	Logger   zerolog.Logger
}

// NewLogger builds the JSON request logger shared by the API
func NewLogger(service string) zerolog.Logger {
	return httplog.NewLogger(service, httplog.Options{
		JSON: true,
	})
}

// Handlers sets up the API routes
func Handlers(ctx context.Context, deps Dependencies) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(httplog.RequestLogger(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	// middleware in a group runs after routing, so the rate limiter sees the route pattern
	r.Group(func(r chi.Router) {
		if deps.Limiter != nil && deps.Rules != nil {
			r.Use(RateLimit(deps.Limiter, deps.Rules))
		}

		r.Method(http.MethodPost, "/v1/webhooks", postWebhook(deps.Webhooks))
		r.Method(http.MethodGet, "/v1/webhooks", getWebhooks(deps.Webhooks))
		r.Method(http.MethodGet, "/v1/webhooks/{id}", getWebhook(deps.Webhooks))
		r.Method(http.MethodPatch, "/v1/webhooks/{id}", patchWebhook(deps.Webhooks))
		r.Method(http.MethodDelete, "/v1/webhooks/{id}", deleteWebhook(deps.Webhooks))
		r.Method(http.MethodPost, "/v1/webhooks/{id}/test", testWebhook(deps.Webhooks))
		r.Method(http.MethodPost, "/v1/webhooks/{id}/trigger", triggerWebhook(deps.Webhooks))
		r.Method(http.MethodPost, "/v1/webhooks/{id}/rotate-secret", rotateSecret(deps.Webhooks))
		r.Method(http.MethodGet, "/v1/webhooks/{id}/logs", getWebhookLogs(deps.Webhooks))
		r.Method(http.MethodPost, "/v1/events", postEvent(deps.Webhooks))

		r.Method(http.MethodGet, "/v1/jobs/{id}", getJob(deps.Jobs))
		r.Method(http.MethodGet, "/v1/queues", getQueues(deps.Jobs))
		r.Method(http.MethodGet, "/v1/queues/{queue}/dead", getDeadJobs(deps.Jobs))
	})

	return r
}
