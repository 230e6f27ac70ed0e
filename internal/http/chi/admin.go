package chi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog"
	"github.com/marcelsud/dispatch/breaker"
	"github.com/rs/zerolog"
)

// AdminDependencies back the worker's admin listener.
// Breakers must be the manager the queue handlers execute through.
type AdminDependencies struct {
	Breakers *breaker.Manager
	Metrics  http.Handler
	Logger   zerolog.Logger
}

// AdminHandlers sets up the routes served next to the workers: health,
// metrics and breaker inspection. Breaker state lives in the worker process,
// so these routes are not part of the public API.
func AdminHandlers(deps AdminDependencies) *chi.Mux {
	r := chi.NewRouter()
	r.Use(httplog.RequestLogger(deps.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Method(http.MethodGet, "/v1/breakers", getBreakers(deps.Breakers))
	r.Method(http.MethodPost, "/v1/breakers/reset", resetBreakers(deps.Breakers))
	r.Method(http.MethodPost, "/v1/breakers/{name}/reset", resetBreaker(deps.Breakers))
	return r
}

// getBreakers handles GET /v1/breakers
func getBreakers(breakers *breaker.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, breakers.Statuses())
	})
}

// resetBreakers handles POST /v1/breakers/reset
func resetBreakers(breakers *breaker.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		breakers.ResetAll()
		w.WriteHeader(http.StatusNoContent)
	})
}

// resetBreaker handles POST /v1/breakers/{name}/reset
func resetBreaker(breakers *breaker.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if !breakers.Reset(name) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "breaker not found: " + name})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}
