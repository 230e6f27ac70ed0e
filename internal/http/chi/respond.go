package chi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/marcelsud/dispatch/breaker"
	"github.com/marcelsud/dispatch/job"
	"github.com/marcelsud/dispatch/webhook"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to HTTP status codes
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	var open *breaker.OpenError
	switch {
	case errors.Is(err, webhook.ErrInvalidInput),
		errors.Is(err, job.ErrUnknownQueue),
		errors.Is(err, job.ErrInvalidOptions),
		errors.Is(err, job.ErrInvalidPayload),
		errors.Is(err, job.ErrPayloadQueueMismatch):
		return http.StatusBadRequest
	case errors.Is(err, webhook.ErrNotFound),
		errors.Is(err, job.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, webhook.ErrInactive):
		return http.StatusConflict
	case errors.Is(err, webhook.ErrEventNotSubscribed),
		errors.Is(err, webhook.ErrInvalidSecret):
		return http.StatusUnprocessableEntity
	case errors.As(err, &open), errors.Is(err, breaker.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

// queryLimit reads ?limit=, returning 0 when absent or malformed
func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
