package chi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/marcelsud/dispatch/job"
	"github.com/marcelsud/dispatch/webhook"
)

/* HTTP layer DTOs for the webhook API
 * Separate from domain entities to avoid leaking internal structure
 */

type registerRequest struct {
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	Retries  int      `json:"retries"`
	IsActive *bool    `json:"is_active"`
}

type updateRequest struct {
	URL      *string  `json:"url"`
	Events   []string `json:"events"`
	Retries  *int     `json:"retries"`
	IsActive *bool    `json:"is_active"`
}

type eventRequest struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// webhookResponse only carries the secret when it was just created or rotated
type webhookResponse struct {
	ID            string     `json:"id"`
	CompanyID     string     `json:"company_id"`
	URL           string     `json:"url"`
	Secret        string     `json:"secret,omitempty"`
	Events        []string   `json:"events"`
	Retries       int        `json:"retries"`
	IsActive      bool       `json:"is_active"`
	LastStatus    string     `json:"last_status,omitempty"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type logResponse struct {
	ID           string          `json:"id"`
	Event        string          `json:"event"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Status       string          `json:"status"`
	StatusCode   int             `json:"status_code,omitempty"`
	ResponseBody string          `json:"response_body,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Attempt      int             `json:"attempt"`
	DurationMS   int64           `json:"duration_ms"`
	DeliveredAt  *time.Time      `json:"delivered_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

type dispatchResponse struct {
	Jobs   []job.Handle `json:"jobs"`
	Errors []string     `json:"errors,omitempty"`
}

func toWebhookResponse(wh webhook.Webhook, withSecret bool) webhookResponse {
	resp := webhookResponse{
		ID:        wh.ID,
		CompanyID: wh.CompanyID,
		URL:       wh.URL,
		Events:    wh.Events,
		Retries:   wh.Retries,
		IsActive:  wh.IsActive,
		CreatedAt: wh.CreatedAt,
		UpdatedAt: wh.UpdatedAt,
	}
	if withSecret {
		resp.Secret = wh.Secret
	}
	if wh.LastStatus.Validate() == nil {
		resp.LastStatus = wh.LastStatus.String()
	}
	if !wh.LastAttemptAt.IsZero() {
		t := wh.LastAttemptAt
		resp.LastAttemptAt = &t
	}
	return resp
}

func toLogResponse(l webhook.Log) logResponse {
	resp := logResponse{
		ID:           l.ID,
		Event:        l.Event,
		Payload:      l.Payload,
		Status:       l.Status.String(),
		StatusCode:   l.StatusCode,
		ResponseBody: l.ResponseBody,
		ErrorMessage: l.ErrorMessage,
		Attempt:      l.Attempt,
		DurationMS:   l.Duration.Milliseconds(),
		CreatedAt:    l.CreatedAt,
	}
	if !l.DeliveredAt.IsZero() {
		t := l.DeliveredAt
		resp.DeliveredAt = &t
	}
	return resp
}

// companyID reads the tenant header, answering 400 when it is missing
func companyID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(CompanyHeader)
	if id == "" {
		badRequest(w, CompanyHeader+" header is required")
		return "", false
	}
	return id, true
}

// ownedWebhook loads {id} and hides subscriptions of other tenants behind a 404
func ownedWebhook(w http.ResponseWriter, r *http.Request, svc webhook.UseCase) (webhook.Webhook, bool) {
	company, ok := companyID(w, r)
	if !ok {
		return webhook.Webhook{}, false
	}
	wh, err := svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return webhook.Webhook{}, false
	}
	if wh.CompanyID != company {
		writeError(w, webhook.ErrNotFound)
		return webhook.Webhook{}, false
	}
	return wh, true
}

// postWebhook handles POST /v1/webhooks
func postWebhook(svc webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		company, ok := companyID(w, r)
		if !ok {
			return
		}
		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid JSON body")
			return
		}

		wh, err := svc.Register(r.Context(), company, req.URL, req.Events, webhook.RegisterOptions{
			Retries:  req.Retries,
			IsActive: req.IsActive,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toWebhookResponse(wh, true))
	})
}

// getWebhooks handles GET /v1/webhooks
func getWebhooks(svc webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		company, ok := companyID(w, r)
		if !ok {
			return
		}
		hooks, err := svc.List(r.Context(), company)
		if err != nil {
			writeError(w, err)
			return
		}
		result := make([]webhookResponse, 0, len(hooks))
		for _, wh := range hooks {
			result = append(result, toWebhookResponse(wh, false))
		}
		writeJSON(w, http.StatusOK, result)
	})
}

// getWebhook handles GET /v1/webhooks/{id}
func getWebhook(svc webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wh, ok := ownedWebhook(w, r, svc)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, toWebhookResponse(wh, false))
	})
}

// patchWebhook handles PATCH /v1/webhooks/{id}
func patchWebhook(svc webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wh, ok := ownedWebhook(w, r, svc)
		if !ok {
			return
		}
		var req updateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid JSON body")
			return
		}

		updated, err := svc.Update(r.Context(), wh.ID, webhook.UpdateInput{
			URL:      req.URL,
			Events:   req.Events,
			Retries:  req.Retries,
			IsActive: req.IsActive,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toWebhookResponse(updated, false))
	})
}

// deleteWebhook handles DELETE /v1/webhooks/{id}
func deleteWebhook(svc webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wh, ok := ownedWebhook(w, r, svc)
		if !ok {
			return
		}
		if err := svc.Delete(r.Context(), wh.ID); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// rotateSecret handles POST /v1/webhooks/{id}/rotate-secret
func rotateSecret(svc webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wh, ok := ownedWebhook(w, r, svc)
		if !ok {
			return
		}
		rotated, err := svc.RotateSecret(r.Context(), wh.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toWebhookResponse(rotated, true))
	})
}

// testWebhook handles POST /v1/webhooks/{id}/test
func testWebhook(svc webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wh, ok := ownedWebhook(w, r, svc)
		if !ok {
			return
		}
		h, err := svc.Test(r.Context(), wh.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, h)
	})
}

// triggerWebhook handles POST /v1/webhooks/{id}/trigger
func triggerWebhook(svc webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wh, ok := ownedWebhook(w, r, svc)
		if !ok {
			return
		}
		var req eventRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid JSON body")
			return
		}
		h, err := svc.Trigger(r.Context(), wh.ID, req.Event, req.Data)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, h)
	})
}

// getWebhookLogs handles GET /v1/webhooks/{id}/logs
func getWebhookLogs(svc webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wh, ok := ownedWebhook(w, r, svc)
		if !ok {
			return
		}
		logs, err := svc.Logs(r.Context(), wh.ID, queryLimit(r))
		if err != nil {
			writeError(w, err)
			return
		}
		result := make([]logResponse, 0, len(logs))
		for _, l := range logs {
			result = append(result, toLogResponse(l))
		}
		writeJSON(w, http.StatusOK, result)
	})
}

// postEvent handles POST /v1/events, fanning out to every matching subscription
func postEvent(svc webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		company, ok := companyID(w, r)
		if !ok {
			return
		}
		var req eventRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid JSON body")
			return
		}

		handles, err := svc.Dispatch(r.Context(), company, req.Event, req.Data)
		if err != nil && (len(handles) == 0 || errors.Is(err, webhook.ErrInvalidInput)) {
			writeError(w, err)
			return
		}

		resp := dispatchResponse{Jobs: handles}
		if resp.Jobs == nil {
			resp.Jobs = []job.Handle{}
		}
		if err != nil {
			resp.Errors = strings.Split(err.Error(), "\n")
		}
		writeJSON(w, http.StatusAccepted, resp)
	})
}
