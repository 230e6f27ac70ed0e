package chi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/marcelsud/dispatch/job"
)

type jobResponse struct {
	ID           string          `json:"id"`
	Queue        string          `json:"queue"`
	Name         string          `json:"name"`
	Status       string          `json:"status"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	AttemptsMade int             `json:"attempts_made"`
	MaxAttempts  int             `json:"max_attempts"`
	Priority     int             `json:"priority"`
	LastError    string          `json:"last_error,omitempty"`
	RunAt        time.Time       `json:"run_at"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
}

func toJobResponse(j *job.Job) jobResponse {
	resp := jobResponse{
		ID:           j.ID,
		Queue:        j.Queue.String(),
		Name:         j.Name,
		Status:       j.Status.String(),
		AttemptsMade: j.AttemptsMade,
		MaxAttempts:  j.MaxAttempts,
		Priority:     j.Priority,
		LastError:    j.LastError,
		RunAt:        j.RunAt,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
	}
	if j.Payload != nil {
		if raw, err := job.EncodePayload(j.Payload); err == nil {
			resp.Payload = raw
		}
	}
	if !j.FinishedAt.IsZero() {
		t := j.FinishedAt
		resp.FinishedAt = &t
	}
	return resp
}

// getJob handles GET /v1/jobs/{id}; jobs of other tenants answer 404
func getJob(jobs job.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		company, ok := companyID(w, r)
		if !ok {
			return
		}
		id := chi.URLParam(r, "id")
		j, err := jobs.Get(r.Context(), id)
		if err == nil && job.CompanyOf(j.Payload) != company {
			err = fmt.Errorf("%w: %s", job.ErrNotFound, id)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toJobResponse(j))
	})
}

// getQueues handles GET /v1/queues
func getQueues(jobs job.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stats, err := jobs.Stats(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	})
}

// getDeadJobs handles GET /v1/queues/{queue}/dead
// Only the caller's jobs are listed, so a page can hold fewer than limit entries.
func getDeadJobs(jobs job.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		company, ok := companyID(w, r)
		if !ok {
			return
		}
		queue, err := job.ParseQueue(chi.URLParam(r, "queue"))
		if err != nil {
			writeError(w, err)
			return
		}
		dead, err := jobs.Dead(r.Context(), queue, queryLimit(r))
		if err != nil {
			writeError(w, err)
			return
		}
		result := make([]jobResponse, 0, len(dead))
		for _, j := range dead {
			if job.CompanyOf(j.Payload) != company {
				continue
			}
			result = append(result, toJobResponse(j))
		}
		writeJSON(w, http.StatusOK, result)
	})
}
