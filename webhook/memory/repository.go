package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/marcelsud/dispatch/webhook"
)

// MaxLogs bounds the audit log kept per subscription, like the Redis repository
const MaxLogs = 500

// Repository is an in-process webhook.Repository for tests and single-node development
type Repository struct {
	mu    sync.RWMutex
	hooks map[string]webhook.Webhook
	logs  map[string][]webhook.Log
}

func NewRepository() *Repository {
	return &Repository{
		hooks: make(map[string]webhook.Webhook),
		logs:  make(map[string][]webhook.Log),
	}
}

func (r *Repository) Get(ctx context.Context, id string) (webhook.Webhook, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wh, ok := r.hooks[id]
	if !ok {
		return webhook.Webhook{}, fmt.Errorf("%w: %s", webhook.ErrNotFound, id)
	}
	return clone(wh), nil
}

// ListByCompany returns the tenant's subscriptions, oldest first
func (r *Repository) ListByCompany(ctx context.Context, companyID string) ([]webhook.Webhook, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []webhook.Webhook
	for _, wh := range r.hooks {
		if wh.CompanyID == companyID {
			out = append(out, clone(wh))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *Repository) Logs(ctx context.Context, id string, limit int) ([]webhook.Log, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	logs := r.logs[id]
	if limit > len(logs) {
		limit = len(logs)
	}
	return append([]webhook.Log(nil), logs[:limit]...), nil
}

func (r *Repository) Create(ctx context.Context, wh webhook.Webhook) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.hooks[wh.ID]; ok {
		return fmt.Errorf("webhook %s already exists", wh.ID)
	}
	r.hooks[wh.ID] = clone(wh)
	return nil
}

// Update replaces the subscription but keeps the delivery status written by workers
func (r *Repository) Update(ctx context.Context, wh webhook.Webhook) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.hooks[wh.ID]
	if !ok {
		return fmt.Errorf("%w: %s", webhook.ErrNotFound, wh.ID)
	}
	wh.LastStatus = current.LastStatus
	wh.LastAttemptAt = current.LastAttemptAt
	r.hooks[wh.ID] = clone(wh)
	return nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.hooks, id)
	delete(r.logs, id)
	return nil
}

func (r *Repository) RecordAttempt(ctx context.Context, id string, status webhook.DeliveryStatus, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	wh, ok := r.hooks[id]
	if !ok {
		return fmt.Errorf("%w: %s", webhook.ErrNotFound, id)
	}
	wh.LastStatus = status
	wh.LastAttemptAt = at
	r.hooks[id] = wh
	return nil
}

// AppendLog prepends the entry so the newest attempt comes first
func (r *Repository) AppendLog(ctx context.Context, log webhook.Log) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	logs := append([]webhook.Log{log}, r.logs[log.WebhookID]...)
	if len(logs) > MaxLogs {
		logs = logs[:MaxLogs]
	}
	r.logs[log.WebhookID] = logs
	return nil
}

func (r *Repository) Close(ctx context.Context) error {
	return nil
}

func clone(wh webhook.Webhook) webhook.Webhook {
	wh.Events = append([]string(nil), wh.Events...)
	return wh
}
