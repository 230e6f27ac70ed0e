package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/marcelsud/dispatch/webhook"
	"github.com/redis/go-redis/v9"
)

/* Redis implementation of webhook.Repository
 * Uses a hash per subscription, a set per tenant as the listing index,
 * and a capped list per subscription for the delivery audit log
 */

const (
	hashPrefix    = "webhook:sub" // Hash naming: webhook:sub:{webhook_id}
	companyPrefix = "company"     // Set naming: company:{company_id}:webhooks
	logSuffix     = "logs"        // List naming: webhook:sub:{webhook_id}:logs

	// MaxLogs bounds the audit log kept per subscription
	MaxLogs = 500
)

type Repository struct {
	client *redis.Client
}

// NewRepository creates a repository on an existing client
func NewRepository(client *redis.Client) *Repository {
	return &Repository{
		client: client,
	}
}

// Create stores the subscription hash and indexes it under its tenant
func (r *Repository) Create(ctx context.Context, wh webhook.Webhook) error {
	fields, err := toHash(wh)
	if err != nil {
		return err
	}

	err = r.client.HSet(ctx, hashKey(wh.ID), fields).Err()
	if err != nil {
		return fmt.Errorf("storing webhook metadata: %w", err)
	}

	err = r.client.SAdd(ctx, companyKey(wh.CompanyID), wh.ID).Err()
	if err != nil {
		return fmt.Errorf("indexing webhook: %w", err)
	}

	return nil
}

// Update rewrites the mutable fields; delivery status fields are owned by RecordAttempt
func (r *Repository) Update(ctx context.Context, wh webhook.Webhook) error {
	exists, err := r.client.Exists(ctx, hashKey(wh.ID)).Result()
	if err != nil {
		return fmt.Errorf("checking webhook: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", webhook.ErrNotFound, wh.ID)
	}

	fields, err := toHash(wh)
	if err != nil {
		return err
	}
	delete(fields, "last_status")
	delete(fields, "last_attempt_at")

	err = r.client.HSet(ctx, hashKey(wh.ID), fields).Err()
	if err != nil {
		return fmt.Errorf("updating webhook: %w", err)
	}

	return nil
}

// Get retrieves a subscription by ID from its hash
func (r *Repository) Get(ctx context.Context, id string) (webhook.Webhook, error) {
	data, err := r.client.HGetAll(ctx, hashKey(id)).Result()
	if err != nil {
		return webhook.Webhook{}, fmt.Errorf("getting webhook: %w", err)
	}
	if len(data) == 0 {
		return webhook.Webhook{}, fmt.Errorf("%w: %s", webhook.ErrNotFound, id)
	}

	return fromHash(data)
}

// ListByCompany reads the tenant index; only ids whose hash is gone are dropped from it
func (r *Repository) ListByCompany(ctx context.Context, companyID string) ([]webhook.Webhook, error) {
	ids, err := r.client.SMembers(ctx, companyKey(companyID)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing webhook ids: %w", err)
	}

	hooks := make([]webhook.Webhook, 0, len(ids))
	for _, id := range ids {
		wh, err := r.Get(ctx, id)
		if errors.Is(err, webhook.ErrNotFound) {
			if err := r.client.SRem(ctx, companyKey(companyID), id).Err(); err != nil {
				return nil, fmt.Errorf("pruning webhook index: %w", err)
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("listing webhook %s: %w", id, err)
		}
		hooks = append(hooks, wh)
	}

	sort.Slice(hooks, func(i, j int) bool {
		if hooks[i].CreatedAt.Equal(hooks[j].CreatedAt) {
			return hooks[i].ID < hooks[j].ID
		}
		return hooks[i].CreatedAt.Before(hooks[j].CreatedAt)
	})
	return hooks, nil
}

// Delete removes the subscription, its index entry and its audit log
func (r *Repository) Delete(ctx context.Context, id string) error {
	companyID, err := r.client.HGet(ctx, hashKey(id), "company_id").Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("getting webhook: %w", err)
	}

	if err := r.client.Del(ctx, hashKey(id)).Err(); err != nil {
		return fmt.Errorf("deleting webhook: %w", err)
	}
	if companyID != "" {
		if err := r.client.SRem(ctx, companyKey(companyID), id).Err(); err != nil {
			return fmt.Errorf("removing webhook from index: %w", err)
		}
	}
	if err := r.client.Del(ctx, logKey(id)).Err(); err != nil {
		return fmt.Errorf("deleting delivery logs: %w", err)
	}

	return nil
}

// RecordAttempt updates the last delivery fields of an existing subscription
func (r *Repository) RecordAttempt(ctx context.Context, id string, status webhook.DeliveryStatus, at time.Time) error {
	exists, err := r.client.Exists(ctx, hashKey(id)).Result()
	if err != nil {
		return fmt.Errorf("checking webhook: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", webhook.ErrNotFound, id)
	}

	err = r.client.HSet(ctx, hashKey(id), map[string]interface{}{
		"last_status":     status.String(),
		"last_attempt_at": at.UnixMilli(),
	}).Err()
	if err != nil {
		return fmt.Errorf("recording attempt: %w", err)
	}

	return nil
}

// AppendLog pushes the entry to the head of the audit list and trims it
func (r *Repository) AppendLog(ctx context.Context, log webhook.Log) error {
	data, err := json.Marshal(logRecord{
		ID:           log.ID,
		WebhookID:    log.WebhookID,
		Event:        log.Event,
		Payload:      log.Payload,
		Status:       log.Status.String(),
		StatusCode:   log.StatusCode,
		ResponseBody: log.ResponseBody,
		ErrorMessage: log.ErrorMessage,
		Attempt:      log.Attempt,
		DurationMS:   log.Duration.Milliseconds(),
		DeliveredAt:  millis(log.DeliveredAt),
		CreatedAt:    millis(log.CreatedAt),
	})
	if err != nil {
		return fmt.Errorf("marshaling delivery log: %w", err)
	}

	key := logKey(log.WebhookID)
	if err := r.client.LPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("appending delivery log: %w", err)
	}
	if err := r.client.LTrim(ctx, key, 0, MaxLogs-1).Err(); err != nil {
		return fmt.Errorf("trimming delivery logs: %w", err)
	}

	return nil
}

// Logs returns the newest entries first
func (r *Repository) Logs(ctx context.Context, id string, limit int) ([]webhook.Log, error) {
	items, err := r.client.LRange(ctx, logKey(id), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing delivery logs: %w", err)
	}

	logs := make([]webhook.Log, 0, len(items))
	for _, item := range items {
		var rec logRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			continue
		}
		logs = append(logs, webhook.Log{
			ID:           rec.ID,
			WebhookID:    rec.WebhookID,
			Event:        rec.Event,
			Payload:      rec.Payload,
			Status:       webhook.NewDeliveryStatus(rec.Status),
			StatusCode:   rec.StatusCode,
			ResponseBody: rec.ResponseBody,
			ErrorMessage: rec.ErrorMessage,
			Attempt:      rec.Attempt,
			Duration:     time.Duration(rec.DurationMS) * time.Millisecond,
			DeliveredAt:  fromMillis(rec.DeliveredAt),
			CreatedAt:    fromMillis(rec.CreatedAt),
		})
	}

	return logs, nil
}

// Close closes the Redis connection
func (r *Repository) Close(ctx context.Context) error {
	return r.client.Close()
}

// logRecord is the JSON shape of an audit list entry
type logRecord struct {
	ID           string          `json:"id"`
	WebhookID    string          `json:"webhook_id"`
	Event        string          `json:"event"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Status       string          `json:"status"`
	StatusCode   int             `json:"status_code,omitempty"`
	ResponseBody string          `json:"response_body,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Attempt      int             `json:"attempt"`
	DurationMS   int64           `json:"duration_ms"`
	DeliveredAt  int64           `json:"delivered_at,omitempty"`
	CreatedAt    int64           `json:"created_at"`
}

// Helper functions

func toHash(wh webhook.Webhook) (map[string]interface{}, error) {
	events, err := json.Marshal(wh.Events)
	if err != nil {
		return nil, fmt.Errorf("marshaling events: %w", err)
	}

	return map[string]interface{}{
		"id":              wh.ID,
		"company_id":      wh.CompanyID,
		"url":             wh.URL,
		"secret":          wh.Secret,
		"events":          string(events),
		"retries":         wh.Retries,
		"is_active":       strconv.FormatBool(wh.IsActive),
		"last_status":     wh.LastStatus.String(),
		"last_attempt_at": millis(wh.LastAttemptAt),
		"created_at":      millis(wh.CreatedAt),
		"updated_at":      millis(wh.UpdatedAt),
	}, nil
}

func fromHash(data map[string]string) (webhook.Webhook, error) {
	var events []string
	if raw := data["events"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &events); err != nil {
			return webhook.Webhook{}, fmt.Errorf("unmarshaling events: %w", err)
		}
	}

	active, _ := strconv.ParseBool(data["is_active"])

	return webhook.Webhook{
		ID:            data["id"],
		CompanyID:     data["company_id"],
		URL:           data["url"],
		Secret:        data["secret"],
		Events:        events,
		Retries:       int(parseInt64(data["retries"])),
		IsActive:      active,
		LastStatus:    webhook.NewDeliveryStatus(data["last_status"]),
		LastAttemptAt: fromMillis(parseInt64(data["last_attempt_at"])),
		CreatedAt:     fromMillis(parseInt64(data["created_at"])),
		UpdatedAt:     fromMillis(parseInt64(data["updated_at"])),
	}, nil
}

func hashKey(id string) string {
	return fmt.Sprintf("%s:%s", hashPrefix, id)
}

func companyKey(companyID string) string {
	return fmt.Sprintf("%s:%s:webhooks", companyPrefix, companyID)
}

func logKey(id string) string {
	return fmt.Sprintf("%s:%s:%s", hashPrefix, id, logSuffix)
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
