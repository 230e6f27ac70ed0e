package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/marcelsud/dispatch/job"
	"github.com/marcelsud/dispatch/webhook/payload"
	"github.com/marcelsud/dispatch/webhook/signature"
)

/* Service represents the business logic layer
 * Uses pointer semantics as it's an API, not data
 */

const (
	DefaultRetries = 3
	MaxRetries     = 10

	// JobName names delivery jobs on the webhook queue
	JobName = "webhook.deliver"
)

// UseCase defines the business operations for webhook management
type UseCase interface {
	Register(ctx context.Context, companyID, rawURL string, events []string, opts RegisterOptions) (Webhook, error)
	Trigger(ctx context.Context, webhookID, event string, data json.RawMessage) (job.Handle, error)
	Dispatch(ctx context.Context, companyID, event string, data json.RawMessage) ([]job.Handle, error)
	Test(ctx context.Context, webhookID string) (job.Handle, error)
	Update(ctx context.Context, id string, in UpdateInput) (Webhook, error)
	Revoke(ctx context.Context, id string) (Webhook, error)
	Delete(ctx context.Context, id string) error
	RotateSecret(ctx context.Context, id string) (Webhook, error)
	Get(ctx context.Context, id string) (Webhook, error)
	List(ctx context.Context, companyID string) ([]Webhook, error)
	Logs(ctx context.Context, id string, limit int) ([]Log, error)
	RecordDelivery(ctx context.Context, log Log) error
}

// RegisterOptions are optional settings of a new subscription
type RegisterOptions struct {
	// Retries is the total number of delivery attempts per event; zero means DefaultRetries
	Retries int
	// IsActive defaults to true when nil
	IsActive *bool
}

// UpdateInput holds the fields to change; nil fields are left alone
type UpdateInput struct {
	URL      *string
	Events   []string
	Retries  *int
	IsActive *bool
}

type Service struct {
	Repo Repository
	Jobs Enqueuer
	now  func() time.Time
}

// NewService creates a new webhook service with dependency injection
func NewService(repo Repository, jobs Enqueuer) *Service {
	return &Service{
		Repo: repo,
		Jobs: jobs,
		now:  time.Now,
	}
}

// Register creates a subscription with a fresh signing secret; the URL is not contacted
func (s *Service) Register(ctx context.Context, companyID, rawURL string, events []string, opts RegisterOptions) (Webhook, error) {
	if companyID == "" {
		return Webhook{}, fmt.Errorf("%w: company id is required", ErrInvalidInput)
	}
	if err := validateURL(rawURL); err != nil {
		return Webhook{}, err
	}
	if err := validateEvents(events); err != nil {
		return Webhook{}, err
	}
	retries := opts.Retries
	if retries == 0 {
		retries = DefaultRetries
	}
	if err := validateRetries(retries); err != nil {
		return Webhook{}, err
	}

	secret, err := signature.GenerateSecret(signature.DefaultSecretBytes)
	if err != nil {
		return Webhook{}, fmt.Errorf("generating secret: %w", err)
	}

	now := s.now()
	wh := Webhook{
		ID:        uuid.New().String(),
		CompanyID: companyID,
		URL:       rawURL,
		Secret:    secret.String(),
		Events:    dedupe(events),
		Retries:   retries,
		IsActive:  opts.IsActive == nil || *opts.IsActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.Repo.Create(ctx, wh); err != nil {
		return Webhook{}, fmt.Errorf("storing webhook: %w", err)
	}

	return wh, nil
}

/* Trigger enqueues exactly one delivery job for a subscription
 * Static misconfiguration (inactive, not subscribed, malformed secret) is
 * rejected here and never enqueued, since retrying cannot fix it
 */
func (s *Service) Trigger(ctx context.Context, webhookID, event string, data json.RawMessage) (job.Handle, error) {
	wh, err := s.Get(ctx, webhookID)
	if err != nil {
		return job.Handle{}, err
	}
	return s.trigger(ctx, wh, event, data)
}

func (s *Service) trigger(ctx context.Context, wh Webhook, event string, data json.RawMessage) (job.Handle, error) {
	if err := payload.ValidateEventType(event); err != nil || event != trimWildcard(event) {
		return job.Handle{}, fmt.Errorf("%w: event %q", ErrInvalidInput, event)
	}
	if len(data) > 0 && !json.Valid(data) {
		return job.Handle{}, fmt.Errorf("%w: data must be valid JSON", ErrInvalidInput)
	}
	if !wh.IsActive {
		return job.Handle{}, fmt.Errorf("%w: %s", ErrInactive, wh.ID)
	}
	if event != payload.TestEvent && !payload.Matches(event, wh.Events) {
		return job.Handle{}, fmt.Errorf("%w: %s on %s", ErrEventNotSubscribed, event, wh.ID)
	}
	if _, err := signature.ParseSecret(wh.Secret); err != nil {
		return job.Handle{}, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}

	h, err := s.Jobs.Enqueue(ctx, job.Webhook, JobName, job.WebhookPayload{
		WebhookID:   wh.ID,
		CompanyID:   wh.CompanyID,
		Event:       event,
		Data:        data,
		TriggeredAt: s.now().UTC(),
	},
		job.WithAttempts(wh.Retries),
		job.WithBackoff(job.ExponentialBackoff(time.Second)),
	)
	if err != nil {
		return job.Handle{}, fmt.Errorf("enqueuing delivery: %w", err)
	}
	return h, nil
}

/* Dispatch fans an application event out to every active subscription of
 * the tenant whose filters match it. Subscriptions that cannot be triggered
 * are skipped; their errors are joined into the returned error.
 */
func (s *Service) Dispatch(ctx context.Context, companyID, event string, data json.RawMessage) ([]job.Handle, error) {
	if err := payload.ValidateEventType(event); err != nil || event != trimWildcard(event) {
		return nil, fmt.Errorf("%w: event %q", ErrInvalidInput, event)
	}

	hooks, err := s.List(ctx, companyID)
	if err != nil {
		return nil, err
	}

	var (
		handles []job.Handle
		errs    []error
	)
	for _, wh := range hooks {
		if !wh.IsActive || !payload.Matches(event, wh.Events) {
			continue
		}
		h, err := s.trigger(ctx, wh, event, data)
		if err != nil {
			errs = append(errs, fmt.Errorf("webhook %s: %w", wh.ID, err))
			continue
		}
		handles = append(handles, h)
	}
	return handles, errors.Join(errs...)
}

// Test sends a webhook.test event; it skips the event filter but not the activity check
func (s *Service) Test(ctx context.Context, webhookID string) (job.Handle, error) {
	data, err := json.Marshal(map[string]string{
		"message":   "This is a test webhook",
		"webhookId": webhookID,
	})
	if err != nil {
		return job.Handle{}, fmt.Errorf("marshaling test data: %w", err)
	}
	return s.Trigger(ctx, webhookID, payload.TestEvent, data)
}

// Update changes subscription settings; jobs already enqueued are not touched
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (Webhook, error) {
	wh, err := s.Get(ctx, id)
	if err != nil {
		return Webhook{}, err
	}

	if in.URL != nil {
		if err := validateURL(*in.URL); err != nil {
			return Webhook{}, err
		}
		wh.URL = *in.URL
	}
	if in.Events != nil {
		if err := validateEvents(in.Events); err != nil {
			return Webhook{}, err
		}
		wh.Events = dedupe(in.Events)
	}
	if in.Retries != nil {
		if err := validateRetries(*in.Retries); err != nil {
			return Webhook{}, err
		}
		wh.Retries = *in.Retries
	}
	if in.IsActive != nil {
		wh.IsActive = *in.IsActive
	}

	return s.save(ctx, wh)
}

// Revoke deactivates a subscription; queued deliveries are skipped at send time
func (s *Service) Revoke(ctx context.Context, id string) (Webhook, error) {
	inactive := false
	return s.Update(ctx, id, UpdateInput{IsActive: &inactive})
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.Repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting webhook: %w", err)
	}
	return nil
}

// RotateSecret replaces the signing secret; queued deliveries are signed with the new one
func (s *Service) RotateSecret(ctx context.Context, id string) (Webhook, error) {
	wh, err := s.Get(ctx, id)
	if err != nil {
		return Webhook{}, err
	}

	secret, err := signature.GenerateSecret(signature.DefaultSecretBytes)
	if err != nil {
		return Webhook{}, fmt.Errorf("generating secret: %w", err)
	}
	wh.Secret = secret.String()

	return s.save(ctx, wh)
}

func (s *Service) Get(ctx context.Context, id string) (Webhook, error) {
	wh, err := s.Repo.Get(ctx, id)
	if err != nil {
		return Webhook{}, fmt.Errorf("getting webhook: %w", err)
	}
	return wh, nil
}

func (s *Service) List(ctx context.Context, companyID string) ([]Webhook, error) {
	hooks, err := s.Repo.ListByCompany(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("listing webhooks: %w", err)
	}
	return hooks, nil
}

func (s *Service) Logs(ctx context.Context, id string, limit int) ([]Log, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	logs, err := s.Repo.Logs(ctx, id, limit)
	if err != nil {
		return nil, fmt.Errorf("listing delivery logs: %w", err)
	}
	return logs, nil
}

// RecordDelivery appends the attempt to the audit log and updates the subscription's last status
func (s *Service) RecordDelivery(ctx context.Context, log Log) error {
	if err := log.Status.Validate(); err != nil {
		return fmt.Errorf("validating status: %w", err)
	}
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = s.now()
	}

	if err := s.Repo.AppendLog(ctx, log); err != nil {
		return fmt.Errorf("appending delivery log: %w", err)
	}
	if err := s.Repo.RecordAttempt(ctx, log.WebhookID, log.Status, log.CreatedAt); err != nil {
		return fmt.Errorf("recording attempt: %w", err)
	}
	return nil
}

func (s *Service) save(ctx context.Context, wh Webhook) (Webhook, error) {
	wh.UpdatedAt = s.now()
	if err := s.Repo.Update(ctx, wh); err != nil {
		return Webhook{}, fmt.Errorf("updating webhook: %w", err)
	}
	return wh, nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: url must be an absolute http(s) URL", ErrInvalidInput)
	}
	return nil
}

func validateEvents(events []string) error {
	if len(events) == 0 {
		return fmt.Errorf("%w: at least one event is required", ErrInvalidInput)
	}
	for _, e := range events {
		if err := payload.ValidateEventType(e); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}
	return nil
}

func validateRetries(n int) error {
	if n < 1 || n > MaxRetries {
		return fmt.Errorf("%w: retries must be between 1 and %d", ErrInvalidInput, MaxRetries)
	}
	return nil
}

func dedupe(events []string) []string {
	seen := make(map[string]struct{}, len(events))
	out := make([]string, 0, len(events))
	for _, e := range events {
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}

func trimWildcard(event string) string {
	if len(event) > 2 && event[len(event)-2:] == ".*" {
		return event[:len(event)-2]
	}
	return event
}
