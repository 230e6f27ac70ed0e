package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/marcelsud/dispatch/breaker"
	"github.com/marcelsud/dispatch/job"
	"github.com/marcelsud/dispatch/webhook"
	"github.com/marcelsud/dispatch/webhook/payload"
	"github.com/marcelsud/dispatch/webhook/signature"
	"github.com/rs/zerolog"
)

// Subscriptions is the part of the webhook service the handler needs.
// *webhook.Service satisfies it.
type Subscriptions interface {
	Get(ctx context.Context, id string) (webhook.Webhook, error)
	RecordDelivery(ctx context.Context, log webhook.Log) error
}

type WebhookHandlerOptions struct {
	// Client defaults to NewHTTPClient(DefaultTimeout)
	Client *http.Client
	// OnAttempt observes every attempt that reached the send stage
	OnAttempt func(status webhook.DeliveryStatus, statusCode int, elapsed time.Duration)
}

/* WebhookHandler delivers one webhook.deliver job
 * The subscription is read again at send time so the current URL, secret
 * and activity apply. Every attempt leaves a webhook.Log behind; failures
 * are returned so the runner can retry them.
 */
type WebhookHandler struct {
	subs     Subscriptions
	breakers *breaker.Manager
	client   *http.Client
	logger   zerolog.Logger
	now      func() time.Time
	observe  func(status webhook.DeliveryStatus, statusCode int, elapsed time.Duration)
}

func NewWebhookHandler(subs Subscriptions, breakers *breaker.Manager, logger zerolog.Logger, opts WebhookHandlerOptions) *WebhookHandler {
	client := opts.Client
	if client == nil {
		client = NewHTTPClient(DefaultTimeout)
	}
	return &WebhookHandler{
		subs:     subs,
		breakers: breakers,
		client:   client,
		logger:   logger,
		now:      time.Now,
		observe:  opts.OnAttempt,
	}
}

func (h *WebhookHandler) Handle(ctx context.Context, j *job.Job) error {
	p, err := payloadAs[job.WebhookPayload](j)
	if err != nil {
		return err
	}

	logger := h.logger.With().
		Str("job_id", j.ID).
		Str("webhook_id", p.WebhookID).
		Str("event", p.Event).
		Int("attempt", j.AttemptsMade).
		Logger()

	wh, err := h.subs.Get(ctx, p.WebhookID)
	if errors.Is(err, webhook.ErrNotFound) {
		logger.Warn().Msg("webhook no longer exists, dropping delivery")
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading webhook: %w", err)
	}

	if !wh.IsActive {
		err := fmt.Errorf("%w: %s", webhook.ErrInactive, wh.ID)
		h.record(ctx, logger, webhook.Log{
			WebhookID:    wh.ID,
			Event:        p.Event,
			Status:       webhook.Failed,
			ErrorMessage: err.Error(),
			Attempt:      j.AttemptsMade,
		})
		logger.Warn().Msg("webhook is inactive, skipping delivery")
		return job.Permanent(err)
	}

	// signing
	secret, err := signature.ParseSecret(wh.Secret)
	if err != nil {
		err = fmt.Errorf("%w: %v", webhook.ErrInvalidSecret, err)
		h.record(ctx, logger, webhook.Log{
			WebhookID:    wh.ID,
			Event:        p.Event,
			Status:       webhook.Failed,
			ErrorMessage: err.Error(),
			Attempt:      j.AttemptsMade,
		})
		return job.Permanent(err)
	}

	d, err := payload.New(p.Event, wh.ID, p.Data, h.now())
	if err != nil {
		return job.Permanent(fmt.Errorf("building payload: %w", err))
	}
	body, err := d.Bytes()
	if err != nil {
		return job.Permanent(fmt.Errorf("encoding payload: %w", err))
	}

	// sending
	start := h.now()
	var (
		statusCode   int
		responseBody string
	)
	err = guarded(ctx, h.breakers, WebhookBreaker(wh.ID), func(ctx context.Context) error {
		var sendErr error
		statusCode, responseBody, sendErr = h.send(ctx, wh, p.Event, body, signature.Header(secret, body))
		return sendErr
	})
	elapsed := h.now().Sub(start)

	entry := webhook.Log{
		WebhookID:    wh.ID,
		Event:        p.Event,
		Payload:      body,
		StatusCode:   statusCode,
		ResponseBody: responseBody,
		Attempt:      j.AttemptsMade,
		Duration:     elapsed,
	}

	if err != nil {
		entry.Status = webhook.Failed
		entry.ErrorMessage = err.Error()
		h.record(ctx, logger, entry)
		h.notify(webhook.Failed, statusCode, elapsed)

		logger.Warn().Err(err).Int("status_code", statusCode).Dur("duration", elapsed).Msg("webhook delivery failed")
		return err
	}

	entry.Status = webhook.Success
	entry.DeliveredAt = h.now()
	h.record(ctx, logger, entry)
	h.notify(webhook.Success, statusCode, elapsed)

	logger.Info().Int("status_code", statusCode).Dur("duration", elapsed).Msg("webhook delivered")
	return nil
}

func (h *WebhookHandler) send(ctx context.Context, wh webhook.Webhook, event string, body []byte, sig string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set(signature.HeaderName, sig)
	req.Header.Set("X-Webhook-Event", event)
	req.Header.Set("X-Webhook-ID", wh.ID)

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	// drain so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)
	snippet := strings.TrimSpace(string(b))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, snippet, fmt.Errorf("%w: status %d", ErrDeliveryFailed, resp.StatusCode)
	}
	return resp.StatusCode, snippet, nil
}

// record never fails the delivery; the audit log is best effort
func (h *WebhookHandler) record(ctx context.Context, logger zerolog.Logger, entry webhook.Log) {
	if err := h.subs.RecordDelivery(ctx, entry); err != nil {
		logger.Error().Err(err).Msg("failed to record delivery attempt")
	}
}

func (h *WebhookHandler) notify(status webhook.DeliveryStatus, statusCode int, elapsed time.Duration) {
	if h.observe != nil {
		h.observe(status, statusCode, elapsed)
	}
}
