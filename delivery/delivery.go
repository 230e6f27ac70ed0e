package delivery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/marcelsud/dispatch/breaker"
	"github.com/marcelsud/dispatch/job"
	"github.com/rs/zerolog"
)

/* Handlers for each job queue
 * Every outbound call runs inside a named breaker from the shared Manager,
 * so a failing dependency fails fast instead of holding workers
 */

// ErrDeliveryFailed is returned when a webhook endpoint answers outside 2xx
var ErrDeliveryFailed = errors.New("webhook delivery failed")

const (
	DefaultTimeout = 10 * time.Second
	UserAgent      = "dispatch-webhooks/1.0"

	// maxResponseBody bounds the response body kept in the delivery log
	maxResponseBody = 1000
)

// Breaker names for the non-webhook dependencies
const (
	BreakerEmail    = "email"
	BreakerWorkflow = "workflow"
	BreakerReport   = "report"
	BreakerStorage  = "storage"
)

// WebhookBreaker names the breaker of one subscription
func WebhookBreaker(webhookID string) string {
	return "webhook:" + webhookID
}

// NewHTTPClient builds the client used for webhook calls
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   3 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{
		Transport: tr,
		Timeout:   timeout,
	}
}

// Handlers maps each queue to its handler
type Handlers map[job.Queue]job.Handler

// Dependencies are the collaborators behind the queue handlers.
// Nil Mailer, Workflows, Reports or Uploads fall back to log-only stand-ins.
type Dependencies struct {
	Subscriptions Subscriptions
	Breakers      *breaker.Manager
	Mailer        Mailer
	Workflows     WorkflowRunner
	Reports       ReportGenerator
	Uploads       UploadCleaner
	Webhook       WebhookHandlerOptions
	Logger        zerolog.Logger
}

// NewHandlers builds one handler per queue
func NewHandlers(d Dependencies) Handlers {
	sink := NewLogSink(d.Logger)
	var (
		mailer    Mailer          = NewLogMailer(d.Logger)
		workflows WorkflowRunner  = sink
		reports   ReportGenerator = sink
		uploads   UploadCleaner   = sink
	)
	if d.Mailer != nil {
		mailer = d.Mailer
	}
	if d.Workflows != nil {
		workflows = d.Workflows
	}
	if d.Reports != nil {
		reports = d.Reports
	}
	if d.Uploads != nil {
		uploads = d.Uploads
	}

	return Handlers{
		job.Email:         NewEmailHandler(mailer, d.Breakers),
		job.Webhook:       NewWebhookHandler(d.Subscriptions, d.Breakers, d.Logger, d.Webhook),
		job.Workflow:      NewWorkflowHandler(workflows, d.Breakers),
		job.Report:        NewReportHandler(reports, d.Breakers),
		job.UploadCleanup: NewCleanupHandler(uploads, d.Breakers, d.Logger),
	}
}

// For returns the handler of queue, or an error when none is registered
func (h Handlers) For(queue job.Queue) (job.Handler, error) {
	if err := queue.Validate(); err != nil {
		return nil, err
	}
	handler, ok := h[queue]
	if !ok {
		return nil, fmt.Errorf("no handler for queue %s", queue)
	}
	return handler, nil
}

// guarded runs op inside the named breaker
func guarded(ctx context.Context, breakers *breaker.Manager, name string, op func(ctx context.Context) error) error {
	return breakers.Get(name).Execute(ctx, op)
}

// payloadAs narrows a job's payload to the variant its queue carries
func payloadAs[T job.Payload](j *job.Job) (T, error) {
	p, ok := j.Payload.(T)
	if !ok {
		var zero T
		return zero, job.Permanent(fmt.Errorf("%w: queue %s got %T", job.ErrInvalidPayload, j.Queue, j.Payload))
	}
	return p, nil
}
