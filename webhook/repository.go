package webhook

import (
	"context"
	"time"

	"github.com/marcelsud/dispatch/job"
)

/* Small, focused interfaces following "The Go Way"
 * Interfaces abstract behavior, not things
 * Written for users of the API, not just for testing
 */

// Reader provides read operations for subscriptions
type Reader interface {
	/* Context is always the first parameter in functions that do I/O
	 * This allows for cancellation, timeouts, and shared values
	 */
	// Get returns ErrNotFound when the subscription does not exist
	Get(ctx context.Context, id string) (Webhook, error)
	ListByCompany(ctx context.Context, companyID string) ([]Webhook, error)
	// Logs returns the most recent delivery attempts first
	Logs(ctx context.Context, id string, limit int) ([]Log, error)
}

// Writer provides write operations for subscriptions
type Writer interface {
	Create(ctx context.Context, webhook Webhook) error
	Update(ctx context.Context, webhook Webhook) error
	Delete(ctx context.Context, id string) error
	/* RecordAttempt updates LastStatus and LastAttemptAt only
	 * Delivery workers call it concurrently with API updates, so it must
	 * not rewrite the rest of the subscription
	 */
	RecordAttempt(ctx context.Context, id string, status DeliveryStatus, at time.Time) error
	AppendLog(ctx context.Context, log Log) error
}

/* Interface composition - combining small interfaces into larger ones
 * This is preferred over large monolithic interfaces
 */
type Repository interface {
	Reader
	Writer
	Close(ctx context.Context) error
}

// Enqueuer is the part of the job queue the service needs
type Enqueuer interface {
	Enqueue(ctx context.Context, queue job.Queue, name string, payload job.Payload, opts ...job.Option) (job.Handle, error)
}
