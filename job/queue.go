package job

import "fmt"

// Queue names one of the fixed job queues
type Queue string

const (
	Email         Queue = "email"
	Webhook       Queue = "webhook"
	Workflow      Queue = "workflow"
	Report        Queue = "report"
	UploadCleanup Queue = "upload-cleanup"
)

// Queues returns every queue, in a stable order
func Queues() []Queue {
	return []Queue{Email, Webhook, Workflow, Report, UploadCleanup}
}

// String returns the string representation of the queue
func (q Queue) String() string {
	return string(q)
}

// Validate checks if the queue is one of the known queues
func (q Queue) Validate() error {
	switch q {
	case Email, Webhook, Workflow, Report, UploadCleanup:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownQueue, string(q))
	}
}

// ParseQueue accepts "cleanup" as an alias of upload-cleanup
func ParseQueue(s string) (Queue, error) {
	if s == "cleanup" {
		return UploadCleanup, nil
	}
	q := Queue(s)
	if err := q.Validate(); err != nil {
		return "", err
	}
	return q, nil
}
