package webhook

import (
	"encoding/json"
	"time"
)

/* Webhook is a tenant's subscription to outbound events
 * Uses value semantics as it represents data, not behavior
 * Secret is the encoded whsec_ signing key; it is read again at send time,
 * so rotating it affects jobs that are already queued.
 */
type Webhook struct {
	ID            string
	CompanyID     string
	URL           string
	Secret        string
	Events        []string
	Retries       int
	IsActive      bool
	LastStatus    DeliveryStatus
	LastAttemptAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

/* Log is one delivery attempt, append-only
 * StatusCode is zero when no response was received
 */
type Log struct {
	ID           string
	WebhookID    string
	Event        string
	Payload      json.RawMessage
	Status       DeliveryStatus
	StatusCode   int
	ResponseBody string
	ErrorMessage string
	Attempt      int
	Duration     time.Duration
	DeliveredAt  time.Time
	CreatedAt    time.Time
}
