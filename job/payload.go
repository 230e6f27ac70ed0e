package job

import (
	"encoding/json"
	"fmt"
	"time"
)

/* Payloads are a closed set of variants, one per job kind
 * Each kind belongs to exactly one queue. On the wire a payload is the
 * envelope {"kind": "...", "data": {...}}
 */

// Kind tags a payload variant
type Kind string

const (
	KindEmail    Kind = "email.send"
	KindWebhook  Kind = "webhook.deliver"
	KindWorkflow Kind = "workflow.run"
	KindReport   Kind = "report.generate"
	KindCleanup  Kind = "upload.cleanup"
)

// Queue returns the queue that carries this kind
func (k Kind) Queue() Queue {
	switch k {
	case KindEmail:
		return Email
	case KindWebhook:
		return Webhook
	case KindWorkflow:
		return Workflow
	case KindReport:
		return Report
	case KindCleanup:
		return UploadCleanup
	default:
		return ""
	}
}

// Payload is implemented by the variants below and nothing else
type Payload interface {
	Kind() Kind
	payload()
}

type EmailPayload struct {
	CompanyID string         `json:"company_id,omitempty"`
	To        []string       `json:"to"`
	Subject   string         `json:"subject"`
	Template  string         `json:"template"`
	Data      map[string]any `json:"data,omitempty"`
}

func (EmailPayload) Kind() Kind { return KindEmail }
func (EmailPayload) payload()   {}

// WebhookPayload only references the subscription; URL and secret are read at send time
type WebhookPayload struct {
	WebhookID   string          `json:"webhook_id"`
	CompanyID   string          `json:"company_id,omitempty"`
	Event       string          `json:"event"`
	Data        json.RawMessage `json:"data"`
	TriggeredAt time.Time       `json:"triggered_at"`
}

func (WebhookPayload) Kind() Kind { return KindWebhook }
func (WebhookPayload) payload()   {}

type WorkflowPayload struct {
	WorkflowID   string          `json:"workflow_id"`
	CompanyID    string          `json:"company_id"`
	TriggerEvent string          `json:"trigger_event,omitempty"`
	Input        json.RawMessage `json:"input,omitempty"`
}

func (WorkflowPayload) Kind() Kind { return KindWorkflow }
func (WorkflowPayload) payload()   {}

type ReportPayload struct {
	ReportID  string          `json:"report_id"`
	CompanyID string          `json:"company_id"`
	Format    string          `json:"format"`
	Params    json.RawMessage `json:"params,omitempty"`
}

func (ReportPayload) Kind() Kind { return KindReport }
func (ReportPayload) payload()   {}

type CleanupPayload struct {
	CompanyID string    `json:"company_id,omitempty"`
	UploadIDs []string  `json:"upload_ids,omitempty"`
	OlderThan time.Time `json:"older_than,omitempty"`
}

func (CleanupPayload) Kind() Kind { return KindCleanup }
func (CleanupPayload) payload()   {}

// CompanyOf returns the tenant a payload belongs to; system jobs return ""
func CompanyOf(p Payload) string {
	switch v := p.(type) {
	case EmailPayload:
		return v.CompanyID
	case WebhookPayload:
		return v.CompanyID
	case WorkflowPayload:
		return v.CompanyID
	case ReportPayload:
		return v.CompanyID
	case CleanupPayload:
		return v.CompanyID
	default:
		return ""
	}
}

type envelope struct {
	Kind Kind            `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// EncodePayload serializes a payload inside its kind envelope
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: payload is nil", ErrInvalidPayload)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s payload: %w", p.Kind(), err)
	}
	out, err := json.Marshal(envelope{Kind: p.Kind(), Data: data})
	if err != nil {
		return nil, fmt.Errorf("marshaling envelope: %w", err)
	}
	return out, nil
}

// DecodePayload restores the concrete variant named by the envelope
func DecodePayload(raw []byte) (Payload, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: unmarshaling envelope: %v", ErrInvalidPayload, err)
	}

	switch env.Kind {
	case KindEmail:
		return decodeAs[EmailPayload](env)
	case KindWebhook:
		return decodeAs[WebhookPayload](env)
	case KindWorkflow:
		return decodeAs[WorkflowPayload](env)
	case KindReport:
		return decodeAs[ReportPayload](env)
	case KindCleanup:
		return decodeAs[CleanupPayload](env)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidPayload, env.Kind)
	}
}

func decodeAs[T Payload](env envelope) (Payload, error) {
	var p T
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return nil, fmt.Errorf("%w: unmarshaling %s: %v", ErrInvalidPayload, env.Kind, err)
	}
	return p, nil
}
