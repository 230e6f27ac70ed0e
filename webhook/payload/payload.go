package payload

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// TestEvent is sent by the subscription test endpoint and bypasses event filters
const TestEvent = "webhook.test"

// eventTypePattern validates event types: hierarchical, full-stop delimited, [a-zA-Z0-9_.]
var eventTypePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+(\.[a-zA-Z0-9_]+)*$`)

// Delivery is the JSON body POSTed to a subscriber
type Delivery struct {
	// Event is a full-stop delimited type, e.g. "user.created", "invoice.paid"
	Event string

	// Data is the event data, passed through untouched
	Data json.RawMessage

	// Timestamp is when the delivery body was built
	Timestamp time.Time

	WebhookID string
}

// wireDelivery fixes the field order of the serialized body
type wireDelivery struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
	WebhookID string          `json:"webhookId"`
}

// New builds a validated delivery body; empty data becomes {}
func New(event, webhookID string, data json.RawMessage, at time.Time) (Delivery, error) {
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}

	d := Delivery{
		Event:     event,
		Data:      data,
		Timestamp: at.UTC(),
		WebhookID: webhookID,
	}

	if err := d.Validate(); err != nil {
		return Delivery{}, fmt.Errorf("validating payload: %w", err)
	}

	return d, nil
}

// Validate checks the body before it is signed
func (d Delivery) Validate() error {
	if d.Event == "" {
		return fmt.Errorf("event is required")
	}

	if !eventTypePattern.MatchString(d.Event) {
		return fmt.Errorf("event must be hierarchical and contain only [a-zA-Z0-9_.]: %s", d.Event)
	}

	if d.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}

	if d.WebhookID == "" {
		return fmt.Errorf("webhook id is required")
	}

	if len(d.Data) == 0 {
		return fmt.Errorf("data is required")
	}

	// Validate that data is valid JSON
	if !json.Valid(d.Data) {
		return fmt.Errorf("data must be valid JSON")
	}

	return nil
}

// MarshalJSON returns {"event","data","timestamp","webhookId"} with an RFC3339Nano UTC timestamp
func (d Delivery) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireDelivery{
		Event:     d.Event,
		Data:      d.Data,
		Timestamp: d.Timestamp.UTC().Format(time.RFC3339Nano),
		WebhookID: d.WebhookID,
	})
}

// UnmarshalJSON parses the JSON-encoded data and stores the result
func (d *Delivery) UnmarshalJSON(data []byte) error {
	var aux wireDelivery
	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("unmarshaling payload: %w", err)
	}

	// Parse timestamp
	timestamp, err := time.Parse(time.RFC3339Nano, aux.Timestamp)
	if err != nil {
		return fmt.Errorf("parsing timestamp: %w", err)
	}

	d.Event = aux.Event
	d.Data = aux.Data
	d.Timestamp = timestamp
	d.WebhookID = aux.WebhookID
	return nil
}

// Parse parses a received body, the receiving side of Bytes
func Parse(data []byte) (Delivery, error) {
	var d Delivery
	if err := json.Unmarshal(data, &d); err != nil {
		return Delivery{}, fmt.Errorf("unmarshaling payload: %w", err)
	}

	if err := d.Validate(); err != nil {
		return Delivery{}, fmt.Errorf("validating payload: %w", err)
	}

	return d, nil
}

// Bytes returns the body exactly as it is signed and sent
// The returned bytes are minified (no extra whitespace)
func (d Delivery) Bytes() ([]byte, error) {
	return json.Marshal(d)
}

// Matches checks an event against subscription filters
// Supports exact matching and prefix matching (e.g., "user.*" matches "user.created")
func Matches(event string, filters []string) bool {
	for _, filter := range filters {
		// Exact match
		if event == filter {
			return true
		}

		// Prefix match (e.g., "user.*" matches "user.created", "user.updated")
		if prefix, ok := strings.CutSuffix(filter, ".*"); ok && prefix != "" {
			if strings.HasPrefix(event, prefix+".") && len(event) > len(prefix)+1 {
				return true
			}
		}
	}

	return false
}

// ValidateEventType validates an event type or subscription filter
func ValidateEventType(eventType string) error {
	if eventType == "" {
		return fmt.Errorf("event type cannot be empty")
	}

	// Allow wildcard suffix for filtering
	if len(eventType) > 2 && eventType[len(eventType)-2:] == ".*" {
		eventType = eventType[:len(eventType)-2]
	}

	if !eventTypePattern.MatchString(eventType) {
		return fmt.Errorf("event type must be hierarchical and contain only [a-zA-Z0-9_.]: %s", eventType)
	}

	return nil
}
