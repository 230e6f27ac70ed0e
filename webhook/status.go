package webhook

import "fmt"

/* DeliveryStatus is the outcome of a delivery attempt
 * A subscription carries the status of its latest attempt; zero means never attempted
 */
type DeliveryStatus int

const (
	Pending DeliveryStatus = iota + 1
	Success
	Failed
)

// String returns the string representation of the status
func (s DeliveryStatus) String() string {
	switch s {
	case Pending:
		return "pending"
	case Success:
		return "success"
	case Failed:
		return "failed"
	default:
		return ""
	}
}

// NewDeliveryStatus creates a DeliveryStatus from a string; unknown strings give the zero value
func NewDeliveryStatus(str string) DeliveryStatus {
	switch str {
	case "pending":
		return Pending
	case "success":
		return Success
	case "failed":
		return Failed
	default:
		return 0
	}
}

// Validate checks if the status is valid
func (s DeliveryStatus) Validate() error {
	if s < Pending || s > Failed {
		return fmt.Errorf("invalid delivery status: %d", s)
	}
	return nil
}

// IsFinal returns true if the status is a terminal state
func (s DeliveryStatus) IsFinal() bool {
	return s == Success || s == Failed
}
