package job

import (
	"fmt"
	"time"
)

/* Job is a durable unit of work
 * Lifecycle: Pending|Delayed -> Active -> Completed | Delayed (retry) | Failed (dead set)
 * AttemptsMade counts claims, so it already includes the attempt in flight
 */
type Job struct {
	ID           string
	Queue        Queue
	Name         string
	Payload      Payload
	AttemptsMade int
	MaxAttempts  int
	Backoff      Backoff
	Priority     int
	Status       Status
	LastError    string
	RunAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
	FinishedAt   time.Time

	// LeaseToken is set by the store on claim and identifies this delivery of the job
	LeaseToken string
}

// Handle is what producers get back from Enqueue
type Handle struct {
	ID    string `json:"id"`
	Queue Queue  `json:"queue"`
}

// Status represents where a job is in its lifecycle
type Status int

const (
	Pending Status = iota + 1
	Delayed
	Active
	Completed
	Failed
)

// String returns the string representation of the status
func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Delayed:
		return "delayed"
	case Active:
		return "active"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// NewStatus creates a Status from a string
func NewStatus(str string) Status {
	switch str {
	case "pending":
		return Pending
	case "delayed":
		return Delayed
	case "active":
		return Active
	case "completed":
		return Completed
	case "failed":
		return Failed
	default:
		return Pending
	}
}

// Validate checks if the status is valid
func (s Status) Validate() error {
	if s < Pending || s > Failed {
		return fmt.Errorf("invalid status: %d", s)
	}
	return nil
}

// IsFinal returns true if the status is a terminal state
func (s Status) IsFinal() bool {
	return s == Completed || s == Failed
}

// Exhausted reports whether the attempt in flight is the last one allowed
func (j *Job) Exhausted() bool {
	return j.AttemptsMade >= j.MaxAttempts
}

// QueueStats is a point-in-time view of one queue
type QueueStats struct {
	Queue     Queue `json:"queue"`
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Delayed   int64 `json:"delayed"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Retention bounds how many finished jobs are kept and for how long
type Retention struct {
	CompletedKeep int
	CompletedTTL  time.Duration
	FailedKeep    int
	FailedTTL     time.Duration
}

func DefaultRetention() Retention {
	return Retention{
		CompletedKeep: 100,
		CompletedTTL:  time.Hour,
		FailedKeep:    1000,
		FailedTTL:     7 * 24 * time.Hour,
	}
}
