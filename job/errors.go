package job

import "errors"

var (
	ErrUnknownQueue         = errors.New("unknown queue")
	ErrPayloadQueueMismatch = errors.New("payload kind does not belong to queue")
	ErrInvalidPayload       = errors.New("invalid payload")
	ErrInvalidOptions       = errors.New("invalid job options")
	ErrNotFound             = errors.New("job not found")
	// ErrLeaseLost means another worker reclaimed the job while it was running
	ErrLeaseLost = errors.New("job lease lost")
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a handler error as not worth retrying; the job goes straight to the dead set
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
