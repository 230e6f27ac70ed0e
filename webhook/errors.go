package webhook

import "errors"

var (
	ErrNotFound           = errors.New("webhook not found")
	ErrInactive           = errors.New("webhook is not active")
	ErrEventNotSubscribed = errors.New("webhook is not subscribed to event")
	ErrInvalidSecret      = errors.New("webhook secret is malformed")
	ErrInvalidInput       = errors.New("invalid webhook input")
)
