package webhook

import "errors"

var (
	// ErrEndpointNotFound is returned when a webhook endpoint does not exist
	// or is already deactivated.
	ErrEndpointNotFound = errors.New("webhook endpoint not found")

	// ErrEventNotFound is returned when a webhook event does not exist.
	ErrEventNotFound = errors.New("webhook event not found")

	// ErrInvalidURL is returned when a registration URL is not an absolute
	// http or https URL.
	ErrInvalidURL = errors.New("webhook URL must be an absolute http or https URL")

	// ErrNoEvents is returned when a registration subscribes to nothing.
	ErrNoEvents = errors.New("webhook must subscribe to at least one event")

	// ErrEmptyEvent is returned when a subscribed event type is blank.
	ErrEmptyEvent = errors.New("event type cannot be empty")
)
