// Package webhook manages outbound event delivery: endpoint registration,
// payload signing, and the background worker that drains the outbox written
// by the ledger.
package webhook

import (
	"time"

	"github.com/google/uuid"
)

// Status tracks an event through the delivery state machine.
type Status string

const (
	// StatusPending means the event is waiting to be claimed, either fresh
	// from the outbox or scheduled for a retry.
	StatusPending Status = "PENDING"

	// StatusProcessing means a worker holds the event for delivery.
	StatusProcessing Status = "PROCESSING"

	// StatusDelivered means the endpoint acknowledged with a 2xx.
	StatusDelivered Status = "DELIVERED"

	// StatusFailed means every attempt was exhausted. Terminal.
	StatusFailed Status = "FAILED"
)

// Endpoint is a registered webhook destination. Secret never leaves the
// service except once, in the registration response.
type Endpoint struct {
	ID        uuid.UUID
	URL       string
	Secret    string
	Events    []string
	IsActive  bool
	CreatedAt time.Time
}

// Subscribes reports whether the endpoint wants events of the given type.
func (e *Endpoint) Subscribes(eventType string) bool {
	for _, ev := range e.Events {
		if ev == eventType {
			return true
		}
	}
	return false
}

// Event is one pending delivery. Payload holds the exact bytes that were
// enqueued with the ledger transaction; they are signed and sent verbatim.
type Event struct {
	ID            uuid.UUID
	EndpointID    uuid.UUID
	EventType     string
	Payload       []byte
	Status        Status
	Attempts      int
	LastError     *string
	NextAttemptAt *time.Time
	ClaimedAt     *time.Time
	ProcessedAt   *time.Time
	CreatedAt     time.Time
}
