package webhook

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence port for endpoints and the delivery side of
// the outbox. Enqueueing lives on the ledger port because events are written
// in the same transaction as the balance change.
type Repository interface {
	// InsertWebhookEndpoint stores a new endpoint.
	InsertWebhookEndpoint(ctx context.Context, endpoint *Endpoint) error

	// GetWebhookEndpoint returns an endpoint regardless of its active state.
	// Events enqueued before a deactivation still need its URL and secret.
	// Returns ErrEndpointNotFound when no such endpoint exists.
	GetWebhookEndpoint(ctx context.Context, id uuid.UUID) (*Endpoint, error)

	// ListWebhookEndpoints returns all endpoints, active or not.
	ListWebhookEndpoints(ctx context.Context) ([]*Endpoint, error)

	// DeactivateWebhookEndpoint soft-deletes an endpoint. Returns
	// ErrEndpointNotFound when it does not exist or is already inactive.
	DeactivateWebhookEndpoint(ctx context.Context, id uuid.UUID) error

	// ClaimWebhookEvents atomically moves up to limit due events from
	// PENDING to PROCESSING and returns them. An event is due when its
	// next_attempt_at is unset or not after now. Two workers never claim
	// the same event.
	ClaimWebhookEvents(ctx context.Context, limit int, now time.Time) ([]*Event, error)

	// MarkWebhookEventDelivered finalizes an event after a 2xx response.
	MarkWebhookEventDelivered(ctx context.Context, id uuid.UUID, attempts int, now time.Time) error

	// MarkWebhookEventFailed records a failed attempt. A non-nil
	// nextAttemptAt reschedules the event as PENDING; nil abandons it as
	// FAILED.
	MarkWebhookEventFailed(ctx context.Context, id uuid.UUID, attempts int, lastErr string, nextAttemptAt *time.Time) error

	// RecoverStaleWebhookEvents returns PROCESSING events claimed before
	// cutoff to PENDING, so deliveries interrupted by a crash are retried.
	// Returns the number of recovered events.
	RecoverStaleWebhookEvents(ctx context.Context, cutoff time.Time) (int, error)

	// GetWebhookEvent returns a single event by ID. Returns ErrEventNotFound
	// when no such event exists.
	GetWebhookEvent(ctx context.Context, id uuid.UUID) (*Event, error)
}
