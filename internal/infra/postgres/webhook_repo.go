package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/prk-Jr/payments-service/internal/ledger"
	"github.com/prk-Jr/payments-service/internal/webhook"
)

var _ webhook.Repository = (*Repository)(nil)

// InsertWebhookEndpoint stores a new endpoint.
func (r *Repository) InsertWebhookEndpoint(ctx context.Context, endpoint *webhook.Endpoint) error {
	events, err := json.Marshal(endpoint.Events)
	if err != nil {
		return fmt.Errorf("failed to marshal endpoint events: %w", err)
	}

	query := `
		INSERT INTO webhook_endpoints (id, url, secret, events, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	q := r.getQueryer(ctx)
	_, err = q.Exec(ctx, query,
		endpoint.ID,
		endpoint.URL,
		endpoint.Secret,
		events,
		endpoint.IsActive,
		endpoint.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert webhook endpoint: %w", err)
	}

	return nil
}

// GetWebhookEndpoint retrieves an endpoint by ID, active or not.
func (r *Repository) GetWebhookEndpoint(ctx context.Context, id uuid.UUID) (*webhook.Endpoint, error) {
	query := `
		SELECT id, url, secret, events, is_active, created_at
		FROM webhook_endpoints
		WHERE id = $1
	`

	q := r.getQueryer(ctx)
	endpoint, err := scanEndpoint(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, webhook.ErrEndpointNotFound
		}
		return nil, fmt.Errorf("failed to get webhook endpoint: %w", err)
	}

	return endpoint, nil
}

// ListWebhookEndpoints returns all endpoints, newest first.
func (r *Repository) ListWebhookEndpoints(ctx context.Context) ([]*webhook.Endpoint, error) {
	query := `
		SELECT id, url, secret, events, is_active, created_at
		FROM webhook_endpoints
		ORDER BY created_at DESC
	`

	q := r.getQueryer(ctx)
	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query webhook endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []*webhook.Endpoint
	for rows.Next() {
		endpoint, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook endpoint: %w", err)
		}
		endpoints = append(endpoints, endpoint)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating webhook endpoints: %w", err)
	}

	return endpoints, nil
}

// DeactivateWebhookEndpoint soft-deletes an endpoint.
func (r *Repository) DeactivateWebhookEndpoint(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE webhook_endpoints SET is_active = FALSE WHERE id = $1 AND is_active = TRUE`

	q := r.getQueryer(ctx)
	tag, err := q.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate webhook endpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return webhook.ErrEndpointNotFound
	}

	return nil
}

// ListActiveEndpointIDsForEvent returns the ids of active endpoints
// subscribed to eventType. Called by the ledger inside its transaction while
// fanning out events.
func (r *Repository) ListActiveEndpointIDsForEvent(ctx context.Context, eventType string) ([]uuid.UUID, error) {
	query := `
		SELECT id
		FROM webhook_endpoints
		WHERE is_active = TRUE AND events @> to_jsonb($1::text)
		ORDER BY created_at ASC
	`

	q := r.getQueryer(ctx)
	rows, err := q.Query(ctx, query, eventType)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscribed endpoints: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan endpoint id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating endpoint ids: %w", err)
	}

	return ids, nil
}

// EnqueueWebhookEvent inserts a PENDING outbox row. Runs inside the ledger
// transaction so the event commits or rolls back with the balance change.
func (r *Repository) EnqueueWebhookEvent(ctx context.Context, event *ledger.OutboxEvent) error {
	query := `
		INSERT INTO webhook_events (id, endpoint_id, event_type, payload, status, attempts, created_at)
		VALUES ($1, $2, $3, $4, 'PENDING', 0, $5)
	`

	q := r.getQueryer(ctx)
	_, err := q.Exec(ctx, query,
		event.ID,
		event.EndpointID,
		event.EventType,
		event.Payload,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue webhook event: %w", err)
	}

	return nil
}

// ClaimWebhookEvents atomically moves up to limit due events to PROCESSING
// and returns them. SKIP LOCKED keeps concurrent workers from claiming the
// same rows without serializing on each other.
func (r *Repository) ClaimWebhookEvents(ctx context.Context, limit int, now time.Time) ([]*webhook.Event, error) {
	query := `
		WITH due AS (
			SELECT id
			FROM webhook_events
			WHERE status = 'PENDING'
			  AND (next_attempt_at IS NULL OR next_attempt_at <= $2)
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE webhook_events e
		SET status = 'PROCESSING', claimed_at = $2
		FROM due
		WHERE e.id = due.id
		RETURNING e.id, e.endpoint_id, e.event_type, e.payload, e.status, e.attempts,
		          e.last_error, e.next_attempt_at, e.claimed_at, e.created_at, e.processed_at
	`

	q := r.getQueryer(ctx)
	rows, err := q.Query(ctx, query, limit, now)
	if err != nil {
		return nil, fmt.Errorf("failed to claim webhook events: %w", err)
	}
	defer rows.Close()

	var events []*webhook.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating webhook events: %w", err)
	}

	// UPDATE ... RETURNING does not preserve the CTE's ordering.
	sort.Slice(events, func(i, j int) bool { return events[i].CreatedAt.Before(events[j].CreatedAt) })

	return events, nil
}

// MarkWebhookEventDelivered finalizes an event after a 2xx response.
func (r *Repository) MarkWebhookEventDelivered(ctx context.Context, id uuid.UUID, attempts int, now time.Time) error {
	query := `
		UPDATE webhook_events
		SET status = 'DELIVERED', attempts = $2, processed_at = $3,
		    last_error = NULL, next_attempt_at = NULL, claimed_at = NULL
		WHERE id = $1
	`

	q := r.getQueryer(ctx)
	tag, err := q.Exec(ctx, query, id, attempts, now)
	if err != nil {
		return fmt.Errorf("failed to mark webhook event delivered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return webhook.ErrEventNotFound
	}

	return nil
}

// MarkWebhookEventFailed records a failed attempt: rescheduled as PENDING
// when nextAttemptAt is set, terminal FAILED otherwise.
func (r *Repository) MarkWebhookEventFailed(ctx context.Context, id uuid.UUID, attempts int, lastErr string, nextAttemptAt *time.Time) error {
	var (
		query string
		args  []any
	)
	if nextAttemptAt != nil {
		query = `
			UPDATE webhook_events
			SET status = 'PENDING', attempts = $2, last_error = $3,
			    next_attempt_at = $4, claimed_at = NULL
			WHERE id = $1
		`
		args = []any{id, attempts, lastErr, *nextAttemptAt}
	} else {
		query = `
			UPDATE webhook_events
			SET status = 'FAILED', attempts = $2, last_error = $3,
			    next_attempt_at = NULL, claimed_at = NULL, processed_at = $4
			WHERE id = $1
		`
		args = []any{id, attempts, lastErr, time.Now().UTC()}
	}

	q := r.getQueryer(ctx)
	tag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to mark webhook event failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return webhook.ErrEventNotFound
	}

	return nil
}

// RecoverStaleWebhookEvents requeues PROCESSING events claimed before cutoff.
func (r *Repository) RecoverStaleWebhookEvents(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		UPDATE webhook_events
		SET status = 'PENDING', claimed_at = NULL
		WHERE status = 'PROCESSING' AND claimed_at < $1
	`

	q := r.getQueryer(ctx)
	tag, err := q.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale webhook events: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

// GetWebhookEvent retrieves a single event by ID.
func (r *Repository) GetWebhookEvent(ctx context.Context, id uuid.UUID) (*webhook.Event, error) {
	query := `
		SELECT id, endpoint_id, event_type, payload, status, attempts,
		       last_error, next_attempt_at, claimed_at, created_at, processed_at
		FROM webhook_events
		WHERE id = $1
	`

	q := r.getQueryer(ctx)
	event, err := scanEvent(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, webhook.ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get webhook event: %w", err)
	}

	return event, nil
}

func scanEndpoint(row pgx.Row) (*webhook.Endpoint, error) {
	var (
		endpoint webhook.Endpoint
		events   []byte
	)
	err := row.Scan(
		&endpoint.ID,
		&endpoint.URL,
		&endpoint.Secret,
		&events,
		&endpoint.IsActive,
		&endpoint.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(events, &endpoint.Events); err != nil {
		return nil, fmt.Errorf("invalid endpoint events: %w", err)
	}
	return &endpoint, nil
}

func scanEvent(row pgx.Row) (*webhook.Event, error) {
	var (
		event  webhook.Event
		status string
	)
	err := row.Scan(
		&event.ID,
		&event.EndpointID,
		&event.EventType,
		&event.Payload,
		&status,
		&event.Attempts,
		&event.LastError,
		&event.NextAttemptAt,
		&event.ClaimedAt,
		&event.CreatedAt,
		&event.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	event.Status = webhook.Status(status)
	return &event, nil
}
