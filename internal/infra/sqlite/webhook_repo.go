package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/prk-Jr/payments-service/internal/webhook"
)

var _ webhook.Repository = (*Repository)(nil)

// InsertWebhookEndpoint stores a new endpoint.
func (r *Repository) InsertWebhookEndpoint(ctx context.Context, endpoint *webhook.Endpoint) error {
	defer r.lockForWrite(ctx)()

	events, err := json.Marshal(endpoint.Events)
	if err != nil {
		return fmt.Errorf("failed to marshal endpoint events: %w", err)
	}

	query := `
		INSERT INTO webhook_endpoints (id, url, secret, events, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	q := r.getQueryer(ctx)
	_, err = q.ExecContext(ctx, query,
		endpoint.ID.String(),
		endpoint.URL,
		endpoint.Secret,
		string(events),
		endpoint.IsActive,
		formatTime(endpoint.CreatedAt),
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
		WHERE id = ?
	`

	q := r.getQueryer(ctx)
	endpoint, err := scanEndpoint(q.QueryRowContext(ctx, query, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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
	rows, err := q.QueryContext(ctx, query)
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
	defer r.lockForWrite(ctx)()

	query := `UPDATE webhook_endpoints SET is_active = 0 WHERE id = ? AND is_active = 1`

	q := r.getQueryer(ctx)
	result, err := q.ExecContext(ctx, query, id.String())
	if err != nil {
		return fmt.Errorf("failed to deactivate webhook endpoint: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return webhook.ErrEndpointNotFound
	}

	return nil
}

// ClaimWebhookEvents moves up to limit due events to PROCESSING and returns
// them. The select and the per-row updates run in one write transaction
// under the repository's write lock, which is SQLite's answer to SKIP
// LOCKED: there is never a second claimer to skip.
func (r *Repository) ClaimWebhookEvents(ctx context.Context, limit int, now time.Time) ([]*webhook.Event, error) {
	txCtx, err := r.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.RollbackTx(txCtx) }()

	query := `
		SELECT id, endpoint_id, event_type, payload, status, attempts,
		       last_error, next_attempt_at, claimed_at, created_at, processed_at
		FROM webhook_events
		WHERE status = 'PENDING'
		  AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		ORDER BY created_at ASC
		LIMIT ?
	`

	q := r.getQueryer(txCtx)
	rows, err := q.QueryContext(txCtx, query, formatTime(now), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due webhook events: %w", err)
	}

	var events []*webhook.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan webhook event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating webhook events: %w", err)
	}
	rows.Close()

	claim := `UPDATE webhook_events SET status = 'PROCESSING', claimed_at = ? WHERE id = ?`
	claimedAt := now.UTC()
	for _, event := range events {
		if _, err := q.ExecContext(txCtx, claim, formatTime(claimedAt), event.ID.String()); err != nil {
			return nil, fmt.Errorf("failed to claim webhook event: %w", err)
		}
		event.Status = webhook.StatusProcessing
		event.ClaimedAt = &claimedAt
	}

	if err := r.CommitTx(txCtx); err != nil {
		return nil, err
	}

	return events, nil
}

// MarkWebhookEventDelivered finalizes an event after a 2xx response.
func (r *Repository) MarkWebhookEventDelivered(ctx context.Context, id uuid.UUID, attempts int, now time.Time) error {
	defer r.lockForWrite(ctx)()

	query := `
		UPDATE webhook_events
		SET status = 'DELIVERED', attempts = ?, processed_at = ?,
		    last_error = NULL, next_attempt_at = NULL, claimed_at = NULL
		WHERE id = ?
	`

	q := r.getQueryer(ctx)
	result, err := q.ExecContext(ctx, query, attempts, formatTime(now), id.String())
	if err != nil {
		return fmt.Errorf("failed to mark webhook event delivered: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return webhook.ErrEventNotFound
	}

	return nil
}

// MarkWebhookEventFailed records a failed attempt: rescheduled as PENDING
// when nextAttemptAt is set, terminal FAILED otherwise.
func (r *Repository) MarkWebhookEventFailed(ctx context.Context, id uuid.UUID, attempts int, lastErr string, nextAttemptAt *time.Time) error {
	defer r.lockForWrite(ctx)()

	var (
		query string
		args  []any
	)
	if nextAttemptAt != nil {
		query = `
			UPDATE webhook_events
			SET status = 'PENDING', attempts = ?, last_error = ?,
			    next_attempt_at = ?, claimed_at = NULL
			WHERE id = ?
		`
		args = []any{attempts, lastErr, formatTime(*nextAttemptAt), id.String()}
	} else {
		query = `
			UPDATE webhook_events
			SET status = 'FAILED', attempts = ?, last_error = ?,
			    next_attempt_at = NULL, claimed_at = NULL, processed_at = ?
			WHERE id = ?
		`
		args = []any{attempts, lastErr, formatTime(time.Now()), id.String()}
	}

	q := r.getQueryer(ctx)
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to mark webhook event failed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return webhook.ErrEventNotFound
	}

	return nil
}

// RecoverStaleWebhookEvents requeues PROCESSING events claimed before cutoff.
func (r *Repository) RecoverStaleWebhookEvents(ctx context.Context, cutoff time.Time) (int, error) {
	defer r.lockForWrite(ctx)()

	query := `
		UPDATE webhook_events
		SET status = 'PENDING', claimed_at = NULL
		WHERE status = 'PROCESSING' AND claimed_at < ?
	`

	q := r.getQueryer(ctx)
	result, err := q.ExecContext(ctx, query, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale webhook events: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return int(affected), nil
}

// GetWebhookEvent retrieves a single event by ID.
func (r *Repository) GetWebhookEvent(ctx context.Context, id uuid.UUID) (*webhook.Event, error) {
	query := `
		SELECT id, endpoint_id, event_type, payload, status, attempts,
		       last_error, next_attempt_at, claimed_at, created_at, processed_at
		FROM webhook_events
		WHERE id = ?
	`

	q := r.getQueryer(ctx)
	event, err := scanEvent(q.QueryRowContext(ctx, query, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, webhook.ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get webhook event: %w", err)
	}

	return event, nil
}

func scanEndpoint(row scanner) (*webhook.Endpoint, error) {
	var (
		endpoint  webhook.Endpoint
		id        string
		events    string
		createdAt string
	)
	err := row.Scan(&id, &endpoint.URL, &endpoint.Secret, &events, &endpoint.IsActive, &createdAt)
	if err != nil {
		return nil, err
	}

	endpoint.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid stored endpoint id: %w", err)
	}
	if err := json.Unmarshal([]byte(events), &endpoint.Events); err != nil {
		return nil, fmt.Errorf("invalid endpoint events: %w", err)
	}
	if endpoint.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}

	return &endpoint, nil
}

func scanEvent(row scanner) (*webhook.Event, error) {
	var (
		event         webhook.Event
		id            string
		endpointID    string
		payload       string
		status        string
		lastError     sql.NullString
		nextAttemptAt sql.NullString
		claimedAt     sql.NullString
		createdAt     string
		processedAt   sql.NullString
	)

	err := row.Scan(
		&id,
		&endpointID,
		&event.EventType,
		&payload,
		&status,
		&event.Attempts,
		&lastError,
		&nextAttemptAt,
		&claimedAt,
		&createdAt,
		&processedAt,
	)
	if err != nil {
		return nil, err
	}

	event.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid stored event id: %w", err)
	}
	event.EndpointID, err = uuid.Parse(endpointID)
	if err != nil {
		return nil, fmt.Errorf("invalid stored endpoint id: %w", err)
	}
	event.Payload = []byte(payload)
	event.Status = webhook.Status(status)
	event.LastError = fromNullString(lastError)
	if event.NextAttemptAt, err = parseNullTime(nextAttemptAt); err != nil {
		return nil, err
	}
	if event.ClaimedAt, err = parseNullTime(claimedAt); err != nil {
		return nil, err
	}
	if event.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if event.ProcessedAt, err = parseNullTime(processedAt); err != nil {
		return nil, err
	}

	return &event, nil
}
