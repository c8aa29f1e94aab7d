package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/prk-Jr/payments-service/internal/credential"
)

var _ credential.Repository = (*Repository)(nil)

// InsertAPIKey stores a new API key.
func (r *Repository) InsertAPIKey(ctx context.Context, key *credential.APIKey) error {
	query := `
		INSERT INTO api_keys (id, name, key_hash, account_id, is_active, created_at, last_used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	q := r.getQueryer(ctx)
	_, err := q.Exec(ctx, query,
		key.ID,
		key.Name,
		key.KeyHash,
		key.AccountID,
		key.IsActive,
		key.CreatedAt,
		key.LastUsedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert API key: %w", err)
	}

	return nil
}

// GetAPIKeyByHash retrieves an API key by the SHA-256 hash of its raw value.
func (r *Repository) GetAPIKeyByHash(ctx context.Context, keyHash string) (*credential.APIKey, error) {
	query := `
		SELECT id, name, key_hash, account_id, is_active, created_at, last_used_at
		FROM api_keys
		WHERE key_hash = $1
	`

	q := r.getQueryer(ctx)
	key, err := scanAPIKey(q.QueryRow(ctx, query, keyHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, credential.ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get API key by hash: %w", err)
	}

	return key, nil
}

// CountActiveAPIKeys counts active keys. Inside a transaction it first takes
// a table lock so two racing bootstrap calls cannot both observe zero keys.
func (r *Repository) CountActiveAPIKeys(ctx context.Context) (int, error) {
	if tx := r.getTxFromContext(ctx); tx != nil {
		if _, err := tx.Exec(ctx, `LOCK TABLE api_keys IN SHARE ROW EXCLUSIVE MODE`); err != nil {
			return 0, fmt.Errorf("failed to lock api_keys: %w", mapConcurrencyError(err))
		}
	}

	var count int
	q := r.getQueryer(ctx)
	err := q.QueryRow(ctx, `SELECT COUNT(*) FROM api_keys WHERE is_active = TRUE`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count API keys: %w", err)
	}

	return count, nil
}

// TouchAPIKeyLastUsed records when a key last authenticated a request.
func (r *Repository) TouchAPIKeyLastUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) error {
	query := `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`

	q := r.getQueryer(ctx)
	tag, err := q.Exec(ctx, query, id, usedAt)
	if err != nil {
		return fmt.Errorf("failed to update last_used_at: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return credential.ErrKeyNotFound
	}

	return nil
}

// ListAPIKeys returns all keys, newest first.
func (r *Repository) ListAPIKeys(ctx context.Context) ([]*credential.APIKey, error) {
	query := `
		SELECT id, name, key_hash, account_id, is_active, created_at, last_used_at
		FROM api_keys
		ORDER BY created_at DESC
	`

	q := r.getQueryer(ctx)
	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query API keys: %w", err)
	}
	defer rows.Close()

	var keys []*credential.APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan API key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating API keys: %w", err)
	}

	return keys, nil
}

// DeactivateAPIKey revokes a key. Revoking an already-inactive key reports
// not found, so a repeated DELETE surfaces as 404 rather than silently
// succeeding.
func (r *Repository) DeactivateAPIKey(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE api_keys SET is_active = FALSE WHERE id = $1 AND is_active = TRUE`

	q := r.getQueryer(ctx)
	tag, err := q.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate API key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return credential.ErrKeyNotFound
	}

	return nil
}

func scanAPIKey(row pgx.Row) (*credential.APIKey, error) {
	var key credential.APIKey
	err := row.Scan(
		&key.ID,
		&key.Name,
		&key.KeyHash,
		&key.AccountID,
		&key.IsActive,
		&key.CreatedAt,
		&key.LastUsedAt,
	)
	if err != nil {
		return nil, err
	}
	return &key, nil
}
