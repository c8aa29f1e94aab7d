package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/prk-Jr/payments-service/internal/credential"
)

var _ credential.Repository = (*Repository)(nil)

// InsertAPIKey stores a new API key.
func (r *Repository) InsertAPIKey(ctx context.Context, key *credential.APIKey) error {
	defer r.lockForWrite(ctx)()

	query := `
		INSERT INTO api_keys (id, name, key_hash, account_id, is_active, created_at, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	q := r.getQueryer(ctx)
	_, err := q.ExecContext(ctx, query,
		key.ID.String(),
		key.Name,
		key.KeyHash,
		nullUUID(key.AccountID),
		key.IsActive,
		formatTime(key.CreatedAt),
		nullTime(key.LastUsedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert api key: %w", err)
	}

	return nil
}

// GetAPIKeyByHash retrieves a key by its SHA-256 hash, active or not.
func (r *Repository) GetAPIKeyByHash(ctx context.Context, keyHash string) (*credential.APIKey, error) {
	query := `
		SELECT id, name, key_hash, account_id, is_active, created_at, last_used_at
		FROM api_keys
		WHERE key_hash = ?
	`

	q := r.getQueryer(ctx)
	key, err := scanAPIKey(q.QueryRowContext(ctx, query, keyHash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, credential.ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get api key by hash: %w", err)
	}

	return key, nil
}

// CountActiveAPIKeys counts active keys. Inside a write transaction the
// repository's write lock keeps the count stable until commit, so two racing
// bootstraps cannot both observe zero.
func (r *Repository) CountActiveAPIKeys(ctx context.Context) (int, error) {
	query := `SELECT COUNT(*) FROM api_keys WHERE is_active = 1`

	var count int
	q := r.getQueryer(ctx)
	if err := q.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count active api keys: %w", err)
	}

	return count, nil
}

// TouchAPIKeyLastUsed records when a key last authenticated a request.
func (r *Repository) TouchAPIKeyLastUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) error {
	defer r.lockForWrite(ctx)()

	query := `UPDATE api_keys SET last_used_at = ? WHERE id = ?`

	q := r.getQueryer(ctx)
	result, err := q.ExecContext(ctx, query, formatTime(usedAt), id.String())
	if err != nil {
		return fmt.Errorf("failed to touch api key: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
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
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query api keys: %w", err)
	}
	defer rows.Close()

	var keys []*credential.APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating api keys: %w", err)
	}

	return keys, nil
}

// DeactivateAPIKey soft-deletes a key.
func (r *Repository) DeactivateAPIKey(ctx context.Context, id uuid.UUID) error {
	defer r.lockForWrite(ctx)()

	query := `UPDATE api_keys SET is_active = 0 WHERE id = ? AND is_active = 1`

	q := r.getQueryer(ctx)
	result, err := q.ExecContext(ctx, query, id.String())
	if err != nil {
		return fmt.Errorf("failed to deactivate api key: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return credential.ErrKeyNotFound
	}

	return nil
}

func scanAPIKey(row scanner) (*credential.APIKey, error) {
	var (
		key        credential.APIKey
		id         string
		accountID  sql.NullString
		createdAt  string
		lastUsedAt sql.NullString
	)

	err := row.Scan(
		&id,
		&key.Name,
		&key.KeyHash,
		&accountID,
		&key.IsActive,
		&createdAt,
		&lastUsedAt,
	)
	if err != nil {
		return nil, err
	}

	key.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid stored api key id: %w", err)
	}
	if key.AccountID, err = parseNullUUID(accountID); err != nil {
		return nil, err
	}
	if key.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if key.LastUsedAt, err = parseNullTime(lastUsedAt); err != nil {
		return nil, err
	}

	return &key, nil
}
