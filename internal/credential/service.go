package credential

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/prk-Jr/payments-service/pkg/logger"
)

// rawKeyBytes is the entropy behind each issued key.
const rawKeyBytes = 32

// touchTimeout bounds the background last_used_at update.
const touchTimeout = 2 * time.Second

// Service issues and verifies API keys.
type Service struct {
	repo   Repository
	logger *logger.Logger
}

// NewService creates a new credential service
func NewService(repo Repository, log *logger.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: log.WithField("component", "credential"),
	}
}

// Issue creates a new API key, optionally scoped to one account. The raw
// key is returned exactly once; only its SHA-256 hash is stored.
func (s *Service) Issue(ctx context.Context, name string, accountID *uuid.UUID) (*APIKey, string, error) {
	key, raw, err := buildKey(name, accountID)
	if err != nil {
		return nil, "", err
	}

	if err := s.repo.InsertAPIKey(ctx, key); err != nil {
		return nil, "", fmt.Errorf("failed to insert API key: %w", err)
	}

	return key, raw, nil
}

// Bootstrap issues the very first API key. It fails with
// ErrBootstrapForbidden when any active key already exists. The count check
// and the insert share one transaction so two racing bootstrap calls cannot
// both succeed.
func (s *Service) Bootstrap(ctx context.Context, name string) (*APIKey, string, error) {
	txCtx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = s.repo.RollbackTx(txCtx)
		}
	}()

	count, err := s.repo.CountActiveAPIKeys(txCtx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to count API keys: %w", err)
	}
	if count > 0 {
		return nil, "", ErrBootstrapForbidden
	}

	key, raw, err := buildKey(name, nil)
	if err != nil {
		return nil, "", err
	}
	if err := s.repo.InsertAPIKey(txCtx, key); err != nil {
		return nil, "", fmt.Errorf("failed to insert API key: %w", err)
	}

	if err := s.repo.CommitTx(txCtx); err != nil {
		return nil, "", fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true

	return key, raw, nil
}

// Verify authenticates a raw bearer key. Any failure collapses to
// ErrInvalidCredential so callers cannot distinguish unknown keys from
// revoked ones. On success the key's last_used_at is updated in the
// background without blocking the request.
func (s *Service) Verify(ctx context.Context, raw string) (*Principal, error) {
	hash := HashKey(raw)

	key, err := s.repo.GetAPIKeyByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, ErrInvalidCredential
		}
		return nil, fmt.Errorf("failed to look up API key: %w", err)
	}

	if !hmac.Equal([]byte(hash), []byte(key.KeyHash)) {
		return nil, ErrInvalidCredential
	}
	if !key.IsActive {
		return nil, ErrInvalidCredential
	}

	s.touchLastUsed(key.ID)

	return &Principal{APIKeyID: key.ID, AccountID: key.AccountID}, nil
}

// List returns all API keys, hashes included; callers expose only safe
// fields.
func (s *Service) List(ctx context.Context) ([]*APIKey, error) {
	return s.repo.ListAPIKeys(ctx)
}

// Deactivate revokes a key. Revocation is soft; the row stays for audit.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) error {
	return s.repo.DeactivateAPIKey(ctx, id)
}

// touchLastUsed records key usage without holding up the request. The
// update is best-effort: a failure is logged and forgotten.
func (s *Service) touchLastUsed(id uuid.UUID) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
		defer cancel()
		if err := s.repo.TouchAPIKeyLastUsed(ctx, id, time.Now().UTC()); err != nil {
			s.logger.Warn("failed to update key last_used_at", "api_key_id", id.String(), "error", err)
		}
	}()
}

func buildKey(name string, accountID *uuid.UUID) (*APIKey, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, "", ErrEmptyKeyName
	}

	raw, err := NewRawKey()
	if err != nil {
		return nil, "", err
	}

	key := &APIKey{
		ID:        uuid.New(),
		Name:      name,
		KeyHash:   HashKey(raw),
		AccountID: accountID,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	return key, raw, nil
}

// NewRawKey generates a fresh bearer key: "sk_" followed by 32 bytes of
// entropy in URL-safe base64.
func NewRawKey() (string, error) {
	buf := make([]byte, rawKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate key material: %w", err)
	}
	return "sk_" + base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashKey returns the lowercase hex SHA-256 digest stored for a raw key.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
