package credential

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for credential persistence operations.
type Repository interface {
	// Transaction management, used to make bootstrap race-safe.
	BeginTx(ctx context.Context) (context.Context, error)
	CommitTx(ctx context.Context) error
	RollbackTx(ctx context.Context) error

	InsertAPIKey(ctx context.Context, key *APIKey) error
	// GetAPIKeyByHash returns the key regardless of its active state;
	// callers decide whether inactive keys are acceptable. Returns
	// ErrKeyNotFound if no key carries the hash.
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*APIKey, error)
	// CountActiveAPIKeys counts active keys. Inside a transaction the
	// count must be stable against concurrent inserts until commit.
	CountActiveAPIKeys(ctx context.Context) (int, error)
	TouchAPIKeyLastUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) error
	ListAPIKeys(ctx context.Context) ([]*APIKey, error)
	// DeactivateAPIKey soft-deletes a key. Returns ErrKeyNotFound when the
	// key does not exist or is already inactive.
	DeactivateAPIKey(ctx context.Context, id uuid.UUID) error
}
