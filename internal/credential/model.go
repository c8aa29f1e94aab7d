package credential

import (
	"time"

	"github.com/google/uuid"
)

// APIKey is a stored credential. Only the SHA-256 hash of the raw key is
// persisted; the raw key is returned once at issue time and cannot be
// recovered.
type APIKey struct {
	ID         uuid.UUID
	Name       string
	KeyHash    string
	AccountID  *uuid.UUID
	IsActive   bool
	CreatedAt  time.Time
	LastUsedAt *time.Time
}

// Principal is the authenticated identity behind a request. A nil AccountID
// means the key is unscoped and may act on any account.
type Principal struct {
	APIKeyID  uuid.UUID
	AccountID *uuid.UUID
}

// CanAccess reports whether the principal may act on the given account.
func (p *Principal) CanAccess(accountID uuid.UUID) bool {
	return p.AccountID == nil || *p.AccountID == accountID
}
