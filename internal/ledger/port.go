package ledger

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the interface for ledger persistence operations.
//
// Operations between BeginTx and CommitTx/RollbackTx run inside one database
// transaction; the returned context carries the transaction handle. Row
// locks taken by GetAccountForUpdate (or the engine's equivalent write
// serialization) are held until the transaction ends.
type Repository interface {
	// Transaction management
	BeginTx(ctx context.Context) (context.Context, error)
	CommitTx(ctx context.Context) error
	RollbackTx(ctx context.Context) error

	// Account operations
	InsertAccount(ctx context.Context, account *Account) error
	GetAccount(ctx context.Context, id uuid.UUID) (*Account, error)
	// GetAccountForUpdate locks the account row for the remainder of the
	// enclosing transaction. Returns ErrAccountNotFound if absent and
	// ErrDeadlockDetected if the engine aborts the transaction to break a
	// lock cycle.
	GetAccountForUpdate(ctx context.Context, id uuid.UUID) (*Account, error)
	UpdateAccountBalance(ctx context.Context, id uuid.UUID, newBalance int64) error
	ListAccounts(ctx context.Context) ([]*Account, error)

	// Transaction records. InsertTransaction fails with
	// ErrDuplicateIdempotencyKey when the idempotency key is already taken.
	InsertTransaction(ctx context.Context, txn *Transaction) error
	GetTransactionByIdempotencyKey(ctx context.Context, key string) (*Transaction, error)
	ListAccountTransactions(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*Transaction, error)

	// Outbox operations, executed inside the same transaction as the balance
	// mutation they announce.
	ListActiveEndpointIDsForEvent(ctx context.Context, eventType string) ([]uuid.UUID, error)
	EnqueueWebhookEvent(ctx context.Context, event *OutboxEvent) error
}
