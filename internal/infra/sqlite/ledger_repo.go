package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/prk-Jr/payments-service/internal/ledger"
	"github.com/prk-Jr/payments-service/pkg/money"
)

var _ ledger.Repository = (*Repository)(nil)

// InsertAccount stores a new account.
func (r *Repository) InsertAccount(ctx context.Context, account *ledger.Account) error {
	defer r.lockForWrite(ctx)()

	query := `
		INSERT INTO accounts (id, name, balance, currency, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	q := r.getQueryer(ctx)
	_, err := q.ExecContext(ctx, query,
		account.ID.String(),
		account.Name,
		account.Balance,
		string(account.Currency),
		formatTime(account.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}

	return nil
}

// GetAccount retrieves an account by ID.
func (r *Repository) GetAccount(ctx context.Context, id uuid.UUID) (*ledger.Account, error) {
	return r.getAccount(ctx, id)
}

// GetAccountForUpdate retrieves an account inside a write transaction. The
// repository's write lock already excludes every other writer, so no
// SQL-level row lock is needed.
func (r *Repository) GetAccountForUpdate(ctx context.Context, id uuid.UUID) (*ledger.Account, error) {
	return r.getAccount(ctx, id)
}

func (r *Repository) getAccount(ctx context.Context, id uuid.UUID) (*ledger.Account, error) {
	query := `
		SELECT id, name, balance, currency, created_at
		FROM accounts
		WHERE id = ?
	`

	q := r.getQueryer(ctx)
	account, err := scanAccount(q.QueryRowContext(ctx, query, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", mapConcurrencyError(err))
	}

	return account, nil
}

// UpdateAccountBalance sets an account's balance to newBalance.
func (r *Repository) UpdateAccountBalance(ctx context.Context, id uuid.UUID, newBalance int64) error {
	defer r.lockForWrite(ctx)()

	query := `UPDATE accounts SET balance = ? WHERE id = ?`

	q := r.getQueryer(ctx)
	result, err := q.ExecContext(ctx, query, newBalance, id.String())
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", mapConcurrencyError(err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ledger.ErrAccountNotFound
	}

	return nil
}

// ListAccounts returns all accounts, oldest first.
func (r *Repository) ListAccounts(ctx context.Context) ([]*ledger.Account, error) {
	query := `
		SELECT id, name, balance, currency, created_at
		FROM accounts
		ORDER BY created_at ASC
	`

	q := r.getQueryer(ctx)
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*ledger.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	return accounts, nil
}

// InsertTransaction stores a transaction row. A duplicate idempotency key
// surfaces as ledger.ErrDuplicateIdempotencyKey.
func (r *Repository) InsertTransaction(ctx context.Context, txn *ledger.Transaction) error {
	defer r.lockForWrite(ctx)()

	query := `
		INSERT INTO transactions (id, direction, amount, currency, source_account_id, destination_account_id, idempotency_key, reference, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	q := r.getQueryer(ctx)
	_, err := q.ExecContext(ctx, query,
		txn.ID.String(),
		string(txn.Direction),
		txn.Amount,
		string(txn.Currency),
		nullUUID(txn.SourceAccountID),
		nullUUID(txn.DestinationAccountID),
		nullString(txn.IdempotencyKey),
		nullString(txn.Reference),
		formatTime(txn.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err, "transactions.idempotency_key") {
			return ledger.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to insert transaction: %w", mapConcurrencyError(err))
	}

	return nil
}

// GetTransactionByIdempotencyKey returns the transaction stored under key.
func (r *Repository) GetTransactionByIdempotencyKey(ctx context.Context, key string) (*ledger.Transaction, error) {
	query := `
		SELECT id, direction, amount, currency, source_account_id, destination_account_id, idempotency_key, reference, created_at
		FROM transactions
		WHERE idempotency_key = ?
	`

	q := r.getQueryer(ctx)
	txn, err := scanTransaction(q.QueryRowContext(ctx, query, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction by idempotency key: %w", err)
	}

	return txn, nil
}

// ListAccountTransactions returns transactions where the account appears as
// source or destination, newest first.
func (r *Repository) ListAccountTransactions(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*ledger.Transaction, error) {
	query := `
		SELECT id, direction, amount, currency, source_account_id, destination_account_id, idempotency_key, reference, created_at
		FROM transactions
		WHERE source_account_id = ? OR destination_account_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`

	q := r.getQueryer(ctx)
	rows, err := q.QueryContext(ctx, query, accountID.String(), accountID.String(), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*ledger.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return transactions, nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (*ledger.Account, error) {
	var (
		account   ledger.Account
		id        string
		currency  string
		createdAt string
	)
	err := row.Scan(&id, &account.Name, &account.Balance, &currency, &createdAt)
	if err != nil {
		return nil, err
	}

	account.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid stored account id: %w", err)
	}
	account.Currency = money.Currency(currency)
	account.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}

	return &account, nil
}

func scanTransaction(row scanner) (*ledger.Transaction, error) {
	var (
		txn            ledger.Transaction
		id             string
		direction      string
		currency       string
		sourceID       sql.NullString
		destinationID  sql.NullString
		idempotencyKey sql.NullString
		reference      sql.NullString
		createdAt      string
	)

	err := row.Scan(
		&id,
		&direction,
		&txn.Amount,
		&currency,
		&sourceID,
		&destinationID,
		&idempotencyKey,
		&reference,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	txn.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid stored transaction id: %w", err)
	}
	txn.Direction = ledger.Direction(direction)
	txn.Currency = money.Currency(currency)
	if txn.SourceAccountID, err = parseNullUUID(sourceID); err != nil {
		return nil, err
	}
	if txn.DestinationAccountID, err = parseNullUUID(destinationID); err != nil {
		return nil, err
	}
	txn.IdempotencyKey = fromNullString(idempotencyKey)
	txn.Reference = fromNullString(reference)
	if txn.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}

	return &txn, nil
}

// ListActiveEndpointIDsForEvent returns the ids of active endpoints
// subscribed to eventType, using json_each over the stored events array.
func (r *Repository) ListActiveEndpointIDsForEvent(ctx context.Context, eventType string) ([]uuid.UUID, error) {
	query := `
		SELECT id
		FROM webhook_endpoints
		WHERE is_active = 1
		  AND EXISTS (SELECT 1 FROM json_each(webhook_endpoints.events) WHERE json_each.value = ?)
		ORDER BY created_at ASC
	`

	q := r.getQueryer(ctx)
	rows, err := q.QueryContext(ctx, query, eventType)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscribed endpoints: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan endpoint id: %w", err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid stored endpoint id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating endpoint ids: %w", err)
	}

	return ids, nil
}

// EnqueueWebhookEvent inserts a PENDING outbox row inside the ledger
// transaction.
func (r *Repository) EnqueueWebhookEvent(ctx context.Context, event *ledger.OutboxEvent) error {
	defer r.lockForWrite(ctx)()

	query := `
		INSERT INTO webhook_events (id, endpoint_id, event_type, payload, status, attempts, created_at)
		VALUES (?, ?, ?, ?, 'PENDING', 0, ?)
	`

	q := r.getQueryer(ctx)
	_, err := q.ExecContext(ctx, query,
		event.ID.String(),
		event.EndpointID.String(),
		event.EventType,
		string(event.Payload),
		formatTime(event.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue webhook event: %w", err)
	}

	return nil
}
