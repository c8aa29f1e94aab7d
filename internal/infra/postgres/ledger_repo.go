package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/prk-Jr/payments-service/internal/ledger"
	"github.com/prk-Jr/payments-service/pkg/money"
)

var _ ledger.Repository = (*Repository)(nil)

// InsertAccount stores a new account.
func (r *Repository) InsertAccount(ctx context.Context, account *ledger.Account) error {
	query := `
		INSERT INTO accounts (id, name, balance, currency, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	q := r.getQueryer(ctx)
	_, err := q.Exec(ctx, query,
		account.ID,
		account.Name,
		account.Balance,
		string(account.Currency),
		account.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}

	return nil
}

// GetAccount retrieves an account by ID.
func (r *Repository) GetAccount(ctx context.Context, id uuid.UUID) (*ledger.Account, error) {
	return r.getAccount(ctx, id, false)
}

// GetAccountForUpdate retrieves an account and holds its row lock until the
// surrounding transaction ends.
func (r *Repository) GetAccountForUpdate(ctx context.Context, id uuid.UUID) (*ledger.Account, error) {
	return r.getAccount(ctx, id, true)
}

func (r *Repository) getAccount(ctx context.Context, id uuid.UUID, forUpdate bool) (*ledger.Account, error) {
	query := `
		SELECT id, name, balance, currency, created_at
		FROM accounts
		WHERE id = $1
	`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var account ledger.Account
	q := r.getQueryer(ctx)
	err := q.QueryRow(ctx, query, id).Scan(
		&account.ID,
		&account.Name,
		&account.Balance,
		&account.Currency,
		&account.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", mapConcurrencyError(err))
	}

	return &account, nil
}

// UpdateAccountBalance sets an account's balance to newBalance.
func (r *Repository) UpdateAccountBalance(ctx context.Context, id uuid.UUID, newBalance int64) error {
	query := `UPDATE accounts SET balance = $2 WHERE id = $1`

	q := r.getQueryer(ctx)
	tag, err := q.Exec(ctx, query, id, newBalance)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", mapConcurrencyError(err))
	}
	if tag.RowsAffected() == 0 {
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
	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*ledger.Account
	for rows.Next() {
		var account ledger.Account
		err := rows.Scan(
			&account.ID,
			&account.Name,
			&account.Balance,
			&account.Currency,
			&account.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, &account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	return accounts, nil
}

// InsertTransaction stores a transaction row. A duplicate idempotency key
// surfaces as ledger.ErrDuplicateIdempotencyKey.
func (r *Repository) InsertTransaction(ctx context.Context, txn *ledger.Transaction) error {
	query := `
		INSERT INTO transactions (id, direction, amount, currency, source_account_id, destination_account_id, idempotency_key, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	q := r.getQueryer(ctx)
	_, err := q.Exec(ctx, query,
		txn.ID,
		string(txn.Direction),
		txn.Amount,
		string(txn.Currency),
		txn.SourceAccountID,
		txn.DestinationAccountID,
		txn.IdempotencyKey,
		txn.Reference,
		txn.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
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
		WHERE idempotency_key = $1
	`

	q := r.getQueryer(ctx)
	txn, err := scanTransaction(q.QueryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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
		WHERE source_account_id = $1 OR destination_account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	q := r.getQueryer(ctx)
	rows, err := q.Query(ctx, query, accountID, limit, offset)
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

// scanTransaction scans a single transaction row.
func scanTransaction(row pgx.Row) (*ledger.Transaction, error) {
	var (
		txn            ledger.Transaction
		direction      string
		currency       string
		sourceID       sql.NullString
		destinationID  sql.NullString
		idempotencyKey sql.NullString
		reference      sql.NullString
	)

	err := row.Scan(
		&txn.ID,
		&direction,
		&txn.Amount,
		&currency,
		&sourceID,
		&destinationID,
		&idempotencyKey,
		&reference,
		&txn.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	txn.Direction = ledger.Direction(direction)
	txn.Currency = money.Currency(currency)

	if sourceID.Valid {
		id, err := uuid.Parse(sourceID.String)
		if err != nil {
			return nil, fmt.Errorf("invalid source account ID: %w", err)
		}
		txn.SourceAccountID = &id
	}
	if destinationID.Valid {
		id, err := uuid.Parse(destinationID.String)
		if err != nil {
			return nil, fmt.Errorf("invalid destination account ID: %w", err)
		}
		txn.DestinationAccountID = &id
	}
	if idempotencyKey.Valid {
		txn.IdempotencyKey = &idempotencyKey.String
	}
	if reference.Valid {
		txn.Reference = &reference.String
	}

	return &txn, nil
}
