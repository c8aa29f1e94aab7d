// Package postgres implements the persistence ports on PostgreSQL via pgx.
// One Repository serves the ledger, credential, and webhook ports so a single
// database transaction can span balance updates and outbox writes.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prk-Jr/payments-service/internal/ledger"
)

// SQLSTATE codes this adapter maps to domain sentinels.
const (
	codeUniqueViolation      = "23505"
	codeDeadlockDetected     = "40P01"
	codeSerializationFailure = "40001"
)

// Repository implements the ledger, credential, and webhook persistence
// ports against PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a repository on top of a connection pool.
func NewRepository(db *DB) *Repository {
	return &Repository{pool: db.Pool}
}

// ctxKey scopes the transaction stored in context to this package.
type ctxKey string

const txContextKey ctxKey = "pg_tx"

// BeginTx starts a database transaction and stores it in the returned
// context. Repository methods called with that context run inside it.
func (r *Repository) BeginTx(ctx context.Context) (context.Context, error) {
	if tx := r.getTxFromContext(ctx); tx != nil {
		return ctx, fmt.Errorf("transaction already in progress")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return ctx, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return context.WithValue(ctx, txContextKey, tx), nil
}

// CommitTx commits the transaction stored in ctx.
func (r *Repository) CommitTx(ctx context.Context) error {
	tx := r.getTxFromContext(ctx)
	if tx == nil {
		return fmt.Errorf("no transaction in context")
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapConcurrencyError(err))
	}

	return nil
}

// RollbackTx rolls back the transaction stored in ctx. Rolling back an
// already finished transaction is a no-op.
func (r *Repository) RollbackTx(ctx context.Context) error {
	tx := r.getTxFromContext(ctx)
	if tx == nil {
		return fmt.Errorf("no transaction in context")
	}

	if err := tx.Rollback(ctx); err != nil {
		if errors.Is(err, pgx.ErrTxClosed) {
			return nil
		}
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}

	return nil
}

func (r *Repository) getTxFromContext(ctx context.Context) pgx.Tx {
	if tx, ok := ctx.Value(txContextKey).(pgx.Tx); ok {
		return tx
	}
	return nil
}

// getQueryer returns the transaction if one exists in context, otherwise the
// pool. This lets every method work both inside and outside transactions.
func (r *Repository) getQueryer(ctx context.Context) interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
} {
	if tx := r.getTxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

// isUniqueViolation reports whether err is a unique constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

// mapConcurrencyError converts deadlocks and serialization failures into the
// sentinel the ledger retries on. Other errors pass through unchanged.
func mapConcurrencyError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) &&
		(pgErr.Code == codeDeadlockDetected || pgErr.Code == codeSerializationFailure) {
		return ledger.ErrDeadlockDetected
	}
	return err
}
