// Package sqlite implements the persistence ports on SQLite via
// modernc.org/sqlite, for single-node deployments that do not want to run
// PostgreSQL. SQLite has no row locks, so the adapter serializes write
// transactions behind a mutex; with WAL enabled, reads proceed concurrently.
//
// UUIDs and timestamps are stored as TEXT. Timestamps use a fixed-width
// RFC 3339 UTC encoding so that string comparison matches time order.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	sqlitedriver "modernc.org/sqlite"

	"github.com/prk-Jr/payments-service/internal/ledger"
	"github.com/prk-Jr/payments-service/migrations"
)

// timeLayout is RFC 3339 with fixed-width nanoseconds. Unlike
// time.RFC3339Nano it never trims trailing zeros, so the stored strings sort
// and compare the same way the times do.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLite primary result codes mapped to domain sentinels.
const (
	codeBusy       = 5  // SQLITE_BUSY
	codeLocked     = 6  // SQLITE_LOCKED
	codeConstraint = 19 // SQLITE_CONSTRAINT
)

// DB wraps a database/sql handle on a SQLite file.
type DB struct {
	*sql.DB
}

// Open opens (creating if needed) the SQLite database at path and applies
// the pragmas the adapter depends on.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	return &DB{DB: db}, nil
}

// Close closes the database handle.
func (db *DB) Close() error {
	return db.DB.Close()
}

// Health checks the database connection.
func (db *DB) Health(ctx context.Context) error {
	return db.PingContext(ctx)
}

// Migrate applies all pending schema migrations.
func Migrate(db *DB) error {
	driver, err := sqlitemigrate.WithInstance(db.DB, &sqlitemigrate.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrations.SQLite, "sqlite")
	if err != nil {
		return fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "payments", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}

// Repository implements the ledger, credential, and webhook persistence
// ports against SQLite. All writes, transactional or not, go through writeMu
// so the engine never sees two competing writers.
type Repository struct {
	db      *sql.DB
	writeMu sync.Mutex
}

// NewRepository creates a repository on top of an open database.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db.DB}
}

// txState carries an open transaction through context. finished flips when
// the transaction commits or rolls back so the write lock releases exactly
// once.
type txState struct {
	tx       *sql.Tx
	finished bool
}

// ctxKey scopes the transaction stored in context to this package.
type ctxKey string

const txContextKey ctxKey = "sqlite_tx"

// BeginTx starts a write transaction and stores it in the returned context.
// The repository's write lock is held until CommitTx or RollbackTx.
func (r *Repository) BeginTx(ctx context.Context) (context.Context, error) {
	if state := r.getTxFromContext(ctx); state != nil {
		return ctx, fmt.Errorf("transaction already in progress")
	}

	r.writeMu.Lock()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		r.writeMu.Unlock()
		return ctx, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return context.WithValue(ctx, txContextKey, &txState{tx: tx}), nil
}

// CommitTx commits the transaction stored in ctx and releases the write
// lock.
func (r *Repository) CommitTx(ctx context.Context) error {
	state := r.getTxFromContext(ctx)
	if state == nil {
		return fmt.Errorf("no transaction in context")
	}

	err := state.tx.Commit()
	r.finish(state)
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapConcurrencyError(err))
	}

	return nil
}

// RollbackTx rolls back the transaction stored in ctx. Rolling back an
// already finished transaction is a no-op.
func (r *Repository) RollbackTx(ctx context.Context) error {
	state := r.getTxFromContext(ctx)
	if state == nil {
		return fmt.Errorf("no transaction in context")
	}

	err := state.tx.Rollback()
	r.finish(state)
	if err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			return nil
		}
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}

	return nil
}

func (r *Repository) finish(state *txState) {
	if !state.finished {
		state.finished = true
		r.writeMu.Unlock()
	}
}

func (r *Repository) getTxFromContext(ctx context.Context) *txState {
	if state, ok := ctx.Value(txContextKey).(*txState); ok {
		return state
	}
	return nil
}

// getQueryer returns the transaction if one exists in context, otherwise the
// database handle.
func (r *Repository) getQueryer(ctx context.Context) interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
} {
	if state := r.getTxFromContext(ctx); state != nil {
		return state.tx
	}
	return r.db
}

// lockForWrite takes the write lock for a standalone write. Inside a
// transaction the lock is already held, so it returns a no-op release.
func (r *Repository) lockForWrite(ctx context.Context) func() {
	if r.getTxFromContext(ctx) != nil {
		return func() {}
	}
	r.writeMu.Lock()
	return r.writeMu.Unlock
}

// isUniqueViolation reports whether err is a unique constraint violation on
// the given column (qualified as "table.column").
func isUniqueViolation(err error, column string) bool {
	var sqlErr *sqlitedriver.Error
	if !errors.As(err, &sqlErr) {
		return false
	}
	if sqlErr.Code()&0xff != codeConstraint {
		return false
	}
	return strings.Contains(sqlErr.Error(), column)
}

// mapConcurrencyError converts busy/locked errors into the sentinel the
// ledger retries on. With the write mutex these should not occur between our
// own writers, but external processes can still hold the file lock.
func mapConcurrencyError(err error) error {
	var sqlErr *sqlitedriver.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code() & 0xff {
		case codeBusy, codeLocked:
			return ledger.ErrDeadlockDetected
		}
	}
	return err
}

// formatTime encodes a timestamp for storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime decodes a stored timestamp.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored timestamp %q: %w", s, err)
	}
	return t, nil
}

// nullTime encodes an optional timestamp.
func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// parseNullTime decodes an optional stored timestamp.
func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// nullUUID encodes an optional UUID.
func nullUUID(id *uuid.UUID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: id.String(), Valid: true}
}

// parseNullUUID decodes an optional stored UUID.
func parseNullUUID(s sql.NullString) (*uuid.UUID, error) {
	if !s.Valid {
		return nil, nil
	}
	id, err := uuid.Parse(s.String)
	if err != nil {
		return nil, fmt.Errorf("invalid stored uuid %q: %w", s.String, err)
	}
	return &id, nil
}

// nullString encodes an optional string.
func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// fromNullString decodes an optional stored string.
func fromNullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
