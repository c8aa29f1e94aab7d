package ledger

import (
	"errors"
	"fmt"
)

// Validation errors
var (
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrEmptyAccountName     = errors.New("account name cannot be empty")
	ErrCurrencyMismatch     = errors.New("currency does not match account")
	ErrSelfTransfer         = errors.New("cannot transfer to the same account")
	ErrMalformedTransaction = errors.New("transaction shape does not match its direction")
	ErrBalanceOverflow      = errors.New("balance would overflow")
)

// Lookup errors
var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrTransactionNotFound = errors.New("transaction not found")
)

// Repository errors surfaced through the port. The service reacts to both:
// a duplicate idempotency key is resolved by re-reading the stored
// transaction, a deadlock by retrying the whole unit of work.
var (
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
	ErrDeadlockDetected        = errors.New("deadlock detected")
)

// InsufficientFundsError reports a withdrawal or transfer that would drive
// the source balance negative.
type InsufficientFundsError struct {
	Available int64
	Requested int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: available %d, requested %d", e.Available, e.Requested)
}
