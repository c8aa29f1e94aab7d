package ledger

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/prk-Jr/payments-service/pkg/money"
)

// Direction classifies how money moves in a transaction.
type Direction string

const (
	DirectionDeposit    Direction = "DEPOSIT"
	DirectionWithdrawal Direction = "WITHDRAWAL"
	DirectionTransfer   Direction = "TRANSFER"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	switch d {
	case DirectionDeposit, DirectionWithdrawal, DirectionTransfer:
		return true
	}
	return false
}

// Event types emitted on successful ledger operations. Webhook endpoints
// subscribe to these strings.
const (
	EventDepositSuccess  = "deposit.success"
	EventWithdrawSuccess = "withdraw.success"
	EventTransferSuccess = "transfer.success"
)

// Account holds a balance in a single currency. Balances are minor units
// (cents, pence, paise) and never go negative.
type Account struct {
	ID        uuid.UUID      `json:"id"`
	Name      string         `json:"name"`
	Balance   int64          `json:"balance"`
	Currency  money.Currency `json:"currency"`
	CreatedAt time.Time      `json:"created_at"`
}

// Transaction is a recorded balance movement. Immutable once written.
type Transaction struct {
	ID                   uuid.UUID      `json:"id"`
	Direction            Direction      `json:"direction"`
	Amount               int64          `json:"amount"`
	Currency             money.Currency `json:"currency"`
	SourceAccountID      *uuid.UUID     `json:"source_account_id,omitempty"`
	DestinationAccountID *uuid.UUID     `json:"destination_account_id,omitempty"`
	IdempotencyKey       *string        `json:"idempotency_key,omitempty"`
	Reference            *string        `json:"reference,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
}

// Validate checks the structural invariants of a transaction: positive
// amount, known currency, and the source/destination shape required by its
// direction.
func (t *Transaction) Validate() error {
	if t.Amount <= 0 {
		return ErrInvalidAmount
	}
	if !t.Currency.Valid() {
		return money.ErrUnknownCurrency
	}
	switch t.Direction {
	case DirectionDeposit:
		if t.DestinationAccountID == nil || t.SourceAccountID != nil {
			return ErrMalformedTransaction
		}
	case DirectionWithdrawal:
		if t.SourceAccountID == nil || t.DestinationAccountID != nil {
			return ErrMalformedTransaction
		}
	case DirectionTransfer:
		if t.SourceAccountID == nil || t.DestinationAccountID == nil {
			return ErrMalformedTransaction
		}
		if *t.SourceAccountID == *t.DestinationAccountID {
			return ErrSelfTransfer
		}
	default:
		return ErrMalformedTransaction
	}
	return nil
}

// OutboxEvent is a webhook delivery job enqueued in the same database
// transaction as the balance mutation it announces.
type OutboxEvent struct {
	ID         uuid.UUID
	EndpointID uuid.UUID
	EventType  string
	Payload    []byte
	CreatedAt  time.Time
}

// CreateAccountParams are the inputs for opening an account.
type CreateAccountParams struct {
	Name     string
	Currency money.Currency
}

// Validate checks account creation inputs.
func (p CreateAccountParams) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrEmptyAccountName
	}
	if !p.Currency.Valid() {
		return money.ErrUnknownCurrency
	}
	return nil
}

// DepositParams are the inputs for crediting an account from outside the
// system.
type DepositParams struct {
	AccountID      uuid.UUID
	Amount         int64
	Currency       money.Currency
	IdempotencyKey *string
	Reference      *string
}

// Validate checks deposit inputs.
func (p DepositParams) Validate() error {
	if p.Amount <= 0 {
		return ErrInvalidAmount
	}
	if !p.Currency.Valid() {
		return money.ErrUnknownCurrency
	}
	return nil
}

// WithdrawParams are the inputs for debiting an account to outside the
// system.
type WithdrawParams struct {
	AccountID      uuid.UUID
	Amount         int64
	Currency       money.Currency
	IdempotencyKey *string
	Reference      *string
}

// Validate checks withdrawal inputs.
func (p WithdrawParams) Validate() error {
	if p.Amount <= 0 {
		return ErrInvalidAmount
	}
	if !p.Currency.Valid() {
		return money.ErrUnknownCurrency
	}
	return nil
}

// TransferParams are the inputs for moving money between two accounts.
type TransferParams struct {
	FromAccountID  uuid.UUID
	ToAccountID    uuid.UUID
	Amount         int64
	Currency       money.Currency
	IdempotencyKey *string
	Reference      *string
}

// Validate checks transfer inputs.
func (p TransferParams) Validate() error {
	if p.FromAccountID == p.ToAccountID {
		return ErrSelfTransfer
	}
	if p.Amount <= 0 {
		return ErrInvalidAmount
	}
	if !p.Currency.Valid() {
		return money.ErrUnknownCurrency
	}
	return nil
}
