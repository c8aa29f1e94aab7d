package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/prk-Jr/payments-service/pkg/money"
)

// maxDeadlockRetries bounds how often a unit of work is re-run after the
// engine aborts it to break a lock cycle.
const maxDeadlockRetries = 3

// Service orchestrates all balance mutations. Every mutation runs inside a
// single repository transaction that also enqueues the webhook events
// announcing it, so an observer never sees a balance change without its
// events or vice versa.
type Service struct {
	repo Repository
}

// NewService creates a new ledger service
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// CreateAccount opens a new account with a zero balance.
func (s *Service) CreateAccount(ctx context.Context, params CreateAccountParams) (*Account, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	account := &Account{
		ID:        uuid.New(),
		Name:      strings.TrimSpace(params.Name),
		Balance:   0,
		Currency:  params.Currency,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.repo.InsertAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to insert account: %w", err)
	}

	return account, nil
}

// GetAccount returns an account with its current balance.
func (s *Service) GetAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	return s.repo.GetAccount(ctx, id)
}

// ListAccounts returns all accounts.
func (s *Service) ListAccounts(ctx context.Context) ([]*Account, error) {
	return s.repo.ListAccounts(ctx)
}

// ListAccountTransactions returns transactions where the account appears as
// source or destination, newest first. Limit defaults to 50 and is capped at
// 500.
func (s *Service) ListAccountTransactions(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}

	if _, err := s.repo.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return s.repo.ListAccountTransactions(ctx, accountID, limit, offset)
}

// Deposit credits an account from outside the system.
//
// Steps:
// 1. If an idempotency key is supplied and a prior transaction carries it,
//    return that transaction unchanged.
// 2. Lock the destination account and check its currency.
// 3. Persist the transaction, update the balance, and enqueue one
//    deposit.success event per subscribed endpoint, all in one unit of work.
func (s *Service) Deposit(ctx context.Context, params DepositParams) (*Transaction, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	return s.execute(ctx, params.IdempotencyKey, func(txCtx context.Context) (*Transaction, error) {
		return s.applyDeposit(txCtx, params)
	})
}

// Withdraw debits an account to outside the system. Fails with
// InsufficientFundsError when the balance cannot cover the amount.
func (s *Service) Withdraw(ctx context.Context, params WithdrawParams) (*Transaction, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	return s.execute(ctx, params.IdempotencyKey, func(txCtx context.Context) (*Transaction, error) {
		return s.applyWithdraw(txCtx, params)
	})
}

// Transfer moves money between two accounts atomically. Both accounts are
// locked in lexicographic id order regardless of direction so that opposing
// transfers cannot deadlock.
func (s *Service) Transfer(ctx context.Context, params TransferParams) (*Transaction, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	return s.execute(ctx, params.IdempotencyKey, func(txCtx context.Context) (*Transaction, error) {
		return s.applyTransfer(txCtx, params)
	})
}

// execute runs one ledger operation inside a repository transaction with
// replay and retry handling:
//
//   - a stored transaction under the same idempotency key short-circuits the
//     operation and is returned unchanged, even when the current arguments
//     differ;
//   - a duplicate-key conflict raised by the insert means a concurrent
//     request with the same key committed first; its transaction is re-read
//     after rollback and returned;
//   - an engine-detected deadlock re-runs the whole unit of work, at most
//     maxDeadlockRetries times.
func (s *Service) execute(ctx context.Context, idempotencyKey *string, op func(txCtx context.Context) (*Transaction, error)) (*Transaction, error) {
	for attempt := 0; ; attempt++ {
		txn, err := s.executeOnce(ctx, idempotencyKey, op)
		switch {
		case err == nil:
			return txn, nil
		case idempotencyKey != nil && errors.Is(err, ErrDuplicateIdempotencyKey):
			prior, readErr := s.repo.GetTransactionByIdempotencyKey(ctx, *idempotencyKey)
			if readErr != nil {
				return nil, fmt.Errorf("failed to read transaction after idempotency conflict: %w", readErr)
			}
			return prior, nil
		case errors.Is(err, ErrDeadlockDetected) && attempt < maxDeadlockRetries:
			continue
		default:
			return nil, err
		}
	}
}

func (s *Service) executeOnce(ctx context.Context, idempotencyKey *string, op func(txCtx context.Context) (*Transaction, error)) (*Transaction, error) {
	txCtx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Ensure rollback on error
	committed := false
	defer func() {
		if !committed {
			_ = s.repo.RollbackTx(txCtx)
		}
	}()

	if idempotencyKey != nil {
		prior, err := s.repo.GetTransactionByIdempotencyKey(txCtx, *idempotencyKey)
		if err != nil && !errors.Is(err, ErrTransactionNotFound) {
			return nil, fmt.Errorf("failed to look up idempotency key: %w", err)
		}
		if prior != nil {
			if err := s.repo.CommitTx(txCtx); err != nil {
				return nil, fmt.Errorf("failed to commit transaction: %w", err)
			}
			committed = true
			return prior, nil
		}
	}

	txn, err := op(txCtx)
	if err != nil {
		return nil, err
	}

	if err := s.repo.CommitTx(txCtx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true

	return txn, nil
}

func (s *Service) applyDeposit(txCtx context.Context, params DepositParams) (*Transaction, error) {
	account, err := s.repo.GetAccountForUpdate(txCtx, params.AccountID)
	if err != nil {
		return nil, err
	}
	if account.Currency != params.Currency {
		return nil, fmt.Errorf("%w: account holds %s, request is %s", ErrCurrencyMismatch, account.Currency, params.Currency)
	}

	newBalance, err := money.CheckedAdd(account.Balance, params.Amount)
	if err != nil {
		return nil, ErrBalanceOverflow
	}

	txn := &Transaction{
		ID:                   uuid.New(),
		Direction:            DirectionDeposit,
		Amount:               params.Amount,
		Currency:             params.Currency,
		DestinationAccountID: &account.ID,
		IdempotencyKey:       params.IdempotencyKey,
		Reference:            params.Reference,
		CreatedAt:            time.Now().UTC(),
	}

	if err := s.record(txCtx, txn, EventDepositSuccess); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateAccountBalance(txCtx, account.ID, newBalance); err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	return txn, nil
}

func (s *Service) applyWithdraw(txCtx context.Context, params WithdrawParams) (*Transaction, error) {
	account, err := s.repo.GetAccountForUpdate(txCtx, params.AccountID)
	if err != nil {
		return nil, err
	}
	if account.Currency != params.Currency {
		return nil, fmt.Errorf("%w: account holds %s, request is %s", ErrCurrencyMismatch, account.Currency, params.Currency)
	}
	if account.Balance < params.Amount {
		return nil, &InsufficientFundsError{Available: account.Balance, Requested: params.Amount}
	}

	txn := &Transaction{
		ID:              uuid.New(),
		Direction:       DirectionWithdrawal,
		Amount:          params.Amount,
		Currency:        params.Currency,
		SourceAccountID: &account.ID,
		IdempotencyKey:  params.IdempotencyKey,
		Reference:       params.Reference,
		CreatedAt:       time.Now().UTC(),
	}

	if err := s.record(txCtx, txn, EventWithdrawSuccess); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateAccountBalance(txCtx, account.ID, account.Balance-params.Amount); err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	return txn, nil
}

func (s *Service) applyTransfer(txCtx context.Context, params TransferParams) (*Transaction, error) {
	// Lock both accounts in lexicographic id order. A→B and B→A traffic
	// then always contends on the same first lock instead of deadlocking.
	firstID, secondID := params.FromAccountID, params.ToAccountID
	if bytes.Compare(secondID[:], firstID[:]) < 0 {
		firstID, secondID = secondID, firstID
	}

	first, err := s.repo.GetAccountForUpdate(txCtx, firstID)
	if err != nil {
		return nil, err
	}
	second, err := s.repo.GetAccountForUpdate(txCtx, secondID)
	if err != nil {
		return nil, err
	}

	from, to := first, second
	if from.ID != params.FromAccountID {
		from, to = second, first
	}

	if from.Currency != params.Currency {
		return nil, fmt.Errorf("%w: source account holds %s, request is %s", ErrCurrencyMismatch, from.Currency, params.Currency)
	}
	if to.Currency != params.Currency {
		return nil, fmt.Errorf("%w: destination account holds %s, request is %s", ErrCurrencyMismatch, to.Currency, params.Currency)
	}
	if from.Balance < params.Amount {
		return nil, &InsufficientFundsError{Available: from.Balance, Requested: params.Amount}
	}

	newToBalance, err := money.CheckedAdd(to.Balance, params.Amount)
	if err != nil {
		return nil, ErrBalanceOverflow
	}

	txn := &Transaction{
		ID:                   uuid.New(),
		Direction:            DirectionTransfer,
		Amount:               params.Amount,
		Currency:             params.Currency,
		SourceAccountID:      &from.ID,
		DestinationAccountID: &to.ID,
		IdempotencyKey:       params.IdempotencyKey,
		Reference:            params.Reference,
		CreatedAt:            time.Now().UTC(),
	}

	if err := s.record(txCtx, txn, EventTransferSuccess); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateAccountBalance(txCtx, from.ID, from.Balance-params.Amount); err != nil {
		return nil, fmt.Errorf("failed to update source balance: %w", err)
	}
	if err := s.repo.UpdateAccountBalance(txCtx, to.ID, newToBalance); err != nil {
		return nil, fmt.Errorf("failed to update destination balance: %w", err)
	}

	return txn, nil
}

// record persists the transaction and enqueues its webhook events inside the
// caller's unit of work.
func (s *Service) record(txCtx context.Context, txn *Transaction, eventType string) error {
	if err := txn.Validate(); err != nil {
		return err
	}
	if err := s.repo.InsertTransaction(txCtx, txn); err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			return err
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return s.enqueueEvents(txCtx, eventType, txn)
}

// eventPayload is the body delivered to webhook endpoints. The stored bytes
// are the exact bytes later signed and sent.
type eventPayload struct {
	Event       string       `json:"event"`
	Transaction *Transaction `json:"transaction"`
	OccurredAt  time.Time    `json:"occurred_at"`
}

func (s *Service) enqueueEvents(txCtx context.Context, eventType string, txn *Transaction) error {
	endpointIDs, err := s.repo.ListActiveEndpointIDsForEvent(txCtx, eventType)
	if err != nil {
		return fmt.Errorf("failed to list subscribed endpoints: %w", err)
	}
	if len(endpointIDs) == 0 {
		return nil
	}

	payload, err := json.Marshal(eventPayload{
		Event:       eventType,
		Transaction: txn,
		OccurredAt:  txn.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	for _, endpointID := range endpointIDs {
		event := &OutboxEvent{
			ID:         uuid.New(),
			EndpointID: endpointID,
			EventType:  eventType,
			Payload:    payload,
			CreatedAt:  txn.CreatedAt,
		}
		if err := s.repo.EnqueueWebhookEvent(txCtx, event); err != nil {
			return fmt.Errorf("failed to enqueue webhook event: %w", err)
		}
	}

	return nil
}
