package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/prk-Jr/payments-service/internal/ledger"
	"github.com/prk-Jr/payments-service/internal/transport/httpapi/middleware"
	"github.com/prk-Jr/payments-service/pkg/logger"
	"github.com/prk-Jr/payments-service/pkg/money"
)

// TransactionServiceInterface defines the interface for money movements.
type TransactionServiceInterface interface {
	Deposit(ctx context.Context, params ledger.DepositParams) (*ledger.Transaction, error)
	Withdraw(ctx context.Context, params ledger.WithdrawParams) (*ledger.Transaction, error)
	Transfer(ctx context.Context, params ledger.TransferParams) (*ledger.Transaction, error)
}

// TransactionHandler handles transaction-related HTTP requests.
type TransactionHandler struct {
	ledgerService TransactionServiceInterface
	log           *logger.Logger
}

// NewTransactionHandler creates a new transaction handler.
func NewTransactionHandler(ledgerService TransactionServiceInterface, log *logger.Logger) *TransactionHandler {
	return &TransactionHandler{
		ledgerService: ledgerService,
		log:           log,
	}
}

// DepositRequest represents a deposit request.
type DepositRequest struct {
	AccountID      string  `json:"account_id"`
	Amount         int64   `json:"amount"`
	Currency       string  `json:"currency"`
	IdempotencyKey *string `json:"idempotency_key,omitempty"`
	Reference      *string `json:"reference,omitempty"`
}

// WithdrawRequest represents a withdrawal request.
type WithdrawRequest struct {
	AccountID      string  `json:"account_id"`
	Amount         int64   `json:"amount"`
	Currency       string  `json:"currency"`
	IdempotencyKey *string `json:"idempotency_key,omitempty"`
	Reference      *string `json:"reference,omitempty"`
}

// TransferRequest represents a transfer request.
type TransferRequest struct {
	FromAccountID  string  `json:"from_account_id"`
	ToAccountID    string  `json:"to_account_id"`
	Amount         int64   `json:"amount"`
	Currency       string  `json:"currency"`
	IdempotencyKey *string `json:"idempotency_key,omitempty"`
	Reference      *string `json:"reference,omitempty"`
}

// TransactionResponse represents a transaction response.
type TransactionResponse struct {
	ID                   string  `json:"id"`
	Direction            string  `json:"direction"`
	Amount               int64   `json:"amount"`
	Currency             string  `json:"currency"`
	SourceAccountID      *string `json:"source_account_id,omitempty"`
	DestinationAccountID *string `json:"destination_account_id,omitempty"`
	IdempotencyKey       *string `json:"idempotency_key,omitempty"`
	Reference            *string `json:"reference,omitempty"`
	CreatedAt            string  `json:"created_at"`
}

// Deposit handles POST /api/transactions/deposit.
func (h *TransactionHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid account ID")
		return
	}
	currency, err := money.ParseCurrency(req.Currency)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.authorized(w, r, accountID) {
		return
	}

	txn, err := h.ledgerService.Deposit(r.Context(), ledger.DepositParams{
		AccountID:      accountID,
		Amount:         req.Amount,
		Currency:       currency,
		IdempotencyKey: req.IdempotencyKey,
		Reference:      req.Reference,
	})
	if err != nil {
		respondDomainError(w, r, h.log, err, "failed to process deposit")
		return
	}

	respondWithJSON(w, http.StatusOK, toTransactionResponse(txn))
}

// Withdraw handles POST /api/transactions/withdraw.
func (h *TransactionHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid account ID")
		return
	}
	currency, err := money.ParseCurrency(req.Currency)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.authorized(w, r, accountID) {
		return
	}

	txn, err := h.ledgerService.Withdraw(r.Context(), ledger.WithdrawParams{
		AccountID:      accountID,
		Amount:         req.Amount,
		Currency:       currency,
		IdempotencyKey: req.IdempotencyKey,
		Reference:      req.Reference,
	})
	if err != nil {
		respondDomainError(w, r, h.log, err, "failed to process withdrawal")
		return
	}

	respondWithJSON(w, http.StatusOK, toTransactionResponse(txn))
}

// Transfer handles POST /api/transactions/transfer. Scoped keys must own
// the source account; the destination only has to exist.
func (h *TransactionHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	fromID, err := uuid.Parse(req.FromAccountID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid source account ID")
		return
	}
	toID, err := uuid.Parse(req.ToAccountID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid destination account ID")
		return
	}
	currency, err := money.ParseCurrency(req.Currency)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.authorized(w, r, fromID) {
		return
	}

	txn, err := h.ledgerService.Transfer(r.Context(), ledger.TransferParams{
		FromAccountID:  fromID,
		ToAccountID:    toID,
		Amount:         req.Amount,
		Currency:       currency,
		IdempotencyKey: req.IdempotencyKey,
		Reference:      req.Reference,
	})
	if err != nil {
		respondDomainError(w, r, h.log, err, "failed to process transfer")
		return
	}

	respondWithJSON(w, http.StatusOK, toTransactionResponse(txn))
}

// authorized checks account scoping and writes the error response itself
// when the principal may not act on accountID.
func (h *TransactionHandler) authorized(w http.ResponseWriter, r *http.Request, accountID uuid.UUID) bool {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return false
	}
	if !principal.CanAccess(accountID) {
		respondWithError(w, http.StatusForbidden, "API key is not authorized for this account")
		return false
	}
	return true
}

func toTransactionResponse(txn *ledger.Transaction) TransactionResponse {
	resp := TransactionResponse{
		ID:             txn.ID.String(),
		Direction:      string(txn.Direction),
		Amount:         txn.Amount,
		Currency:       string(txn.Currency),
		IdempotencyKey: txn.IdempotencyKey,
		Reference:      txn.Reference,
		CreatedAt:      txn.CreatedAt.UTC().Format(time.RFC3339),
	}

	if txn.SourceAccountID != nil {
		id := txn.SourceAccountID.String()
		resp.SourceAccountID = &id
	}
	if txn.DestinationAccountID != nil {
		id := txn.DestinationAccountID.String()
		resp.DestinationAccountID = &id
	}

	return resp
}
