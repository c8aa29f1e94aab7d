package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/prk-Jr/payments-service/internal/ledger"
	"github.com/prk-Jr/payments-service/internal/transport/httpapi/middleware"
	"github.com/prk-Jr/payments-service/pkg/logger"
	"github.com/prk-Jr/payments-service/pkg/money"
)

// Transaction listing page bounds.
const (
	defaultTransactionLimit = 50
	maxTransactionLimit     = 500
)

var (
	errInvalidLimit  = errors.New("limit must be a positive integer")
	errInvalidOffset = errors.New("offset must be a non-negative integer")
)

// AccountServiceInterface defines the interface for account operations.
type AccountServiceInterface interface {
	CreateAccount(ctx context.Context, params ledger.CreateAccountParams) (*ledger.Account, error)
	GetAccount(ctx context.Context, id uuid.UUID) (*ledger.Account, error)
	ListAccounts(ctx context.Context) ([]*ledger.Account, error)
	ListAccountTransactions(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*ledger.Transaction, error)
}

// AccountHandler handles account-related HTTP requests.
type AccountHandler struct {
	ledgerService AccountServiceInterface
	log           *logger.Logger
}

// NewAccountHandler creates a new account handler.
func NewAccountHandler(ledgerService AccountServiceInterface, log *logger.Logger) *AccountHandler {
	return &AccountHandler{
		ledgerService: ledgerService,
		log:           log,
	}
}

// CreateAccountRequest represents the account creation request.
type CreateAccountRequest struct {
	Name     string `json:"name"`
	Currency string `json:"currency"`
}

// AccountResponse represents an account response.
type AccountResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Balance   int64  `json:"balance"`
	Currency  string `json:"currency"`
	CreatedAt string `json:"created_at"`
}

// AccountsListResponse represents the response for listing accounts.
type AccountsListResponse struct {
	Accounts []AccountResponse `json:"accounts"`
}

// TransactionsListResponse represents a page of transactions.
type TransactionsListResponse struct {
	Transactions []TransactionResponse `json:"transactions"`
	Limit        int                   `json:"limit"`
	Offset       int                   `json:"offset"`
}

// CreateAccount handles POST /api/accounts.
func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	currency, err := money.ParseCurrency(req.Currency)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	account, err := h.ledgerService.CreateAccount(r.Context(), ledger.CreateAccountParams{
		Name:     req.Name,
		Currency: currency,
	})
	if err != nil {
		respondDomainError(w, r, h.log, err, "failed to create account")
		return
	}

	respondWithJSON(w, http.StatusCreated, toAccountResponse(account))
}

// GetAccount handles GET /api/accounts/{id}.
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid account ID")
		return
	}

	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !principal.CanAccess(accountID) {
		respondWithError(w, http.StatusForbidden, "API key is not authorized for this account")
		return
	}

	account, err := h.ledgerService.GetAccount(r.Context(), accountID)
	if err != nil {
		respondDomainError(w, r, h.log, err, "failed to fetch account")
		return
	}

	respondWithJSON(w, http.StatusOK, toAccountResponse(account))
}

// ListAccounts handles GET /api/accounts. Scoped keys see only their own
// account.
func (h *AccountHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var (
		accounts []*ledger.Account
		err      error
	)
	if principal.AccountID != nil {
		var account *ledger.Account
		account, err = h.ledgerService.GetAccount(r.Context(), *principal.AccountID)
		if account != nil {
			accounts = []*ledger.Account{account}
		}
	} else {
		accounts, err = h.ledgerService.ListAccounts(r.Context())
	}
	if err != nil {
		respondDomainError(w, r, h.log, err, "failed to fetch accounts")
		return
	}

	responses := make([]AccountResponse, 0, len(accounts))
	for _, account := range accounts {
		responses = append(responses, toAccountResponse(account))
	}

	respondWithJSON(w, http.StatusOK, AccountsListResponse{Accounts: responses})
}

// ListTransactions handles GET /api/accounts/{id}/transactions.
func (h *AccountHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid account ID")
		return
	}

	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !principal.CanAccess(accountID) {
		respondWithError(w, http.StatusForbidden, "API key is not authorized for this account")
		return
	}

	limit, offset, err := parsePageParams(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	transactions, err := h.ledgerService.ListAccountTransactions(r.Context(), accountID, limit, offset)
	if err != nil {
		respondDomainError(w, r, h.log, err, "failed to fetch transactions")
		return
	}

	responses := make([]TransactionResponse, 0, len(transactions))
	for _, txn := range transactions {
		responses = append(responses, toTransactionResponse(txn))
	}

	respondWithJSON(w, http.StatusOK, TransactionsListResponse{
		Transactions: responses,
		Limit:        limit,
		Offset:       offset,
	})
}

// parsePageParams reads limit/offset query parameters with the listing
// defaults and bounds.
func parsePageParams(r *http.Request) (limit, offset int, err error) {
	limit = defaultTransactionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return 0, 0, errInvalidLimit
		}
		if limit > maxTransactionLimit {
			limit = maxTransactionLimit
		}
	}

	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return 0, 0, errInvalidOffset
		}
	}

	return limit, offset, nil
}

func toAccountResponse(account *ledger.Account) AccountResponse {
	return AccountResponse{
		ID:        account.ID.String(),
		Name:      account.Name,
		Balance:   account.Balance,
		Currency:  string(account.Currency),
		CreatedAt: account.CreatedAt.UTC().Format(time.RFC3339),
	}
}
