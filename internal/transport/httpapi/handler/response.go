package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prk-Jr/payments-service/internal/credential"
	"github.com/prk-Jr/payments-service/internal/ledger"
	"github.com/prk-Jr/payments-service/internal/shared/apperror"
	"github.com/prk-Jr/payments-service/internal/webhook"
	"github.com/prk-Jr/payments-service/pkg/logger"
	"github.com/prk-Jr/payments-service/pkg/money"
)

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondWithJSON sends a JSON response.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// respondWithError sends a JSON error response.
func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, ErrorResponse{Error: message})
}

// toAppError maps domain sentinels onto error kinds. Returns nil for errors
// no kind claims; callers treat those as internal.
func toAppError(err error) *apperror.AppError {
	var insufficient *ledger.InsufficientFundsError
	if errors.As(err, &insufficient) {
		return apperror.InsufficientFunds(insufficient.Error())
	}

	switch {
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrEmptyAccountName),
		errors.Is(err, ledger.ErrCurrencyMismatch),
		errors.Is(err, ledger.ErrSelfTransfer),
		errors.Is(err, ledger.ErrMalformedTransaction),
		errors.Is(err, ledger.ErrBalanceOverflow),
		errors.Is(err, money.ErrUnknownCurrency),
		errors.Is(err, money.ErrAmountOverflow),
		errors.Is(err, credential.ErrEmptyKeyName),
		errors.Is(err, webhook.ErrInvalidURL),
		errors.Is(err, webhook.ErrNoEvents),
		errors.Is(err, webhook.ErrEmptyEvent):
		return apperror.Validation(err.Error())
	case errors.Is(err, ledger.ErrAccountNotFound):
		return apperror.NotFound("account")
	case errors.Is(err, ledger.ErrTransactionNotFound):
		return apperror.NotFound("transaction")
	case errors.Is(err, credential.ErrKeyNotFound):
		return apperror.NotFound("API key")
	case errors.Is(err, webhook.ErrEndpointNotFound):
		return apperror.NotFound("webhook endpoint")
	case errors.Is(err, credential.ErrBootstrapForbidden):
		return apperror.Forbidden(credential.ErrBootstrapForbidden.Error())
	case errors.Is(err, credential.ErrInvalidCredential):
		return apperror.Unauthenticated("invalid API key")
	}

	return nil
}

// respondDomainError translates a service error into a response. Domain
// errors map to their status with their own message; anything unrecognized
// becomes a 500 with the fallback message, and the real error goes to the
// log with the request id.
func respondDomainError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error, fallback string) {
	appErr := toAppError(err)
	if appErr == nil {
		appErr = apperror.Internal(fallback, err)
		log.WithContext(r.Context()).WithError(err).Error(fallback)
	}

	respondWithError(w, appErr.HTTPStatus(), appErr.Message)
}
