package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/prk-Jr/payments-service/internal/credential"
	"github.com/prk-Jr/payments-service/pkg/logger"
)

// APIKeyServiceInterface defines the interface for credential management.
type APIKeyServiceInterface interface {
	Issue(ctx context.Context, name string, accountID *uuid.UUID) (*credential.APIKey, string, error)
	Bootstrap(ctx context.Context, name string) (*credential.APIKey, string, error)
	List(ctx context.Context) ([]*credential.APIKey, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
}

// APIKeyHandler handles API key management requests.
type APIKeyHandler struct {
	credentials APIKeyServiceInterface
	log         *logger.Logger
}

// NewAPIKeyHandler creates a new API key handler.
func NewAPIKeyHandler(credentials APIKeyServiceInterface, log *logger.Logger) *APIKeyHandler {
	return &APIKeyHandler{
		credentials: credentials,
		log:         log,
	}
}

// BootstrapRequest represents the optional bootstrap request body.
type BootstrapRequest struct {
	Name string `json:"name"`
}

// BootstrapResponse carries the first raw key. It is shown exactly once.
type BootstrapResponse struct {
	APIKey  string `json:"api_key"`
	Message string `json:"message"`
}

// CreateAPIKeyRequest represents the key issuance request.
type CreateAPIKeyRequest struct {
	Name      string  `json:"name"`
	AccountID *string `json:"account_id,omitempty"`
}

// APIKeyCreatedResponse includes the raw key. Issuance is the only response
// that ever carries it.
type APIKeyCreatedResponse struct {
	ID        string  `json:"id"`
	APIKey    string  `json:"api_key"`
	Name      string  `json:"name"`
	AccountID *string `json:"account_id,omitempty"`
}

// APIKeyResponse represents key metadata. The hash never leaves the store.
type APIKeyResponse struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	AccountID  *string `json:"account_id,omitempty"`
	IsActive   bool    `json:"is_active"`
	CreatedAt  string  `json:"created_at"`
	LastUsedAt *string `json:"last_used_at,omitempty"`
}

// APIKeysListResponse represents the response for listing keys.
type APIKeysListResponse struct {
	APIKeys []APIKeyResponse `json:"api_keys"`
}

// Bootstrap handles POST /api/bootstrap. It succeeds only while the store
// holds no active keys, so the body is optional and decode errors are not
// fatal.
func (h *APIKeyHandler) Bootstrap(w http.ResponseWriter, r *http.Request) {
	var req BootstrapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		req.Name = ""
	}
	if req.Name == "" {
		req.Name = "bootstrap"
	}

	_, rawKey, err := h.credentials.Bootstrap(r.Context(), req.Name)
	if err != nil {
		respondDomainError(w, r, h.log, err, "failed to bootstrap API key")
		return
	}

	respondWithJSON(w, http.StatusCreated, BootstrapResponse{
		APIKey:  rawKey,
		Message: "store this key securely; it will not be shown again",
	})
}

// CreateAPIKey handles POST /api/keys.
func (h *APIKeyHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req CreateAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var accountID *uuid.UUID
	if req.AccountID != nil {
		id, err := uuid.Parse(*req.AccountID)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid account ID")
			return
		}
		accountID = &id
	}

	key, rawKey, err := h.credentials.Issue(r.Context(), req.Name, accountID)
	if err != nil {
		respondDomainError(w, r, h.log, err, "failed to issue API key")
		return
	}

	respondWithJSON(w, http.StatusCreated, APIKeyCreatedResponse{
		ID:        key.ID.String(),
		APIKey:    rawKey,
		Name:      key.Name,
		AccountID: uuidToStringPtr(key.AccountID),
	})
}

// ListAPIKeys handles GET /api/keys.
func (h *APIKeyHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.credentials.List(r.Context())
	if err != nil {
		respondDomainError(w, r, h.log, err, "failed to fetch API keys")
		return
	}

	responses := make([]APIKeyResponse, 0, len(keys))
	for _, key := range keys {
		responses = append(responses, toAPIKeyResponse(key))
	}

	respondWithJSON(w, http.StatusOK, APIKeysListResponse{APIKeys: responses})
}

// DeleteAPIKey handles DELETE /api/keys/{id}.
func (h *APIKeyHandler) DeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid API key ID")
		return
	}

	if err := h.credentials.Deactivate(r.Context(), id); err != nil {
		respondDomainError(w, r, h.log, err, "failed to deactivate API key")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func toAPIKeyResponse(key *credential.APIKey) APIKeyResponse {
	resp := APIKeyResponse{
		ID:        key.ID.String(),
		Name:      key.Name,
		AccountID: uuidToStringPtr(key.AccountID),
		IsActive:  key.IsActive,
		CreatedAt: key.CreatedAt.UTC().Format(time.RFC3339),
	}
	if key.LastUsedAt != nil {
		lastUsed := key.LastUsedAt.UTC().Format(time.RFC3339)
		resp.LastUsedAt = &lastUsed
	}
	return resp
}

func uuidToStringPtr(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}
