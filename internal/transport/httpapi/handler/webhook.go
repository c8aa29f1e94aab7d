package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/prk-Jr/payments-service/internal/webhook"
	"github.com/prk-Jr/payments-service/pkg/logger"
)

// WebhookServiceInterface defines the interface for endpoint registration.
type WebhookServiceInterface interface {
	Register(ctx context.Context, rawURL string, events []string) (*webhook.Endpoint, error)
	List(ctx context.Context) ([]*webhook.Endpoint, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
}

// WebhookHandler handles webhook endpoint management requests.
type WebhookHandler struct {
	registry WebhookServiceInterface
	log      *logger.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(registry WebhookServiceInterface, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		registry: registry,
		log:      log,
	}
}

// CreateWebhookRequest represents the endpoint registration request.
type CreateWebhookRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

// WebhookResponse represents an endpoint without its secret.
type WebhookResponse struct {
	ID        string   `json:"id"`
	URL       string   `json:"url"`
	Events    []string `json:"events"`
	IsActive  bool     `json:"is_active"`
	CreatedAt string   `json:"created_at"`
}

// WebhookCreatedResponse includes the signing secret. Registration is the
// only response that ever carries it.
type WebhookCreatedResponse struct {
	WebhookResponse
	Secret string `json:"secret"`
}

// WebhooksListResponse represents the response for listing endpoints.
type WebhooksListResponse struct {
	Webhooks []WebhookResponse `json:"webhooks"`
}

// CreateWebhook handles POST /api/webhooks.
func (h *WebhookHandler) CreateWebhook(w http.ResponseWriter, r *http.Request) {
	var req CreateWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	endpoint, err := h.registry.Register(r.Context(), req.URL, req.Events)
	if err != nil {
		respondDomainError(w, r, h.log, err, "failed to register webhook")
		return
	}

	respondWithJSON(w, http.StatusCreated, WebhookCreatedResponse{
		WebhookResponse: toWebhookResponse(endpoint),
		Secret:          endpoint.Secret,
	})
}

// ListWebhooks handles GET /api/webhooks. Secrets are omitted.
func (h *WebhookHandler) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	endpoints, err := h.registry.List(r.Context())
	if err != nil {
		respondDomainError(w, r, h.log, err, "failed to fetch webhooks")
		return
	}

	responses := make([]WebhookResponse, 0, len(endpoints))
	for _, endpoint := range endpoints {
		responses = append(responses, toWebhookResponse(endpoint))
	}

	respondWithJSON(w, http.StatusOK, WebhooksListResponse{Webhooks: responses})
}

// DeleteWebhook handles DELETE /api/webhooks/{id}. Deactivation is soft:
// already-enqueued events still deliver, new transactions skip the endpoint.
func (h *WebhookHandler) DeleteWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid webhook ID")
		return
	}

	if err := h.registry.Deactivate(r.Context(), id); err != nil {
		respondDomainError(w, r, h.log, err, "failed to deactivate webhook")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func toWebhookResponse(endpoint *webhook.Endpoint) WebhookResponse {
	return WebhookResponse{
		ID:        endpoint.ID.String(),
		URL:       endpoint.URL,
		Events:    endpoint.Events,
		IsActive:  endpoint.IsActive,
		CreatedAt: endpoint.CreatedAt.UTC().Format(time.RFC3339),
	}
}
