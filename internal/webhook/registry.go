package webhook

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/prk-Jr/payments-service/pkg/logger"
)

const (
	// secretPrefix marks webhook signing secrets so they are recognizable
	// in consumer configuration.
	secretPrefix = "whsec_"

	// secretBytes is the entropy of a signing secret.
	secretBytes = 32
)

// Registry manages webhook endpoint subscriptions.
type Registry struct {
	repo   Repository
	logger *logger.Logger
}

// NewRegistry creates a webhook registry.
func NewRegistry(repo Repository, log *logger.Logger) *Registry {
	return &Registry{
		repo:   repo,
		logger: log.WithField("component", "webhook"),
	}
}

// Register stores a new endpoint subscribed to the given event types and
// returns it with a freshly generated signing secret. The secret is shown to
// the caller once; afterwards only deliveries carry proof of it.
func (r *Registry) Register(ctx context.Context, rawURL string, events []string) (*Endpoint, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}

	normalized, err := normalizeEvents(events)
	if err != nil {
		return nil, err
	}

	secret, err := NewSecret()
	if err != nil {
		return nil, fmt.Errorf("failed to generate webhook secret: %w", err)
	}

	endpoint := &Endpoint{
		ID:        uuid.New(),
		URL:       rawURL,
		Secret:    secret,
		Events:    normalized,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}

	if err := r.repo.InsertWebhookEndpoint(ctx, endpoint); err != nil {
		return nil, fmt.Errorf("failed to insert webhook endpoint: %w", err)
	}

	r.logger.Info("webhook endpoint registered",
		"endpoint_id", endpoint.ID,
		"url", endpoint.URL,
		"events", endpoint.Events,
	)

	return endpoint, nil
}

// List returns all registered endpoints.
func (r *Registry) List(ctx context.Context) ([]*Endpoint, error) {
	endpoints, err := r.repo.ListWebhookEndpoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook endpoints: %w", err)
	}
	return endpoints, nil
}

// Deactivate stops future deliveries to an endpoint. Events already enqueued
// for it are still drained by the worker.
func (r *Registry) Deactivate(ctx context.Context, id uuid.UUID) error {
	if err := r.repo.DeactivateWebhookEndpoint(ctx, id); err != nil {
		return err
	}
	r.logger.Info("webhook endpoint deactivated", "endpoint_id", id)
	return nil
}

// NewSecret generates a signing secret: "whsec_" followed by 32 random bytes
// hex encoded.
func NewSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return secretPrefix + hex.EncodeToString(buf), nil
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ErrInvalidURL
	}
	if !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidURL
	}
	return nil
}

// normalizeEvents trims and deduplicates event types, preserving order.
func normalizeEvents(events []string) ([]string, error) {
	if len(events) == 0 {
		return nil, ErrNoEvents
	}

	seen := make(map[string]bool, len(events))
	out := make([]string, 0, len(events))
	for _, ev := range events {
		ev = strings.TrimSpace(ev)
		if ev == "" {
			return nil, ErrEmptyEvent
		}
		if seen[ev] {
			continue
		}
		seen[ev] = true
		out = append(out, ev)
	}
	return out, nil
}
