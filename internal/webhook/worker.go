package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/prk-Jr/payments-service/pkg/logger"
)

const (
	defaultWorkers      = 1
	defaultBatchSize    = 10
	defaultMaxAttempts  = 5
	defaultBaseDelay    = 30 * time.Second
	defaultMaxDelay     = time.Hour
	defaultHTTPTimeout  = 10 * time.Second
	defaultPollInterval = time.Second

	// jitterFactor spreads retries and polls by up to 20% so workers and
	// failing endpoints do not synchronize.
	jitterFactor = 0.2
)

// Config tunes the delivery worker pool. Zero values fall back to defaults.
type Config struct {
	Workers      int
	BatchSize    int
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	HTTPTimeout  time.Duration
	PollInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = defaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = defaultMaxDelay
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = defaultHTTPTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
}

// Worker drains the outbox: it claims due events, POSTs them to their
// endpoints with a signed body, and schedules retries with exponential
// backoff. Delivery is at-least-once; consumers dedupe on the event ID
// header.
type Worker struct {
	repo   Repository
	client *http.Client
	cfg    Config
	logger *logger.Logger
}

// NewWorker creates a delivery worker pool.
func NewWorker(repo Repository, cfg Config, log *logger.Logger) *Worker {
	cfg.applyDefaults()
	return &Worker{
		repo:   repo,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
		cfg:    cfg,
		logger: log.WithField("component", "webhook_worker"),
	}
}

// Run recovers events stranded by a previous crash, then runs the configured
// number of delivery loops until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if _, err := w.RecoverStale(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Workers; i++ {
		workerID := i
		g.Go(func() error {
			return w.runLoop(ctx, workerID)
		})
	}
	return g.Wait()
}

// RecoverStale returns events stuck in PROCESSING to PENDING. An event is
// stale once it has been claimed for two full HTTP timeouts; a live worker
// would have finished or failed it by then.
func (w *Worker) RecoverStale(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-2 * w.cfg.HTTPTimeout)
	recovered, err := w.repo.RecoverStaleWebhookEvents(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale webhook events: %w", err)
	}
	if recovered > 0 {
		w.logger.Warn("recovered stale webhook events", "count", recovered)
	}
	return recovered, nil
}

func (w *Worker) runLoop(ctx context.Context, workerID int) error {
	w.logger.Info("webhook worker started", "worker_id", workerID)

	for {
		processed, err := w.processBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("webhook batch failed", "worker_id", workerID, "error", err)
		}

		// Keep draining while there is work; sleep only when idle.
		if processed > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			continue
		}

		timer := time.NewTimer(withJitter(w.cfg.PollInterval))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// processBatch claims one batch of due events and delivers them. Endpoints
// are cached for the batch so fanout to one destination costs one lookup.
func (w *Worker) processBatch(ctx context.Context) (int, error) {
	events, err := w.repo.ClaimWebhookEvents(ctx, w.cfg.BatchSize, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to claim webhook events: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	endpoints := make(map[uuid.UUID]*Endpoint, len(events))
	for _, event := range events {
		endpoint, ok := endpoints[event.EndpointID]
		if !ok {
			endpoint, err = w.repo.GetWebhookEndpoint(ctx, event.EndpointID)
			if err != nil {
				w.recordFailure(ctx, event, fmt.Sprintf("endpoint lookup failed: %v", err))
				continue
			}
			endpoints[event.EndpointID] = endpoint
		}

		w.deliver(ctx, event, endpoint)
	}

	return len(events), nil
}

func (w *Worker) deliver(ctx context.Context, event *Event, endpoint *Endpoint) {
	reason, ok := w.post(ctx, event, endpoint)
	if !ok {
		w.recordFailure(ctx, event, reason)
		return
	}

	attempt := event.Attempts + 1
	if err := w.repo.MarkWebhookEventDelivered(ctx, event.ID, attempt, time.Now().UTC()); err != nil {
		w.logger.Error("failed to mark webhook event delivered",
			"event_id", event.ID, "error", err)
		return
	}

	w.logger.Info("webhook delivered",
		"event_id", event.ID,
		"endpoint_id", endpoint.ID,
		"event_type", event.EventType,
		"attempt", attempt,
	)
}

// post sends one delivery attempt. It returns ok on any 2xx; otherwise a
// short reason suitable for the event's last_error column.
func (w *Worker) post(ctx context.Context, event *Event, endpoint *Endpoint) (string, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(event.Payload))
	if err != nil {
		return fmt.Sprintf("failed to build request: %v", err), false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, Sign(endpoint.Secret, event.Payload))
	req.Header.Set(HeaderEventID, event.ID.String())
	req.Header.Set(HeaderEventType, event.EventType)

	resp, err := w.client.Do(req)
	if err != nil {
		return err.Error(), false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Sprintf("HTTP %d", resp.StatusCode), false
	}
	return "", true
}

// recordFailure bumps the attempt counter and either schedules a retry or,
// once attempts are exhausted, abandons the event as FAILED.
func (w *Worker) recordFailure(ctx context.Context, event *Event, reason string) {
	attempt := event.Attempts + 1

	var nextAttemptAt *time.Time
	if attempt < w.cfg.MaxAttempts {
		next := time.Now().UTC().Add(w.backoff(attempt))
		nextAttemptAt = &next
	}

	if err := w.repo.MarkWebhookEventFailed(ctx, event.ID, attempt, reason, nextAttemptAt); err != nil {
		w.logger.Error("failed to mark webhook event failed",
			"event_id", event.ID, "error", err)
		return
	}

	if nextAttemptAt == nil {
		w.logger.Error("webhook delivery abandoned",
			"event_id", event.ID,
			"endpoint_id", event.EndpointID,
			"attempts", attempt,
			"reason", reason,
		)
		return
	}

	w.logger.Warn("webhook delivery failed, will retry",
		"event_id", event.ID,
		"endpoint_id", event.EndpointID,
		"attempt", attempt,
		"reason", reason,
		"next_attempt_at", nextAttemptAt.Format(time.RFC3339),
	)
}

// backoff doubles the base delay per attempt, capped at MaxDelay, with up to
// 20% jitter on top.
func (w *Worker) backoff(attempt int) time.Duration {
	delay := w.cfg.BaseDelay << (attempt - 1)
	if delay <= 0 || delay > w.cfg.MaxDelay {
		delay = w.cfg.MaxDelay
	}
	return withJitter(delay)
}

func withJitter(d time.Duration) time.Duration {
	return time.Duration(float64(d) * (1 + rand.Float64()*jitterFactor))
}
