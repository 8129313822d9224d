// Package webhook dispatches signed notifications to configured subscribers.
// Each delivery gets exactly one attempt; a per-endpoint circuit breaker
// keeps a dead subscriber from stalling orchestration runs.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/neverMEH/amzatlas-sub009/internal/domain"
	"github.com/neverMEH/amzatlas-sub009/internal/observability"
	"github.com/neverMEH/amzatlas-sub009/internal/repository"
	appErrors "github.com/neverMEH/amzatlas-sub009/pkg/errors"
)

const (
	signatureHeader = "X-Webhook-Signature"
	eventHeader     = "X-Webhook-Event"
	deliveryTimeout = 10 * time.Second
)

// Dispatcher fans out events to enabled subscribers.
type Dispatcher struct {
	store   repository.WebhookStore
	client  *http.Client
	metrics *observability.Collector
	logger  *zap.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker

	// recordMu serializes delivery recording: the store rolls the
	// per-subscriber counters read-then-write, so concurrent records
	// would lose increments.
	recordMu sync.Mutex
}

// NewDispatcher creates a webhook dispatcher.
func NewDispatcher(store repository.WebhookStore, metrics *observability.Collector, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:    store,
		client:   &http.Client{Timeout: deliveryTimeout},
		metrics:  metrics,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Dispatch delivers the event payload to every enabled subscriber. Each
// delivery is independent; failures are recorded, never propagated.
func (d *Dispatcher) Dispatch(ctx context.Context, event string, data interface{}) {
	subscribers, err := d.store.ListEnabled(ctx, event)
	if err != nil {
		d.logger.Error("Failed to list webhook subscribers", zap.Error(err))
		return
	}
	if len(subscribers) == 0 {
		return
	}

	payload := domain.WebhookPayload{
		Event:     event,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error("Failed to marshal webhook payload", zap.Error(err))
		return
	}

	for _, sub := range subscribers {
		d.deliver(ctx, sub, event, body)
	}
}

// DeliverTest sends a signed test payload to one subscriber and returns the
// delivery log row.
func (d *Dispatcher) DeliverTest(ctx context.Context, id string) (*domain.WebhookDeliveryLog, error) {
	sub, err := d.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(domain.WebhookPayload{
		Event:     "webhook.test",
		Timestamp: time.Now().UTC(),
		Data:      map[string]string{"webhook_id": sub.ID},
	})
	if err != nil {
		return nil, appErrors.NewInternal("failed to marshal test payload", err)
	}

	log := d.deliver(ctx, *sub, "webhook.test", body)
	return &log, nil
}

// deliver makes the single delivery attempt and records the outcome.
func (d *Dispatcher) deliver(ctx context.Context, sub domain.WebhookConfig, event string, body []byte) domain.WebhookDeliveryLog {
	signature := Sign(sub.Secret, body)
	start := time.Now()

	log := domain.WebhookDeliveryLog{
		WebhookID:   sub.ID,
		Event:       event,
		Signature:   signature,
		DeliveredAt: start.UTC(),
	}

	_, err := d.breaker(sub.ID).Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(signatureHeader, signature)
		req.Header.Set(eventHeader, event)

		resp, err := d.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		log.HTTPStatus = resp.StatusCode
		if resp.StatusCode >= 300 {
			return nil, appErrors.NewExternal("webhook endpoint returned "+resp.Status, nil)
		}
		return nil, nil
	})

	log.ResponseTimeMS = time.Since(start).Milliseconds()
	if err != nil {
		log.Status = domain.DeliveryStatusFailed
		log.ErrorMessage = err.Error()
		d.logger.Warn("Webhook delivery failed",
			zap.String("webhook", sub.Name),
			zap.String("event", event),
			zap.Error(err),
		)
	} else {
		log.Status = domain.DeliveryStatusDelivered
	}

	d.metrics.WebhookDeliveries.WithLabelValues(string(log.Status)).Inc()

	d.recordMu.Lock()
	recordErr := d.store.RecordDelivery(ctx, log)
	d.recordMu.Unlock()
	if recordErr != nil {
		d.logger.Error("Failed to record webhook delivery", zap.Error(recordErr))
	}
	return log
}

// breaker returns the per-subscriber circuit breaker, creating it on first use.
func (d *Dispatcher) breaker(id string) *gobreaker.CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cb, ok := d.breakers[id]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "webhook-" + id,
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 3 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.8
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			d.logger.Warn("Webhook circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	d.breakers[id] = cb
	return cb
}

// Sign computes the hex HMAC-SHA256 signature of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches body under secret.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := Sign(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
