package supabase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/supabase-community/supabase-go"
	"go.uber.org/zap"

	"github.com/neverMEH/amzatlas-sub009/internal/domain"
	"github.com/neverMEH/amzatlas-sub009/internal/repository"
	appErrors "github.com/neverMEH/amzatlas-sub009/pkg/errors"
)

// WebhookStore implements repository.WebhookStore over webhook_configs and
// webhook_delivery_log.
type WebhookStore struct {
	client *supabase.Client
	logger *zap.Logger
}

// NewWebhookStore creates a WebhookStore.
func NewWebhookStore(client *supabase.Client, logger *zap.Logger) *WebhookStore {
	return &WebhookStore{client: client, logger: logger}
}

// Create registers a new subscriber.
func (s *WebhookStore) Create(ctx context.Context, cfg *domain.WebhookConfig) error {
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	_, _, err := s.client.From(tableWebhookConfigs).
		Insert(cfg, false, "", "minimal", "").
		Execute()
	if err != nil {
		return appErrors.NewExternal("failed to create webhook config", err)
	}
	return nil
}

// Get returns a webhook config by id.
func (s *WebhookStore) Get(ctx context.Context, id string) (*domain.WebhookConfig, error) {
	var rows []domain.WebhookConfig
	_, err := s.client.From(tableWebhookConfigs).
		Select("*", "", false).
		Eq("id", id).
		Limit(1, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, appErrors.NewExternal("failed to get webhook config", err)
	}
	if len(rows) == 0 {
		return nil, repository.ErrNotFound
	}
	return &rows[0], nil
}

// List returns all webhook configs.
func (s *WebhookStore) List(ctx context.Context) ([]domain.WebhookConfig, error) {
	var rows []domain.WebhookConfig
	_, err := s.client.From(tableWebhookConfigs).
		Select("*", "", false).
		ExecuteTo(&rows)
	if err != nil {
		return nil, appErrors.NewExternal("failed to list webhook configs", err)
	}
	return rows, nil
}

// ListEnabled returns enabled webhooks subscribed to the event. Event
// filtering happens client-side since subscriptions allow an empty list to
// mean all events.
func (s *WebhookStore) ListEnabled(ctx context.Context, event string) ([]domain.WebhookConfig, error) {
	var rows []domain.WebhookConfig
	_, err := s.client.From(tableWebhookConfigs).
		Select("*", "", false).
		Eq("is_enabled", "true").
		ExecuteTo(&rows)
	if err != nil {
		return nil, appErrors.NewExternal("failed to list enabled webhooks", err)
	}

	subscribed := rows[:0]
	for _, w := range rows {
		if w.SubscribedTo(event) {
			subscribed = append(subscribed, w)
		}
	}
	return subscribed, nil
}

// RecordDelivery appends a delivery log row and rolls the webhook counters.
func (s *WebhookStore) RecordDelivery(ctx context.Context, log domain.WebhookDeliveryLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	_, _, err := s.client.From(tableWebhookDelivery).
		Insert(log, false, "", "minimal", "").
		Execute()
	if err != nil {
		return appErrors.NewExternal("failed to record webhook delivery", err)
	}

	cfg, err := s.Get(ctx, log.WebhookID)
	if err != nil {
		return err
	}

	update := map[string]interface{}{
		"last_triggered_at": log.DeliveredAt.UTC().Format(time.RFC3339),
	}
	if log.Status == domain.DeliveryStatusDelivered {
		update["success_count"] = cfg.SuccessCount + 1
	} else {
		update["failure_count"] = cfg.FailureCount + 1
	}

	_, _, err = s.client.From(tableWebhookConfigs).
		Update(update, "minimal", "").
		Eq("id", log.WebhookID).
		Execute()
	if err != nil {
		return appErrors.NewExternal("failed to roll webhook counters", err)
	}

	s.logger.Debug("Webhook delivery recorded",
		zap.String("webhook_id", log.WebhookID),
		zap.String("status", string(log.Status)),
	)
	return nil
}

var _ repository.WebhookStore = (*WebhookStore)(nil)
