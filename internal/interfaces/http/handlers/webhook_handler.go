package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/neverMEH/amzatlas-sub009/internal/domain"
	"github.com/neverMEH/amzatlas-sub009/internal/repository"
	"github.com/neverMEH/amzatlas-sub009/internal/webhook"
	"github.com/neverMEH/amzatlas-sub009/pkg/api"
)

// CreateWebhookRequest is the body for registering a subscriber.
type CreateWebhookRequest struct {
	Name   string   `json:"name" validate:"required,min=1,max=100"`
	URL    string   `json:"url" validate:"required,url"`
	Secret string   `json:"secret" validate:"required,min=16"`
	Events []string `json:"events" validate:"omitempty,dive,oneof=sync.completed sync.failed orchestration.completed"`
}

// WebhookHandler serves subscriber registration and test deliveries.
type WebhookHandler struct {
	store      repository.WebhookStore
	dispatcher *webhook.Dispatcher
	validate   *validator.Validate
	logger     *zap.Logger
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(store repository.WebhookStore, dispatcher *webhook.Dispatcher, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		store:      store,
		dispatcher: dispatcher,
		validate:   validator.New(),
		logger:     logger,
	}
}

// Create registers a new subscriber endpoint.
func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg := &domain.WebhookConfig{
		Name:      req.Name,
		URL:       req.URL,
		Secret:    req.Secret,
		IsEnabled: true,
		Events:    req.Events,
	}
	if err := h.store.Create(r.Context(), cfg); err != nil {
		h.logger.Error("Failed to create webhook", zap.Error(err))
		api.Error(w, http.StatusInternalServerError, "failed to create webhook")
		return
	}

	// Never echo the secret back.
	cfg.Secret = ""
	api.JSON(w, http.StatusCreated, cfg)
}

// List returns all subscribers with rolling delivery counters.
func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	configs, err := h.store.List(r.Context())
	if err != nil {
		api.Error(w, http.StatusInternalServerError, "failed to list webhooks")
		return
	}
	for i := range configs {
		configs[i].Secret = ""
	}
	if configs == nil {
		configs = []domain.WebhookConfig{}
	}
	api.JSON(w, http.StatusOK, configs)
}

// Test sends a signed test delivery to one subscriber.
func (h *WebhookHandler) Test(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	log, err := h.dispatcher.DeliverTest(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			api.Error(w, http.StatusNotFound, "webhook not found")
			return
		}
		h.logger.Error("Webhook test delivery failed", zap.String("id", id), zap.Error(err))
		api.Error(w, http.StatusInternalServerError, "test delivery failed")
		return
	}

	api.JSON(w, http.StatusOK, log)
}
