// Package http wires the chi router for the sync control API.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/neverMEH/amzatlas-sub009/internal/config"
	"github.com/neverMEH/amzatlas-sub009/internal/interfaces/http/handlers"
	"github.com/neverMEH/amzatlas-sub009/internal/interfaces/http/middleware"
	"github.com/neverMEH/amzatlas-sub009/internal/observability"
	"github.com/neverMEH/amzatlas-sub009/pkg/api"
)

// Router creates and configures the HTTP router
type Router struct {
	cfg            *config.Config
	refreshHandler *handlers.RefreshHandler
	webhookHandler *handlers.WebhookHandler
	metrics        *observability.Collector
	logger         *zap.Logger
}

// NewRouter creates a new router instance
func NewRouter(
	cfg *config.Config,
	refreshHandler *handlers.RefreshHandler,
	webhookHandler *handlers.WebhookHandler,
	metrics *observability.Collector,
	logger *zap.Logger,
) *Router {
	return &Router{
		cfg:            cfg,
		refreshHandler: refreshHandler,
		webhookHandler: webhookHandler,
		metrics:        metrics,
		logger:         logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	// Global middleware
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.Logger(rt.logger))

	if rt.cfg.EnableCORS {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	// Health check
	router.Get("/health", rt.healthCheck)
	router.Get("/ready", rt.readinessCheck)

	if rt.cfg.EnableMetrics {
		router.Handle("/metrics", promhttp.HandlerFor(rt.metrics.GetRegistry(), promhttp.HandlerOpts{}))
	}

	// API v1 routes
	router.Route("/api/v1", func(r chi.Router) {
		r.Route("/refresh", func(r chi.Router) {
			r.Post("/orchestrate", rt.refreshHandler.Orchestrate)
			r.Post("/tables/{schema}/{table}", rt.refreshHandler.SyncTable)
			r.Get("/status", rt.refreshHandler.Status)
			r.Get("/audit", rt.refreshHandler.Audit)
			r.Get("/checkpoints", rt.refreshHandler.Checkpoints)
		})

		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/", rt.webhookHandler.Create)
			r.Get("/", rt.webhookHandler.List)
			r.Post("/{id}/test", rt.webhookHandler.Test)
		})
	})

	return router
}

func (rt *Router) healthCheck(w http.ResponseWriter, r *http.Request) {
	api.JSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (rt *Router) readinessCheck(w http.ResponseWriter, r *http.Request) {
	api.JSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
