// Package di assembles the service's components. Construction is explicit
// and ordered: config and logging first, then clients and stores, then the
// sync engine, orchestrator, and HTTP layer.
package di

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/neverMEH/amzatlas-sub009/internal/bigquery"
	"github.com/neverMEH/amzatlas-sub009/internal/config"
	httpiface "github.com/neverMEH/amzatlas-sub009/internal/interfaces/http"
	"github.com/neverMEH/amzatlas-sub009/internal/interfaces/http/handlers"
	"github.com/neverMEH/amzatlas-sub009/internal/observability"
	"github.com/neverMEH/amzatlas-sub009/internal/orchestrator"
	supastore "github.com/neverMEH/amzatlas-sub009/internal/repository/supabase"
	"github.com/neverMEH/amzatlas-sub009/internal/scheduler"
	syncsvc "github.com/neverMEH/amzatlas-sub009/internal/sync"
	"github.com/neverMEH/amzatlas-sub009/internal/webhook"
)

// Container holds the wired application components.
type Container struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Collector

	Registry       *config.MappingRegistry
	MappingWatcher *config.MappingWatcher

	BigQuery *bigquery.Client

	ConfigStore     *supastore.ConfigStore
	AuditStore      *supastore.AuditStore
	CheckpointStore *supastore.CheckpointStore
	WebhookStore    *supastore.WebhookStore
	TargetStore     *supastore.TargetStore

	SyncService  *syncsvc.Service
	Orchestrator *orchestrator.Orchestrator
	Scheduler    *scheduler.DailyScheduler
	Dispatcher   *webhook.Dispatcher

	Router *httpiface.Router
}

// InitializeContainer wires all components from configuration.
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	metrics := observability.NewCollector("sqp_sync")

	mappings, err := config.LoadTableMappings(cfg.TableMappingPath)
	if err != nil {
		return nil, err
	}
	registry := config.NewMappingRegistry(mappings)

	watcher, err := config.NewMappingWatcher(cfg.TableMappingPath, registry, logger)
	if err != nil {
		logger.Warn("Table mapping hot reload disabled", zap.Error(err))
		watcher = nil
	}

	supaClient, err := supastore.NewClient(cfg)
	if err != nil {
		return nil, err
	}

	bqClient, err := bigquery.NewClient(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	configStore := supastore.NewConfigStore(supaClient, logger)
	auditStore := supastore.NewAuditStore(supaClient, logger)
	checkpointStore := supastore.NewCheckpointStore(supaClient, logger)
	webhookStore := supastore.NewWebhookStore(supaClient, logger)
	targetStore := supastore.NewTargetStore(supaClient, logger)

	dispatcher := webhook.NewDispatcher(webhookStore, metrics, logger)

	// The orchestrator doubles as the continuation queue, so construct it
	// first with a nil syncer and attach the service after.
	orch := orchestrator.New(configStore, auditStore, registry, nil, dispatcher, metrics, cfg.Orchestrator, logger)

	syncService := syncsvc.NewService(
		bqClient,
		targetStore,
		auditStore,
		checkpointStore,
		orch,
		metrics,
		cfg.Sync,
		logger,
	)
	orch.SetSyncer(syncService)

	sched := scheduler.New(configStore, orch, cfg.SchedulerInterval, logger)

	refreshHandler := handlers.NewRefreshHandler(
		orch, configStore, auditStore, checkpointStore, bqClient, registry, logger,
	)
	webhookHandler := handlers.NewWebhookHandler(webhookStore, dispatcher, logger)

	router := httpiface.NewRouter(cfg, refreshHandler, webhookHandler, metrics, logger)

	return &Container{
		Config:          cfg,
		Logger:          logger,
		Metrics:         metrics,
		Registry:        registry,
		MappingWatcher:  watcher,
		BigQuery:        bqClient,
		ConfigStore:     configStore,
		AuditStore:      auditStore,
		CheckpointStore: checkpointStore,
		WebhookStore:    webhookStore,
		TargetStore:     targetStore,
		SyncService:     syncService,
		Orchestrator:    orch,
		Scheduler:       sched,
		Dispatcher:      dispatcher,
		Router:          router,
	}, nil
}

// Shutdown releases held resources.
func (c *Container) Shutdown() {
	if c.MappingWatcher != nil {
		c.MappingWatcher.Stop()
	}
	if c.BigQuery != nil {
		if err := c.BigQuery.Close(); err != nil {
			c.Logger.Warn("Failed to close BigQuery client", zap.Error(err))
		}
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
