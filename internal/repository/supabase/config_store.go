package supabase

import (
	"context"
	"strconv"
	"time"

	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"
	"go.uber.org/zap"

	"github.com/neverMEH/amzatlas-sub009/internal/domain"
	"github.com/neverMEH/amzatlas-sub009/internal/repository"
	appErrors "github.com/neverMEH/amzatlas-sub009/pkg/errors"
)

// ConfigStore implements repository.ConfigStore over refresh_config.
type ConfigStore struct {
	client *supabase.Client
	logger *zap.Logger
}

// NewConfigStore creates a ConfigStore.
func NewConfigStore(client *supabase.Client, logger *zap.Logger) *ConfigStore {
	return &ConfigStore{client: client, logger: logger}
}

// ListDue returns enabled configs due at or before now, highest priority first.
func (s *ConfigStore) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.RefreshConfig, error) {
	var configs []domain.RefreshConfig
	query := s.client.From(tableRefreshConfig).
		Select("*", "", false).
		Eq("is_enabled", "true").
		Lte("next_refresh_at", now.UTC().Format(time.RFC3339)).
		Order("priority", &postgrest.OrderOpts{Ascending: false})
	if limit > 0 {
		query = query.Limit(limit, "")
	}
	if _, err := query.ExecuteTo(&configs); err != nil {
		return nil, appErrors.NewExternal("failed to list due refresh configs", err)
	}
	return configs, nil
}

// List returns all refresh configs ordered by priority.
func (s *ConfigStore) List(ctx context.Context) ([]domain.RefreshConfig, error) {
	var configs []domain.RefreshConfig
	_, err := s.client.From(tableRefreshConfig).
		Select("*", "", false).
		Order("priority", &postgrest.OrderOpts{Ascending: false}).
		ExecuteTo(&configs)
	if err != nil {
		return nil, appErrors.NewExternal("failed to list refresh configs", err)
	}
	return configs, nil
}

// Get returns the config for schema.table.
func (s *ConfigStore) Get(ctx context.Context, schema, table string) (*domain.RefreshConfig, error) {
	var configs []domain.RefreshConfig
	_, err := s.client.From(tableRefreshConfig).
		Select("*", "", false).
		Eq("table_schema", schema).
		Eq("table_name", table).
		Limit(1, "").
		ExecuteTo(&configs)
	if err != nil {
		return nil, appErrors.NewExternal("failed to get refresh config", err)
	}
	if len(configs) == 0 {
		return nil, repository.ErrNotFound
	}
	return &configs[0], nil
}

// Upsert inserts or replaces the config keyed by (table_schema, table_name).
func (s *ConfigStore) Upsert(ctx context.Context, cfg domain.RefreshConfig) error {
	_, _, err := s.client.From(tableRefreshConfig).
		Insert(cfg, true, "table_schema,table_name", "minimal", "").
		Execute()
	if err != nil {
		if repository.IsDuplicateKey(err) {
			return nil
		}
		return appErrors.NewExternal("failed to upsert refresh config", err)
	}
	return nil
}

// MarkRefreshed records a completed refresh and schedules the next one.
func (s *ConfigStore) MarkRefreshed(ctx context.Context, schema, table string, refreshedAt, next time.Time) error {
	update := map[string]interface{}{
		"last_refresh_at": refreshedAt.UTC().Format(time.RFC3339),
		"next_refresh_at": next.UTC().Format(time.RFC3339),
	}
	_, _, err := s.client.From(tableRefreshConfig).
		Update(update, "minimal", "").
		Eq("table_schema", schema).
		Eq("table_name", table).
		Execute()
	if err != nil {
		return appErrors.NewExternal("failed to mark refresh config refreshed", err)
	}

	s.logger.Debug("Refresh config rescheduled",
		zap.String("table", schema+"."+table),
		zap.String("next_refresh_at", next.UTC().Format(time.RFC3339)),
	)
	return nil
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

var _ repository.ConfigStore = (*ConfigStore)(nil)
