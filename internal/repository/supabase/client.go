// Package supabase implements the repository ports over PostgREST using the
// Supabase client. All sync bookkeeping tables (refresh_config,
// refresh_audit_log, refresh_checkpoints, webhook_configs,
// webhook_delivery_log) and the analytics target tables live in the schema
// configured on the client.
package supabase

import (
	"github.com/supabase-community/supabase-go"

	"github.com/neverMEH/amzatlas-sub009/internal/config"
	appErrors "github.com/neverMEH/amzatlas-sub009/pkg/errors"
)

// Table names used by the bookkeeping stores.
const (
	tableRefreshConfig   = "refresh_config"
	tableRefreshAudit    = "refresh_audit_log"
	tableCheckpoints     = "refresh_checkpoints"
	tableWebhookConfigs  = "webhook_configs"
	tableWebhookDelivery = "webhook_delivery_log"
)

// NewClient creates a Supabase client bound to the service-role key.
func NewClient(cfg *config.Config) (*supabase.Client, error) {
	client, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, &supabase.ClientOptions{
		Schema: cfg.SupabaseSchema,
	})
	if err != nil {
		return nil, appErrors.NewExternal("failed to create Supabase client", err)
	}
	return client, nil
}
