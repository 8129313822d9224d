// Package repository defines the persistence ports for the refresh pipeline
// and shared retry helpers. Implementations live in the supabase subpackage;
// in-memory fakes for tests live in mocks.
package repository

import (
	"context"
	"time"

	"github.com/neverMEH/amzatlas-sub009/internal/domain"
)

// AuditFilter narrows an audit history listing.
type AuditFilter struct {
	TableSchema string
	TableName   string
	Status      domain.RefreshStatus
	Limit       int
}

// AuditResult carries the terminal counters written when a sync finishes.
type AuditResult struct {
	RowsProcessed    int64
	RowsInserted     int64
	RowsUpdated      int64
	BatchCount       int
	ErrorMessage     string
	SourceRangeStart string
	SourceRangeEnd   string
}

// ConfigStore manages the refresh_config table.
type ConfigStore interface {
	// ListDue returns enabled configs whose next_refresh_at is at or before
	// now, ordered by priority descending.
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.RefreshConfig, error)
	List(ctx context.Context) ([]domain.RefreshConfig, error)
	Get(ctx context.Context, schema, table string) (*domain.RefreshConfig, error)
	Upsert(ctx context.Context, cfg domain.RefreshConfig) error
	// MarkRefreshed records a completed refresh and schedules the next one.
	MarkRefreshed(ctx context.Context, schema, table string, refreshedAt, next time.Time) error
}

// AuditStore manages the append-only refresh_audit_log table.
type AuditStore interface {
	// Begin inserts a pending audit row before any sync work starts and
	// returns its id.
	Begin(ctx context.Context, log *domain.RefreshAuditLog) (int64, error)
	// MarkInProgress moves the row from pending to in_progress.
	MarkInProgress(ctx context.Context, id int64) error
	// Finish transitions the row to a terminal status exactly once.
	Finish(ctx context.Context, id int64, status domain.RefreshStatus, result AuditResult) error
	List(ctx context.Context, filter AuditFilter) ([]domain.RefreshAuditLog, error)
}

// CheckpointStore manages resume checkpoints. At most one active checkpoint
// exists per (function_name, table_schema, table_name).
type CheckpointStore interface {
	// Active returns the active checkpoint for the key, or nil when none.
	Active(ctx context.Context, fn, schema, table string) (*domain.RefreshCheckpoint, error)
	// Claim expires any prior active checkpoint for the key and inserts cp
	// as the new active one, filling cp.ID.
	Claim(ctx context.Context, cp *domain.RefreshCheckpoint) error
	// Save persists the cursor after a batch.
	Save(ctx context.Context, id string, data domain.CheckpointData) error
	Complete(ctx context.Context, id string) error
	ListActive(ctx context.Context) ([]domain.RefreshCheckpoint, error)
}

// WebhookStore manages subscriber configs and delivery logs.
type WebhookStore interface {
	Create(ctx context.Context, cfg *domain.WebhookConfig) error
	Get(ctx context.Context, id string) (*domain.WebhookConfig, error)
	List(ctx context.Context) ([]domain.WebhookConfig, error)
	// ListEnabled returns enabled webhooks subscribed to the event.
	ListEnabled(ctx context.Context, event string) ([]domain.WebhookConfig, error)
	// RecordDelivery appends a delivery log row and rolls the webhook's
	// success/failure counters.
	RecordDelivery(ctx context.Context, log domain.WebhookDeliveryLog) error
}

// TargetStore writes transformed rows into the analytics tables.
type TargetStore interface {
	// UpsertQueryRows upserts on (asin, search_query, start_date, end_date)
	// and returns the number of rows written.
	UpsertQueryRows(ctx context.Context, schema, table string, rows []domain.SearchQueryRow) (int64, error)
	// UpsertASINRows upserts on (asin, start_date, end_date).
	UpsertASINRows(ctx context.Context, schema, table string, rows []domain.ASINPerformanceRow) (int64, error)
	// MaxEndDate returns the newest end_date in the target table, or ""
	// when the table is empty. Used as the sync cursor fallback.
	MaxEndDate(ctx context.Context, schema, table string) (string, error)
}
