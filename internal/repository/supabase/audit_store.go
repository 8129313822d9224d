package supabase

import (
	"context"
	"time"

	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"
	"go.uber.org/zap"

	"github.com/neverMEH/amzatlas-sub009/internal/domain"
	"github.com/neverMEH/amzatlas-sub009/internal/repository"
	appErrors "github.com/neverMEH/amzatlas-sub009/pkg/errors"
)

// AuditStore implements repository.AuditStore over refresh_audit_log.
// Rows are append-only; only the status and terminal counters mutate, and a
// terminal row is never updated again.
type AuditStore struct {
	client *supabase.Client
	logger *zap.Logger
}

// NewAuditStore creates an AuditStore.
func NewAuditStore(client *supabase.Client, logger *zap.Logger) *AuditStore {
	return &AuditStore{client: client, logger: logger}
}

// Begin inserts a pending audit row before any sync work starts.
func (s *AuditStore) Begin(ctx context.Context, log *domain.RefreshAuditLog) (int64, error) {
	log.Status = domain.RefreshStatusPending
	if log.RefreshStartedAt.IsZero() {
		log.RefreshStartedAt = time.Now().UTC()
	}

	var inserted []domain.RefreshAuditLog
	_, err := s.client.From(tableRefreshAudit).
		Insert(log, false, "", "representation", "").
		ExecuteTo(&inserted)
	if err != nil {
		return 0, appErrors.NewExternal("failed to insert audit row", err)
	}
	if len(inserted) == 0 {
		return 0, appErrors.NewInternal("audit insert returned no row", nil)
	}

	log.ID = inserted[0].ID
	return inserted[0].ID, nil
}

// MarkInProgress moves the row from pending to in_progress.
func (s *AuditStore) MarkInProgress(ctx context.Context, id int64) error {
	_, _, err := s.client.From(tableRefreshAudit).
		Update(map[string]interface{}{"status": domain.RefreshStatusInProgress}, "minimal", "").
		Eq("id", itoa(id)).
		Eq("status", string(domain.RefreshStatusPending)).
		Execute()
	if err != nil {
		return appErrors.NewExternal("failed to mark audit row in progress", err)
	}
	return nil
}

// Finish transitions the row to a terminal status. The status filter keeps
// an already-terminal row from being rewritten.
func (s *AuditStore) Finish(ctx context.Context, id int64, status domain.RefreshStatus, result repository.AuditResult) error {
	if !status.IsTerminal() {
		return appErrors.NewValidation("audit Finish requires a terminal status")
	}

	current, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if current.Status.IsTerminal() {
		return repository.ErrTerminalTransition
	}

	completed := time.Now().UTC()
	update := map[string]interface{}{
		"status":               status,
		"rows_processed":       result.RowsProcessed,
		"rows_inserted":        result.RowsInserted,
		"rows_updated":         result.RowsUpdated,
		"batch_count":          result.BatchCount,
		"error_message":        result.ErrorMessage,
		"source_range_start":   result.SourceRangeStart,
		"source_range_end":     result.SourceRangeEnd,
		"refresh_completed_at": completed.Format(time.RFC3339),
		"execution_time_ms":    completed.Sub(current.RefreshStartedAt).Milliseconds(),
	}

	_, _, err = s.client.From(tableRefreshAudit).
		Update(update, "minimal", "").
		Eq("id", itoa(id)).
		In("status", []string{string(domain.RefreshStatusPending), string(domain.RefreshStatusInProgress)}).
		Execute()
	if err != nil {
		return appErrors.NewExternal("failed to finish audit row", err)
	}

	s.logger.Debug("Audit row finished",
		zap.Int64("id", id),
		zap.String("status", string(status)),
		zap.Int64("rows_processed", result.RowsProcessed),
	)
	return nil
}

// List returns audit history, newest first.
func (s *AuditStore) List(ctx context.Context, filter repository.AuditFilter) ([]domain.RefreshAuditLog, error) {
	query := s.client.From(tableRefreshAudit).
		Select("*", "", false).
		Order("refresh_started_at", &postgrest.OrderOpts{Ascending: false})

	if filter.TableSchema != "" {
		query = query.Eq("table_schema", filter.TableSchema)
	}
	if filter.TableName != "" {
		query = query.Eq("table_name", filter.TableName)
	}
	if filter.Status != "" {
		query = query.Eq("status", string(filter.Status))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query = query.Limit(limit, "")

	var logs []domain.RefreshAuditLog
	if _, err := query.ExecuteTo(&logs); err != nil {
		return nil, appErrors.NewExternal("failed to list audit rows", err)
	}
	return logs, nil
}

func (s *AuditStore) get(ctx context.Context, id int64) (*domain.RefreshAuditLog, error) {
	var rows []domain.RefreshAuditLog
	_, err := s.client.From(tableRefreshAudit).
		Select("*", "", false).
		Eq("id", itoa(id)).
		Limit(1, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, appErrors.NewExternal("failed to load audit row", err)
	}
	if len(rows) == 0 {
		return nil, repository.ErrNotFound
	}
	return &rows[0], nil
}

var _ repository.AuditStore = (*AuditStore)(nil)
