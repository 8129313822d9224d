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

// CheckpointStore implements repository.CheckpointStore over
// refresh_checkpoints. Claiming expires any prior active row first so at
// most one active checkpoint exists per (function_name, schema, table).
type CheckpointStore struct {
	client *supabase.Client
	logger *zap.Logger
}

// NewCheckpointStore creates a CheckpointStore.
func NewCheckpointStore(client *supabase.Client, logger *zap.Logger) *CheckpointStore {
	return &CheckpointStore{client: client, logger: logger}
}

// Active returns the active checkpoint for the key, or nil when none.
func (s *CheckpointStore) Active(ctx context.Context, fn, schema, table string) (*domain.RefreshCheckpoint, error) {
	var rows []domain.RefreshCheckpoint
	_, err := s.client.From(tableCheckpoints).
		Select("*", "", false).
		Eq("function_name", fn).
		Eq("table_schema", schema).
		Eq("table_name", table).
		Eq("status", string(domain.CheckpointStatusActive)).
		Limit(1, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, appErrors.NewExternal("failed to load active checkpoint", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// Claim expires prior active checkpoints for the key and inserts cp as the
// new active one.
func (s *CheckpointStore) Claim(ctx context.Context, cp *domain.RefreshCheckpoint) error {
	if err := s.expire(ctx, cp.FunctionName, cp.TableSchema, cp.TableName); err != nil {
		return err
	}

	cp.ID = uuid.New().String()
	cp.Status = domain.CheckpointStatusActive
	cp.LastUpdatedAt = time.Now().UTC()

	_, _, err := s.client.From(tableCheckpoints).
		Insert(cp, false, "", "minimal", "").
		Execute()
	if err != nil {
		return appErrors.NewExternal("failed to claim checkpoint", err)
	}

	s.logger.Debug("Checkpoint claimed",
		zap.String("id", cp.ID),
		zap.String("table", cp.TableSchema+"."+cp.TableName),
	)
	return nil
}

// Save persists the cursor after a batch.
func (s *CheckpointStore) Save(ctx context.Context, id string, data domain.CheckpointData) error {
	update := map[string]interface{}{
		"checkpoint_data": data,
		"last_updated_at": time.Now().UTC().Format(time.RFC3339),
	}
	_, _, err := s.client.From(tableCheckpoints).
		Update(update, "minimal", "").
		Eq("id", id).
		Eq("status", string(domain.CheckpointStatusActive)).
		Execute()
	if err != nil {
		return appErrors.NewExternal("failed to save checkpoint", err)
	}
	return nil
}

// Complete marks the checkpoint completed once its sync is exhausted.
func (s *CheckpointStore) Complete(ctx context.Context, id string) error {
	update := map[string]interface{}{
		"status":          domain.CheckpointStatusCompleted,
		"last_updated_at": time.Now().UTC().Format(time.RFC3339),
	}
	_, _, err := s.client.From(tableCheckpoints).
		Update(update, "minimal", "").
		Eq("id", id).
		Execute()
	if err != nil {
		return appErrors.NewExternal("failed to complete checkpoint", err)
	}
	return nil
}

// ListActive returns all active checkpoints.
func (s *CheckpointStore) ListActive(ctx context.Context) ([]domain.RefreshCheckpoint, error) {
	var rows []domain.RefreshCheckpoint
	_, err := s.client.From(tableCheckpoints).
		Select("*", "", false).
		Eq("status", string(domain.CheckpointStatusActive)).
		ExecuteTo(&rows)
	if err != nil {
		return nil, appErrors.NewExternal("failed to list active checkpoints", err)
	}
	return rows, nil
}

func (s *CheckpointStore) expire(ctx context.Context, fn, schema, table string) error {
	update := map[string]interface{}{
		"status":          domain.CheckpointStatusExpired,
		"last_updated_at": time.Now().UTC().Format(time.RFC3339),
	}
	_, _, err := s.client.From(tableCheckpoints).
		Update(update, "minimal", "").
		Eq("function_name", fn).
		Eq("table_schema", schema).
		Eq("table_name", table).
		Eq("status", string(domain.CheckpointStatusActive)).
		Execute()
	if err != nil {
		return appErrors.NewExternal("failed to expire prior checkpoints", err)
	}
	return nil
}

var _ repository.CheckpointStore = (*CheckpointStore)(nil)
