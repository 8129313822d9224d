package supabase

import (
	"context"

	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"
	"go.uber.org/zap"

	"github.com/neverMEH/amzatlas-sub009/internal/domain"
	"github.com/neverMEH/amzatlas-sub009/internal/repository"
	appErrors "github.com/neverMEH/amzatlas-sub009/pkg/errors"
)

// Conflict targets for the analytics tables. Upserting on the natural key
// makes re-running a sync over the same date range idempotent.
const (
	queryRowConflict = "asin,search_query,start_date,end_date"
	asinRowConflict  = "asin,start_date,end_date"
)

// TargetStore implements repository.TargetStore over the analytics tables.
type TargetStore struct {
	client *supabase.Client
	logger *zap.Logger
}

// NewTargetStore creates a TargetStore.
func NewTargetStore(client *supabase.Client, logger *zap.Logger) *TargetStore {
	return &TargetStore{client: client, logger: logger}
}

// UpsertQueryRows upserts a batch of query detail rows.
func (s *TargetStore) UpsertQueryRows(ctx context.Context, schema, table string, rows []domain.SearchQueryRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	_, _, err := s.client.From(table).
		Insert(rows, true, queryRowConflict, "minimal", "").
		Execute()
	if err != nil {
		if repository.IsDuplicateKey(err) {
			return int64(len(rows)), nil
		}
		return 0, appErrors.NewExternal("failed to upsert query rows into "+schema+"."+table, err)
	}

	s.logger.Debug("Upserted query rows",
		zap.String("table", schema+"."+table),
		zap.Int("rows", len(rows)),
	)
	return int64(len(rows)), nil
}

// UpsertASINRows upserts a batch of per-ASIN rollup rows.
func (s *TargetStore) UpsertASINRows(ctx context.Context, schema, table string, rows []domain.ASINPerformanceRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	_, _, err := s.client.From(table).
		Insert(rows, true, asinRowConflict, "minimal", "").
		Execute()
	if err != nil {
		if repository.IsDuplicateKey(err) {
			return int64(len(rows)), nil
		}
		return 0, appErrors.NewExternal("failed to upsert asin rows into "+schema+"."+table, err)
	}

	s.logger.Debug("Upserted asin rows",
		zap.String("table", schema+"."+table),
		zap.Int("rows", len(rows)),
	)
	return int64(len(rows)), nil
}

// MaxEndDate returns the newest end_date in the target table, or "" when
// the table is empty.
func (s *TargetStore) MaxEndDate(ctx context.Context, schema, table string) (string, error) {
	var rows []struct {
		EndDate string `json:"end_date"`
	}
	_, err := s.client.From(table).
		Select("end_date", "", false).
		Order("end_date", &postgrest.OrderOpts{Ascending: false}).
		Limit(1, "").
		ExecuteTo(&rows)
	if err != nil {
		return "", appErrors.NewExternal("failed to read max end_date from "+schema+"."+table, err)
	}
	if len(rows) == 0 {
		return "", nil
	}
	return rows[0].EndDate, nil
}

var _ repository.TargetStore = (*TargetStore)(nil)
