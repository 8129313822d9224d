package sync

import (
	"context"

	"github.com/neverMEH/amzatlas-sub009/internal/bigquery"
	"github.com/neverMEH/amzatlas-sub009/internal/domain"
	"github.com/neverMEH/amzatlas-sub009/internal/repository"
)

// rowBatch is one transformed batch ready to upsert.
type rowBatch interface {
	size() int
	// lastDate is the newest end_date in the batch, used as the checkpoint
	// cursor. Source streams are date-ordered so this advances monotonically.
	lastDate() string
	upsert(ctx context.Context, store repository.TargetStore, schema, table string) (int64, error)
}

// rowSource pulls transformed batches from a BigQuery stream.
type rowSource interface {
	// nextBatch reads up to limit rows. done is true once the stream is
	// exhausted; the final batch may be non-empty and done at once.
	nextBatch(limit int) (rowBatch, bool, error)
}

type queryBatch struct {
	rows []domain.SearchQueryRow
	last string
}

func (b *queryBatch) size() int        { return len(b.rows) }
func (b *queryBatch) lastDate() string { return b.last }

func (b *queryBatch) upsert(ctx context.Context, store repository.TargetStore, schema, table string) (int64, error) {
	return store.UpsertQueryRows(ctx, schema, table, b.rows)
}

type querySource struct {
	it bigquery.QueryRowIterator
}

func (s *querySource) nextBatch(limit int) (rowBatch, bool, error) {
	batch := &queryBatch{rows: make([]domain.SearchQueryRow, 0, limit)}
	for len(batch.rows) < limit {
		var src domain.SourceQueryRow
		if err := s.it.Next(&src); err != nil {
			if err == bigquery.Done {
				return batch, true, nil
			}
			return nil, false, err
		}
		batch.rows = append(batch.rows, TransformQueryRow(src))
		if src.EndDate > batch.last {
			batch.last = src.EndDate
		}
	}
	return batch, false, nil
}

type asinBatch struct {
	rows []domain.ASINPerformanceRow
	last string
}

func (b *asinBatch) size() int        { return len(b.rows) }
func (b *asinBatch) lastDate() string { return b.last }

func (b *asinBatch) upsert(ctx context.Context, store repository.TargetStore, schema, table string) (int64, error) {
	return store.UpsertASINRows(ctx, schema, table, b.rows)
}

type asinSource struct {
	it bigquery.ASINRowIterator
}

func (s *asinSource) nextBatch(limit int) (rowBatch, bool, error) {
	batch := &asinBatch{rows: make([]domain.ASINPerformanceRow, 0, limit)}
	for len(batch.rows) < limit {
		var src domain.SourceASINRow
		if err := s.it.Next(&src); err != nil {
			if err == bigquery.Done {
				return batch, true, nil
			}
			return nil, false, err
		}
		batch.rows = append(batch.rows, TransformASINRow(src))
		if src.EndDate > batch.last {
			batch.last = src.EndDate
		}
	}
	return batch, false, nil
}
