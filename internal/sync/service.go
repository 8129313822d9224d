// Package sync implements the per-table BigQuery to Supabase sync engine:
// cursor resolution, batched extract-transform-upsert, checkpointing, and
// the time-budget continuation handoff.
package sync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/neverMEH/amzatlas-sub009/internal/bigquery"
	"github.com/neverMEH/amzatlas-sub009/internal/config"
	"github.com/neverMEH/amzatlas-sub009/internal/domain"
	"github.com/neverMEH/amzatlas-sub009/internal/observability"
	"github.com/neverMEH/amzatlas-sub009/internal/repository"
	appErrors "github.com/neverMEH/amzatlas-sub009/pkg/errors"
)

// Request asks for one table to be synced.
type Request struct {
	Mapping     config.TableMapping
	RefreshType domain.RefreshType
}

// FunctionName identifies the logical sync function for checkpoint keys,
// mirroring the per-table refresh function naming.
func (r Request) FunctionName() string {
	return "refresh-" + r.Mapping.TargetTable
}

// Result is the terminal outcome of one sync attempt.
type Result struct {
	AuditID       int64
	Status        domain.RefreshStatus
	RowsProcessed int64
	BatchCount    int
	// Continued is true when the time budget ran out and a continuation
	// was enqueued to pick up from the persisted checkpoint.
	Continued bool
	Cursor    string
}

// ContinuationQueue receives follow-up requests when a sync runs out of
// time budget. Delivery is at-least-once; the upsert keys make replays
// harmless.
type ContinuationQueue interface {
	Enqueue(req Request) bool
}

// Service syncs one table per call.
type Service struct {
	reader      bigquery.Reader
	targets     repository.TargetStore
	audits      repository.AuditStore
	checkpoints repository.CheckpointStore
	queue       ContinuationQueue
	metrics     *observability.Collector
	logger      *zap.Logger
	cfg         config.SyncConfig
	retry       repository.RetryConfig

	// now is overridable in tests to exercise the time budget.
	now func() time.Time
}

// NewService creates a sync service.
func NewService(
	reader bigquery.Reader,
	targets repository.TargetStore,
	audits repository.AuditStore,
	checkpoints repository.CheckpointStore,
	queue ContinuationQueue,
	metrics *observability.Collector,
	cfg config.SyncConfig,
	logger *zap.Logger,
) *Service {
	return &Service{
		reader:      reader,
		targets:     targets,
		audits:      audits,
		checkpoints: checkpoints,
		queue:       queue,
		metrics:     metrics,
		logger:      logger,
		cfg:         cfg,
		retry:       repository.DefaultRetryConfig(),
		now:         time.Now,
	}
}

// SyncTable runs one sync attempt for the mapped table. The audit row is
// created before any sync work and reaches a terminal status exactly once;
// errors are recorded there and returned.
func (s *Service) SyncTable(ctx context.Context, req Request) (Result, error) {
	mapping := req.Mapping
	table := mapping.QualifiedTarget()
	started := s.now()

	audit := &domain.RefreshAuditLog{
		TableSchema:      mapping.TargetSchema,
		TableName:        mapping.TargetTable,
		RefreshType:      req.RefreshType,
		RefreshStartedAt: started.UTC(),
	}
	auditID, err := s.audits.Begin(ctx, audit)
	if err != nil {
		return Result{Status: domain.RefreshStatusFailed}, err
	}
	if err := s.audits.MarkInProgress(ctx, auditID); err != nil {
		s.logger.Warn("Failed to mark audit row in progress", zap.Error(err))
	}

	result := Result{AuditID: auditID}

	cursor, checkpoint, resumed, err := s.resolveCursor(ctx, req)
	if err != nil {
		return s.fail(ctx, auditID, table, result, err)
	}
	result.Cursor = cursor
	rangeStart := cursor

	if resumed {
		s.metrics.CheckpointsResumed.Inc()
		s.logger.Info("Resuming sync from checkpoint",
			zap.String("table", table),
			zap.String("cursor", cursor),
			zap.Int("batch_number", checkpoint.Data.BatchNumber),
		)
	}

	// Resuming refetches the cursor date itself: a period larger than one
	// batch shares its end_date across batches, so a strict filter would
	// drop the tail rows. The upsert keys absorb the replayed head.
	var source rowSource
	if err := repository.RetryWithBackoff(ctx, s.retry, func() error {
		opened, err := s.openSource(ctx, mapping, cursor, resumed)
		if err != nil {
			return err
		}
		source = opened
		return nil
	}); err != nil {
		return s.fail(ctx, auditID, table, result, err)
	}

	batchNumber := checkpoint.Data.BatchNumber
	rowsProcessed := checkpoint.Data.RowsProcessed

	for {
		batchStart := s.now()
		var batch rowBatch
		var done bool
		if err := repository.RetryWithBackoff(ctx, s.retry, func() error {
			b, d, err := source.nextBatch(s.cfg.BatchSize)
			if err != nil {
				return err
			}
			batch, done = b, d
			return nil
		}); err != nil {
			result.RowsProcessed = rowsProcessed
			return s.fail(ctx, auditID, table, result, err)
		}

		if batch.size() > 0 {
			upsertErr := repository.RetryWithBackoff(ctx, s.retry, func() error {
				_, err := batch.upsert(ctx, s.targets, mapping.TargetSchema, mapping.TargetTable)
				return err
			})
			if upsertErr != nil {
				result.RowsProcessed = rowsProcessed
				return s.fail(ctx, auditID, table, result, upsertErr)
			}

			rowsProcessed += int64(batch.size())
			batchNumber++
			if batch.lastDate() > cursor {
				cursor = batch.lastDate()
			}

			if err := s.checkpoints.Save(ctx, checkpoint.ID, domain.CheckpointData{
				LastProcessedDate: cursor,
				BatchNumber:       batchNumber,
				RowsProcessed:     rowsProcessed,
			}); err != nil {
				s.logger.Warn("Failed to save checkpoint", zap.String("table", table), zap.Error(err))
			}

			s.metrics.RowsUpserted.WithLabelValues(table).Add(float64(batch.size()))
			s.metrics.BatchDuration.WithLabelValues(table).Observe(s.now().Sub(batchStart).Seconds())
		}

		if done {
			break
		}

		if s.now().Sub(started) >= s.cfg.SoftDeadline {
			return s.continueLater(ctx, req, auditID, table, Result{
				AuditID:       auditID,
				RowsProcessed: rowsProcessed,
				BatchCount:    batchNumber,
				Cursor:        cursor,
			}, rangeStart)
		}
	}

	if err := s.checkpoints.Complete(ctx, checkpoint.ID); err != nil {
		s.logger.Warn("Failed to complete checkpoint", zap.String("table", table), zap.Error(err))
	} else {
		s.metrics.CheckpointsCompleted.Inc()
	}

	result.Status = domain.RefreshStatusSuccess
	result.RowsProcessed = rowsProcessed
	result.BatchCount = batchNumber
	result.Cursor = cursor

	if err := s.audits.Finish(ctx, auditID, domain.RefreshStatusSuccess, repository.AuditResult{
		RowsProcessed:    rowsProcessed,
		RowsInserted:     rowsProcessed,
		BatchCount:       batchNumber,
		SourceRangeStart: rangeStart,
		SourceRangeEnd:   cursor,
	}); err != nil {
		s.logger.Error("Failed to finish audit row", zap.Int64("audit_id", auditID), zap.Error(err))
	}

	s.metrics.TableSyncs.WithLabelValues(table, string(domain.RefreshStatusSuccess)).Inc()
	s.metrics.SyncDuration.WithLabelValues(table).Observe(s.now().Sub(started).Seconds())

	s.logger.Info("Table sync completed",
		zap.String("table", table),
		zap.Int64("rows_processed", rowsProcessed),
		zap.Int("batches", batchNumber),
		zap.String("cursor", cursor),
	)
	return result, nil
}

// resolveCursor picks the sync starting point: an active checkpoint wins,
// then the target table's newest end_date, then the backfill horizon. A new
// checkpoint is claimed when none is active.
func (s *Service) resolveCursor(ctx context.Context, req Request) (string, *domain.RefreshCheckpoint, bool, error) {
	mapping := req.Mapping
	fn := req.FunctionName()

	checkpoint, err := s.checkpoints.Active(ctx, fn, mapping.TargetSchema, mapping.TargetTable)
	if err != nil {
		return "", nil, false, err
	}
	if checkpoint != nil && checkpoint.Data.LastProcessedDate != "" {
		return checkpoint.Data.LastProcessedDate, checkpoint, true, nil
	}

	cursor, err := s.targets.MaxEndDate(ctx, mapping.TargetSchema, mapping.TargetTable)
	if err != nil {
		return "", nil, false, err
	}
	if cursor == "" {
		cursor = s.now().UTC().AddDate(0, 0, -s.cfg.BackfillDays).Format("2006-01-02")
	}

	checkpoint = &domain.RefreshCheckpoint{
		FunctionName: fn,
		TableSchema:  mapping.TargetSchema,
		TableName:    mapping.TargetTable,
		Data: domain.CheckpointData{
			LastProcessedDate: cursor,
		},
	}
	if err := s.checkpoints.Claim(ctx, checkpoint); err != nil {
		return "", nil, false, err
	}
	s.metrics.CheckpointsClaimed.Inc()

	return cursor, checkpoint, false, nil
}

func (s *Service) openSource(ctx context.Context, mapping config.TableMapping, cursor string, inclusive bool) (rowSource, error) {
	dateColumn := mapping.DateColumn
	if dateColumn == "" {
		dateColumn = "end_date"
	}

	switch mapping.Kind {
	case config.TableKindSearchQuery:
		it, err := s.reader.QueryRowsSince(ctx, mapping.SourceTable, dateColumn, cursor, inclusive)
		if err != nil {
			return nil, err
		}
		return &querySource{it: it}, nil
	case config.TableKindASINPerformance:
		it, err := s.reader.ASINRowsSince(ctx, mapping.SourceTable, dateColumn, cursor, inclusive)
		if err != nil {
			return nil, err
		}
		return &asinSource{it: it}, nil
	default:
		return nil, appErrors.NewValidation("unknown table kind " + string(mapping.Kind))
	}
}

// continueLater checkpoints progress, marks the audit row partial, and
// enqueues a continuation so the next invocation resumes from the cursor.
func (s *Service) continueLater(ctx context.Context, req Request, auditID int64, table string, result Result, rangeStart string) (Result, error) {
	result.Status = domain.RefreshStatusPartial
	result.Continued = true

	if err := s.audits.Finish(ctx, auditID, domain.RefreshStatusPartial, repository.AuditResult{
		RowsProcessed:    result.RowsProcessed,
		RowsInserted:     result.RowsProcessed,
		BatchCount:       result.BatchCount,
		SourceRangeStart: rangeStart,
		SourceRangeEnd:   result.Cursor,
	}); err != nil {
		s.logger.Error("Failed to finish audit row", zap.Int64("audit_id", auditID), zap.Error(err))
	}

	continuation := Request{Mapping: req.Mapping, RefreshType: domain.RefreshTypeContinuation}
	if s.queue == nil || !s.queue.Enqueue(continuation) {
		s.logger.Warn("Continuation queue full, table resumes on next scheduled run",
			zap.String("table", table),
		)
	} else {
		s.metrics.Continuations.Inc()
	}

	s.metrics.TableSyncs.WithLabelValues(table, string(domain.RefreshStatusPartial)).Inc()

	s.logger.Info("Sync hit time budget, continuation enqueued",
		zap.String("table", table),
		zap.Int64("rows_processed", result.RowsProcessed),
		zap.String("cursor", result.Cursor),
	)
	return result, nil
}

// fail records the terminal failure on the audit row and surfaces the error.
func (s *Service) fail(ctx context.Context, auditID int64, table string, result Result, cause error) (Result, error) {
	result.Status = domain.RefreshStatusFailed

	if err := s.audits.Finish(ctx, auditID, domain.RefreshStatusFailed, repository.AuditResult{
		RowsProcessed: result.RowsProcessed,
		BatchCount:    result.BatchCount,
		ErrorMessage:  cause.Error(),
	}); err != nil {
		s.logger.Error("Failed to record sync failure", zap.Int64("audit_id", auditID), zap.Error(err))
	}

	s.metrics.TableSyncs.WithLabelValues(table, string(domain.RefreshStatusFailed)).Inc()

	s.logger.Error("Table sync failed",
		zap.String("table", table),
		zap.Error(cause),
	)
	return result, cause
}
