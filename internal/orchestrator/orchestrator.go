// Package orchestrator coordinates refresh runs across tables: selection
// from refresh_config, fixed-size concurrent groups with allSettled
// semantics, continuation draining, and completion notification.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/neverMEH/amzatlas-sub009/internal/config"
	"github.com/neverMEH/amzatlas-sub009/internal/domain"
	"github.com/neverMEH/amzatlas-sub009/internal/observability"
	"github.com/neverMEH/amzatlas-sub009/internal/repository"
	syncsvc "github.com/neverMEH/amzatlas-sub009/internal/sync"
)

// TableSyncer is the sync engine port, faked in tests.
type TableSyncer interface {
	SyncTable(ctx context.Context, req syncsvc.Request) (syncsvc.Result, error)
}

// Notifier is the webhook dispatch port.
type Notifier interface {
	Dispatch(ctx context.Context, event string, data interface{})
}

// TableRef names a target table explicitly.
type TableRef struct {
	Schema string `json:"schema"`
	Table  string `json:"table"`
}

// The run-level audit row is keyed under a reserved name so it never
// collides with a mapped table.
const (
	orchestrationSchema = "system"
	orchestrationTable  = "orchestration"
)

// Orchestrator runs refresh cycles.
type Orchestrator struct {
	configs  repository.ConfigStore
	audits   repository.AuditStore
	registry *config.MappingRegistry
	syncer   TableSyncer
	notifier Notifier
	metrics  *observability.Collector
	logger   *zap.Logger
	cfg      config.OrchestratorConfig

	queue chan syncsvc.Request

	// runMu serializes orchestration runs; overlapping runs would race on
	// checkpoints for the same tables.
	runMu sync.Mutex
}

// New creates an orchestrator. The continuation queue is buffered; a full
// queue drops the continuation and the table resumes on its next scheduled
// run.
func New(
	configs repository.ConfigStore,
	audits repository.AuditStore,
	registry *config.MappingRegistry,
	syncer TableSyncer,
	notifier Notifier,
	metrics *observability.Collector,
	cfg config.OrchestratorConfig,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		configs:  configs,
		audits:   audits,
		registry: registry,
		syncer:   syncer,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
		queue:    make(chan syncsvc.Request, 64),
	}
}

// SetSyncer attaches the sync engine after construction. The orchestrator
// is also the engine's continuation queue, so the two reference each other.
func (o *Orchestrator) SetSyncer(syncer TableSyncer) {
	o.syncer = syncer
}

// Enqueue implements sync.ContinuationQueue.
func (o *Orchestrator) Enqueue(req syncsvc.Request) bool {
	select {
	case o.queue <- req:
		return true
	default:
		return false
	}
}

// Run executes one orchestration cycle. With explicit refs, exactly those
// tables are synced; otherwise every due table from refresh_config is.
// Exactly one audit row per table reaches a terminal state; failures in one
// table never block the others.
func (o *Orchestrator) Run(ctx context.Context, refs []TableRef, refreshType domain.RefreshType) (*domain.OrchestrationResult, error) {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	o.metrics.OrchestrationRuns.Inc()
	o.metrics.OrchestrationActive.Set(1)
	defer o.metrics.OrchestrationActive.Set(0)

	started := time.Now()
	requests, preFailures, err := o.selectTables(ctx, refs, refreshType)
	if err != nil {
		return nil, err
	}

	runAuditID := o.beginRunAudit(ctx, refreshType)

	o.logger.Info("Orchestration run starting",
		zap.Int("tables", len(requests)),
		zap.Int("skipped", len(preFailures)),
		zap.String("refresh_type", string(refreshType)),
	)

	outcomes := append([]domain.TableOutcome(nil), preFailures...)
	for start := 0; start < len(requests); start += o.cfg.GroupSize {
		end := start + o.cfg.GroupSize
		if end > len(requests) {
			end = len(requests)
		}

		outcomes = append(outcomes, o.runGroup(ctx, requests[start:end])...)

		if end < len(requests) && o.cfg.GroupDelay > 0 {
			select {
			case <-ctx.Done():
				o.finishRunAudit(ctx, runAuditID, domain.RefreshStatusFailed, outcomes, ctx.Err().Error())
				return nil, ctx.Err()
			case <-time.After(o.cfg.GroupDelay):
			}
		}
	}

	result := &domain.OrchestrationResult{
		StartedAt:   started.UTC(),
		CompletedAt: time.Now().UTC(),
		Outcomes:    outcomes,
	}

	o.finishRunAudit(ctx, runAuditID, runStatus(result), outcomes, "")

	o.logger.Info("Orchestration run finished",
		zap.Int("tables", len(outcomes)),
		zap.Int("succeeded", result.Succeeded()),
		zap.Int("failed", result.Failed()),
	)

	if o.notifier != nil {
		o.notifier.Dispatch(ctx, domain.EventOrchestrationCompleted, result)
	}
	return result, nil
}

// RunContinuations drains the continuation queue until ctx is done. Runs as
// a background worker alongside the scheduler.
func (o *Orchestrator) RunContinuations(ctx context.Context) {
	o.logger.Info("Continuation worker started")
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("Continuation worker shutting down")
			return
		case req := <-o.queue:
			o.logger.Info("Running continuation",
				zap.String("table", req.Mapping.QualifiedTarget()),
			)
			if _, err := o.syncer.SyncTable(ctx, req); err != nil {
				o.logger.Error("Continuation failed",
					zap.String("table", req.Mapping.QualifiedTarget()),
					zap.Error(err),
				)
			}
		}
	}
}

// selectTables resolves the run's table set. Config rows without a mapping
// become failed outcomes up front rather than aborting the run.
func (o *Orchestrator) selectTables(ctx context.Context, refs []TableRef, refreshType domain.RefreshType) ([]syncsvc.Request, []domain.TableOutcome, error) {
	if len(refs) == 0 {
		due, err := o.configs.ListDue(ctx, time.Now(), 0)
		if err != nil {
			return nil, nil, err
		}
		for _, cfg := range due {
			refs = append(refs, TableRef{Schema: cfg.TableSchema, Table: cfg.TableName})
		}
	}

	var requests []syncsvc.Request
	var failures []domain.TableOutcome
	for _, ref := range refs {
		mapping, ok := o.registry.Lookup(ref.Schema, ref.Table)
		if !ok {
			failures = append(failures, domain.TableOutcome{
				TableSchema: ref.Schema,
				TableName:   ref.Table,
				Status:      domain.RefreshStatusFailed,
				Error:       "no table mapping configured",
			})
			continue
		}
		requests = append(requests, syncsvc.Request{Mapping: mapping, RefreshType: refreshType})
	}
	return requests, failures, nil
}

// runGroup syncs a group concurrently and collects every outcome.
func (o *Orchestrator) runGroup(ctx context.Context, group []syncsvc.Request) []domain.TableOutcome {
	outcomes := make([]domain.TableOutcome, len(group))
	var wg sync.WaitGroup

	for i, req := range group {
		wg.Add(1)
		go func(i int, req syncsvc.Request) {
			defer wg.Done()
			outcomes[i] = o.runTable(ctx, req)
		}(i, req)
	}
	wg.Wait()

	return outcomes
}

// runTable syncs one table, converts the result to an outcome, reschedules
// the config row, and fires the per-table event.
func (o *Orchestrator) runTable(ctx context.Context, req syncsvc.Request) (outcome domain.TableOutcome) {
	mapping := req.Mapping
	outcome = domain.TableOutcome{
		TableSchema: mapping.TargetSchema,
		TableName:   mapping.TargetTable,
	}
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			outcome.Status = domain.RefreshStatusFailed
			outcome.Error = fmt.Sprintf("panic: %v", r)
			outcome.DurationMS = time.Since(started).Milliseconds()
			o.logger.Error("Table sync panicked",
				zap.String("table", mapping.QualifiedTarget()),
				zap.Any("panic", r),
			)
		}
	}()

	result, err := o.syncer.SyncTable(ctx, req)
	outcome.Status = result.Status
	outcome.RowsProcessed = result.RowsProcessed
	outcome.DurationMS = time.Since(started).Milliseconds()
	if err != nil {
		outcome.Error = err.Error()
		if o.notifier != nil {
			o.notifier.Dispatch(ctx, domain.EventSyncFailed, outcome)
		}
		return outcome
	}

	now := time.Now()
	if cfg, cfgErr := o.configs.Get(ctx, mapping.TargetSchema, mapping.TargetTable); cfgErr == nil {
		freq := cfg.RefreshFrequencyHours
		if freq <= 0 {
			freq = 24
		}
		next := now.Add(time.Duration(freq) * time.Hour)
		if markErr := o.configs.MarkRefreshed(ctx, mapping.TargetSchema, mapping.TargetTable, now, next); markErr != nil {
			o.logger.Warn("Failed to reschedule refresh config",
				zap.String("table", mapping.QualifiedTarget()),
				zap.Error(markErr),
			)
		}
	} else if !errors.Is(cfgErr, repository.ErrNotFound) {
		o.logger.Warn("Failed to load refresh config for rescheduling",
			zap.String("table", mapping.QualifiedTarget()),
			zap.Error(cfgErr),
		)
	}

	if o.notifier != nil {
		o.notifier.Dispatch(ctx, domain.EventSyncCompleted, outcome)
	}
	return outcome
}

// beginRunAudit opens the run-level audit row. Audit failures never abort a
// run; the returned id is 0 when the row could not be written.
func (o *Orchestrator) beginRunAudit(ctx context.Context, refreshType domain.RefreshType) int64 {
	if o.audits == nil {
		return 0
	}
	id, err := o.audits.Begin(ctx, &domain.RefreshAuditLog{
		TableSchema: orchestrationSchema,
		TableName:   orchestrationTable,
		RefreshType: refreshType,
	})
	if err != nil {
		o.logger.Warn("Failed to open orchestration audit row", zap.Error(err))
		return 0
	}
	if err := o.audits.MarkInProgress(ctx, id); err != nil {
		o.logger.Warn("Failed to mark orchestration audit in progress", zap.Error(err))
	}
	return id
}

func (o *Orchestrator) finishRunAudit(ctx context.Context, id int64, status domain.RefreshStatus, outcomes []domain.TableOutcome, errMsg string) {
	if o.audits == nil || id == 0 {
		return
	}
	var rows int64
	for _, out := range outcomes {
		rows += out.RowsProcessed
		if errMsg == "" && out.Error != "" {
			errMsg = out.TableSchema + "." + out.TableName + ": " + out.Error
		}
	}
	result := repository.AuditResult{
		RowsProcessed: rows,
		BatchCount:    len(outcomes),
		ErrorMessage:  errMsg,
	}
	if err := o.audits.Finish(ctx, id, status, result); err != nil {
		o.logger.Warn("Failed to finish orchestration audit row", zap.Error(err))
	}
}

// runStatus collapses a run's outcomes into one terminal status: success when
// every table reached a terminal success, failed when nothing made progress.
func runStatus(result *domain.OrchestrationResult) domain.RefreshStatus {
	switch {
	case result.Succeeded() == len(result.Outcomes):
		return domain.RefreshStatusSuccess
	case result.Failed() == len(result.Outcomes):
		return domain.RefreshStatusFailed
	default:
		return domain.RefreshStatusPartial
	}
}
