// Package scheduler fires orchestration runs when refresh configs come due.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/neverMEH/amzatlas-sub009/internal/domain"
	"github.com/neverMEH/amzatlas-sub009/internal/orchestrator"
	"github.com/neverMEH/amzatlas-sub009/internal/repository"
)

// Runner is the orchestration port driven by the scheduler.
type Runner interface {
	Run(ctx context.Context, refs []orchestrator.TableRef, refreshType domain.RefreshType) (*domain.OrchestrationResult, error)
}

// DailyScheduler ticks on a fixed interval and triggers an orchestration
// run whenever any refresh config is due. NextRefreshAt rescheduling after
// each table's sync keeps the cadence; the tick only detects due work.
type DailyScheduler struct {
	configs  repository.ConfigStore
	runner   Runner
	interval time.Duration
	logger   *zap.Logger
}

// New creates a scheduler that checks for due tables every interval.
func New(configs repository.ConfigStore, runner Runner, interval time.Duration, logger *zap.Logger) *DailyScheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &DailyScheduler{
		configs:  configs,
		runner:   runner,
		interval: interval,
		logger:   logger,
	}
}

// Start runs the tick loop until ctx is done.
func (s *DailyScheduler) Start(ctx context.Context) {
	s.logger.Info("Sync scheduler started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sync scheduler shutting down")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one due-check. The orchestrator reselects due tables itself so
// a table becoming due between the check and the run is still picked up.
func (s *DailyScheduler) tick(ctx context.Context) {
	due, err := s.configs.ListDue(ctx, time.Now(), 1)
	if err != nil {
		s.logger.Error("Failed to check for due tables", zap.Error(err))
		return
	}
	if len(due) == 0 {
		s.logger.Debug("No tables due for refresh")
		return
	}

	s.logger.Info("Due tables detected, starting orchestration")
	if _, err := s.runner.Run(ctx, nil, domain.RefreshTypeScheduled); err != nil {
		s.logger.Error("Scheduled orchestration failed", zap.Error(err))
	}
}
