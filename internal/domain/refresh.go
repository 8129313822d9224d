// Package domain defines the core types for the BigQuery to Supabase refresh
// pipeline: refresh configuration, audit history, checkpoints, and the
// transformed search query performance rows.
package domain

import (
	"time"
)

// RefreshStatus is the lifecycle state of a refresh attempt.
type RefreshStatus string

const (
	RefreshStatusPending    RefreshStatus = "pending"
	RefreshStatusInProgress RefreshStatus = "in_progress"
	RefreshStatusSuccess    RefreshStatus = "success"
	RefreshStatusFailed     RefreshStatus = "failed"
	RefreshStatusPartial    RefreshStatus = "partial"
)

// IsTerminal reports whether the status can no longer transition.
func (s RefreshStatus) IsTerminal() bool {
	return s == RefreshStatusSuccess || s == RefreshStatusFailed || s == RefreshStatusPartial
}

// RefreshType identifies how a refresh attempt was initiated.
type RefreshType string

const (
	RefreshTypeScheduled    RefreshType = "scheduled"
	RefreshTypeManual       RefreshType = "manual"
	RefreshTypeContinuation RefreshType = "continuation"
)

// RefreshConfig drives which tables are due for refresh and how often.
// One row per (TableSchema, TableName).
type RefreshConfig struct {
	ID                    int64      `json:"id,omitempty"`
	TableSchema           string     `json:"table_schema"`
	TableName             string     `json:"table_name"`
	IsEnabled             bool       `json:"is_enabled"`
	RefreshFrequencyHours int        `json:"refresh_frequency_hours"`
	Priority              int        `json:"priority"`
	LastRefreshAt         *time.Time `json:"last_refresh_at,omitempty"`
	NextRefreshAt         *time.Time `json:"next_refresh_at,omitempty"`
	FunctionName          string     `json:"function_name"`
}

// QualifiedName returns schema.table for logging and map keys.
func (c RefreshConfig) QualifiedName() string {
	return c.TableSchema + "." + c.TableName
}

// IsDue reports whether the table should be refreshed at the given instant.
func (c RefreshConfig) IsDue(now time.Time) bool {
	if !c.IsEnabled {
		return false
	}
	if c.NextRefreshAt == nil {
		return true
	}
	return !c.NextRefreshAt.After(now)
}

// RefreshAuditLog is one append-only row per sync attempt. A row is created
// with status pending before any sync work begins and transitions exactly
// once to a terminal state.
type RefreshAuditLog struct {
	ID                 int64         `json:"id,omitempty"`
	TableSchema        string        `json:"table_schema"`
	TableName          string        `json:"table_name"`
	RefreshType        RefreshType   `json:"refresh_type"`
	Status             RefreshStatus `json:"status"`
	RowsProcessed      int64         `json:"rows_processed"`
	RowsInserted       int64         `json:"rows_inserted"`
	RowsUpdated        int64         `json:"rows_updated"`
	ErrorMessage       string        `json:"error_message,omitempty"`
	RefreshStartedAt   time.Time     `json:"refresh_started_at"`
	RefreshCompletedAt *time.Time    `json:"refresh_completed_at,omitempty"`
	ExecutionTimeMS    int64         `json:"execution_time_ms"`
	BatchCount         int           `json:"batch_count"`
	SourceRangeStart   string        `json:"source_range_start,omitempty"`
	SourceRangeEnd     string        `json:"source_range_end,omitempty"`
}

// CheckpointStatus is the lifecycle state of a resume checkpoint.
type CheckpointStatus string

const (
	CheckpointStatusActive    CheckpointStatus = "active"
	CheckpointStatusCompleted CheckpointStatus = "completed"
	CheckpointStatusExpired   CheckpointStatus = "expired"
)

// CheckpointData is the JSON cursor persisted after every batch.
type CheckpointData struct {
	LastProcessedDate string `json:"last_processed_date"`
	BatchNumber       int    `json:"batch_number"`
	RowsProcessed     int64  `json:"rows_processed"`
}

// RefreshCheckpoint lets a long sync resume after a timeout. At most one
// active checkpoint exists per (FunctionName, TableSchema, TableName);
// claiming a new one expires any prior active row.
type RefreshCheckpoint struct {
	ID            string           `json:"id,omitempty"`
	FunctionName  string           `json:"function_name"`
	TableSchema   string           `json:"table_schema"`
	TableName     string           `json:"table_name"`
	Data          CheckpointData   `json:"checkpoint_data"`
	Status        CheckpointStatus `json:"status"`
	LastUpdatedAt time.Time        `json:"last_updated_at"`
}

// TableOutcome is the per-table result aggregated by an orchestration run.
type TableOutcome struct {
	TableSchema   string        `json:"table_schema"`
	TableName     string        `json:"table_name"`
	Status        RefreshStatus `json:"status"`
	RowsProcessed int64         `json:"rows_processed"`
	Error         string        `json:"error,omitempty"`
	DurationMS    int64         `json:"duration_ms"`
}

// OrchestrationResult aggregates the outcomes of one orchestrator run.
type OrchestrationResult struct {
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	Outcomes    []TableOutcome `json:"outcomes"`
}

// Succeeded counts terminal-success outcomes.
func (r OrchestrationResult) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == RefreshStatusSuccess {
			n++
		}
	}
	return n
}

// Failed counts terminal-failure outcomes.
func (r OrchestrationResult) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == RefreshStatusFailed {
			n++
		}
	}
	return n
}
