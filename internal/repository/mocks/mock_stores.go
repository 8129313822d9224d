// Package mocks provides in-memory implementations of the repository ports
// for unit tests.
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neverMEH/amzatlas-sub009/internal/domain"
	"github.com/neverMEH/amzatlas-sub009/internal/repository"
)

// MockConfigStore is an in-memory ConfigStore.
type MockConfigStore struct {
	mu      sync.Mutex
	configs map[string]domain.RefreshConfig
}

// NewMockConfigStore creates an empty config store.
func NewMockConfigStore() *MockConfigStore {
	return &MockConfigStore{configs: make(map[string]domain.RefreshConfig)}
}

func key(schema, table string) string { return schema + "." + table }

func (m *MockConfigStore) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.RefreshConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []domain.RefreshConfig
	for _, cfg := range m.configs {
		if cfg.IsDue(now) {
			due = append(due, cfg)
		}
	}
	// Highest priority first
	for i := 0; i < len(due); i++ {
		for j := i + 1; j < len(due); j++ {
			if due[j].Priority > due[i].Priority {
				due[i], due[j] = due[j], due[i]
			}
		}
	}
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *MockConfigStore) List(ctx context.Context) ([]domain.RefreshConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.RefreshConfig, 0, len(m.configs))
	for _, cfg := range m.configs {
		out = append(out, cfg)
	}
	return out, nil
}

func (m *MockConfigStore) Get(ctx context.Context, schema, table string) (*domain.RefreshConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configs[key(schema, table)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &cfg, nil
}

func (m *MockConfigStore) Upsert(ctx context.Context, cfg domain.RefreshConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[key(cfg.TableSchema, cfg.TableName)] = cfg
	return nil
}

func (m *MockConfigStore) MarkRefreshed(ctx context.Context, schema, table string, refreshedAt, next time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configs[key(schema, table)]
	if !ok {
		return repository.ErrNotFound
	}
	cfg.LastRefreshAt = &refreshedAt
	cfg.NextRefreshAt = &next
	m.configs[key(schema, table)] = cfg
	return nil
}

// MockAuditStore is an in-memory AuditStore that enforces the single
// terminal transition invariant.
type MockAuditStore struct {
	mu     sync.Mutex
	nextID int64
	Rows   map[int64]*domain.RefreshAuditLog
}

// NewMockAuditStore creates an empty audit store.
func NewMockAuditStore() *MockAuditStore {
	return &MockAuditStore{Rows: make(map[int64]*domain.RefreshAuditLog)}
}

func (m *MockAuditStore) Begin(ctx context.Context, log *domain.RefreshAuditLog) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	log.ID = m.nextID
	log.Status = domain.RefreshStatusPending
	if log.RefreshStartedAt.IsZero() {
		log.RefreshStartedAt = time.Now().UTC()
	}
	stored := *log
	m.Rows[log.ID] = &stored
	return log.ID, nil
}

func (m *MockAuditStore) MarkInProgress(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.Rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	if row.Status == domain.RefreshStatusPending {
		row.Status = domain.RefreshStatusInProgress
	}
	return nil
}

func (m *MockAuditStore) Finish(ctx context.Context, id int64, status domain.RefreshStatus, result repository.AuditResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.Rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	if row.Status.IsTerminal() {
		return repository.ErrTerminalTransition
	}
	completed := time.Now().UTC()
	row.Status = status
	row.RowsProcessed = result.RowsProcessed
	row.RowsInserted = result.RowsInserted
	row.RowsUpdated = result.RowsUpdated
	row.BatchCount = result.BatchCount
	row.ErrorMessage = result.ErrorMessage
	row.SourceRangeStart = result.SourceRangeStart
	row.SourceRangeEnd = result.SourceRangeEnd
	row.RefreshCompletedAt = &completed
	row.ExecutionTimeMS = completed.Sub(row.RefreshStartedAt).Milliseconds()
	return nil
}

func (m *MockAuditStore) List(ctx context.Context, filter repository.AuditFilter) ([]domain.RefreshAuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.RefreshAuditLog
	for _, row := range m.Rows {
		if filter.TableSchema != "" && row.TableSchema != filter.TableSchema {
			continue
		}
		if filter.TableName != "" && row.TableName != filter.TableName {
			continue
		}
		if filter.Status != "" && row.Status != filter.Status {
			continue
		}
		out = append(out, *row)
	}
	return out, nil
}

// RowsFor returns audit rows for one table, for assertions.
func (m *MockAuditStore) RowsFor(schema, table string) []domain.RefreshAuditLog {
	rows, _ := m.List(context.Background(), repository.AuditFilter{TableSchema: schema, TableName: table})
	return rows
}

// MockCheckpointStore is an in-memory CheckpointStore.
type MockCheckpointStore struct {
	mu   sync.Mutex
	Rows map[string]*domain.RefreshCheckpoint
}

// NewMockCheckpointStore creates an empty checkpoint store.
func NewMockCheckpointStore() *MockCheckpointStore {
	return &MockCheckpointStore{Rows: make(map[string]*domain.RefreshCheckpoint)}
}

func (m *MockCheckpointStore) Active(ctx context.Context, fn, schema, table string) (*domain.RefreshCheckpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cp := range m.Rows {
		if cp.FunctionName == fn && cp.TableSchema == schema && cp.TableName == table &&
			cp.Status == domain.CheckpointStatusActive {
			copied := *cp
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *MockCheckpointStore) Claim(ctx context.Context, cp *domain.RefreshCheckpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.Rows {
		if existing.FunctionName == cp.FunctionName && existing.TableSchema == cp.TableSchema &&
			existing.TableName == cp.TableName && existing.Status == domain.CheckpointStatusActive {
			existing.Status = domain.CheckpointStatusExpired
		}
	}
	cp.ID = uuid.New().String()
	cp.Status = domain.CheckpointStatusActive
	cp.LastUpdatedAt = time.Now().UTC()
	stored := *cp
	m.Rows[cp.ID] = &stored
	return nil
}

func (m *MockCheckpointStore) Save(ctx context.Context, id string, data domain.CheckpointData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.Rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	cp.Data = data
	cp.LastUpdatedAt = time.Now().UTC()
	return nil
}

func (m *MockCheckpointStore) Complete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.Rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	cp.Status = domain.CheckpointStatusCompleted
	cp.LastUpdatedAt = time.Now().UTC()
	return nil
}

func (m *MockCheckpointStore) ListActive(ctx context.Context) ([]domain.RefreshCheckpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.RefreshCheckpoint
	for _, cp := range m.Rows {
		if cp.Status == domain.CheckpointStatusActive {
			out = append(out, *cp)
		}
	}
	return out, nil
}

// ActiveCount returns the number of active checkpoints for a key.
func (m *MockCheckpointStore) ActiveCount(fn, schema, table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, cp := range m.Rows {
		if cp.FunctionName == fn && cp.TableSchema == schema && cp.TableName == table &&
			cp.Status == domain.CheckpointStatusActive {
			n++
		}
	}
	return n
}

// MockWebhookStore is an in-memory WebhookStore.
type MockWebhookStore struct {
	mu         sync.Mutex
	Configs    map[string]*domain.WebhookConfig
	Deliveries []domain.WebhookDeliveryLog
}

// NewMockWebhookStore creates an empty webhook store.
func NewMockWebhookStore() *MockWebhookStore {
	return &MockWebhookStore{Configs: make(map[string]*domain.WebhookConfig)}
}

func (m *MockWebhookStore) Create(ctx context.Context, cfg *domain.WebhookConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	stored := *cfg
	m.Configs[cfg.ID] = &stored
	return nil
}

func (m *MockWebhookStore) Get(ctx context.Context, id string) (*domain.WebhookConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.Configs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *cfg
	return &copied, nil
}

func (m *MockWebhookStore) List(ctx context.Context) ([]domain.WebhookConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.WebhookConfig, 0, len(m.Configs))
	for _, cfg := range m.Configs {
		out = append(out, *cfg)
	}
	return out, nil
}

func (m *MockWebhookStore) ListEnabled(ctx context.Context, event string) ([]domain.WebhookConfig, error) {
	all, _ := m.List(ctx)
	var out []domain.WebhookConfig
	for _, cfg := range all {
		if cfg.IsEnabled && cfg.SubscribedTo(event) {
			out = append(out, cfg)
		}
	}
	return out, nil
}

func (m *MockWebhookStore) RecordDelivery(ctx context.Context, log domain.WebhookDeliveryLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Deliveries = append(m.Deliveries, log)
	cfg, ok := m.Configs[log.WebhookID]
	if !ok {
		return repository.ErrNotFound
	}
	if log.Status == domain.DeliveryStatusDelivered {
		cfg.SuccessCount++
	} else {
		cfg.FailureCount++
	}
	triggered := log.DeliveredAt
	cfg.LastTriggeredAt = &triggered
	return nil
}

// MockTargetStore is an in-memory TargetStore keyed by the natural keys, so
// tests can assert upsert idempotence.
type MockTargetStore struct {
	mu        sync.Mutex
	QueryRows map[string]map[string]domain.SearchQueryRow
	ASINRows  map[string]map[string]domain.ASINPerformanceRow
	Upserts   int
	FailNext  error
}

// NewMockTargetStore creates an empty target store.
func NewMockTargetStore() *MockTargetStore {
	return &MockTargetStore{
		QueryRows: make(map[string]map[string]domain.SearchQueryRow),
		ASINRows:  make(map[string]map[string]domain.ASINPerformanceRow),
	}
}

func (m *MockTargetStore) UpsertQueryRows(ctx context.Context, schema, table string, rows []domain.SearchQueryRow) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailNext != nil {
		err := m.FailNext
		m.FailNext = nil
		return 0, err
	}
	m.Upserts++
	target := key(schema, table)
	if m.QueryRows[target] == nil {
		m.QueryRows[target] = make(map[string]domain.SearchQueryRow)
	}
	for _, row := range rows {
		m.QueryRows[target][row.ASIN+"|"+row.SearchQuery+"|"+row.StartDate+"|"+row.EndDate] = row
	}
	return int64(len(rows)), nil
}

func (m *MockTargetStore) UpsertASINRows(ctx context.Context, schema, table string, rows []domain.ASINPerformanceRow) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailNext != nil {
		err := m.FailNext
		m.FailNext = nil
		return 0, err
	}
	m.Upserts++
	target := key(schema, table)
	if m.ASINRows[target] == nil {
		m.ASINRows[target] = make(map[string]domain.ASINPerformanceRow)
	}
	for _, row := range rows {
		m.ASINRows[target][row.ASIN+"|"+row.StartDate+"|"+row.EndDate] = row
	}
	return int64(len(rows)), nil
}

func (m *MockTargetStore) MaxEndDate(ctx context.Context, schema, table string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := ""
	for _, row := range m.QueryRows[key(schema, table)] {
		if row.EndDate > max {
			max = row.EndDate
		}
	}
	for _, row := range m.ASINRows[key(schema, table)] {
		if row.EndDate > max {
			max = row.EndDate
		}
	}
	return max, nil
}

// QueryRowCount returns the distinct natural-key count for a target table.
func (m *MockTargetStore) QueryRowCount(schema, table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.QueryRows[key(schema, table)])
}

// Interface compliance
var (
	_ repository.ConfigStore     = (*MockConfigStore)(nil)
	_ repository.AuditStore      = (*MockAuditStore)(nil)
	_ repository.CheckpointStore = (*MockCheckpointStore)(nil)
	_ repository.WebhookStore    = (*MockWebhookStore)(nil)
	_ repository.TargetStore     = (*MockTargetStore)(nil)
)
