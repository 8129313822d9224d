package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/neverMEH/amzatlas-sub009/internal/config"
	"github.com/neverMEH/amzatlas-sub009/internal/domain"
	"github.com/neverMEH/amzatlas-sub009/internal/observability"
	"github.com/neverMEH/amzatlas-sub009/internal/repository/mocks"
	syncsvc "github.com/neverMEH/amzatlas-sub009/internal/sync"
)

// fakeSyncer records sync calls and fails or panics on designated tables.
type fakeSyncer struct {
	mu         sync.Mutex
	calls      []syncsvc.Request
	failTables map[string]bool
	panicTable string
	inFlight   int
	maxInFlight int
}

func (f *fakeSyncer) SyncTable(ctx context.Context, req syncsvc.Request) (syncsvc.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	table := req.Mapping.QualifiedTarget()
	if table == f.panicTable {
		panic("sync blew up")
	}
	if f.failTables[table] {
		return syncsvc.Result{Status: domain.RefreshStatusFailed}, errors.New("bigquery unavailable")
	}
	return syncsvc.Result{Status: domain.RefreshStatusSuccess, RowsProcessed: 10}, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeNotifier) Dispatch(ctx context.Context, event string, data interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeNotifier) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e == event {
			n++
		}
	}
	return n
}

func testRegistry(tables ...string) *config.MappingRegistry {
	mappings := &config.TableMappings{}
	for _, table := range tables {
		mappings.Tables = append(mappings.Tables, config.TableMapping{
			SourceTable:  table,
			TargetSchema: "sqp",
			TargetTable:  table,
			Kind:         config.TableKindSearchQuery,
		})
	}
	return config.NewMappingRegistry(mappings)
}

func dueConfig(table string, priority int) domain.RefreshConfig {
	past := time.Now().Add(-time.Hour)
	return domain.RefreshConfig{
		TableSchema:           "sqp",
		TableName:             table,
		IsEnabled:             true,
		RefreshFrequencyHours: 24,
		Priority:              priority,
		NextRefreshAt:         &past,
		FunctionName:          "refresh-" + table,
	}
}

func newOrchestrator(t *testing.T, configs *mocks.MockConfigStore, syncer TableSyncer, notifier Notifier, registry *config.MappingRegistry) (*Orchestrator, *mocks.MockAuditStore) {
	t.Helper()
	observability.ResetForTesting()
	audits := mocks.NewMockAuditStore()
	orch := New(
		configs,
		audits,
		registry,
		syncer,
		notifier,
		observability.NewCollector("test"),
		config.OrchestratorConfig{GroupSize: 3, GroupDelay: time.Millisecond},
		zap.NewNop(),
	)
	return orch, audits
}

func TestOrchestratorRun(t *testing.T) {
	ctx := context.Background()

	t.Run("AllDueTablesGetOneTerminalOutcome", func(t *testing.T) {
		tables := []string{"table_a", "table_b", "table_c", "table_d", "table_e"}
		configs := mocks.NewMockConfigStore()
		for i, table := range tables {
			require.NoError(t, configs.Upsert(ctx, dueConfig(table, i)))
		}

		syncer := &fakeSyncer{}
		notifier := &fakeNotifier{}
		orch, _ := newOrchestrator(t, configs, syncer, notifier, testRegistry(tables...))

		result, err := orch.Run(ctx, nil, domain.RefreshTypeScheduled)
		require.NoError(t, err)

		// Exactly N outcomes, each terminal
		require.Len(t, result.Outcomes, len(tables))
		for _, outcome := range result.Outcomes {
			assert.True(t, outcome.Status.IsTerminal(), "outcome for %s not terminal", outcome.TableName)
		}
		assert.Equal(t, len(tables), result.Succeeded())

		// Each successful table is rescheduled
		for _, table := range tables {
			cfg, err := configs.Get(ctx, "sqp", table)
			require.NoError(t, err)
			require.NotNil(t, cfg.NextRefreshAt)
			assert.True(t, cfg.NextRefreshAt.After(time.Now()))
		}

		assert.Equal(t, 1, notifier.count(domain.EventOrchestrationCompleted))
		assert.Equal(t, len(tables), notifier.count(domain.EventSyncCompleted))
	})

	t.Run("FailedTableDoesNotBlockSiblings", func(t *testing.T) {
		tables := []string{"table_a", "table_b", "table_c"}
		configs := mocks.NewMockConfigStore()
		for i, table := range tables {
			require.NoError(t, configs.Upsert(ctx, dueConfig(table, i)))
		}

		// table_b fails inside the same concurrent group as a and c
		syncer := &fakeSyncer{failTables: map[string]bool{"sqp.table_b": true}}
		notifier := &fakeNotifier{}
		orch, _ := newOrchestrator(t, configs, syncer, notifier, testRegistry(tables...))

		result, err := orch.Run(ctx, nil, domain.RefreshTypeScheduled)
		require.NoError(t, err)

		require.Len(t, result.Outcomes, 3)
		assert.Equal(t, 2, result.Succeeded())
		assert.Equal(t, 1, result.Failed())

		var failed domain.TableOutcome
		for _, o := range result.Outcomes {
			if o.Status == domain.RefreshStatusFailed {
				failed = o
			}
		}
		assert.Equal(t, "table_b", failed.TableName)
		assert.Contains(t, failed.Error, "bigquery unavailable")
		assert.Equal(t, 1, notifier.count(domain.EventSyncFailed))
	})

	t.Run("PanickingTableIsIsolated", func(t *testing.T) {
		tables := []string{"table_a", "table_b"}
		configs := mocks.NewMockConfigStore()
		for i, table := range tables {
			require.NoError(t, configs.Upsert(ctx, dueConfig(table, i)))
		}

		syncer := &fakeSyncer{panicTable: "sqp.table_a"}
		orch, _ := newOrchestrator(t, configs, syncer, &fakeNotifier{}, testRegistry(tables...))

		result, err := orch.Run(ctx, nil, domain.RefreshTypeScheduled)
		require.NoError(t, err)

		require.Len(t, result.Outcomes, 2)
		assert.Equal(t, 1, result.Succeeded())
		assert.Equal(t, 1, result.Failed())
	})

	t.Run("GroupSizeBoundsConcurrency", func(t *testing.T) {
		var tables []string
		configs := mocks.NewMockConfigStore()
		for i := 0; i < 9; i++ {
			table := "table_" + string(rune('a'+i))
			tables = append(tables, table)
			require.NoError(t, configs.Upsert(ctx, dueConfig(table, i)))
		}

		syncer := &fakeSyncer{}
		orch, _ := newOrchestrator(t, configs, syncer, &fakeNotifier{}, testRegistry(tables...))

		_, err := orch.Run(ctx, nil, domain.RefreshTypeScheduled)
		require.NoError(t, err)

		assert.LessOrEqual(t, syncer.maxInFlight, 3)
		assert.Len(t, syncer.calls, 9)
	})

	t.Run("ExplicitTableList", func(t *testing.T) {
		configs := mocks.NewMockConfigStore()
		require.NoError(t, configs.Upsert(ctx, dueConfig("table_a", 1)))

		syncer := &fakeSyncer{}
		orch, _ := newOrchestrator(t, configs, syncer, &fakeNotifier{}, testRegistry("table_a", "table_b"))

		refs := []TableRef{{Schema: "sqp", Table: "table_b"}}
		result, err := orch.Run(ctx, refs, domain.RefreshTypeManual)
		require.NoError(t, err)

		// Only the requested table runs, due or not
		require.Len(t, result.Outcomes, 1)
		assert.Equal(t, "table_b", result.Outcomes[0].TableName)
		require.Len(t, syncer.calls, 1)
		assert.Equal(t, domain.RefreshTypeManual, syncer.calls[0].RefreshType)
	})

	t.Run("UnmappedTableFailsUpFront", func(t *testing.T) {
		configs := mocks.NewMockConfigStore()
		require.NoError(t, configs.Upsert(ctx, dueConfig("table_a", 1)))
		require.NoError(t, configs.Upsert(ctx, dueConfig("ghost_table", 2)))

		syncer := &fakeSyncer{}
		orch, _ := newOrchestrator(t, configs, syncer, &fakeNotifier{}, testRegistry("table_a"))

		result, err := orch.Run(ctx, nil, domain.RefreshTypeScheduled)
		require.NoError(t, err)

		require.Len(t, result.Outcomes, 2)
		assert.Equal(t, 1, result.Failed())
		require.Len(t, syncer.calls, 1)
		assert.Equal(t, "table_a", syncer.calls[0].Mapping.TargetTable)
	})

	t.Run("RunWritesDurableAuditRow", func(t *testing.T) {
		tables := []string{"table_a", "table_b", "table_c"}
		configs := mocks.NewMockConfigStore()
		for i, table := range tables {
			require.NoError(t, configs.Upsert(ctx, dueConfig(table, i)))
		}

		syncer := &fakeSyncer{failTables: map[string]bool{"sqp.table_b": true}}
		orch, audits := newOrchestrator(t, configs, syncer, &fakeNotifier{}, testRegistry(tables...))

		_, err := orch.Run(ctx, nil, domain.RefreshTypeScheduled)
		require.NoError(t, err)

		rows := audits.RowsFor(orchestrationSchema, orchestrationTable)
		require.Len(t, rows, 1)
		row := rows[0]
		require.Equal(t, domain.RefreshStatusPartial, row.Status)
		assert.Equal(t, domain.RefreshTypeScheduled, row.RefreshType)
		assert.Equal(t, int64(20), row.RowsProcessed)
		assert.Equal(t, 3, row.BatchCount)
		assert.Contains(t, row.ErrorMessage, "sqp.table_b: bigquery unavailable")
		require.NotNil(t, row.RefreshCompletedAt)

		// A clean run lands a second, independent terminal row
		syncer.failTables = nil
		for i, table := range tables {
			require.NoError(t, configs.Upsert(ctx, dueConfig(table, i)))
		}
		_, err = orch.Run(ctx, nil, domain.RefreshTypeScheduled)
		require.NoError(t, err)

		rows = audits.RowsFor(orchestrationSchema, orchestrationTable)
		require.Len(t, rows, 2)
		succeeded := 0
		for _, r := range rows {
			require.True(t, r.Status.IsTerminal())
			if r.Status == domain.RefreshStatusSuccess {
				succeeded++
			}
		}
		assert.Equal(t, 1, succeeded)
	})
}

func TestContinuationWorker(t *testing.T) {
	configs := mocks.NewMockConfigStore()
	syncer := &fakeSyncer{}
	orch, _ := newOrchestrator(t, configs, syncer, &fakeNotifier{}, testRegistry("table_a"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go orch.RunContinuations(ctx)

	mapping, ok := testRegistry("table_a").Lookup("sqp", "table_a")
	require.True(t, ok)
	require.True(t, orch.Enqueue(syncsvc.Request{Mapping: mapping, RefreshType: domain.RefreshTypeContinuation}))

	require.Eventually(t, func() bool {
		syncer.mu.Lock()
		defer syncer.mu.Unlock()
		return len(syncer.calls) == 1
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, domain.RefreshTypeContinuation, syncer.calls[0].RefreshType)
}
