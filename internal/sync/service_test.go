package sync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/neverMEH/amzatlas-sub009/internal/bigquery"
	"github.com/neverMEH/amzatlas-sub009/internal/config"
	"github.com/neverMEH/amzatlas-sub009/internal/domain"
	"github.com/neverMEH/amzatlas-sub009/internal/observability"
	"github.com/neverMEH/amzatlas-sub009/internal/repository"
	"github.com/neverMEH/amzatlas-sub009/internal/repository/mocks"
)

// fakeReader serves canned rows, honoring the date cursor and the inclusive
// resume filter the way the real BigQuery queries do.
type fakeReader struct {
	queryRows   []domain.SourceQueryRow
	asinRows    []domain.SourceASINRow
	queryErr    error // returned on every open
	failOpens   int   // opens to fail with failErr before succeeding
	failErr     error
	lastCursors []string
	inclusives  []bool
}

func (f *fakeReader) matches(endDate, cursor string, inclusive bool) bool {
	if inclusive {
		return endDate >= cursor
	}
	return endDate > cursor
}

func (f *fakeReader) QueryRowsSince(ctx context.Context, sourceTable, dateColumn, cursor string, inclusive bool) (bigquery.QueryRowIterator, error) {
	f.lastCursors = append(f.lastCursors, cursor)
	f.inclusives = append(f.inclusives, inclusive)
	if f.failOpens > 0 {
		f.failOpens--
		return nil, f.failErr
	}
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	var rows []domain.SourceQueryRow
	for _, r := range f.queryRows {
		if f.matches(r.EndDate, cursor, inclusive) {
			rows = append(rows, r)
		}
	}
	return &fakeQueryIter{rows: rows}, nil
}

func (f *fakeReader) ASINRowsSince(ctx context.Context, sourceTable, dateColumn, cursor string, inclusive bool) (bigquery.ASINRowIterator, error) {
	f.lastCursors = append(f.lastCursors, cursor)
	f.inclusives = append(f.inclusives, inclusive)
	var rows []domain.SourceASINRow
	for _, r := range f.asinRows {
		if f.matches(r.EndDate, cursor, inclusive) {
			rows = append(rows, r)
		}
	}
	return &fakeASINIter{rows: rows}, nil
}

func (f *fakeReader) MaxDate(ctx context.Context, sourceTable, dateColumn string) (string, error) {
	return "", nil
}

func (f *fakeReader) Close() error { return nil }

type fakeQueryIter struct {
	rows []domain.SourceQueryRow
	pos  int
}

func (it *fakeQueryIter) Next(row *domain.SourceQueryRow) error {
	if it.pos >= len(it.rows) {
		return bigquery.Done
	}
	*row = it.rows[it.pos]
	it.pos++
	return nil
}

type fakeASINIter struct {
	rows []domain.SourceASINRow
	pos  int
}

func (it *fakeASINIter) Next(row *domain.SourceASINRow) error {
	if it.pos >= len(it.rows) {
		return bigquery.Done
	}
	*row = it.rows[it.pos]
	it.pos++
	return nil
}

type fakeQueue struct {
	reqs []Request
	full bool
}

func (q *fakeQueue) Enqueue(req Request) bool {
	if q.full {
		return false
	}
	q.reqs = append(q.reqs, req)
	return true
}

// weekStart anchors test data inside the backfill horizon regardless of
// when the tests run.
func weekStart(i int) time.Time {
	base := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, -49)
	return base.AddDate(0, 0, 7*i)
}

func weekEnd(i int) string {
	return weekStart(i).AddDate(0, 0, 6).Format("2006-01-02")
}

func weekRows(asin string, weeks int) []domain.SourceQueryRow {
	rows := make([]domain.SourceQueryRow, 0, weeks)
	for i := 0; i < weeks; i++ {
		rows = append(rows, domain.SourceQueryRow{
			StartDate:        weekStart(i).Format("2006-01-02"),
			EndDate:          weekEnd(i),
			ASIN:             asin,
			SearchQuery:      fmt.Sprintf("query %d", i),
			TotalImpressions: 1000,
			ASINImpressions:  100,
			TotalClicks:      50,
			ASINClicks:       10,
			TotalPurchases:   10,
			ASINPurchases:    2,
		})
	}
	return rows
}

func testMapping() config.TableMapping {
	return config.TableMapping{
		SourceTable:  "search_query_performance",
		TargetSchema: "sqp",
		TargetTable:  "search_query_performance",
		Kind:         config.TableKindSearchQuery,
	}
}

type fixture struct {
	service     *Service
	reader      *fakeReader
	targets     *mocks.MockTargetStore
	audits      *mocks.MockAuditStore
	checkpoints *mocks.MockCheckpointStore
	queue       *fakeQueue
}

func newFixture(t *testing.T, reader *fakeReader, cfg config.SyncConfig) *fixture {
	t.Helper()
	observability.ResetForTesting()

	f := &fixture{
		reader:      reader,
		targets:     mocks.NewMockTargetStore(),
		audits:      mocks.NewMockAuditStore(),
		checkpoints: mocks.NewMockCheckpointStore(),
		queue:       &fakeQueue{},
	}
	f.service = NewService(
		reader,
		f.targets,
		f.audits,
		f.checkpoints,
		f.queue,
		observability.NewCollector("test"),
		cfg,
		zap.NewNop(),
	)
	return f
}

func syncCfg() config.SyncConfig {
	return config.SyncConfig{
		BatchSize:    2,
		BackfillDays: 90,
		SoftDeadline: time.Hour,
	}
}

func fastRetry() repository.RetryConfig {
	return repository.RetryConfig{
		MaxAttempts:   3,
		BaseDelay:     time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func TestSyncTable(t *testing.T) {
	ctx := context.Background()

	t.Run("SuccessfulSync", func(t *testing.T) {
		reader := &fakeReader{queryRows: weekRows("B00TEST01", 5)}
		f := newFixture(t, reader, syncCfg())

		result, err := f.service.SyncTable(ctx, Request{Mapping: testMapping(), RefreshType: domain.RefreshTypeManual})
		require.NoError(t, err)

		assert.Equal(t, domain.RefreshStatusSuccess, result.Status)
		assert.Equal(t, int64(5), result.RowsProcessed)
		assert.Equal(t, 3, result.BatchCount)
		assert.Equal(t, 5, f.targets.QueryRowCount("sqp", "search_query_performance"))

		rows := f.audits.RowsFor("sqp", "search_query_performance")
		require.Len(t, rows, 1)
		assert.Equal(t, domain.RefreshStatusSuccess, rows[0].Status)
		assert.Equal(t, int64(5), rows[0].RowsProcessed)
		assert.NotNil(t, rows[0].RefreshCompletedAt)

		// Checkpoint closed out, nothing active
		assert.Equal(t, 0, f.checkpoints.ActiveCount("refresh-search_query_performance", "sqp", "search_query_performance"))
	})

	t.Run("RerunProducesNoDuplicates", func(t *testing.T) {
		reader := &fakeReader{queryRows: weekRows("B00TEST01", 4)}
		f := newFixture(t, reader, syncCfg())
		req := Request{Mapping: testMapping(), RefreshType: domain.RefreshTypeManual}

		first, err := f.service.SyncTable(ctx, req)
		require.NoError(t, err)
		require.Equal(t, int64(4), first.RowsProcessed)
		count := f.targets.QueryRowCount("sqp", "search_query_performance")

		second, err := f.service.SyncTable(ctx, req)
		require.NoError(t, err)

		// The cursor moved past the data, so the rerun touches nothing and
		// the natural-key set is unchanged.
		assert.Equal(t, domain.RefreshStatusSuccess, second.Status)
		assert.Equal(t, int64(0), second.RowsProcessed)
		assert.Equal(t, count, f.targets.QueryRowCount("sqp", "search_query_performance"))
	})

	t.Run("ResumesFromActiveCheckpoint", func(t *testing.T) {
		reader := &fakeReader{queryRows: weekRows("B00TEST01", 5)}
		f := newFixture(t, reader, syncCfg())
		req := Request{Mapping: testMapping(), RefreshType: domain.RefreshTypeContinuation}

		require.NoError(t, f.checkpoints.Claim(ctx, &domain.RefreshCheckpoint{
			FunctionName: req.FunctionName(),
			TableSchema:  "sqp",
			TableName:    "search_query_performance",
			Data: domain.CheckpointData{
				LastProcessedDate: weekEnd(2),
				BatchNumber:       2,
				RowsProcessed:     4,
			},
		}))

		result, err := f.service.SyncTable(ctx, req)
		require.NoError(t, err)

		// The checkpoint cursor wins over the backfill horizon, and the
		// resume refetches the cursor date itself.
		require.NotEmpty(t, reader.lastCursors)
		assert.Equal(t, weekEnd(2), reader.lastCursors[0])
		assert.True(t, reader.inclusives[0])
		assert.Equal(t, domain.RefreshStatusSuccess, result.Status)
		// Counters continue from checkpoint data: 4 prior + weeks 2..4
		// refetched, week 2's replay absorbed by the upsert keys.
		assert.Equal(t, int64(7), result.RowsProcessed)
	})

	t.Run("ContinuationKeepsSameDateRows", func(t *testing.T) {
		// One weekly period holding more rows than a batch: the soft
		// deadline splits it, and the cursor lands on the shared end_date
		// with half the period unwritten.
		var rows []domain.SourceQueryRow
		for i := 0; i < 4; i++ {
			rows = append(rows, domain.SourceQueryRow{
				StartDate:       weekStart(0).Format("2006-01-02"),
				EndDate:         weekEnd(0),
				ASIN:            "B00TEST01",
				SearchQuery:     fmt.Sprintf("query %d", i),
				ASINImpressions: 100,
			})
		}
		reader := &fakeReader{queryRows: rows}
		cfg := syncCfg()
		cfg.SoftDeadline = 0
		f := newFixture(t, reader, cfg)
		req := Request{Mapping: testMapping(), RefreshType: domain.RefreshTypeScheduled}

		first, err := f.service.SyncTable(ctx, req)
		require.NoError(t, err)
		require.True(t, first.Continued)
		require.Equal(t, 2, f.targets.QueryRowCount("sqp", "search_query_performance"))

		f.service.cfg.SoftDeadline = time.Hour
		require.Len(t, f.queue.reqs, 1)
		final, err := f.service.SyncTable(ctx, f.queue.reqs[0])
		require.NoError(t, err)

		// Every row of the split period survives the continuation.
		assert.Equal(t, domain.RefreshStatusSuccess, final.Status)
		assert.Equal(t, 4, f.targets.QueryRowCount("sqp", "search_query_performance"))
	})

	t.Run("TimeBudgetCheckpointsAndContinues", func(t *testing.T) {
		reader := &fakeReader{queryRows: weekRows("B00TEST01", 6)}
		cfg := syncCfg()
		cfg.SoftDeadline = 0 // exhaust the budget after the first batch
		f := newFixture(t, reader, cfg)
		req := Request{Mapping: testMapping(), RefreshType: domain.RefreshTypeScheduled}

		result, err := f.service.SyncTable(ctx, req)
		require.NoError(t, err)

		assert.Equal(t, domain.RefreshStatusPartial, result.Status)
		assert.True(t, result.Continued)
		assert.Equal(t, int64(2), result.RowsProcessed)

		// Audit row is terminal partial
		rows := f.audits.RowsFor("sqp", "search_query_performance")
		require.Len(t, rows, 1)
		assert.Equal(t, domain.RefreshStatusPartial, rows[0].Status)

		// Checkpoint stays active holding the cursor
		cp, err := f.checkpoints.Active(ctx, req.FunctionName(), "sqp", "search_query_performance")
		require.NoError(t, err)
		require.NotNil(t, cp)
		assert.Equal(t, result.Cursor, cp.Data.LastProcessedDate)

		// Continuation enqueued with its own refresh type
		require.Len(t, f.queue.reqs, 1)
		assert.Equal(t, domain.RefreshTypeContinuation, f.queue.reqs[0].RefreshType)
	})

	t.Run("ContinuationDrainsToCompletion", func(t *testing.T) {
		reader := &fakeReader{queryRows: weekRows("B00TEST01", 6)}
		cfg := syncCfg()
		cfg.SoftDeadline = 0
		f := newFixture(t, reader, cfg)
		req := Request{Mapping: testMapping(), RefreshType: domain.RefreshTypeScheduled}

		result, err := f.service.SyncTable(ctx, req)
		require.NoError(t, err)
		require.True(t, result.Continued)

		// Drive continuations by hand until the table is exhausted.
		f.service.cfg.SoftDeadline = time.Hour
		require.Len(t, f.queue.reqs, 1)
		final, err := f.service.SyncTable(ctx, f.queue.reqs[0])
		require.NoError(t, err)

		assert.Equal(t, domain.RefreshStatusSuccess, final.Status)
		assert.Equal(t, 6, f.targets.QueryRowCount("sqp", "search_query_performance"))
		assert.Equal(t, 0, f.checkpoints.ActiveCount(req.FunctionName(), "sqp", "search_query_performance"))
	})

	t.Run("UpsertFailureMarksAuditFailed", func(t *testing.T) {
		reader := &fakeReader{queryRows: weekRows("B00TEST01", 3)}
		f := newFixture(t, reader, syncCfg())
		f.targets.FailNext = errors.New("permission denied for table")

		result, err := f.service.SyncTable(ctx, Request{Mapping: testMapping(), RefreshType: domain.RefreshTypeManual})
		require.Error(t, err)

		assert.Equal(t, domain.RefreshStatusFailed, result.Status)
		rows := f.audits.RowsFor("sqp", "search_query_performance")
		require.Len(t, rows, 1)
		assert.Equal(t, domain.RefreshStatusFailed, rows[0].Status)
		assert.Contains(t, rows[0].ErrorMessage, "permission denied")
	})

	t.Run("SourceFailureMarksAuditFailed", func(t *testing.T) {
		reader := &fakeReader{queryErr: errors.New("bigquery: accessDenied")}
		f := newFixture(t, reader, syncCfg())

		result, err := f.service.SyncTable(ctx, Request{Mapping: testMapping(), RefreshType: domain.RefreshTypeScheduled})
		require.Error(t, err)
		assert.Equal(t, domain.RefreshStatusFailed, result.Status)

		rows := f.audits.RowsFor("sqp", "search_query_performance")
		require.Len(t, rows, 1)
		assert.Equal(t, domain.RefreshStatusFailed, rows[0].Status)
	})

	t.Run("TransientSourceErrorsAreRetried", func(t *testing.T) {
		reader := &fakeReader{
			queryRows: weekRows("B00TEST01", 3),
			failOpens: 2,
			failErr:   errors.New("bigquery: 503 service unavailable"),
		}
		f := newFixture(t, reader, syncCfg())
		f.service.retry = fastRetry()

		result, err := f.service.SyncTable(ctx, Request{Mapping: testMapping(), RefreshType: domain.RefreshTypeScheduled})
		require.NoError(t, err)

		assert.Equal(t, domain.RefreshStatusSuccess, result.Status)
		assert.Equal(t, int64(3), result.RowsProcessed)
		// Two failed opens plus the one that served rows
		assert.Len(t, reader.lastCursors, 3)
	})

	t.Run("ClaimKeepsSingleActiveCheckpoint", func(t *testing.T) {
		reader := &fakeReader{queryRows: weekRows("B00TEST01", 6)}
		cfg := syncCfg()
		cfg.SoftDeadline = 0
		f := newFixture(t, reader, cfg)
		req := Request{Mapping: testMapping(), RefreshType: domain.RefreshTypeScheduled}

		_, err := f.service.SyncTable(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, 1, f.checkpoints.ActiveCount(req.FunctionName(), "sqp", "search_query_performance"))

		// A fresh run resumes the same active checkpoint rather than
		// claiming a second one.
		_, err = f.service.SyncTable(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, 1, f.checkpoints.ActiveCount(req.FunctionName(), "sqp", "search_query_performance"))
	})
}

func TestSyncTableASINRollup(t *testing.T) {
	reader := &fakeReader{asinRows: []domain.SourceASINRow{
		{StartDate: weekStart(0).Format("2006-01-02"), EndDate: weekEnd(0), ASIN: "B00TEST01", Impressions: 200, Clicks: 20, Purchases: 4},
		{StartDate: weekStart(1).Format("2006-01-02"), EndDate: weekEnd(1), ASIN: "B00TEST01", Impressions: 300, Clicks: 30, Purchases: 9},
	}}
	f := newFixture(t, reader, syncCfg())

	mapping := config.TableMapping{
		SourceTable:  "search_query_performance",
		TargetSchema: "sqp",
		TargetTable:  "asin_performance",
		Kind:         config.TableKindASINPerformance,
	}

	result, err := f.service.SyncTable(context.Background(), Request{Mapping: mapping, RefreshType: domain.RefreshTypeManual})
	require.NoError(t, err)
	assert.Equal(t, domain.RefreshStatusSuccess, result.Status)
	assert.Equal(t, int64(2), result.RowsProcessed)

	stored := f.targets.ASINRows["sqp.asin_performance"]
	require.Len(t, stored, 2)
	row := stored["B00TEST01|"+weekStart(0).Format("2006-01-02")+"|"+weekEnd(0)]
	assert.InDelta(t, 0.1, row.ClickThroughRate, 1e-9)
	assert.InDelta(t, 0.2, row.ConversionRate, 1e-9)
}
