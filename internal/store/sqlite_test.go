package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/b2b-sync/internal/batch"
	"github.com/sells-group/b2b-sync/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
}

func TestSQLite_RunLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "sheets/customers.csv")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, run.Status)

	res := &batch.Result{
		Status:    model.BatchPartial,
		Total:     3,
		Cancelled: true,
		Stats:     model.Stats{CompaniesCreated: 2, RowsProcessed: 2, RowsFailed: 1},
	}
	require.NoError(t, st.CompleteRun(ctx, run.ID, res))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "sheets/customers.csv", got.Source)
	assert.Equal(t, model.RunStatusComplete, got.Status)
	assert.Equal(t, model.BatchPartial, got.BatchStatus)
	assert.Equal(t, 3, got.TotalRows)
	assert.True(t, got.Cancelled)
	assert.Equal(t, 2, got.Stats.CompaniesCreated)
	assert.Equal(t, 1, got.Stats.RowsFailed)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestSQLite_FailRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "rows.csv")
	require.NoError(t, err)
	require.NoError(t, st.FailRun(ctx, run.ID, "validation failed with 2 errors"))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, got.Status)
	assert.Equal(t, model.BatchFailed, got.BatchStatus)
	assert.Equal(t, "validation failed with 2 errors", got.Error)
}

func TestSQLite_UnknownRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.GetRun(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.ErrorIs(t, st.FailRun(ctx, "missing", "x"), ErrNotFound)
	require.ErrorIs(t, st.CompleteRun(ctx, "missing", &batch.Result{}), ErrNotFound)
}

func TestSQLite_CompleteRunNilResult(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.Error(t, st.CompleteRun(context.Background(), "x", nil))
}

func TestSQLite_ListRuns(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a, err := st.CreateRun(ctx, "a.csv")
	require.NoError(t, err)
	b, err := st.CreateRun(ctx, "b.csv")
	require.NoError(t, err)
	_, err = st.CreateRun(ctx, "c.csv")
	require.NoError(t, err)

	require.NoError(t, st.CompleteRun(ctx, a.ID, &batch.Result{Status: model.BatchSuccess}))
	require.NoError(t, st.FailRun(ctx, b.ID, "boom"))

	all, err := st.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	complete, err := st.ListRuns(ctx, RunFilter{Status: model.RunStatusComplete})
	require.NoError(t, err)
	require.Len(t, complete, 1)
	assert.Equal(t, a.ID, complete[0].ID)

	failed, err := st.ListRuns(ctx, RunFilter{BatchStatus: model.BatchFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, b.ID, failed[0].ID)

	page, err := st.ListRuns(ctx, RunFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page, 2)

	rest, err := st.ListRuns(ctx, RunFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}

func TestSQLite_RowResults(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "rows.csv")
	require.NoError(t, err)

	done := model.RowResult{
		Line: 2, CompositeKey: "C-1|1", State: model.RowStateDone,
		CompanyID: "gid://memstore/Company/1", Company: model.OutcomeCreated,
	}
	failed := model.RowResult{
		Line: 3, CompositeKey: "C-2|1", State: model.RowStateFailed, FailedAt: model.RowStateCompanyResolved,
		Error: "boom", ErrorClass: "remote_failure:permanent",
	}
	require.NoError(t, st.RecordRow(ctx, run.ID, failed))
	require.NoError(t, st.RecordRow(ctx, run.ID, done))

	all, err := st.ListRowResults(ctx, run.ID, false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 2, all[0].Line)
	assert.Equal(t, done, all[0])

	onlyFailed, err := st.ListRowResults(ctx, run.ID, true)
	require.NoError(t, err)
	require.Len(t, onlyFailed, 1)
	assert.Equal(t, failed, onlyFailed[0])
}

func TestSQLite_RecordRowReplaces(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "rows.csv")
	require.NoError(t, err)

	row := model.RowResult{Line: 2, CompositeKey: "C-1|1", State: model.RowStateFailed}
	require.NoError(t, st.RecordRow(ctx, run.ID, row))
	row.State = model.RowStateDone
	require.NoError(t, st.RecordRow(ctx, run.ID, row))

	rows, err := st.ListRowResults(ctx, run.ID, false)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.RowStateDone, rows[0].State)

	failed, err := st.ListRowResults(ctx, run.ID, true)
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestSQLite_RecordRowUnknownRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	err := st.RecordRow(context.Background(), "missing", model.RowResult{Line: 2, State: model.RowStateDone})
	require.Error(t, err)
}

func TestSQLite_RecorderConcurrent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "rows.csv")
	require.NoError(t, err)
	rec := Recorder(st, run.ID)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, rec.RecordRow(ctx, model.RowResult{Line: i + 2, State: model.RowStateDone}))
		}()
	}
	wg.Wait()

	rows, err := st.ListRowResults(ctx, run.ID, false)
	require.NoError(t, err)
	assert.Len(t, rows, 20)
}
