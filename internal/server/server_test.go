package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/b2b-sync/internal/batch"
	"github.com/sells-group/b2b-sync/internal/model"
	"github.com/sells-group/b2b-sync/internal/store"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) CreateRun(ctx context.Context, source string) (*model.Run, error) {
	args := m.Called(ctx, source)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

func (m *mockStore) CompleteRun(ctx context.Context, runID string, res *batch.Result) error {
	return m.Called(ctx, runID, res).Error(0)
}

func (m *mockStore) FailRun(ctx context.Context, runID string, reason string) error {
	return m.Called(ctx, runID, reason).Error(0)
}

func (m *mockStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

func (m *mockStore) ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Run), args.Error(1)
}

func (m *mockStore) RecordRow(ctx context.Context, runID string, row model.RowResult) error {
	return m.Called(ctx, runID, row).Error(0)
}

func (m *mockStore) ListRowResults(ctx context.Context, runID string, onlyFailed bool) ([]model.RowResult, error) {
	args := m.Called(ctx, runID, onlyFailed)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.RowResult), args.Error(1)
}

func (m *mockStore) Migrate(ctx context.Context) error { return m.Called(ctx).Error(0) }
func (m *mockStore) Close() error                      { return m.Called().Error(0) }

var _ store.Store = (*mockStore)(nil)

func do(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := New(&mockStore{}, Options{})
	rec := do(t, s, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestListRuns(t *testing.T) {
	st := &mockStore{}
	st.On("ListRuns", mock.Anything, store.RunFilter{Status: model.RunStatusComplete, Limit: 10, Offset: 5}).
		Return([]model.Run{{ID: "run-1", Source: "a.csv", Status: model.RunStatusComplete}}, nil)

	rec := do(t, New(st, Options{}), "/runs?status=complete&limit=10&offset=5")
	require.Equal(t, http.StatusOK, rec.Code)

	var runs []model.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)
	st.AssertExpectations(t)
}

func TestListRuns_EmptyIsArray(t *testing.T) {
	st := &mockStore{}
	st.On("ListRuns", mock.Anything, store.RunFilter{}).Return(nil, nil)

	rec := do(t, New(st, Options{}), "/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestListRuns_BadLimit(t *testing.T) {
	rec := do(t, New(&mockStore{}, Options{}), "/runs?limit=-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "limit must be")
}

func TestListRuns_StoreError(t *testing.T) {
	st := &mockStore{}
	st.On("ListRuns", mock.Anything, mock.Anything).Return(nil, errors.New("db down"))

	rec := do(t, New(st, Options{}), "/runs")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "db down")
}

func TestGetRun(t *testing.T) {
	st := &mockStore{}
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	st.On("GetRun", mock.Anything, "run-1").Return(&model.Run{
		ID: "run-1", Status: model.RunStatusComplete, BatchStatus: model.BatchPartial,
		Stats: model.Stats{RowsFailed: 1}, CreatedAt: now, UpdatedAt: now,
	}, nil)

	rec := do(t, New(st, Options{}), "/runs/run-1")
	require.Equal(t, http.StatusOK, rec.Code)

	var run model.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, model.BatchPartial, run.BatchStatus)
	assert.Equal(t, 1, run.Stats.RowsFailed)
}

func TestGetRun_NotFound(t *testing.T) {
	st := &mockStore{}
	st.On("GetRun", mock.Anything, "nope").Return(nil, eris.Wrap(store.ErrNotFound, "sqlite: get run nope"))

	rec := do(t, New(st, Options{}), "/runs/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "run not found")
}

func TestListRows_Failed(t *testing.T) {
	st := &mockStore{}
	st.On("GetRun", mock.Anything, "run-1").Return(&model.Run{ID: "run-1"}, nil)
	st.On("ListRowResults", mock.Anything, "run-1", true).Return([]model.RowResult{
		{Line: 3, CompositeKey: "C-2|1", State: model.RowStateFailed, Error: "boom"},
	}, nil)

	rec := do(t, New(st, Options{}), "/runs/run-1/rows?failed=true")
	require.Equal(t, http.StatusOK, rec.Code)

	var rows []model.RowResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, 3, rows[0].Line)
	st.AssertExpectations(t)
}

func TestListRows_All(t *testing.T) {
	st := &mockStore{}
	st.On("GetRun", mock.Anything, "run-1").Return(&model.Run{ID: "run-1"}, nil)
	st.On("ListRowResults", mock.Anything, "run-1", false).Return(nil, nil)

	rec := do(t, New(st, Options{}), "/runs/run-1/rows")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestListRows_UnknownRun(t *testing.T) {
	st := &mockStore{}
	st.On("GetRun", mock.Anything, "nope").Return(nil, store.ErrNotFound)

	rec := do(t, New(st, Options{}), "/runs/nope/rows")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	st.AssertNotCalled(t, "ListRowResults", mock.Anything, mock.Anything, mock.Anything)
}

func TestCORS(t *testing.T) {
	st := &mockStore{}
	s := New(st, Options{AllowedOrigins: []string{"https://ops.example.com"}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, "https://ops.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestListenAndServe_Shutdown(t *testing.T) {
	s := New(&mockStore{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
