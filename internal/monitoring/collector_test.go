package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/b2b-sync/internal/model"
	"github.com/sells-group/b2b-sync/internal/store"
)

// fakeLister serves a fixed run list.
type fakeLister struct {
	runs    []model.Run
	listErr error
}

func (f *fakeLister) ListRuns(_ context.Context, filter store.RunFilter) ([]model.Run, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []model.Run
	for _, r := range f.runs {
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func newTestCollector(runs []model.Run, now time.Time) *Collector {
	c := NewCollector(&fakeLister{runs: runs})
	c.now = func() time.Time { return now }
	return c
}

func TestCollector_Collect(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	runs := []model.Run{
		{Status: model.RunStatusComplete, BatchStatus: model.BatchSuccess, TotalRows: 10, CreatedAt: now.Add(-time.Hour)},
		{
			Status: model.RunStatusComplete, BatchStatus: model.BatchPartial, Cancelled: true,
			TotalRows: 10, Stats: model.Stats{RowsFailed: 2}, CreatedAt: now.Add(-2 * time.Hour),
		},
		{
			Status: model.RunStatusComplete, BatchStatus: model.BatchFailed,
			TotalRows: 4, Stats: model.Stats{RowsFailed: 4}, CreatedAt: now.Add(-3 * time.Hour),
		},
		{Status: model.RunStatusFailed, TotalRows: 6, CreatedAt: now.Add(-4 * time.Hour)},
		{Status: model.RunStatusRunning, TotalRows: 8, CreatedAt: now.Add(-time.Minute)},
		// Outside the window.
		{Status: model.RunStatusFailed, TotalRows: 100, CreatedAt: now.Add(-48 * time.Hour)},
	}

	snap, err := newTestCollector(runs, now).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 5, snap.RunsTotal)
	assert.Equal(t, 1, snap.RunsRunning)
	assert.Equal(t, 1, snap.RunsSuccess)
	assert.Equal(t, 1, snap.RunsPartial)
	assert.Equal(t, 2, snap.RunsFailed)
	assert.Equal(t, 1, snap.RunsCancelled)
	assert.InDelta(t, 0.5, snap.RunFailRate, 0.001)
	assert.Equal(t, 30, snap.RowsTotal)
	assert.Equal(t, 6, snap.RowsFailed)
	assert.InDelta(t, 0.2, snap.RowFailRate, 0.001)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.Equal(t, now, snap.CollectedAt)
}

func TestCollector_Collect_Empty(t *testing.T) {
	snap, err := newTestCollector(nil, time.Now()).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Zero(t, snap.RunsTotal)
	assert.Zero(t, snap.RunFailRate)
	assert.Zero(t, snap.RowFailRate)
}

func TestCollector_Collect_OnlyRunning(t *testing.T) {
	now := time.Now()
	snap, err := newTestCollector([]model.Run{
		{Status: model.RunStatusRunning, TotalRows: 5, CreatedAt: now},
	}, now).Collect(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.RunsRunning)
	assert.Zero(t, snap.RunFailRate)
	assert.Zero(t, snap.RowsTotal)
}

func TestCollector_Collect_ListError(t *testing.T) {
	c := NewCollector(&fakeLister{listErr: errors.New("db down")})
	_, err := c.Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list runs")
}
