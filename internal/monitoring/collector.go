package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/b2b-sync/internal/model"
	"github.com/sells-group/b2b-sync/internal/store"
)

// MetricsSnapshot holds a point-in-time view of sync health.
type MetricsSnapshot struct {
	// Runs created within the lookback window.
	RunsTotal     int `json:"runs_total"`
	RunsRunning   int `json:"runs_running"`
	RunsSuccess   int `json:"runs_success"`
	RunsPartial   int `json:"runs_partial"`
	RunsFailed    int `json:"runs_failed"`
	RunsCancelled int `json:"runs_cancelled"`
	// RunFailRate is failed runs over finished runs. Aborted runs and
	// batches where every row failed both count as failed.
	RunFailRate float64 `json:"run_fail_rate"`

	RowsTotal   int     `json:"rows_total"`
	RowsFailed  int     `json:"rows_failed"`
	RowFailRate float64 `json:"row_fail_rate"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the part of store.Store the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// Collector gathers metrics from the run ledger.
type Collector struct {
	store RunLister
	now   func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st RunLister) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect gathers a snapshot of run metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.store.ListRuns(ctx, store.RunFilter{Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	for _, r := range runs {
		if r.CreatedAt.Before(cutoff) {
			continue
		}
		snap.RunsTotal++
		if r.Cancelled {
			snap.RunsCancelled++
		}
		switch {
		case r.Status == model.RunStatusRunning:
			snap.RunsRunning++
			continue
		case r.Status == model.RunStatusFailed, r.BatchStatus == model.BatchFailed:
			snap.RunsFailed++
		case r.BatchStatus == model.BatchPartial:
			snap.RunsPartial++
		default:
			snap.RunsSuccess++
		}
		snap.RowsTotal += r.TotalRows
		snap.RowsFailed += r.Stats.RowsFailed
	}

	if finished := snap.RunsTotal - snap.RunsRunning; finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if snap.RowsTotal > 0 {
		snap.RowFailRate = float64(snap.RowsFailed) / float64(snap.RowsTotal)
	}
	return snap, nil
}
