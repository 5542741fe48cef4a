// Package store is the run ledger: one row per sync invocation plus the
// per-row results it produced.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/b2b-sync/internal/batch"
	"github.com/sells-group/b2b-sync/internal/model"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = eris.New("store: run not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status      model.RunStatus   `json:"status,omitempty"`
	BatchStatus model.BatchStatus `json:"batch_status,omitempty"`
	Limit       int               `json:"limit,omitempty"`
	Offset      int               `json:"offset,omitempty"`
}

// Store defines the persistence interface for the run ledger.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, source string) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, res *batch.Result) error
	FailRun(ctx context.Context, runID string, reason string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Row results
	RecordRow(ctx context.Context, runID string, row model.RowResult) error
	ListRowResults(ctx context.Context, runID string, onlyFailed bool) ([]model.RowResult, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Recorder returns a batch.Recorder that writes each finished row to the
// ledger under runID.
func Recorder(s Store, runID string) batch.Recorder {
	return batch.RecorderFunc(func(ctx context.Context, row model.RowResult) error {
		return s.RecordRow(ctx, runID, row)
	})
}

// listLimit applies the default page size.
func listLimit(f RunFilter) int {
	if f.Limit <= 0 {
		return 100
	}
	return f.Limit
}
