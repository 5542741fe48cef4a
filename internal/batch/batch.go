// Package batch coordinates a sync run: pre-flight validation of the whole
// sheet, then every row through the pipeline with bounded concurrency.
package batch

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/b2b-sync/internal/model"
	"github.com/sells-group/b2b-sync/internal/validate"
)

// ErrEmptyBatch is returned when the source yields no rows.
var ErrEmptyBatch = eris.New("batch: no rows to process")

// RowRunner processes a single validated row.
type RowRunner interface {
	Run(ctx context.Context, row model.SourceRow) (model.RowResult, error)
}

// Recorder receives each row result as soon as the row finishes.
type Recorder interface {
	RecordRow(ctx context.Context, row model.RowResult) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, row model.RowResult) error

// RecordRow implements Recorder.
func (f RecorderFunc) RecordRow(ctx context.Context, row model.RowResult) error {
	return f(ctx, row)
}

// Options tune a Coordinator.
type Options struct {
	// Concurrency is the number of rows in flight. 1 processes rows in
	// sheet order.
	Concurrency int
	// DryRun stops after pre-flight validation.
	DryRun bool
	// Recorder, if set, is called once per finished row.
	Recorder Recorder
}

// Result is the terminal summary of a batch.
type Result struct {
	Status    model.BatchStatus `json:"status" yaml:"status"`
	Total     int               `json:"total" yaml:"total"`
	Stats     model.Stats       `json:"stats" yaml:"stats"`
	Cancelled bool              `json:"cancelled,omitempty" yaml:"cancelled,omitempty"`
	// Skipped counts rows never started because the batch was cancelled.
	Skipped int  `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	DryRun  bool `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`

	Rows             []model.RowResult     `json:"rows,omitempty" yaml:"rows,omitempty"`
	ValidationErrors []validate.FieldError `json:"validation_errors,omitempty" yaml:"validation_errors,omitempty"`

	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`
	DurationMs int64     `json:"duration_ms" yaml:"duration_ms"`
}

// FailedRows returns the rows that ended in FAILED.
func (r *Result) FailedRows() []model.RowResult {
	var out []model.RowResult
	for _, row := range r.Rows {
		if row.Failed() {
			out = append(out, row)
		}
	}
	return out
}

// Coordinator runs batches.
type Coordinator struct {
	validator *validate.Validator
	runner    RowRunner
	opts      Options
}

// New creates a Coordinator.
func New(v *validate.Validator, runner RowRunner, opts Options) *Coordinator {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Coordinator{validator: v, runner: runner, opts: opts}
}

// RunBatch validates every raw record and, if the whole batch is clean,
// runs each row through the pipeline. A validation failure returns a
// wrapped *validate.BatchError before any remote call is made. Row
// failures are recorded in the result and never abort the batch.
//
// Cancelling ctx stops new rows from starting; rows already in flight run
// to completion.
func (c *Coordinator) RunBatch(ctx context.Context, raws []model.RawRecord) (*Result, error) {
	res := &Result{Total: len(raws), StartedAt: time.Now()}
	defer func() {
		res.FinishedAt = time.Now()
		res.DurationMs = res.FinishedAt.Sub(res.StartedAt).Milliseconds()
	}()

	if len(raws) == 0 {
		res.Status = model.BatchFailed
		return res, ErrEmptyBatch
	}

	rows, err := c.validator.NormalizeBatch(raws)
	if err != nil {
		res.Status = model.BatchFailed
		var be *validate.BatchError
		if errors.As(err, &be) {
			res.ValidationErrors = be.Errors
		}
		zap.L().Error("batch: pre-flight validation failed",
			zap.Int("rows", len(raws)),
			zap.Int("errors", len(res.ValidationErrors)),
		)
		return res, eris.Wrap(err, "batch: pre-flight")
	}

	if c.opts.DryRun {
		res.DryRun = true
		res.Status = model.BatchSuccess
		zap.L().Info("batch: dry run, validation passed", zap.Int("rows", len(rows)))
		return res, nil
	}

	zap.L().Info("batch: processing",
		zap.Int("rows", len(rows)),
		zap.Int("concurrency", c.opts.Concurrency),
	)

	// Rows in flight finish even when ctx is cancelled.
	rowCtx := context.WithoutCancel(ctx)
	results := make([]model.RowResult, len(rows))
	started := make([]bool, len(rows))

	var g errgroup.Group
	g.SetLimit(c.opts.Concurrency)

	for i, row := range rows {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// Cancelled while waiting for a free slot.
			if ctx.Err() != nil {
				return nil
			}
			started[i] = true
			results[i] = c.runRow(rowCtx, row)
			return nil // row failures never abort the batch
		})
	}
	_ = g.Wait()

	for i := range rows {
		if !started[i] {
			res.Skipped++
			continue
		}
		res.Rows = append(res.Rows, results[i])
		res.Stats.Add(results[i])
	}
	if res.Skipped > 0 {
		res.Cancelled = true
		zap.L().Warn("batch: cancelled, remaining rows skipped", zap.Int("skipped", res.Skipped))
	}
	res.Status = status(res)

	zap.L().Info("batch: complete",
		zap.String("status", string(res.Status)),
		zap.Int("processed", res.Stats.RowsProcessed),
		zap.Int("failed", res.Stats.RowsFailed),
		zap.Int("skipped", res.Skipped),
		zap.Int("companies_created", res.Stats.CompaniesCreated),
		zap.Int("customers_created", res.Stats.CustomersCreated),
		zap.Int("locations_created", res.Stats.LocationsCreated),
		zap.Int("assignments_created", res.Stats.AssignmentsCreated),
	)
	return res, nil
}

func (c *Coordinator) runRow(ctx context.Context, row model.SourceRow) model.RowResult {
	result, err := c.runner.Run(ctx, row)
	if err != nil && !result.Failed() {
		// A runner that errors without marking the row still fails it.
		result.State = model.RowStateFailed
		result.Error = err.Error()
	}
	if result.Line == 0 {
		result.Line = row.Line
		result.CompositeKey = row.CompositeKey()
	}
	if c.opts.Recorder != nil {
		if recErr := c.opts.Recorder.RecordRow(ctx, result); recErr != nil {
			zap.L().Warn("batch: failed to record row result",
				zap.Int("row", row.Line),
				zap.Error(recErr),
			)
		}
	}
	return result
}

// status derives the batch verdict. Any completed row makes a batch at
// least partial; only a clean, uncancelled run is a success.
func status(res *Result) model.BatchStatus {
	switch {
	case res.Stats.RowsProcessed == 0:
		return model.BatchFailed
	case res.Stats.RowsFailed > 0 || res.Cancelled:
		return model.BatchPartial
	default:
		return model.BatchSuccess
	}
}
