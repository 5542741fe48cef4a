package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/b2b-sync/internal/batch"
	"github.com/sells-group/b2b-sync/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Rows record concurrently; a single writer avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	batch_status TEXT NOT NULL DEFAULT '',
	total_rows   INTEGER NOT NULL DEFAULT 0,
	stats        TEXT NOT NULL DEFAULT '{}',
	cancelled    INTEGER NOT NULL DEFAULT 0,
	error        TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS row_results (
	run_id        TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	line          INTEGER NOT NULL,
	composite_key TEXT NOT NULL,
	state         TEXT NOT NULL,
	failed        INTEGER NOT NULL DEFAULT 0,
	result        TEXT NOT NULL,
	recorded_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (run_id, line)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_row_results_failed ON row_results(run_id, failed);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, source string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, source, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, source, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Source:    source,
		Status:    model.RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, res *batch.Result) error {
	if res == nil {
		return eris.New("sqlite: complete run: nil result")
	}
	statsJSON, err := json.Marshal(res.Stats)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal stats")
	}

	r, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, batch_status = ?, total_rows = ?, stats = ?, cancelled = ?, updated_at = ? WHERE id = ?`,
		string(model.RunStatusComplete), string(res.Status), res.Total, string(statsJSON), res.Cancelled, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(r, runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, reason string) error {
	r, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, batch_status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(model.RunStatusFailed), string(model.BatchFailed), reason, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(r, runID)
}

const sqliteRunColumns = `id, source, status, batch_status, total_rows, stats, cancelled, error, created_at, updated_at`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRunColumns+` FROM runs WHERE id = ?`,
		runID,
	)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get run %s", runID)
	}
	return r, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + sqliteRunColumns + ` FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.BatchStatus != "" {
		query += ` AND batch_status = ?`
		args = append(args, string(filter.BatchStatus))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, listLimit(filter))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) RecordRow(ctx context.Context, runID string, row model.RowResult) error {
	resultJSON, err := json.Marshal(row)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal row result")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO row_results (run_id, line, composite_key, state, failed, result, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, line) DO UPDATE SET
		   composite_key = excluded.composite_key,
		   state = excluded.state,
		   failed = excluded.failed,
		   result = excluded.result,
		   recorded_at = excluded.recorded_at`,
		runID, row.Line, row.CompositeKey, string(row.State), row.Failed(), string(resultJSON), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: record row %d of run %s", row.Line, runID)
}

func (s *SQLiteStore) ListRowResults(ctx context.Context, runID string, onlyFailed bool) ([]model.RowResult, error) {
	query := `SELECT result FROM row_results WHERE run_id = ?`
	if onlyFailed {
		query += ` AND failed = 1`
	}
	query += ` ORDER BY line`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list row results of %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.RowResult
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan row result")
		}
		var rr model.RowResult
		if err := json.Unmarshal([]byte(raw), &rr); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal row result")
		}
		out = append(out, rr)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list row results iterate")
}

// helpers

func checkRowsAffected(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var statsJSON string
	var batchStatus string

	err := row.Scan(&r.ID, &r.Source, &r.Status, &batchStatus, &r.TotalRows, &statsJSON, &r.Cancelled, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	r.BatchStatus = model.BatchStatus(batchStatus)

	if err := json.Unmarshal([]byte(statsJSON), &r.Stats); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal stats")
	}
	return &r, nil
}
