package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/b2b-sync/internal/batch"
	"github.com/sells-group/b2b-sync/internal/db"
	"github.com/sells-group/b2b-sync/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

var _ Store = (*PostgresStore)(nil)

const (
	pgRunColumns = `id, source, status, batch_status, total_rows, stats, cancelled, error, created_at, updated_at`

	pgInsertRun   = `INSERT INTO runs (id, source, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`
	pgCompleteRun = `UPDATE runs SET status = $1, batch_status = $2, total_rows = $3, stats = $4, cancelled = $5, updated_at = $6 WHERE id = $7`
	pgFailRun     = `UPDATE runs SET status = $1, batch_status = $2, error = $3, updated_at = $4 WHERE id = $5`
	pgGetRun      = `SELECT ` + pgRunColumns + ` FROM runs WHERE id = $1`
	pgRecordRow   = `INSERT INTO row_results (run_id, line, composite_key, state, failed, result, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run_id, line) DO UPDATE SET
		  composite_key = EXCLUDED.composite_key,
		  state = EXCLUDED.state,
		  failed = EXCLUDED.failed,
		  result = EXCLUDED.result,
		  recorded_at = EXCLUDED.recorded_at`
)

// preparedStatements are prepared on each new connection.
var preparedStatements = map[string]string{
	"insert_run":   pgInsertRun,
	"complete_run": pgCompleteRun,
	"fail_run":     pgFailRun,
	"get_run":      pgGetRun,
	"record_row":   pgRecordRow,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg db.PoolConfig) (*PostgresStore, error) {
	poolCfg.Prepared = preparedStatements
	pool, err := db.Connect(ctx, connString, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	source       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	batch_status TEXT NOT NULL DEFAULT '',
	total_rows   INTEGER NOT NULL DEFAULT 0,
	stats        JSONB NOT NULL DEFAULT '{}'::jsonb,
	cancelled    BOOLEAN NOT NULL DEFAULT false,
	error        TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS row_results (
	run_id        TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	line          INTEGER NOT NULL,
	composite_key TEXT NOT NULL,
	state         TEXT NOT NULL,
	failed        BOOLEAN NOT NULL DEFAULT false,
	result        JSONB NOT NULL,
	recorded_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, line)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_row_results_failed ON row_results(run_id) WHERE failed;
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, source string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx, pgInsertRun, id, source, string(model.RunStatusRunning), now, now)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		Source:    source,
		Status:    model.RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, res *batch.Result) error {
	if res == nil {
		return eris.New("postgres: complete run: nil result")
	}
	statsJSON, err := json.Marshal(res.Stats)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal stats")
	}

	tag, err := s.pool.Exec(ctx, pgCompleteRun,
		string(model.RunStatusComplete), string(res.Status), res.Total, statsJSON, res.Cancelled, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, reason string) error {
	tag, err := s.pool.Exec(ctx, pgFailRun,
		string(model.RunStatusFailed), string(model.BatchFailed), reason, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := scanPgRun(s.pool.QueryRow(ctx, pgGetRun, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + pgRunColumns + ` FROM runs WHERE ($1 = '' OR status = $1) AND ($2 = '' OR batch_status = $2) ORDER BY created_at DESC LIMIT $3 OFFSET $4`

	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	rows, err := s.pool.Query(ctx, query, string(filter.Status), string(filter.BatchStatus), listLimit(filter), offset)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) RecordRow(ctx context.Context, runID string, row model.RowResult) error {
	resultJSON, err := json.Marshal(row)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal row result")
	}
	_, err = s.pool.Exec(ctx, pgRecordRow,
		runID, row.Line, row.CompositeKey, string(row.State), row.Failed(), resultJSON, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: record row %d of run %s", row.Line, runID)
}

func (s *PostgresStore) ListRowResults(ctx context.Context, runID string, onlyFailed bool) ([]model.RowResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT result FROM row_results WHERE run_id = $1 AND (NOT $2 OR failed) ORDER BY line`,
		runID, onlyFailed,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list row results of %s", runID)
	}
	defer rows.Close()

	var out []model.RowResult
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "postgres: scan row result")
		}
		var rr model.RowResult
		if err := json.Unmarshal(raw, &rr); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal row result")
		}
		out = append(out, rr)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list row results iterate")
}

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var statsJSON []byte
	var status, batchStatus string

	err := row.Scan(&r.ID, &r.Source, &status, &batchStatus, &r.TotalRows, &statsJSON, &r.Cancelled, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)
	r.BatchStatus = model.BatchStatus(batchStatus)
	if len(statsJSON) > 0 {
		if err := json.Unmarshal(statsJSON, &r.Stats); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal stats")
		}
	}
	return &r, nil
}
