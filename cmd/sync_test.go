package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/b2b-sync/internal/batch"
	"github.com/sells-group/b2b-sync/internal/config"
	"github.com/sells-group/b2b-sync/internal/model"
	"github.com/sells-group/b2b-sync/internal/monitoring"
	"github.com/sells-group/b2b-sync/internal/remote/memstore"
	"github.com/sells-group/b2b-sync/internal/store"
	"github.com/sells-group/b2b-sync/internal/validate"
)

const customersCSV = `Company ID,Company Name,Location ID,Email,First Name,Last Name,Role
C1,Acme,1,ann@acme.com,Ann,Lee,ADMIN
C1,Acme,L2,bob@acme.com,Bob,Ray,
C2,Beta,1,cy@beta.com,Cy,Dee,MEMBER
`

func testConfig() *config.Config {
	return &config.Config{
		Sync: config.SyncConfig{
			Concurrency:      2,
			FirstLocationKey: "1",
			DefaultRole:      "MEMBER",
			DefaultCurrency:  "USD",
			DefaultCountry:   "US",
		},
		Retry: config.RetryConfig{
			MaxAttempts:      2,
			InitialBackoffMs: 1,
			MaxBackoffMs:     1,
			Multiplier:       1,
		},
		Source: config.SourceConfig{HeaderRow: 1},
	}
}

func writeSheet(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "customers.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestLedger(t *testing.T) store.Store {
	t.Helper()
	st, err := initStore(context.Background(), config.StoreConfig{
		Driver:      "sqlite",
		DatabaseURL: filepath.Join(t.TempDir(), "ledger.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestLoadSheet(t *testing.T) {
	path := writeSheet(t, customersCSV)

	raws, err := loadSheet(context.Background(), config.SourceConfig{HeaderRow: 1}, path, "")
	require.NoError(t, err)
	require.Len(t, raws, 3)
	assert.Equal(t, 2, raws[0].Line)
	assert.Equal(t, "C1", raws[0].Get(model.FieldCompanyKey))
	assert.Equal(t, "bob@acme.com", raws[1].Get(model.FieldCustomerEmail))
}

func TestLoadSheet_Missing(t *testing.T) {
	_, err := loadSheet(context.Background(), config.SourceConfig{}, filepath.Join(t.TempDir(), "nope.csv"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load sheet")
}

func TestExecuteSync_Offline(t *testing.T) {
	ctx := context.Background()
	c := testConfig()
	path := writeSheet(t, customersCSV)
	raws, err := loadSheet(ctx, c.Source, path, "")
	require.NoError(t, err)

	st := newTestLedger(t)
	rs := memstore.New()

	res, _, err := executeSync(ctx, c, st, rs, path, raws, false)
	require.NoError(t, err)
	assert.Equal(t, model.BatchSuccess, res.Status)
	assert.Equal(t, 3, res.Stats.RowsProcessed)
	assert.Equal(t, 2, res.Stats.CompaniesCreated)
	assert.Equal(t, 3, res.Stats.CustomersCreated)

	counts := rs.Counts()
	assert.Equal(t, 2, counts.Companies)
	assert.Equal(t, 3, counts.Assignments)

	runs, err := st.ListRuns(ctx, store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusComplete, runs[0].Status)
	assert.Equal(t, model.BatchSuccess, runs[0].BatchStatus)
	assert.Equal(t, path, runs[0].Source)

	rows, err := st.ListRowResults(ctx, runs[0].ID, false)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	failed, err := st.ListRowResults(ctx, runs[0].ID, true)
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestExecuteSync_Rerun(t *testing.T) {
	ctx := context.Background()
	c := testConfig()
	path := writeSheet(t, customersCSV)
	raws, err := loadSheet(ctx, c.Source, path, "")
	require.NoError(t, err)

	st := newTestLedger(t)
	rs := memstore.New()

	_, _, err = executeSync(ctx, c, st, rs, path, raws, false)
	require.NoError(t, err)
	before := rs.Counts()

	res, _, err := executeSync(ctx, c, st, rs, path, raws, false)
	require.NoError(t, err)
	assert.Equal(t, model.BatchSuccess, res.Status)
	assert.Zero(t, res.Stats.CompaniesCreated)
	assert.Zero(t, res.Stats.AssignmentsCreated)
	assert.Equal(t, before, rs.Counts())

	runs, err := st.ListRuns(ctx, store.RunFilter{})
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestExecuteSync_ValidationFailure(t *testing.T) {
	ctx := context.Background()
	c := testConfig()
	path := writeSheet(t, customersCSV+"C3,Gamma,1,not-an-email,Dan,Poe,\n")
	raws, err := loadSheet(ctx, c.Source, path, "")
	require.NoError(t, err)

	st := newTestLedger(t)
	rs := memstore.New()

	res, _, err := executeSync(ctx, c, st, rs, path, raws, false)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, model.BatchFailed, res.Status)

	be, ok := asBatchError(err)
	require.True(t, ok)
	require.Len(t, be.Errors, 1)
	assert.Equal(t, 5, be.Errors[0].Line)
	assert.Equal(t, model.FieldCustomerEmail, be.Errors[0].Field)

	// Nothing reached the remote store.
	assert.Zero(t, rs.Counts().Companies)

	runs, err := st.ListRuns(ctx, store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "invalid email format")
}

func TestExecuteSync_DryRun(t *testing.T) {
	ctx := context.Background()
	c := testConfig()
	path := writeSheet(t, customersCSV)
	raws, err := loadSheet(ctx, c.Source, path, "")
	require.NoError(t, err)

	rs := memstore.New()
	res, _, err := executeSync(ctx, c, nil, rs, path, raws, true)
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Equal(t, model.BatchSuccess, res.Status)
	assert.Zero(t, rs.Counts().Companies)
}

func TestExecuteSync_EmptySheet(t *testing.T) {
	st := newTestLedger(t)
	_, _, err := executeSync(context.Background(), testConfig(), st, memstore.New(), "empty.csv", nil, false)
	require.ErrorIs(t, err, batch.ErrEmptyBatch)

	runs, err := st.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusFailed, runs[0].Status)
}

func sampleResult() *batch.Result {
	return &batch.Result{
		Status: model.BatchPartial,
		Total:  2,
		Stats:  model.Stats{RowsProcessed: 1, RowsFailed: 1, CompaniesCreated: 1},
		Rows: []model.RowResult{
			{Line: 2, CompositeKey: "C1|1", State: model.RowStateDone},
			{
				Line: 3, CompositeKey: "C1|L2", State: model.RowStateFailed,
				FailedAt: model.RowStateContactResolved, ErrorClass: "permanent",
				Error: "location create rejected",
			},
		},
		DurationMs: 1500,
	}
}

func TestWriteSummary_Text(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeSummary(&buf, sampleResult(), "text"))

	output := buf.String()
	assert.Contains(t, output, "partial")
	assert.Contains(t, output, "1 created, 0 found")
	assert.Contains(t, output, "1.5s")
	assert.Contains(t, output, "C1|L2")
	assert.Contains(t, output, "location create rejected")
	assert.NotContains(t, output, "Skipped")
}

func TestWriteSummary_ValidationErrors(t *testing.T) {
	res := &batch.Result{
		Status: model.BatchFailed,
		Total:  1,
		ValidationErrors: []validate.FieldError{
			{Line: 4, Field: model.FieldCompanyKey, Message: "blank identifier"},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, writeSummary(&buf, res, ""))
	assert.Contains(t, buf.String(), "blank identifier")
	assert.Contains(t, buf.String(), "FIELD")
}

func TestWriteSummary_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeSummary(&buf, sampleResult(), "json"))

	var decoded batch.Result
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, model.BatchPartial, decoded.Status)
	assert.Len(t, decoded.Rows, 2)
}

func TestWriteSummary_YAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeSummary(&buf, sampleResult(), "yaml"))

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "partial", decoded["status"])
	stats, ok := decoded["stats"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1, stats["rows_failed"])
}

func TestWriteSummary_UnknownFormat(t *testing.T) {
	assert.Error(t, writeSummary(&bytes.Buffer{}, sampleResult(), "xml"))
}

func TestNewResolver_FirstLocationKey(t *testing.T) {
	c := testConfig()
	c.Sync.FirstLocationKey = "HQ"
	r := newResolver(c, memstore.New())
	assert.Equal(t, "HQ", r.FirstLocationKey())
}

func TestNewShopifyStore(t *testing.T) {
	rs := newShopifyStore(config.ShopifyConfig{ShopDomain: "example.myshopify.com", AccessToken: "tok"})
	assert.NotNil(t, rs)
}

func TestAlertOnRun(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var alert monitoring.Alert
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		assert.Equal(t, monitoring.AlertRunAborted, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	ctx := context.Background()
	st := newTestLedger(t)
	_, runID, err := executeSync(ctx, testConfig(), st, memstore.New(), "empty.csv", nil, false)
	require.Error(t, err)
	require.NotEmpty(t, runID)

	a := monitoring.NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	assert.Equal(t, 1, alertOnRun(ctx, a, st, runID))
	assert.Equal(t, int32(1), received.Load())
}

func TestAlertOnRun_Disabled(t *testing.T) {
	st := newTestLedger(t)
	a := monitoring.NewAlerter(config.MonitoringConfig{})
	assert.Zero(t, alertOnRun(context.Background(), a, st, "missing"))
}
