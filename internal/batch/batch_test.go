package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/b2b-sync/internal/model"
	"github.com/sells-group/b2b-sync/internal/pipeline"
	"github.com/sells-group/b2b-sync/internal/remote/memstore"
	"github.com/sells-group/b2b-sync/internal/resilience"
	"github.com/sells-group/b2b-sync/internal/resolver"
	"github.com/sells-group/b2b-sync/internal/validate"
)

func raw(line int, companyKey, locationKey, email string) model.RawRecord {
	return model.RawRecord{Line: line, Fields: map[string]string{
		model.FieldCompanyKey:        companyKey,
		model.FieldCompanyName:       "Company " + companyKey,
		model.FieldLocationKey:       locationKey,
		model.FieldCustomerEmail:     email,
		model.FieldCustomerFirstName: "First",
		model.FieldCustomerLastName:  "Last",
	}}
}

func newCoordinator(s *memstore.Store, opts Options) *Coordinator {
	r := resolver.New(s, resolver.WithRetry(resilience.RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	}))
	return New(validate.New(validate.DefaultDefaults()), pipeline.New(r), opts)
}

func sampleBatch() []model.RawRecord {
	return []model.RawRecord{
		raw(2, "C1", "1", "a@c1.com"),
		raw(3, "C1", "L2", "b@c1.com"),
		raw(4, "C2", "1", "a@c2.com"),
		raw(5, "C2", "L9", "a@c2.com"),
	}
}

func TestRunBatch_ConcreteScenario(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	c := newCoordinator(s, Options{})

	rows := []model.RawRecord{{Line: 2, Fields: map[string]string{
		model.FieldCompanyKey:        "COMP001",
		model.FieldCompanyName:       "Acme Inc",
		model.FieldLocationKey:       "LOC001",
		model.FieldCustomerEmail:     "JOHN@ACME.COM",
		model.FieldCustomerFirstName: "John",
		model.FieldCustomerLastName:  "Doe",
		model.FieldCustomerRole:      "admin",
	}}}

	first, err := c.RunBatch(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, model.BatchSuccess, first.Status)
	assert.Equal(t, 1, first.Stats.CompaniesCreated)
	assert.Equal(t, 1, first.Stats.CustomersCreated)
	assert.Equal(t, 1, first.Stats.ContactsLinked)
	assert.Equal(t, 1, first.Stats.LocationsCreated)
	assert.Equal(t, 1, first.Stats.AssignmentsCreated)

	cust, err := s.FindCustomerByEmail(ctx, "john@acme.com")
	require.NoError(t, err)
	require.NotNil(t, cust)
	assert.Equal(t, "john@acme.com", cust.Email)

	second, err := c.RunBatch(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Stats.CompaniesFound)
	assert.Equal(t, 1, second.Stats.CustomersFound)
	assert.Equal(t, 1, second.Stats.LocationsFound)
	assert.Equal(t, 0, second.Stats.AssignmentsCreated)
	assert.Equal(t, 1, second.Stats.AssignmentsExisting)
	require.Len(t, second.Rows, 1)
	assert.Equal(t, model.OutcomeAlreadyAssigned, second.Rows[0].Assignment)
}

func TestRunBatch_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	c := newCoordinator(s, Options{Concurrency: 2})

	first, err := c.RunBatch(ctx, sampleBatch())
	require.NoError(t, err)
	require.Equal(t, model.BatchSuccess, first.Status)
	countsAfterFirst := s.Counts()

	second, err := c.RunBatch(ctx, sampleBatch())
	require.NoError(t, err)
	assert.Equal(t, countsAfterFirst, s.Counts())

	assert.Zero(t, second.Stats.CompaniesCreated)
	assert.Zero(t, second.Stats.CustomersCreated)
	assert.Zero(t, second.Stats.LocationsCreated)
	assert.Zero(t, second.Stats.AssignmentsCreated)
	assert.Equal(t, first.Stats.CompaniesCreated, second.Stats.CompaniesFound-(first.Stats.CompaniesFound))
	assert.Equal(t, first.Stats.CustomersCreated, second.Stats.CustomersFound-first.Stats.CustomersFound)
	assert.Equal(t, first.Stats.LocationsCreated, second.Stats.LocationsFound-first.Stats.LocationsFound)
}

func TestRunBatch_RowIsolation(t *testing.T) {
	s := memstore.New()
	s.FailFor(memstore.OpCreateCompany, "C2", errors.New("malformed response"))
	c := newCoordinator(s, Options{})

	res, err := c.RunBatch(context.Background(), []model.RawRecord{
		raw(2, "C1", "L1", "a@c1.com"),
		raw(3, "C2", "L1", "a@c2.com"),
		raw(4, "C3", "L1", "a@c3.com"),
	})
	require.NoError(t, err)
	assert.Equal(t, model.BatchPartial, res.Status)
	assert.Equal(t, 1, res.Stats.RowsFailed)
	assert.Equal(t, 2, res.Stats.RowsProcessed)

	require.Len(t, res.Rows, 3)
	assert.Equal(t, model.RowStateDone, res.Rows[0].State)
	assert.Equal(t, model.RowStateFailed, res.Rows[1].State)
	assert.Equal(t, model.RowStateDone, res.Rows[2].State)

	failed := res.FailedRows()
	require.Len(t, failed, 1)
	assert.Equal(t, 3, failed[0].Line)
	assert.Contains(t, failed[0].Error, "stage company")
}

func TestRunBatch_ConflictHandling(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	c := newCoordinator(s, Options{})

	_, err := c.RunBatch(ctx, []model.RawRecord{raw(2, "C1", "L1", "shared@x.com")})
	require.NoError(t, err)

	res, err := c.RunBatch(ctx, []model.RawRecord{raw(2, "C2", "L1", "shared@x.com")})
	require.NoError(t, err)
	assert.Equal(t, model.BatchSuccess, res.Status)
	assert.Zero(t, res.Stats.AssignmentsCreated)
	assert.Equal(t, 1, res.Stats.ContactsUnassignable)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, model.RowStateDone, res.Rows[0].State)
	assert.Equal(t, model.OutcomeSkipped, res.Rows[0].Assignment)
	assert.Len(t, s.Assignments(), 1)
}

func TestRunBatch_PreflightDuplicateMakesNoCalls(t *testing.T) {
	s := memstore.New()
	c := newCoordinator(s, Options{})

	res, err := c.RunBatch(context.Background(), []model.RawRecord{
		raw(2, "C1", "L1", "a@c1.com"),
		raw(3, "C1", "L1", "b@c1.com"),
	})
	require.Error(t, err)

	var be *validate.BatchError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, model.BatchFailed, res.Status)
	require.Len(t, res.ValidationErrors, 1)
	assert.Equal(t, 3, res.ValidationErrors[0].Line)
	assert.Zero(t, s.TotalCalls())
}

func TestRunBatch_PreflightMissingFieldMakesNoCalls(t *testing.T) {
	s := memstore.New()
	c := newCoordinator(s, Options{})

	bad := raw(3, "C2", "L1", "not-an-email")
	res, err := c.RunBatch(context.Background(), []model.RawRecord{raw(2, "C1", "L1", "a@c1.com"), bad})
	require.Error(t, err)
	assert.Equal(t, model.BatchFailed, res.Status)
	assert.Empty(t, res.Rows)
	assert.Zero(t, s.TotalCalls())
}

func TestRunBatch_DefaultLocationReuse(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	c := newCoordinator(s, Options{})

	res, err := c.RunBatch(ctx, []model.RawRecord{raw(2, "C1", "1", "a@c1.com")})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.LocationsCreated)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, model.OutcomeAdoptedDefault, res.Rows[0].Location)

	company, err := s.FindCompanyByExternalID(ctx, "C1")
	require.NoError(t, err)
	locs := s.Locations(company.ID)
	require.Len(t, locs, 1)
	assert.Equal(t, "1", locs[0].ExternalID)
}

func TestRunBatch_ConcurrentRowsShareCompany(t *testing.T) {
	s := memstore.New(memstore.WithLatency(time.Millisecond))
	c := newCoordinator(s, Options{Concurrency: 8})

	var raws []model.RawRecord
	for i := range 20 {
		raws = append(raws, raw(i+2, "SHARED", fmt.Sprintf("L%d", i), fmt.Sprintf("u%d@shared.com", i%5)))
	}
	res, err := c.RunBatch(context.Background(), raws)
	require.NoError(t, err)
	assert.Equal(t, model.BatchSuccess, res.Status)
	assert.Equal(t, 1, res.Stats.CompaniesCreated)
	assert.Equal(t, 19, res.Stats.CompaniesFound)
	assert.Equal(t, 5, res.Stats.CustomersCreated)

	counts := s.Counts()
	assert.Equal(t, 1, counts.Companies)
	assert.Equal(t, 5, counts.Customers)
	assert.Equal(t, 5, counts.Contacts)
	assert.Equal(t, 21, counts.Locations, "20 keyed locations plus the unadopted default")
	assert.Equal(t, 20, counts.Assignments)

	for i, row := range res.Rows {
		assert.Equal(t, i+2, row.Line, "rows are reported in sheet order")
	}
}

type runnerFunc func(ctx context.Context, row model.SourceRow) (model.RowResult, error)

func (f runnerFunc) Run(ctx context.Context, row model.SourceRow) (model.RowResult, error) {
	return f(ctx, row)
}

func doneRow(row model.SourceRow) model.RowResult {
	return model.RowResult{Line: row.Line, CompositeKey: row.CompositeKey(), State: model.RowStateDone}
}

func TestRunBatch_CancelBetweenRows(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var seen []int
	runner := runnerFunc(func(rowCtx context.Context, row model.SourceRow) (model.RowResult, error) {
		seen = append(seen, row.Line)
		cancel()
		assert.NoError(t, rowCtx.Err(), "the row in flight is not cancelled")
		return doneRow(row), nil
	})
	c := New(validate.New(validate.DefaultDefaults()), runner, Options{Concurrency: 1})

	res, err := c.RunBatch(ctx, sampleBatch())
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Equal(t, 3, res.Skipped)
	assert.Equal(t, []int{2}, seen)
	assert.Equal(t, 1, res.Stats.RowsProcessed)
	assert.Equal(t, model.BatchPartial, res.Status)
}

func TestRunBatch_CancelledBeforeStart(t *testing.T) {
	s := memstore.New()
	c := newCoordinator(s, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := c.RunBatch(ctx, sampleBatch())
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Equal(t, 4, res.Skipped)
	assert.Equal(t, model.BatchFailed, res.Status)
	assert.Zero(t, s.TotalCalls())
}

func TestRunBatch_Recorder(t *testing.T) {
	var mu sync.Mutex
	var recorded []int
	rec := RecorderFunc(func(_ context.Context, row model.RowResult) error {
		mu.Lock()
		defer mu.Unlock()
		recorded = append(recorded, row.Line)
		return errors.New("ledger unavailable")
	})
	c := newCoordinator(memstore.New(), Options{Concurrency: 2, Recorder: rec})

	res, err := c.RunBatch(context.Background(), sampleBatch())
	require.NoError(t, err, "recorder failures are logged, not fatal")
	assert.Equal(t, model.BatchSuccess, res.Status)
	assert.ElementsMatch(t, []int{2, 3, 4, 5}, recorded)
}

func TestRunBatch_DryRun(t *testing.T) {
	s := memstore.New()
	c := newCoordinator(s, Options{DryRun: true})

	res, err := c.RunBatch(context.Background(), sampleBatch())
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Equal(t, model.BatchSuccess, res.Status)
	assert.Equal(t, 4, res.Total)
	assert.Zero(t, s.TotalCalls())
}

func TestRunBatch_Empty(t *testing.T) {
	c := newCoordinator(memstore.New(), Options{})
	res, err := c.RunBatch(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyBatch)
	assert.Equal(t, model.BatchFailed, res.Status)
}

func TestRunBatch_AllRowsFail(t *testing.T) {
	s := memstore.New()
	s.FailOn(memstore.OpFindCompany, errors.New("unauthorized"))
	c := newCoordinator(s, Options{})

	res, err := c.RunBatch(context.Background(), sampleBatch())
	require.NoError(t, err)
	assert.Equal(t, model.BatchFailed, res.Status)
	assert.Equal(t, 4, res.Stats.RowsFailed)
}

func TestRunBatch_RunnerErrorWithoutFailedState(t *testing.T) {
	runner := runnerFunc(func(_ context.Context, row model.SourceRow) (model.RowResult, error) {
		return model.RowResult{}, errors.New("boom")
	})
	c := New(validate.New(validate.DefaultDefaults()), runner, Options{})

	res, err := c.RunBatch(context.Background(), sampleBatch()[:1])
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.True(t, res.Rows[0].Failed())
	assert.Equal(t, 2, res.Rows[0].Line)
	assert.Equal(t, "C1|1", res.Rows[0].CompositeKey)
}
