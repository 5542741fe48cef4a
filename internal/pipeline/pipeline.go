// Package pipeline drives one source row through the four ordered stages:
// company, contact, location and role assignment.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/b2b-sync/internal/model"
	"github.com/sells-group/b2b-sync/internal/remote"
	"github.com/sells-group/b2b-sync/internal/resolver"
)

// Resolver is the find-or-create surface the pipeline drives.
type Resolver interface {
	ResolveCompany(ctx context.Context, in model.CompanyInput) (*model.Company, bool, error)
	ResolveCustomerAndContact(ctx context.Context, companyID string, in model.CustomerInput) (resolver.ContactResult, error)
	ResolveLocation(ctx context.Context, companyID string, in model.LocationInput) (*model.Location, model.Outcome, error)
	ResolveRoleAssignment(ctx context.Context, companyID, contactID, locationID, roleName string) (*model.RoleAssignment, error)
}

var _ Resolver = (*resolver.Resolver)(nil)

// ErrDuplicateRow rejects a row flagged as a duplicate composite key.
var ErrDuplicateRow = eris.New("pipeline: duplicate composite key within batch")

// Pipeline runs rows against a Resolver. It holds no per-row state and is
// safe for concurrent use.
type Pipeline struct {
	resolver Resolver
}

// New creates a Pipeline.
func New(r Resolver) *Pipeline {
	return &Pipeline{resolver: r}
}

// Run processes one row. The returned RowResult is always populated; on
// failure its State is FAILED and the error is a *StageError naming the
// stage that failed. Conflicts handled by the resolver never fail a row.
func (p *Pipeline) Run(ctx context.Context, row model.SourceRow) (model.RowResult, error) {
	start := time.Now()
	log := zap.L().With(
		zap.Int("row", row.Line),
		zap.String("company_key", row.CompanyKey),
		zap.String("location_key", row.LocationKey),
	)
	ctx = resolver.WithLogger(ctx, log)

	res := model.RowResult{
		Line:          row.Line,
		CompositeKey:  row.CompositeKey(),
		CustomerEmail: row.CustomerEmail,
		State:         model.RowStateStart,
	}

	advance := func(to model.RowState) {
		log.Debug("pipeline: state transition",
			zap.String("from", string(res.State)),
			zap.String("to", string(to)),
		)
		res.State = to
	}

	fail := func(stage Stage, err error) (model.RowResult, error) {
		se := &StageError{Stage: stage, Err: err}
		res.FailedAt = res.State
		res.State = model.RowStateFailed
		res.Error = se.Error()
		res.ErrorClass = remote.Describe(err)
		res.DurationMs = time.Since(start).Milliseconds()
		log.Error("pipeline: row failed",
			zap.String("stage", string(stage)),
			zap.String("failed_at", string(res.FailedAt)),
			zap.String("company_id", res.CompanyID),
			zap.String("contact_id", res.ContactID),
			zap.String("location_id", res.LocationID),
			zap.String("error_class", res.ErrorClass),
			zap.Error(err),
		)
		return res, se
	}

	if row.DuplicateWithinBatch {
		return fail(StageValidate, ErrDuplicateRow)
	}

	// Stage 1: company.
	company, created, err := p.resolver.ResolveCompany(ctx, row.CompanyInput())
	if err != nil {
		return fail(StageCompany, err)
	}
	res.CompanyID = company.ID
	res.Company = outcome(created)
	advance(model.RowStateCompanyResolved)

	// Stage 2: customer and contact.
	cr, err := p.resolver.ResolveCustomerAndContact(ctx, company.ID, row.CustomerInput())
	if err != nil {
		return fail(StageContact, err)
	}
	unassignable := false
	switch c := cr.(type) {
	case resolver.Linked:
		res.CustomerID = c.Customer.ID
		res.ContactID = c.Contact.ID
		res.Customer = outcome(c.CustomerCreated)
		res.Contact = model.OutcomeExisting
		if c.ContactCreated {
			res.Contact = model.OutcomeLinked
		}
	case resolver.Unassignable:
		unassignable = true
		res.CustomerID = c.Customer.ID
		res.Customer = model.OutcomeFound
		res.Contact = model.OutcomeUnassignable
		log.Warn("pipeline: customer linked to another company, skipping role assignment",
			zap.String("email", row.CustomerEmail),
			zap.String("reason", c.Reason),
		)
	default:
		return fail(StageContact, eris.Errorf("pipeline: unexpected contact result %T", cr))
	}
	advance(model.RowStateContactResolved)

	// Stage 3: location.
	loc, locOutcome, err := p.resolver.ResolveLocation(ctx, company.ID, row.LocationInput())
	if err != nil {
		return fail(StageLocation, err)
	}
	res.LocationID = loc.ID
	res.Location = locOutcome
	advance(model.RowStateLocationResolved)

	// Stage 4: role assignment, skipped for unassignable contacts.
	if unassignable {
		res.Assignment = model.OutcomeSkipped
	} else {
		a, err := p.resolver.ResolveRoleAssignment(ctx, company.ID, res.ContactID, loc.ID, row.CustomerRole)
		if err != nil {
			return fail(StageAssignment, err)
		}
		if a == nil {
			res.Assignment = model.OutcomeAlreadyAssigned
		} else {
			res.AssignmentID = a.ID
			res.Assignment = model.OutcomeCreated
		}
		advance(model.RowStateAssigned)
	}

	advance(model.RowStateDone)
	res.DurationMs = time.Since(start).Milliseconds()
	log.Info("pipeline: row complete",
		zap.String("company", string(res.Company)),
		zap.String("customer", string(res.Customer)),
		zap.String("contact", string(res.Contact)),
		zap.String("location", string(res.Location)),
		zap.String("assignment", string(res.Assignment)),
		zap.Int64("duration_ms", res.DurationMs),
	)
	return res, nil
}

func outcome(created bool) model.Outcome {
	if created {
		return model.OutcomeCreated
	}
	return model.OutcomeFound
}
