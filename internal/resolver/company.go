package resolver

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/b2b-sync/internal/model"
	"github.com/sells-group/b2b-sync/internal/remote"
)

type companyResult struct {
	company *model.Company
	created bool
}

// ResolveCompany finds the company whose external id is in.ExternalID, or
// creates it. A found company has its metadata refreshed from in.
// Returns the company and whether it was newly created.
func (r *Resolver) ResolveCompany(ctx context.Context, in model.CompanyInput) (*model.Company, bool, error) {
	if in.ExternalID == "" {
		return nil, false, eris.New("resolver: company external id is required")
	}
	unlock := r.locks.Lock("company:" + in.ExternalID)
	defer unlock()

	res, err := withRetry(ctx, r, "resolve_company", func(ctx context.Context) (companyResult, error) {
		existing, err := r.findCompany(ctx, in.ExternalID)
		if err != nil {
			return companyResult{}, err
		}
		if existing != nil {
			updated, err := r.refreshCompany(ctx, existing, in)
			return companyResult{company: updated}, err
		}

		created, err := guard(ctx, r, func(ctx context.Context) (*model.Company, error) {
			return r.store.CreateCompany(ctx, in)
		})
		if remote.IsConflict(err, remote.ConflictCompanyExists) {
			// Another writer created it after our lookup.
			existing, err = r.findCompany(ctx, in.ExternalID)
			if err != nil {
				return companyResult{}, err
			}
			if existing == nil {
				return companyResult{}, eris.Errorf("resolver: company %s reported as existing but not found", in.ExternalID)
			}
			updated, err := r.refreshCompany(ctx, existing, in)
			return companyResult{company: updated}, err
		}
		if err != nil {
			return companyResult{}, eris.Wrap(err, "resolver: create company")
		}
		logger(ctx).Debug("resolver: company created",
			zap.String("company_key", in.ExternalID),
			zap.String("company_id", created.ID),
		)
		return companyResult{company: created, created: true}, nil
	})
	if err != nil {
		return nil, false, err
	}
	return res.company, res.created, nil
}

func (r *Resolver) findCompany(ctx context.Context, externalID string) (*model.Company, error) {
	c, err := guard(ctx, r, func(ctx context.Context) (*model.Company, error) {
		return r.store.FindCompanyByExternalID(ctx, externalID)
	})
	if err != nil {
		return nil, eris.Wrap(err, "resolver: find company")
	}
	return c, nil
}

// refreshCompany re-applies sheet metadata to a found company.
func (r *Resolver) refreshCompany(ctx context.Context, existing *model.Company, in model.CompanyInput) (*model.Company, error) {
	updated, err := guard(ctx, r, func(ctx context.Context) (*model.Company, error) {
		return r.store.UpdateCompany(ctx, existing.ID, in)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "resolver: update company %s", existing.ID)
	}
	logger(ctx).Debug("resolver: company found",
		zap.String("company_key", in.ExternalID),
		zap.String("company_id", existing.ID),
	)
	return updated, nil
}
