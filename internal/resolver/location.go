package resolver

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/b2b-sync/internal/model"
	"github.com/sells-group/b2b-sync/internal/remote"
)

type locationResult struct {
	location *model.Location
	outcome  model.Outcome
}

// ResolveLocation finds the company location with external id in.ExternalID
// and refreshes it, or creates it. When the key is the first-location key
// and the company still has its unnamed default location, that location is
// adopted in place instead of creating a second one.
//
// The outcome is OutcomeFound, OutcomeCreated or OutcomeAdoptedDefault.
func (r *Resolver) ResolveLocation(ctx context.Context, companyID string, in model.LocationInput) (*model.Location, model.Outcome, error) {
	if companyID == "" {
		return nil, model.OutcomeNone, eris.New("resolver: company id is required")
	}
	if in.ExternalID == "" {
		return nil, model.OutcomeNone, eris.New("resolver: location external id is required")
	}
	unlock := r.locks.Lock("location:" + companyID + "|" + in.ExternalID)
	defer unlock()

	res, err := withRetry(ctx, r, "resolve_location", func(ctx context.Context) (locationResult, error) {
		existing, err := r.findLocation(ctx, companyID, in.ExternalID)
		if err != nil {
			return locationResult{}, err
		}
		if existing != nil {
			return r.updateLocation(ctx, existing.ID, in, model.OutcomeFound)
		}

		if in.ExternalID == r.firstLocationKey {
			def, err := guard(ctx, r, func(ctx context.Context) (*model.Location, error) {
				return r.store.FindDefaultLocation(ctx, companyID)
			})
			if err != nil {
				return locationResult{}, eris.Wrap(err, "resolver: find default location")
			}
			if def != nil {
				logger(ctx).Debug("resolver: adopting default location",
					zap.String("company_id", companyID),
					zap.String("location_id", def.ID),
				)
				return r.updateLocation(ctx, def.ID, in, model.OutcomeAdoptedDefault)
			}
		}

		created, err := guard(ctx, r, func(ctx context.Context) (*model.Location, error) {
			return r.store.CreateLocation(ctx, companyID, in)
		})
		if remote.IsConflict(err, remote.ConflictLocationExists) {
			existing, err = r.findLocation(ctx, companyID, in.ExternalID)
			if err != nil {
				return locationResult{}, err
			}
			if existing == nil {
				return locationResult{}, eris.Errorf("resolver: location %s reported as existing but not found", in.ExternalID)
			}
			return r.updateLocation(ctx, existing.ID, in, model.OutcomeFound)
		}
		if err != nil {
			return locationResult{}, eris.Wrap(err, "resolver: create location")
		}
		return locationResult{location: created, outcome: model.OutcomeCreated}, nil
	})
	if err != nil {
		return nil, model.OutcomeNone, err
	}
	return res.location, res.outcome, nil
}

func (r *Resolver) findLocation(ctx context.Context, companyID, externalID string) (*model.Location, error) {
	l, err := guard(ctx, r, func(ctx context.Context) (*model.Location, error) {
		return r.store.FindLocationByExternalID(ctx, companyID, externalID)
	})
	if err != nil {
		return nil, eris.Wrap(err, "resolver: find location")
	}
	return l, nil
}

func (r *Resolver) updateLocation(ctx context.Context, id string, in model.LocationInput, outcome model.Outcome) (locationResult, error) {
	updated, err := guard(ctx, r, func(ctx context.Context) (*model.Location, error) {
		return r.store.UpdateLocation(ctx, id, in)
	})
	if err != nil {
		return locationResult{}, eris.Wrapf(err, "resolver: update location %s", id)
	}
	return locationResult{location: updated, outcome: outcome}, nil
}
