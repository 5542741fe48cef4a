package resolver

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/b2b-sync/internal/model"
	"github.com/sells-group/b2b-sync/internal/remote"
)

// ResolveRoleAssignment gives contactID the named role at locationID.
// It returns (nil, nil) when the pair already has an assignment, including
// when another writer creates it between the check and the create.
func (r *Resolver) ResolveRoleAssignment(ctx context.Context, companyID, contactID, locationID, roleName string) (*model.RoleAssignment, error) {
	if contactID == "" || locationID == "" {
		return nil, eris.New("resolver: contact id and location id are required")
	}
	unlock := r.locks.Lock("assign:" + contactID + "|" + locationID)
	defer unlock()

	return withRetry(ctx, r, "resolve_assignment", func(ctx context.Context) (*model.RoleAssignment, error) {
		assigned, err := guard(ctx, r, func(ctx context.Context) (bool, error) {
			return r.store.IsAssigned(ctx, contactID, locationID)
		})
		if err != nil {
			return nil, eris.Wrap(err, "resolver: check assignment")
		}
		if assigned {
			return nil, nil
		}

		role, err := r.contactRole(ctx, companyID, roleName)
		if err != nil {
			return nil, err
		}

		a, err := guard(ctx, r, func(ctx context.Context) (*model.RoleAssignment, error) {
			return r.store.CreateRoleAssignment(ctx, contactID, role.ID, locationID)
		})
		if remote.IsConflict(err, remote.ConflictAlreadyAssigned) {
			logger(ctx).Debug("resolver: assignment created concurrently",
				zap.String("contact_id", contactID),
				zap.String("location_id", locationID),
			)
			return nil, nil
		}
		if err != nil {
			return nil, eris.Wrap(err, "resolver: create role assignment")
		}
		return a, nil
	})
}

// contactRole looks up a company role by name. Concurrent lookups for the
// same company and role share one store call.
func (r *Resolver) contactRole(ctx context.Context, companyID, roleName string) (*model.Role, error) {
	name := strings.ToUpper(strings.TrimSpace(roleName))
	v, err, _ := r.roles.Do(companyID+"|"+name, func() (any, error) {
		return guard(ctx, r, func(ctx context.Context) (*model.Role, error) {
			return r.store.GetOrCreateContactRole(ctx, companyID, name)
		})
	})
	if err != nil {
		return nil, eris.Wrapf(err, "resolver: contact role %s", name)
	}
	role, _ := v.(*model.Role)
	if role == nil {
		return nil, eris.Errorf("resolver: contact role %s not returned", name)
	}
	return role, nil
}
