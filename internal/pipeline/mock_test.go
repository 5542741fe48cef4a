package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/b2b-sync/internal/model"
	"github.com/sells-group/b2b-sync/internal/resolver"
)

// --- Resolver Mock ---

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) ResolveCompany(ctx context.Context, in model.CompanyInput) (*model.Company, bool, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*model.Company), args.Bool(1), args.Error(2)
}

func (m *mockResolver) ResolveCustomerAndContact(ctx context.Context, companyID string, in model.CustomerInput) (resolver.ContactResult, error) {
	args := m.Called(ctx, companyID, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(resolver.ContactResult), args.Error(1)
}

func (m *mockResolver) ResolveLocation(ctx context.Context, companyID string, in model.LocationInput) (*model.Location, model.Outcome, error) {
	args := m.Called(ctx, companyID, in)
	if args.Get(0) == nil {
		return nil, args.Get(1).(model.Outcome), args.Error(2)
	}
	return args.Get(0).(*model.Location), args.Get(1).(model.Outcome), args.Error(2)
}

func (m *mockResolver) ResolveRoleAssignment(ctx context.Context, companyID, contactID, locationID, roleName string) (*model.RoleAssignment, error) {
	args := m.Called(ctx, companyID, contactID, locationID, roleName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.RoleAssignment), args.Error(1)
}
