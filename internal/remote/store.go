// Package remote defines the Remote Entity Store boundary: the operations
// the reconciliation core needs from the system of record, and the failure
// classes those operations surface.
package remote

import (
	"context"

	"github.com/sells-group/b2b-sync/internal/model"
)

// Store is the remote system of record for companies, customers, contacts,
// locations and role assignments. Find methods return (nil, nil) when the
// entity does not exist.
type Store interface {
	FindCompanyByExternalID(ctx context.Context, externalID string) (*model.Company, error)
	CreateCompany(ctx context.Context, in model.CompanyInput) (*model.Company, error)
	UpdateCompany(ctx context.Context, id string, in model.CompanyInput) (*model.Company, error)

	FindCustomerByEmail(ctx context.Context, email string) (*model.Customer, error)
	// CreateCompanyContact creates a customer and its contact for companyID
	// in one operation.
	CreateCompanyContact(ctx context.Context, companyID string, in model.CustomerInput) (*model.Contact, error)
	// AssociateCustomerWithCompany links an existing customer to companyID.
	// It fails with a ConflictLinkedElsewhere ConflictError when the customer
	// already belongs to another company.
	AssociateCustomerWithCompany(ctx context.Context, companyID, customerID string) (*model.Contact, error)
	FindCompanyContact(ctx context.Context, companyID, customerID string) (*model.Contact, error)

	FindLocationByExternalID(ctx context.Context, companyID, externalID string) (*model.Location, error)
	// FindDefaultLocation returns the company's location with an empty
	// external id, if any.
	FindDefaultLocation(ctx context.Context, companyID string) (*model.Location, error)
	CreateLocation(ctx context.Context, companyID string, in model.LocationInput) (*model.Location, error)
	UpdateLocation(ctx context.Context, id string, in model.LocationInput) (*model.Location, error)

	IsAssigned(ctx context.Context, contactID, locationID string) (bool, error)
	// CreateRoleAssignment fails with a ConflictAlreadyAssigned ConflictError
	// when the (contact, location) pair already has an assignment.
	CreateRoleAssignment(ctx context.Context, contactID, roleID, locationID string) (*model.RoleAssignment, error)
	GetOrCreateContactRole(ctx context.Context, companyID, roleName string) (*model.Role, error)
}
