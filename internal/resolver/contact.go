package resolver

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/b2b-sync/internal/model"
	"github.com/sells-group/b2b-sync/internal/remote"
)

// ContactResult is the outcome of resolving a customer against a company:
// either Linked or Unassignable.
type ContactResult interface {
	contactResult()
}

// Linked means the customer is a contact of the company.
type Linked struct {
	Contact  *model.Contact
	Customer *model.Customer
	// CustomerCreated is true when the customer did not exist before.
	CustomerCreated bool
	// ContactCreated is true when this call formed the company link.
	ContactCreated bool
}

// Unassignable means the customer belongs to a different company and
// cannot be linked. Role assignment must be skipped.
type Unassignable struct {
	Customer *model.Customer
	Reason   string
}

func (Linked) contactResult()       {}
func (Unassignable) contactResult() {}

// ResolveCustomerAndContact finds the customer by email and makes sure it is
// a contact of companyID. A customer already linked to another company
// yields Unassignable with a nil error.
func (r *Resolver) ResolveCustomerAndContact(ctx context.Context, companyID string, in model.CustomerInput) (ContactResult, error) {
	if companyID == "" {
		return nil, eris.New("resolver: company id is required")
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" {
		return nil, eris.New("resolver: customer email is required")
	}
	in.Email = email

	unlock := r.locks.Lock("customer:" + email)
	defer unlock()

	return withRetry(ctx, r, "resolve_contact", func(ctx context.Context) (ContactResult, error) {
		cust, err := guard(ctx, r, func(ctx context.Context) (*model.Customer, error) {
			return r.store.FindCustomerByEmail(ctx, email)
		})
		if err != nil {
			return nil, eris.Wrap(err, "resolver: find customer")
		}

		if cust == nil {
			contact, err := guard(ctx, r, func(ctx context.Context) (*model.Contact, error) {
				return r.store.CreateCompanyContact(ctx, companyID, in)
			})
			if err != nil {
				return nil, eris.Wrap(err, "resolver: create customer contact")
			}
			logger(ctx).Debug("resolver: customer and contact created",
				zap.String("email", email),
				zap.String("contact_id", contact.ID),
			)
			return Linked{
				Contact: contact,
				Customer: &model.Customer{
					ID:        contact.CustomerID,
					Email:     email,
					FirstName: in.FirstName,
					LastName:  in.LastName,
				},
				CustomerCreated: true,
				ContactCreated:  true,
			}, nil
		}

		existing, err := guard(ctx, r, func(ctx context.Context) (*model.Contact, error) {
			return r.store.FindCompanyContact(ctx, companyID, cust.ID)
		})
		if err != nil {
			return nil, eris.Wrap(err, "resolver: find company contact")
		}
		if existing != nil {
			return Linked{Contact: existing, Customer: cust}, nil
		}

		contact, err := guard(ctx, r, func(ctx context.Context) (*model.Contact, error) {
			return r.store.AssociateCustomerWithCompany(ctx, companyID, cust.ID)
		})
		if remote.IsConflict(err, remote.ConflictLinkedElsewhere) {
			logger(ctx).Warn("resolver: customer belongs to another company",
				zap.String("email", email),
				zap.String("customer_id", cust.ID),
				zap.String("company_id", companyID),
			)
			return Unassignable{Customer: cust, Reason: err.Error()}, nil
		}
		if err != nil {
			return nil, eris.Wrap(err, "resolver: associate customer")
		}
		return Linked{Contact: contact, Customer: cust, ContactCreated: true}, nil
	})
}
