// Package memstore is an in-process remote.Store. It enforces the same
// invariants as the hosted store (unique customer email, one company per
// customer, an auto-created default location, one assignment per contact
// and location) and backs offline runs and tests.
package memstore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/b2b-sync/internal/model"
	"github.com/sells-group/b2b-sync/internal/remote"
)

var _ remote.Store = (*Store)(nil)

// Counts is a snapshot of how many entities the store holds.
type Counts struct {
	Companies   int `json:"companies"`
	Customers   int `json:"customers"`
	Contacts    int `json:"contacts"`
	Locations   int `json:"locations"`
	Assignments int `json:"assignments"`
	Roles       int `json:"roles"`
}

// Option configures a Store.
type Option func(*Store)

// WithStrictExternalIDs rejects a second company, or a second location
// within one company, carrying the same external id.
func WithStrictExternalIDs() Option {
	return func(s *Store) { s.strict = true }
}

// WithLatency delays every operation by d, honoring context cancellation.
func WithLatency(d time.Duration) Option {
	return func(s *Store) { s.latency = d }
}

// Store is the in-memory remote store.
type Store struct {
	mu      sync.Mutex
	strict  bool
	latency time.Duration

	companies      map[string]*model.Company
	companyByExtID map[string]string

	customers       map[string]*model.Customer
	customerByEmail map[string]string
	customerCompany map[string]string

	contacts      map[string]*model.Contact
	contactByPair map[string]string

	locations         map[string]*model.Location
	companyLocations  map[string][]string
	assignments       map[string]*model.RoleAssignment
	assignmentByPair  map[string]string
	roles             map[string]*model.Role
	rolesByCompanyKey map[string]string

	faults []*fault
	hooks  map[Op][]func()
	calls  map[Op]int
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		companies:         make(map[string]*model.Company),
		companyByExtID:    make(map[string]string),
		customers:         make(map[string]*model.Customer),
		customerByEmail:   make(map[string]string),
		customerCompany:   make(map[string]string),
		contacts:          make(map[string]*model.Contact),
		contactByPair:     make(map[string]string),
		locations:         make(map[string]*model.Location),
		companyLocations:  make(map[string][]string),
		assignments:       make(map[string]*model.RoleAssignment),
		assignmentByPair:  make(map[string]string),
		roles:             make(map[string]*model.Role),
		rolesByCompanyKey: make(map[string]string),
		hooks:             make(map[Op][]func()),
		calls:             make(map[Op]int),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func newID(kind string) string {
	return "gid://memstore/" + kind + "/" + uuid.NewString()
}

func pairKey(a, b string) string {
	return a + "|" + b
}

// enter runs hooks, latency and fault injection for op, then takes the lock.
// The caller must call s.mu.Unlock.
func (s *Store) enter(ctx context.Context, op Op, key string) error {
	s.mu.Lock()
	s.calls[op]++
	hooks := append([]func(){}, s.hooks[op]...)
	err := s.takeFault(op, key)
	s.mu.Unlock()

	for _, h := range hooks {
		h()
	}
	if s.latency > 0 {
		t := time.NewTimer(s.latency)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	return nil
}

// FindCompanyByExternalID implements remote.Store.
func (s *Store) FindCompanyByExternalID(ctx context.Context, externalID string) (*model.Company, error) {
	if err := s.enter(ctx, OpFindCompany, externalID); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	id, ok := s.companyByExtID[externalID]
	if !ok {
		return nil, nil
	}
	c := *s.companies[id]
	return &c, nil
}

// CreateCompany implements remote.Store. The new company gets a default
// location with no external id.
func (s *Store) CreateCompany(ctx context.Context, in model.CompanyInput) (*model.Company, error) {
	if err := s.enter(ctx, OpCreateCompany, in.ExternalID); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	if in.Name == "" {
		return nil, eris.New("memstore: company name is required")
	}
	if _, taken := s.companyByExtID[in.ExternalID]; taken && s.strict && in.ExternalID != "" {
		return nil, remote.NewConflict(remote.ConflictCompanyExists, "external id %q", in.ExternalID)
	}

	c := &model.Company{
		ID:         newID("Company"),
		ExternalID: in.ExternalID,
		Name:       in.Name,
		SalesRep:   in.SalesRep,
		PriceTier:  in.PriceTier,
	}
	s.companies[c.ID] = c
	if _, taken := s.companyByExtID[in.ExternalID]; !taken && in.ExternalID != "" {
		s.companyByExtID[in.ExternalID] = c.ID
	}

	loc := &model.Location{ID: newID("CompanyLocation"), CompanyID: c.ID, Name: in.Name}
	s.locations[loc.ID] = loc
	s.companyLocations[c.ID] = append(s.companyLocations[c.ID], loc.ID)

	out := *c
	return &out, nil
}

// UpdateCompany implements remote.Store.
func (s *Store) UpdateCompany(ctx context.Context, id string, in model.CompanyInput) (*model.Company, error) {
	if err := s.enter(ctx, OpUpdateCompany, id); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	c, ok := s.companies[id]
	if !ok {
		return nil, eris.Wrapf(remote.ErrNotFound, "memstore: company %s", id)
	}
	if in.Name != "" {
		c.Name = in.Name
	}
	c.SalesRep = in.SalesRep
	c.PriceTier = in.PriceTier
	out := *c
	return &out, nil
}

// FindCustomerByEmail implements remote.Store. Email matching ignores case.
func (s *Store) FindCustomerByEmail(ctx context.Context, email string) (*model.Customer, error) {
	if err := s.enter(ctx, OpFindCustomer, email); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	id, ok := s.customerByEmail[strings.ToLower(email)]
	if !ok {
		return nil, nil
	}
	c := *s.customers[id]
	return &c, nil
}

// CreateCompanyContact implements remote.Store.
func (s *Store) CreateCompanyContact(ctx context.Context, companyID string, in model.CustomerInput) (*model.Contact, error) {
	if err := s.enter(ctx, OpCreateContact, in.Email); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	if _, ok := s.companies[companyID]; !ok {
		return nil, eris.Wrapf(remote.ErrNotFound, "memstore: company %s", companyID)
	}
	email := strings.ToLower(in.Email)
	if _, taken := s.customerByEmail[email]; taken {
		return nil, eris.Errorf("memstore: email %s has already been taken", email)
	}

	cust := &model.Customer{ID: newID("Customer"), Email: email, FirstName: in.FirstName, LastName: in.LastName}
	s.customers[cust.ID] = cust
	s.customerByEmail[email] = cust.ID
	return s.link(companyID, cust.ID), nil
}

// AssociateCustomerWithCompany implements remote.Store.
func (s *Store) AssociateCustomerWithCompany(ctx context.Context, companyID, customerID string) (*model.Contact, error) {
	if err := s.enter(ctx, OpAssociateCustomer, customerID); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	if _, ok := s.companies[companyID]; !ok {
		return nil, eris.Wrapf(remote.ErrNotFound, "memstore: company %s", companyID)
	}
	if _, ok := s.customers[customerID]; !ok {
		return nil, eris.Wrapf(remote.ErrNotFound, "memstore: customer %s", customerID)
	}
	if owner, linked := s.customerCompany[customerID]; linked {
		if owner != companyID {
			return nil, remote.NewConflict(remote.ConflictLinkedElsewhere,
				"customer %s is already associated with company %s", customerID, owner)
		}
		c := *s.contacts[s.contactByPair[pairKey(companyID, customerID)]]
		return &c, nil
	}
	return s.link(companyID, customerID), nil
}

// link creates a contact. Caller holds the lock.
func (s *Store) link(companyID, customerID string) *model.Contact {
	ct := &model.Contact{ID: newID("CompanyContact"), CompanyID: companyID, CustomerID: customerID}
	s.contacts[ct.ID] = ct
	s.contactByPair[pairKey(companyID, customerID)] = ct.ID
	s.customerCompany[customerID] = companyID
	out := *ct
	return &out
}

// FindCompanyContact implements remote.Store.
func (s *Store) FindCompanyContact(ctx context.Context, companyID, customerID string) (*model.Contact, error) {
	if err := s.enter(ctx, OpFindContact, customerID); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	id, ok := s.contactByPair[pairKey(companyID, customerID)]
	if !ok {
		return nil, nil
	}
	c := *s.contacts[id]
	return &c, nil
}

// FindLocationByExternalID implements remote.Store.
func (s *Store) FindLocationByExternalID(ctx context.Context, companyID, externalID string) (*model.Location, error) {
	if err := s.enter(ctx, OpFindLocation, externalID); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	if externalID == "" {
		return nil, nil
	}
	return s.locationWhere(companyID, func(l *model.Location) bool { return l.ExternalID == externalID }), nil
}

// FindDefaultLocation implements remote.Store.
func (s *Store) FindDefaultLocation(ctx context.Context, companyID string) (*model.Location, error) {
	if err := s.enter(ctx, OpFindDefaultLocation, companyID); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	return s.locationWhere(companyID, func(l *model.Location) bool { return l.ExternalID == "" }), nil
}

// locationWhere returns a copy of the company's first matching location.
// Caller holds the lock.
func (s *Store) locationWhere(companyID string, match func(*model.Location) bool) *model.Location {
	for _, id := range s.companyLocations[companyID] {
		if l := s.locations[id]; match(l) {
			out := *l
			return &out
		}
	}
	return nil
}

// CreateLocation implements remote.Store.
func (s *Store) CreateLocation(ctx context.Context, companyID string, in model.LocationInput) (*model.Location, error) {
	if err := s.enter(ctx, OpCreateLocation, in.ExternalID); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	if _, ok := s.companies[companyID]; !ok {
		return nil, eris.Wrapf(remote.ErrNotFound, "memstore: company %s", companyID)
	}
	if err := s.checkLocationExtID(companyID, "", in.ExternalID); err != nil {
		return nil, err
	}
	l := &model.Location{ID: newID("CompanyLocation"), CompanyID: companyID}
	applyLocation(l, in)
	s.locations[l.ID] = l
	s.companyLocations[companyID] = append(s.companyLocations[companyID], l.ID)
	out := *l
	return &out, nil
}

// UpdateLocation implements remote.Store.
func (s *Store) UpdateLocation(ctx context.Context, id string, in model.LocationInput) (*model.Location, error) {
	if err := s.enter(ctx, OpUpdateLocation, id); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	l, ok := s.locations[id]
	if !ok {
		return nil, eris.Wrapf(remote.ErrNotFound, "memstore: location %s", id)
	}
	if err := s.checkLocationExtID(l.CompanyID, id, in.ExternalID); err != nil {
		return nil, err
	}
	applyLocation(l, in)
	out := *l
	return &out, nil
}

func (s *Store) checkLocationExtID(companyID, selfID, externalID string) error {
	if !s.strict || externalID == "" {
		return nil
	}
	for _, id := range s.companyLocations[companyID] {
		if id != selfID && s.locations[id].ExternalID == externalID {
			return remote.NewConflict(remote.ConflictLocationExists, "external id %q", externalID)
		}
	}
	return nil
}

func applyLocation(l *model.Location, in model.LocationInput) {
	l.ExternalID = in.ExternalID
	if in.Name != "" {
		l.Name = in.Name
	}
	l.Address = in.Address
	l.CurrencyCode = in.CurrencyCode
	l.PaymentTerms = in.PaymentTerms
	l.TaxNotes = in.TaxNotes
}

// IsAssigned implements remote.Store.
func (s *Store) IsAssigned(ctx context.Context, contactID, locationID string) (bool, error) {
	if err := s.enter(ctx, OpIsAssigned, pairKey(contactID, locationID)); err != nil {
		return false, err
	}
	defer s.mu.Unlock()

	_, ok := s.assignmentByPair[pairKey(contactID, locationID)]
	return ok, nil
}

// CreateRoleAssignment implements remote.Store.
func (s *Store) CreateRoleAssignment(ctx context.Context, contactID, roleID, locationID string) (*model.RoleAssignment, error) {
	if err := s.enter(ctx, OpCreateAssignment, pairKey(contactID, locationID)); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	if _, ok := s.contacts[contactID]; !ok {
		return nil, eris.Wrapf(remote.ErrNotFound, "memstore: contact %s", contactID)
	}
	if _, ok := s.locations[locationID]; !ok {
		return nil, eris.Wrapf(remote.ErrNotFound, "memstore: location %s", locationID)
	}
	if _, ok := s.roles[roleID]; !ok {
		return nil, eris.Wrapf(remote.ErrNotFound, "memstore: role %s", roleID)
	}
	key := pairKey(contactID, locationID)
	if _, dup := s.assignmentByPair[key]; dup {
		return nil, remote.NewConflict(remote.ConflictAlreadyAssigned,
			"contact %s already has a role at location %s", contactID, locationID)
	}
	a := &model.RoleAssignment{ID: newID("CompanyContactRoleAssignment"), ContactID: contactID, LocationID: locationID, RoleID: roleID}
	s.assignments[a.ID] = a
	s.assignmentByPair[key] = a.ID
	out := *a
	return &out, nil
}

// GetOrCreateContactRole implements remote.Store. Role names compare
// case-insensitively.
func (s *Store) GetOrCreateContactRole(ctx context.Context, companyID, roleName string) (*model.Role, error) {
	if err := s.enter(ctx, OpGetOrCreateRole, pairKey(companyID, roleName)); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	if _, ok := s.companies[companyID]; !ok {
		return nil, eris.Wrapf(remote.ErrNotFound, "memstore: company %s", companyID)
	}
	name := strings.ToUpper(strings.TrimSpace(roleName))
	if name == "" {
		return nil, eris.New("memstore: role name is required")
	}
	key := pairKey(companyID, name)
	if id, ok := s.rolesByCompanyKey[key]; ok {
		r := *s.roles[id]
		return &r, nil
	}
	r := &model.Role{ID: newID("CompanyContactRole"), Name: name}
	s.roles[r.ID] = r
	s.rolesByCompanyKey[key] = r.ID
	out := *r
	return &out, nil
}

// Counts returns the number of stored entities.
func (s *Store) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Counts{
		Companies:   len(s.companies),
		Customers:   len(s.customers),
		Contacts:    len(s.contacts),
		Locations:   len(s.locations),
		Assignments: len(s.assignments),
		Roles:       len(s.roles),
	}
}

// Locations returns copies of a company's locations in creation order.
func (s *Store) Locations(companyID string) []model.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Location, 0, len(s.companyLocations[companyID]))
	for _, id := range s.companyLocations[companyID] {
		out = append(out, *s.locations[id])
	}
	return out
}

// Assignments returns copies of every role assignment.
func (s *Store) Assignments() []model.RoleAssignment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.RoleAssignment, 0, len(s.assignments))
	for _, a := range s.assignments {
		out = append(out, *a)
	}
	return out
}

// SeedCustomer adds a customer with no company link, as left behind by a
// storefront signup.
func (s *Store) SeedCustomer(in model.CustomerInput) *model.Customer {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(in.Email)
	c := &model.Customer{ID: newID("Customer"), Email: email, FirstName: in.FirstName, LastName: in.LastName}
	s.customers[c.ID] = c
	s.customerByEmail[email] = c.ID
	out := *c
	return &out
}
