package model

// Company is the remote company record. ExternalID carries the sheet's company key.
type Company struct {
	ID         string `json:"id"`
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
	SalesRep   string `json:"sales_rep,omitempty"`
	PriceTier  string `json:"price_tier,omitempty"`
}

// CompanyInput is the writable subset of a Company.
type CompanyInput struct {
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
	SalesRep   string `json:"sales_rep,omitempty"`
	PriceTier  string `json:"price_tier,omitempty"`
}

// Customer is a remote customer, unique by email.
type Customer struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// CustomerInput is the data needed to create a customer.
type CustomerInput struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Contact links a Customer to a Company. At most one exists per pair.
type Contact struct {
	ID         string `json:"id"`
	CompanyID  string `json:"company_id"`
	CustomerID string `json:"customer_id"`
}

// Address is a postal address attached to a company location.
type Address struct {
	Street  string `json:"street,omitempty"`
	City    string `json:"city,omitempty"`
	Region  string `json:"region,omitempty"`
	Postal  string `json:"postal,omitempty"`
	Country string `json:"country,omitempty"`
}

// Location is a company location. The default location created alongside
// a new company has an empty ExternalID.
type Location struct {
	ID           string  `json:"id"`
	CompanyID    string  `json:"company_id"`
	ExternalID   string  `json:"external_id"`
	Name         string  `json:"name"`
	Address      Address `json:"address"`
	CurrencyCode string  `json:"currency_code,omitempty"`
	PaymentTerms string  `json:"payment_terms,omitempty"`
	TaxNotes     string  `json:"tax_notes,omitempty"`
}

// LocationInput is the writable subset of a Location.
type LocationInput struct {
	ExternalID   string  `json:"external_id"`
	Name         string  `json:"name"`
	Address      Address `json:"address"`
	CurrencyCode string  `json:"currency_code,omitempty"`
	PaymentTerms string  `json:"payment_terms,omitempty"`
	TaxNotes     string  `json:"tax_notes,omitempty"`
}

// Role is a company contact role such as ADMIN or MEMBER.
type Role struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RoleAssignment grants a contact a role at one location.
type RoleAssignment struct {
	ID         string `json:"id"`
	ContactID  string `json:"contact_id"`
	LocationID string `json:"location_id"`
	RoleID     string `json:"role_id"`
}
