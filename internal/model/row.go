package model

// Canonical field names used as RawRecord keys.
const (
	FieldCompanyKey        = "company_key"
	FieldCompanyName       = "company_name"
	FieldLocationKey       = "location_key"
	FieldLocationName      = "location_name"
	FieldStreet            = "street"
	FieldCity              = "city"
	FieldRegion            = "region"
	FieldPostal            = "postal"
	FieldCountry           = "country"
	FieldCustomerEmail     = "customer_email"
	FieldCustomerFirstName = "customer_first_name"
	FieldCustomerLastName  = "customer_last_name"
	FieldCustomerRole      = "customer_role"
	FieldPriceTier         = "price_tier"
	FieldPaymentTerms      = "payment_terms"
	FieldCurrencyCode      = "currency_code"
	FieldSalesRep          = "sales_rep"
	FieldTaxNotes          = "tax_notes"
)

// RawRecord is one source row keyed by canonical field name, before
// validation. Line is the 1-based row number in the source sheet.
type RawRecord struct {
	Line   int               `json:"line"`
	Fields map[string]string `json:"fields"`
}

// Get returns the raw value for a canonical field, or "" when absent.
func (r RawRecord) Get(field string) string {
	if r.Fields == nil {
		return ""
	}
	return r.Fields[field]
}

// SourceRow is a validated, normalized row: the unit of work of a sync.
type SourceRow struct {
	Line         int     `json:"line"`
	CompanyKey   string  `json:"company_key"`
	CompanyName  string  `json:"company_name"`
	LocationKey  string  `json:"location_key"`
	LocationName string  `json:"location_name,omitempty"`
	Address      Address `json:"address"`

	CustomerEmail     string `json:"customer_email"`
	CustomerFirstName string `json:"customer_first_name"`
	CustomerLastName  string `json:"customer_last_name"`
	CustomerRole      string `json:"customer_role"`

	PriceTier    string `json:"price_tier,omitempty"`
	PaymentTerms string `json:"payment_terms,omitempty"`
	CurrencyCode string `json:"currency_code"`
	SalesRep     string `json:"sales_rep,omitempty"`
	TaxNotes     string `json:"tax_notes,omitempty"`

	DuplicateWithinBatch bool `json:"duplicate_within_batch,omitempty"`
}

// CompositeKey identifies a row within a batch.
func (r SourceRow) CompositeKey() string {
	return r.CompanyKey + "|" + r.LocationKey
}

// CompanyInput returns the company fields carried by the row.
func (r SourceRow) CompanyInput() CompanyInput {
	return CompanyInput{
		ExternalID: r.CompanyKey,
		Name:       r.CompanyName,
		SalesRep:   r.SalesRep,
		PriceTier:  r.PriceTier,
	}
}

// CustomerInput returns the customer fields carried by the row.
func (r SourceRow) CustomerInput() CustomerInput {
	return CustomerInput{
		Email:     r.CustomerEmail,
		FirstName: r.CustomerFirstName,
		LastName:  r.CustomerLastName,
	}
}

// LocationInput returns the location fields carried by the row. Rows
// without a location name fall back to the company name.
func (r SourceRow) LocationInput() LocationInput {
	name := r.LocationName
	if name == "" {
		name = r.CompanyName
	}
	return LocationInput{
		ExternalID:   r.LocationKey,
		Name:         name,
		Address:      r.Address,
		CurrencyCode: r.CurrencyCode,
		PaymentTerms: r.PaymentTerms,
		TaxNotes:     r.TaxNotes,
	}
}
