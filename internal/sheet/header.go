package sheet

import (
	"strings"
	"unicode"

	"github.com/rotisserie/eris"

	"github.com/sells-group/b2b-sync/internal/model"
)

// aliases maps normalized header labels to canonical fields.
var aliases = map[string]string{
	"companykey":         model.FieldCompanyKey,
	"companyid":          model.FieldCompanyKey,
	"externalcompanyid":  model.FieldCompanyKey,
	"companyexternalid":  model.FieldCompanyKey,
	"customernumber":     model.FieldCompanyKey,
	"accountnumber":      model.FieldCompanyKey,
	"companyname":        model.FieldCompanyName,
	"company":            model.FieldCompanyName,
	"accountname":        model.FieldCompanyName,
	"locationkey":        model.FieldLocationKey,
	"locationid":         model.FieldLocationKey,
	"locationexternalid": model.FieldLocationKey,
	"externallocationid": model.FieldLocationKey,
	"shiptoid":           model.FieldLocationKey,
	"locationname":       model.FieldLocationName,
	"location":           model.FieldLocationName,
	"shiptoname":         model.FieldLocationName,
	"street":             model.FieldStreet,
	"address":            model.FieldStreet,
	"address1":           model.FieldStreet,
	"streetaddress":      model.FieldStreet,
	"city":               model.FieldCity,
	"region":             model.FieldRegion,
	"state":              model.FieldRegion,
	"province":           model.FieldRegion,
	"postal":             model.FieldPostal,
	"postalcode":         model.FieldPostal,
	"zip":                model.FieldPostal,
	"zipcode":            model.FieldPostal,
	"country":            model.FieldCountry,
	"countrycode":        model.FieldCountry,
	"customeremail":      model.FieldCustomerEmail,
	"email":              model.FieldCustomerEmail,
	"contactemail":       model.FieldCustomerEmail,
	"customerfirstname":  model.FieldCustomerFirstName,
	"firstname":          model.FieldCustomerFirstName,
	"contactfirstname":   model.FieldCustomerFirstName,
	"customerlastname":   model.FieldCustomerLastName,
	"lastname":           model.FieldCustomerLastName,
	"contactlastname":    model.FieldCustomerLastName,
	"customerrole":       model.FieldCustomerRole,
	"role":               model.FieldCustomerRole,
	"contactrole":        model.FieldCustomerRole,
	"pricetier":          model.FieldPriceTier,
	"pricelevel":         model.FieldPriceTier,
	"paymentterms":       model.FieldPaymentTerms,
	"terms":              model.FieldPaymentTerms,
	"currencycode":       model.FieldCurrencyCode,
	"currency":           model.FieldCurrencyCode,
	"salesrep":           model.FieldSalesRep,
	"accountmanager":     model.FieldSalesRep,
	"taxnotes":           model.FieldTaxNotes,
	"taxexemption":       model.FieldTaxNotes,
}

// normalizeLabel folds case and drops everything but letters and digits,
// so "Company ID", "company_id" and "COMPANY-ID" compare equal.
func normalizeLabel(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// mapHeader returns column index to canonical field. Overrides win over
// aliases. Unknown columns are ignored; a canonical field claimed by two
// columns is an error.
func mapHeader(header []string, overrides map[string]string) (map[int]string, error) {
	byLabel := make(map[string]string, len(aliases)+len(overrides))
	for label, field := range aliases {
		byLabel[label] = field
	}
	overridden := make(map[string]bool, len(overrides))
	for field, label := range overrides {
		byLabel[normalizeLabel(label)] = field
		overridden[field] = true
	}

	columns := make(map[int]string)
	seen := make(map[string]int)
	for idx, raw := range header {
		label := normalizeLabel(raw)
		if label == "" {
			continue
		}
		field, ok := byLabel[label]
		if !ok {
			continue
		}
		// An alias hit for a field that has an explicit override column is
		// ignored so the override alone decides.
		if overridden[field] && normalizeLabel(overrides[field]) != label {
			continue
		}
		if prev, dup := seen[field]; dup {
			return nil, eris.Errorf("columns %d and %d both map to %s", prev+1, idx+1, field)
		}
		seen[field] = idx
		columns[idx] = field
	}

	if len(columns) == 0 {
		return nil, eris.New("header row has no recognized columns")
	}
	return columns, nil
}
