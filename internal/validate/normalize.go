// Package validate turns raw sheet records into normalized SourceRows and
// enforces the batch-level pre-flight rules. Nothing here talks to the
// remote store.
package validate

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/b2b-sync/internal/model"
)

var (
	emailRe    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	currencyRe = regexp.MustCompile(`^[A-Z]{3}$`)
)

// Defaults fill optional fields left blank in the sheet.
type Defaults struct {
	Role     string
	Currency string
	Country  string
}

// DefaultDefaults returns the built-in fallbacks.
func DefaultDefaults() Defaults {
	return Defaults{Role: "MEMBER", Currency: "USD", Country: "US"}
}

// Validator normalizes raw records. It is safe for concurrent use.
type Validator struct {
	defaults Defaults
}

// New creates a Validator. Blank fields in d fall back to DefaultDefaults.
func New(d Defaults) *Validator {
	def := DefaultDefaults()
	if strings.TrimSpace(d.Role) == "" {
		d.Role = def.Role
	}
	if strings.TrimSpace(d.Currency) == "" {
		d.Currency = def.Currency
	}
	if strings.TrimSpace(d.Country) == "" {
		d.Country = def.Country
	}
	d.Role = strings.ToUpper(strings.TrimSpace(d.Role))
	d.Currency = strings.ToUpper(strings.TrimSpace(d.Currency))
	d.Country = strings.TrimSpace(d.Country)
	return &Validator{defaults: d}
}

// Defaults returns the effective defaults.
func (v *Validator) Defaults() Defaults {
	return v.defaults
}

// Normalize validates one raw record. It returns the normalized row and
// every field error found; the row is only meaningful when errs is empty.
func (v *Validator) Normalize(raw model.RawRecord) (model.SourceRow, []FieldError) {
	var errs []FieldError
	fail := func(field, value, msg string) {
		errs = append(errs, FieldError{Line: raw.Line, Field: field, Value: value, Message: msg})
	}

	// identifier reads a key column: absent, blank, and separator-bearing
	// values are reported separately.
	identifier := func(field string) string {
		val, ok := raw.Fields[field]
		if !ok {
			fail(field, "", "missing required field")
			return ""
		}
		s := clean(val)
		switch {
		case s == "":
			fail(field, val, "blank identifier")
		case strings.Contains(s, "|"):
			fail(field, s, `identifier must not contain "|"`)
		}
		return s
	}
	required := func(field string) string {
		s := clean(raw.Get(field))
		if s == "" {
			fail(field, "", "missing required field")
		}
		return s
	}

	row := model.SourceRow{Line: raw.Line}
	row.CompanyKey = identifier(model.FieldCompanyKey)
	row.CompanyName = required(model.FieldCompanyName)
	row.LocationKey = identifier(model.FieldLocationKey)
	row.LocationName = clean(raw.Get(model.FieldLocationName))

	row.Address = model.Address{
		Street:  clean(raw.Get(model.FieldStreet)),
		City:    clean(raw.Get(model.FieldCity)),
		Region:  clean(raw.Get(model.FieldRegion)),
		Postal:  clean(raw.Get(model.FieldPostal)),
		Country: orDefault(clean(raw.Get(model.FieldCountry)), v.defaults.Country),
	}

	if email := required(model.FieldCustomerEmail); email != "" {
		email = strings.ToLower(email)
		if !emailRe.MatchString(email) {
			fail(model.FieldCustomerEmail, email, "invalid email format")
		}
		row.CustomerEmail = email
	}
	row.CustomerFirstName = required(model.FieldCustomerFirstName)
	row.CustomerLastName = required(model.FieldCustomerLastName)
	row.CustomerRole = strings.ToUpper(orDefault(clean(raw.Get(model.FieldCustomerRole)), v.defaults.Role))

	row.CurrencyCode = strings.ToUpper(orDefault(clean(raw.Get(model.FieldCurrencyCode)), v.defaults.Currency))
	if !currencyRe.MatchString(row.CurrencyCode) {
		fail(model.FieldCurrencyCode, row.CurrencyCode, "currency code must be three letters")
	}
	row.PriceTier = clean(raw.Get(model.FieldPriceTier))
	row.PaymentTerms = clean(raw.Get(model.FieldPaymentTerms))
	row.SalesRep = clean(raw.Get(model.FieldSalesRep))
	row.TaxNotes = clean(raw.Get(model.FieldTaxNotes))

	return row, errs
}

// NormalizeBatch normalizes every record and runs duplicate detection.
// All rows are returned, duplicates included and marked. The error is a
// *BatchError when any row is invalid.
func (v *Validator) NormalizeBatch(raws []model.RawRecord) ([]model.SourceRow, error) {
	rows := make([]model.SourceRow, 0, len(raws))
	var errs []FieldError
	for _, raw := range raws {
		row, rowErrs := v.Normalize(raw)
		rows = append(rows, row)
		errs = append(errs, rowErrs...)
	}
	errs = append(errs, MarkDuplicates(rows)...)
	if len(errs) > 0 {
		return rows, &BatchError{Errors: errs}
	}
	return rows, nil
}

// MarkDuplicates flags every row whose composite key was already seen
// earlier in the batch and returns one error per repeat. The first
// occurrence is left unmarked.
func MarkDuplicates(rows []model.SourceRow) []FieldError {
	first := make(map[string]int, len(rows))
	var errs []FieldError
	for i := range rows {
		if rows[i].CompanyKey == "" || rows[i].LocationKey == "" {
			continue
		}
		key := rows[i].CompositeKey()
		if line, ok := first[key]; ok {
			rows[i].DuplicateWithinBatch = true
			errs = append(errs, FieldError{
				Line:    rows[i].Line,
				Field:   "composite_key",
				Value:   key,
				Message: fmt.Sprintf("duplicate composite key, first seen on row %d", line),
			})
			continue
		}
		first[key] = rows[i].Line
	}
	return errs
}

// clean trims a cell and folds it to NFC so visually identical keys compare
// equal. Spreadsheet formula quoting (="00123") is unwrapped.
func clean(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\ufeff', '\u200b':
			return -1
		case '\u00a0':
			return ' '
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, `="`) && strings.HasSuffix(s, `"`) && len(s) >= 3 {
		s = s[2 : len(s)-1]
	}
	return strings.TrimSpace(norm.NFC.String(s))
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
