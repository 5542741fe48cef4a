package validate

import (
	"errors"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/b2b-sync/internal/model"
)

func rawRow(line int, overrides map[string]string) model.RawRecord {
	fields := map[string]string{
		model.FieldCompanyKey:        "COMP001",
		model.FieldCompanyName:       "Acme Inc",
		model.FieldLocationKey:       "LOC001",
		model.FieldCustomerEmail:     "JOHN@ACME.COM",
		model.FieldCustomerFirstName: "John",
		model.FieldCustomerLastName:  "Doe",
		model.FieldCustomerRole:      "admin",
	}
	for k, v := range overrides {
		fields[k] = v
	}
	return model.RawRecord{Line: line, Fields: fields}
}

func TestNormalize_ConcreteRow(t *testing.T) {
	v := New(DefaultDefaults())
	row, errs := v.Normalize(rawRow(2, nil))
	require.Empty(t, errs)

	assert.Equal(t, 2, row.Line)
	assert.Equal(t, "COMP001", row.CompanyKey)
	assert.Equal(t, "Acme Inc", row.CompanyName)
	assert.Equal(t, "LOC001", row.LocationKey)
	assert.Equal(t, "john@acme.com", row.CustomerEmail)
	assert.Equal(t, "ADMIN", row.CustomerRole)
	assert.Equal(t, "USD", row.CurrencyCode)
	assert.Equal(t, "US", row.Address.Country)
	assert.Equal(t, "COMP001|LOC001", row.CompositeKey())
}

func TestNormalize_TrimsAndDefaults(t *testing.T) {
	v := New(Defaults{Role: "buyer", Currency: "cad", Country: "CA"})
	row, errs := v.Normalize(rawRow(3, map[string]string{
		model.FieldCompanyKey:    "  COMP002\u00a0",
		model.FieldCompanyName:   "\ufeffGlobex ",
		model.FieldCustomerRole:  "",
		model.FieldCurrencyCode:  " ",
		model.FieldCity:          " Springfield ",
		model.FieldLocationKey:   `="007"`,
		model.FieldCustomerEmail: " Homer@Globex.com ",
	}))
	require.Empty(t, errs)

	assert.Equal(t, "COMP002", row.CompanyKey)
	assert.Equal(t, "Globex", row.CompanyName)
	assert.Equal(t, "007", row.LocationKey)
	assert.Equal(t, "homer@globex.com", row.CustomerEmail)
	assert.Equal(t, "BUYER", row.CustomerRole)
	assert.Equal(t, "CAD", row.CurrencyCode)
	assert.Equal(t, "Springfield", row.Address.City)
	assert.Equal(t, "CA", row.Address.Country)
}

func TestNormalize_NFC(t *testing.T) {
	v := New(DefaultDefaults())
	// "Cafe" followed by a combining acute accent.
	row, errs := v.Normalize(rawRow(2, map[string]string{model.FieldCompanyName: "Cafe\u0301"}))
	require.Empty(t, errs)
	assert.Equal(t, "Caf\u00e9", row.CompanyName)
}

func TestNormalize_Errors(t *testing.T) {
	tests := []struct {
		name    string
		raw     model.RawRecord
		field   string
		message string
	}{
		{
			name:    "missing company key",
			raw:     func() model.RawRecord { r := rawRow(4, nil); delete(r.Fields, model.FieldCompanyKey); return r }(),
			field:   model.FieldCompanyKey,
			message: "missing required field",
		},
		{
			name:    "blank location key",
			raw:     rawRow(4, map[string]string{model.FieldLocationKey: "   "}),
			field:   model.FieldLocationKey,
			message: "blank identifier",
		},
		{
			name:    "separator in key",
			raw:     rawRow(4, map[string]string{model.FieldCompanyKey: "A|B"}),
			field:   model.FieldCompanyKey,
			message: `identifier must not contain "|"`,
		},
		{
			name:    "invalid email",
			raw:     rawRow(4, map[string]string{model.FieldCustomerEmail: "not-an-email"}),
			field:   model.FieldCustomerEmail,
			message: "invalid email format",
		},
		{
			name:    "missing first name",
			raw:     rawRow(4, map[string]string{model.FieldCustomerFirstName: ""}),
			field:   model.FieldCustomerFirstName,
			message: "missing required field",
		},
		{
			name:    "bad currency",
			raw:     rawRow(4, map[string]string{model.FieldCurrencyCode: "dollars"}),
			field:   model.FieldCurrencyCode,
			message: "currency code must be three letters",
		},
	}

	v := New(DefaultDefaults())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, errs := v.Normalize(tt.raw)
			require.Len(t, errs, 1)
			assert.Equal(t, 4, errs[0].Line)
			assert.Equal(t, tt.field, errs[0].Field)
			assert.Equal(t, tt.message, errs[0].Message)
		})
	}
}

func TestNormalize_CollectsAllErrors(t *testing.T) {
	v := New(DefaultDefaults())
	_, errs := v.Normalize(model.RawRecord{Line: 9, Fields: map[string]string{}})
	fields := make([]string, 0, len(errs))
	for _, e := range errs {
		fields = append(fields, e.Field)
	}
	assert.ElementsMatch(t, []string{
		model.FieldCompanyKey,
		model.FieldCompanyName,
		model.FieldLocationKey,
		model.FieldCustomerEmail,
		model.FieldCustomerFirstName,
		model.FieldCustomerLastName,
	}, fields)
}

func TestNormalizeBatch_Valid(t *testing.T) {
	v := New(DefaultDefaults())
	rows, err := v.NormalizeBatch([]model.RawRecord{
		rawRow(2, nil),
		rawRow(3, map[string]string{model.FieldLocationKey: "LOC002"}),
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.False(t, rows[0].DuplicateWithinBatch)
	assert.False(t, rows[1].DuplicateWithinBatch)
}

func TestNormalizeBatch_DuplicateCompositeKey(t *testing.T) {
	v := New(DefaultDefaults())
	rows, err := v.NormalizeBatch([]model.RawRecord{
		rawRow(2, nil),
		rawRow(3, map[string]string{model.FieldLocationKey: "LOC002"}),
		rawRow(4, map[string]string{model.FieldCustomerEmail: "jane@acme.com"}),
	})
	require.Error(t, err)
	require.Len(t, rows, 3, "duplicates are retained")
	assert.False(t, rows[0].DuplicateWithinBatch)
	assert.True(t, rows[2].DuplicateWithinBatch)

	var be *BatchError
	require.True(t, errors.As(err, &be))
	require.Len(t, be.Errors, 1)
	assert.Equal(t, 4, be.Errors[0].Line)
	assert.Equal(t, "composite_key", be.Errors[0].Field)
	assert.Contains(t, be.Errors[0].Message, "first seen on row 2")
}

func TestNormalizeBatch_DuplicateKeyAfterTrim(t *testing.T) {
	v := New(DefaultDefaults())
	_, err := v.NormalizeBatch([]model.RawRecord{
		rawRow(2, nil),
		rawRow(3, map[string]string{model.FieldCompanyKey: " COMP001 "}),
	})
	require.Error(t, err)
}

func TestBatchError_WrappedByEris(t *testing.T) {
	be := &BatchError{Errors: []FieldError{{Line: 2, Field: "company_key", Message: "blank identifier"}}}
	wrapped := eris.Wrap(be, "batch: pre-flight")

	var got *BatchError
	require.True(t, errors.As(wrapped, &got))
	assert.Equal(t, []int{2}, got.Lines())
}

func TestBatchError_Message(t *testing.T) {
	be := &BatchError{}
	assert.Equal(t, "validation failed", be.Error())

	be.Errors = []FieldError{{Line: 2, Field: "company_key", Message: "blank identifier"}}
	assert.Equal(t, "validation failed: row 2: company_key: blank identifier", be.Error())

	for i := 3; i < 8; i++ {
		be.Errors = append(be.Errors, FieldError{Line: i, Message: "bad"})
	}
	assert.Contains(t, be.Error(), "validation failed with 6 errors")
	assert.Contains(t, be.Error(), "(and 3 more)")
	assert.Equal(t, []int{2, 3, 4, 5, 6, 7}, be.Lines())
}

func TestNew_FillsBlankDefaults(t *testing.T) {
	v := New(Defaults{Role: " member "})
	assert.Equal(t, Defaults{Role: "MEMBER", Currency: "USD", Country: "US"}, v.Defaults())
}
