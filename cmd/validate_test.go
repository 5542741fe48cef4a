package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/b2b-sync/internal/batch"
	"github.com/sells-group/b2b-sync/internal/config"
	"github.com/sells-group/b2b-sync/internal/model"
)

func rawRow(line int, companyKey, locationKey, email string) model.RawRecord {
	return model.RawRecord{Line: line, Fields: map[string]string{
		model.FieldCompanyKey:        companyKey,
		model.FieldCompanyName:       "Company " + companyKey,
		model.FieldLocationKey:       locationKey,
		model.FieldCustomerEmail:     email,
		model.FieldCustomerFirstName: "First",
		model.FieldCustomerLastName:  "Last",
	}}
}

func TestRunValidate_Valid(t *testing.T) {
	var buf bytes.Buffer
	err := runValidate(&buf, newValidator(config.SyncConfig{}), []model.RawRecord{
		rawRow(2, "C1", "1", "a@c1.com"),
		rawRow(3, "C1", "L2", "b@c1.com"),
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "2 rows valid")
}

func TestRunValidate_ReportsEveryError(t *testing.T) {
	var buf bytes.Buffer
	err := runValidate(&buf, newValidator(config.SyncConfig{}), []model.RawRecord{
		rawRow(2, "C1", "1", "bad-email"),
		rawRow(3, "", "1", "b@c1.com"),
		rawRow(4, "C2", "A|B", "c@c2.com"),
	})
	require.Error(t, err)

	output := buf.String()
	assert.Contains(t, output, "invalid email format")
	assert.Contains(t, output, "blank identifier")
	assert.Contains(t, output, `must not contain "|"`)
	assert.Contains(t, output, "3 errors on 3 rows")
}

func TestRunValidate_Empty(t *testing.T) {
	var buf bytes.Buffer
	err := runValidate(&buf, newValidator(config.SyncConfig{}), nil)
	require.ErrorIs(t, err, batch.ErrEmptyBatch)
	assert.Contains(t, buf.String(), "no data rows")
}
