package model

import "time"

// RowState is a position in the per-row state machine.
type RowState string

const (
	RowStateStart            RowState = "START"
	RowStateCompanyResolved  RowState = "COMPANY_RESOLVED"
	RowStateContactResolved  RowState = "CONTACT_RESOLVED"
	RowStateLocationResolved RowState = "LOCATION_RESOLVED"
	RowStateAssigned         RowState = "ASSIGNED"
	RowStateDone             RowState = "DONE"
	RowStateFailed           RowState = "FAILED"
)

// Outcome describes what a pipeline stage did to its entity.
type Outcome string

const (
	OutcomeNone            Outcome = ""
	OutcomeCreated         Outcome = "created"
	OutcomeFound           Outcome = "found"
	OutcomeAdoptedDefault  Outcome = "adopted_default"
	OutcomeLinked          Outcome = "linked"
	OutcomeExisting        Outcome = "existing"
	OutcomeUnassignable    Outcome = "unassignable"
	OutcomeAlreadyAssigned Outcome = "already_assigned"
	OutcomeSkipped         Outcome = "skipped"
)

// RowResult is the outcome of one row's trip through the pipeline.
type RowResult struct {
	Line          int      `json:"line" yaml:"line"`
	CompositeKey  string   `json:"composite_key" yaml:"composite_key"`
	CustomerEmail string   `json:"customer_email" yaml:"customer_email"`
	State         RowState `json:"state" yaml:"state"`
	// FailedAt is the last state reached before the row failed.
	FailedAt RowState `json:"failed_at,omitempty" yaml:"failed_at,omitempty"`

	CompanyID    string `json:"company_id,omitempty" yaml:"company_id,omitempty"`
	CustomerID   string `json:"customer_id,omitempty" yaml:"customer_id,omitempty"`
	ContactID    string `json:"contact_id,omitempty" yaml:"contact_id,omitempty"`
	LocationID   string `json:"location_id,omitempty" yaml:"location_id,omitempty"`
	AssignmentID string `json:"assignment_id,omitempty" yaml:"assignment_id,omitempty"`

	Company    Outcome `json:"company,omitempty" yaml:"company,omitempty"`
	Customer   Outcome `json:"customer,omitempty" yaml:"customer,omitempty"`
	Contact    Outcome `json:"contact,omitempty" yaml:"contact,omitempty"`
	Location   Outcome `json:"location,omitempty" yaml:"location,omitempty"`
	Assignment Outcome `json:"assignment,omitempty" yaml:"assignment,omitempty"`

	Error      string `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorClass string `json:"error_class,omitempty" yaml:"error_class,omitempty"`
	DurationMs int64  `json:"duration_ms" yaml:"duration_ms"`
}

// Failed reports whether the row ended in the FAILED state.
func (r RowResult) Failed() bool {
	return r.State == RowStateFailed
}

// Stats are the per-entity counters of a batch.
type Stats struct {
	CompaniesCreated     int `json:"companies_created" yaml:"companies_created"`
	CompaniesFound       int `json:"companies_found" yaml:"companies_found"`
	CustomersCreated     int `json:"customers_created" yaml:"customers_created"`
	CustomersFound       int `json:"customers_found" yaml:"customers_found"`
	ContactsLinked       int `json:"contacts_linked" yaml:"contacts_linked"`
	ContactsUnassignable int `json:"contacts_unassignable" yaml:"contacts_unassignable"`
	LocationsCreated     int `json:"locations_created" yaml:"locations_created"`
	LocationsFound       int `json:"locations_found" yaml:"locations_found"`
	AssignmentsCreated   int `json:"assignments_created" yaml:"assignments_created"`
	AssignmentsExisting  int `json:"assignments_existing" yaml:"assignments_existing"`
	RowsProcessed        int `json:"rows_processed" yaml:"rows_processed"`
	RowsFailed           int `json:"rows_failed" yaml:"rows_failed"`
}

// Add folds one row result into the counters. Stage outcomes reached
// before a failure still count, since those remote writes happened.
func (s *Stats) Add(r RowResult) {
	switch r.Company {
	case OutcomeCreated:
		s.CompaniesCreated++
	case OutcomeFound:
		s.CompaniesFound++
	}
	switch r.Customer {
	case OutcomeCreated:
		s.CustomersCreated++
	case OutcomeFound:
		s.CustomersFound++
	}
	switch r.Contact {
	case OutcomeLinked:
		s.ContactsLinked++
	case OutcomeUnassignable:
		s.ContactsUnassignable++
	}
	switch r.Location {
	case OutcomeCreated, OutcomeAdoptedDefault:
		s.LocationsCreated++
	case OutcomeFound:
		s.LocationsFound++
	}
	switch r.Assignment {
	case OutcomeCreated:
		s.AssignmentsCreated++
	case OutcomeAlreadyAssigned:
		s.AssignmentsExisting++
	}
	if r.Failed() {
		s.RowsFailed++
	} else if r.State == RowStateDone {
		s.RowsProcessed++
	}
}

// Merge adds other into s.
func (s *Stats) Merge(other Stats) {
	s.CompaniesCreated += other.CompaniesCreated
	s.CompaniesFound += other.CompaniesFound
	s.CustomersCreated += other.CustomersCreated
	s.CustomersFound += other.CustomersFound
	s.ContactsLinked += other.ContactsLinked
	s.ContactsUnassignable += other.ContactsUnassignable
	s.LocationsCreated += other.LocationsCreated
	s.LocationsFound += other.LocationsFound
	s.AssignmentsCreated += other.AssignmentsCreated
	s.AssignmentsExisting += other.AssignmentsExisting
	s.RowsProcessed += other.RowsProcessed
	s.RowsFailed += other.RowsFailed
}

// BatchStatus is the terminal verdict of a batch.
type BatchStatus string

const (
	// BatchSuccess means every row reached DONE.
	BatchSuccess BatchStatus = "success"
	// BatchPartial means some rows failed; completed rows are durable.
	BatchPartial BatchStatus = "partial"
	// BatchFailed means pre-flight validation failed or no row completed.
	BatchFailed BatchStatus = "failed"
)

// RunStatus tracks a sync run in the ledger.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is a ledger entry for one sync invocation.
type Run struct {
	ID          string      `json:"id" yaml:"id"`
	Source      string      `json:"source" yaml:"source"`
	Status      RunStatus   `json:"status" yaml:"status"`
	BatchStatus BatchStatus `json:"batch_status,omitempty" yaml:"batch_status,omitempty"`
	TotalRows   int         `json:"total_rows" yaml:"total_rows"`
	Stats       Stats       `json:"stats" yaml:"stats"`
	Cancelled   bool        `json:"cancelled,omitempty" yaml:"cancelled,omitempty"`
	Error       string      `json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt   time.Time   `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" yaml:"updated_at"`
}
