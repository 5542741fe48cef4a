package remote

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/b2b-sync/internal/resilience"
)

// ErrNotFound reports that a referenced remote entity does not exist.
var ErrNotFound = eris.New("remote: entity not found")

// ConflictKind names an expected business conflict raised by the store.
type ConflictKind string

const (
	// ConflictLinkedElsewhere: the customer already belongs to another company.
	ConflictLinkedElsewhere ConflictKind = "customer_linked_elsewhere"
	// ConflictAlreadyAssigned: the contact already holds a role at the location.
	ConflictAlreadyAssigned ConflictKind = "already_assigned"
	// ConflictLocationExists: the company already has a location with that external id.
	ConflictLocationExists ConflictKind = "location_exists"
	// ConflictCompanyExists: a company with that external id already exists.
	ConflictCompanyExists ConflictKind = "company_exists"
)

// ConflictError is an expected business condition. It is never retried and
// never counted as a remote failure on its own.
type ConflictError struct {
	Kind    ConflictKind
	Message string
}

func (e *ConflictError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("conflict: %s", e.Kind)
	}
	return fmt.Sprintf("conflict: %s: %s", e.Kind, e.Message)
}

// NewConflict builds a ConflictError.
func NewConflict(kind ConflictKind, format string, args ...any) *ConflictError {
	return &ConflictError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// IsConflict reports whether err carries a ConflictError of the given kind.
func IsConflict(err error, kind ConflictKind) bool {
	var ce *ConflictError
	return errors.As(err, &ce) && ce.Kind == kind
}

// Class is the failure class of a resolver or store error.
type Class string

const (
	ClassNone          Class = ""
	ClassNotFound      Class = "not_found"
	ClassConflict      Class = "conflict"
	ClassRemoteFailure Class = "remote_failure"
)

// Classify maps an error onto the failure taxonomy. Anything that is not a
// not-found or a conflict is a remote failure.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ClassConflict
	}
	if errors.Is(err, ErrNotFound) {
		return ClassNotFound
	}
	return ClassRemoteFailure
}

// Describe returns a label for reporting: the class, refined with
// transient/permanent for remote failures.
func Describe(err error) string {
	c := Classify(err)
	if c != ClassRemoteFailure {
		return string(c)
	}
	return string(c) + ":" + resilience.ClassifyError(err)
}
