package shopify

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/b2b-sync/internal/remote"
)

// UserError is a mutation-level validation error.
type UserError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
	Code    string   `json:"code"`
}

// conflictPatterns maps userError message fragments to conflict kinds.
// Matching is case-insensitive.
var conflictPatterns = []struct {
	fragment string
	kind     remote.ConflictKind
}{
	{"already associated with", remote.ConflictLinkedElsewhere},
	{"belongs to another company", remote.ConflictLinkedElsewhere},
	{"already a contact of", remote.ConflictLinkedElsewhere},
	{"already assigned", remote.ConflictAlreadyAssigned},
	{"role assignment already exists", remote.ConflictAlreadyAssigned},
}

// userErrorsToErr converts a mutation's userErrors into an error. A taken
// externalId maps to takenKind when one is given. Anything unrecognized is
// a plain permanent error.
func userErrorsToErr(op string, errs []UserError, takenKind remote.ConflictKind) error {
	if len(errs) == 0 {
		return nil
	}
	for _, ue := range errs {
		msg := strings.ToLower(ue.Message)
		for _, p := range conflictPatterns {
			if strings.Contains(msg, p.fragment) {
				return remote.NewConflict(p.kind, "%s: %s", op, ue.Message)
			}
		}
		if takenKind != "" && isExternalIDTaken(ue) {
			return remote.NewConflict(takenKind, "%s: %s", op, ue.Message)
		}
	}

	msgs := make([]string, 0, len(errs))
	for _, ue := range errs {
		if len(ue.Field) > 0 {
			msgs = append(msgs, strings.Join(ue.Field, ".")+": "+ue.Message)
		} else {
			msgs = append(msgs, ue.Message)
		}
	}
	return eris.Errorf("shopify: %s: %s", op, strings.Join(msgs, "; "))
}

func isExternalIDTaken(ue UserError) bool {
	if ue.Code != "TAKEN" && !strings.Contains(strings.ToLower(ue.Message), "has already been taken") {
		return false
	}
	for _, f := range ue.Field {
		if strings.EqualFold(f, "externalId") {
			return true
		}
	}
	return strings.Contains(strings.ToLower(ue.Message), "external id")
}
