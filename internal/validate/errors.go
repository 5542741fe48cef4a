package validate

import (
	"fmt"
	"strings"
)

// FieldError is a single field-level problem found on one source row.
type FieldError struct {
	Line    int    `json:"line" yaml:"line"`
	Field   string `json:"field" yaml:"field"`
	Value   string `json:"value,omitempty" yaml:"value,omitempty"`
	Message string `json:"message" yaml:"message"`
}

func (e FieldError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("row %d: %s: %s", e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("row %d: %s", e.Line, e.Message)
}

// BatchError aggregates every field error of a batch. A batch carrying a
// BatchError must not reach the remote store.
type BatchError struct {
	Errors []FieldError
}

func (e *BatchError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "validation failed"
	case 1:
		return "validation failed: " + e.Errors[0].Error()
	}
	msgs := make([]string, 0, 3)
	for i, fe := range e.Errors {
		if i == 3 {
			break
		}
		msgs = append(msgs, fe.Error())
	}
	more := ""
	if len(e.Errors) > 3 {
		more = fmt.Sprintf(" (and %d more)", len(e.Errors)-3)
	}
	return fmt.Sprintf("validation failed with %d errors: %s%s", len(e.Errors), strings.Join(msgs, "; "), more)
}

// Lines returns the distinct row numbers that have errors, in first-seen order.
func (e *BatchError) Lines() []int {
	seen := make(map[int]bool, len(e.Errors))
	var lines []int
	for _, fe := range e.Errors {
		if !seen[fe.Line] {
			seen[fe.Line] = true
			lines = append(lines, fe.Line)
		}
	}
	return lines
}
