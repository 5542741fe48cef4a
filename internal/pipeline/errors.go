package pipeline

import "fmt"

// Stage names a pipeline step for error reporting.
type Stage string

const (
	StageValidate   Stage = "validate"
	StageCompany    Stage = "company"
	StageContact    Stage = "contact"
	StageLocation   Stage = "location"
	StageAssignment Stage = "assignment"
)

// StageError records the stage a row failed in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline: stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
