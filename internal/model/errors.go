package model

import "fmt"

// ValidationKind classifies why a Draw could not be constructed.
type ValidationKind string

const (
	ValidationWrongCount     ValidationKind = "WrongCount"
	ValidationOutOfRange     ValidationKind = "OutOfRange"
	ValidationDuplicateValue ValidationKind = "DuplicateValue"
	ValidationMissingDate    ValidationKind = "MissingDate"
)

// ValidationError is returned by NewDraw. It is never retried.
type ValidationError struct {
	Kind    ValidationKind
	Field   string
	Value   any
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("validation: %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("validation: %s on %s", e.Kind, e.Field)
}
