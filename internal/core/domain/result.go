package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrSessionClosed = errors.New("session closed")
)

// ErrFormInvalid is returned when a submission is attempted while the latest
// validation result still carries errors.
type ErrFormInvalid struct {
	Result ValidationResult
}

func (e *ErrFormInvalid) Error() string {
	msgs := e.Result.Messages()
	return fmt.Sprintf("form is invalid: %s", strings.Join(msgs, "; "))
}

// StructuralError is a per-field finding attributable to one data path such
// as "paysPourcentages[2].pourcentage".
type StructuralError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

type StructuralErrors []StructuralError

// Has reports whether any error was recorded for path.
func (e StructuralErrors) Has(path string) bool {
	for _, se := range e {
		if se.Path == path {
			return true
		}
	}
	return false
}

// ValidationResult is the merged outcome of one validation pass. An empty
// AggregateError means the aggregate constraint holds.
type ValidationResult struct {
	StructuralErrors StructuralErrors `json:"structuralErrors"`
	AggregateError   string           `json:"aggregateError,omitempty"`
	IsValid          bool             `json:"isValid"`
}

// NewValidationResult merges both validator outputs and derives IsValid.
func NewValidationResult(structural StructuralErrors, aggregate string) ValidationResult {
	if structural == nil {
		structural = StructuralErrors{}
	}
	return ValidationResult{
		StructuralErrors: structural,
		AggregateError:   aggregate,
		IsValid:          len(structural) == 0 && aggregate == "",
	}
}

// Clone copies the error slice so the caller cannot alias stored state.
func (r ValidationResult) Clone() ValidationResult {
	if r.StructuralErrors != nil {
		r.StructuralErrors = append(StructuralErrors{}, r.StructuralErrors...)
	}
	return r
}

// Messages flattens the result for logs and plain-text output.
func (r ValidationResult) Messages() []string {
	msgs := make([]string, 0, len(r.StructuralErrors)+1)
	for _, se := range r.StructuralErrors {
		msgs = append(msgs, se.Message)
	}
	if r.AggregateError != "" {
		msgs = append(msgs, r.AggregateError)
	}
	return msgs
}

// ErrSchemaViolation is returned when a snapshot fails the compiled JSON
// Schema document. Errors holds the leaf messages of the validator.
type ErrSchemaViolation struct {
	Errors []string
}

func (e *ErrSchemaViolation) Error() string {
	return fmt.Sprintf("schema validation failed: %s", strings.Join(e.Errors, "; "))
}
