package domain

import (
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	// ErrInvalidSpec is returned when a ResourceSpec fails construction checks.
	ErrInvalidSpec = errors.New("invalid resource spec")

	// ErrInvalidTransition is returned when an event is not legal in the current state.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Field names used in validation errors and metrics labels.
const (
	FieldName      = "name"
	FieldNamespace = "namespace"
	FieldImage     = "image"
	FieldReplicas  = "replicas"
	FieldPort      = "port"
)

// FieldError describes a single failed validation check.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError is returned when a resource is rejected before reconciliation.
// It lists every failed field, not only the first.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		msgs = append(msgs, fe.Message)
	}

	return "validation failed: " + strings.Join(msgs, "; ")
}

// Fields returns the names of the failed fields in check order.
func (e *ValidationError) Fields() []string {
	fields := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		fields = append(fields, fe.Field)
	}

	return fields
}

// Has reports whether the given field failed validation.
func (e *ValidationError) Has(field string) bool {
	for _, fe := range e.Errors {
		if fe.Field == field {
			return true
		}
	}

	return false
}

// IsValidationError reports whether err wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError

	return errors.As(err, &ve)
}
