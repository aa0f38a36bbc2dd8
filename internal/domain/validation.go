package domain

import (
	"strings"
)

// Validation messages reported per field.
const (
	MsgNameRequired      = "Resource name is required"
	MsgNamespaceRequired = "Namespace is required"
	MsgImageRequired     = "Image is required"
	MsgReplicasNegative  = "Replicas cannot be negative"
	MsgPortOutOfRange    = "Port must be between 1 and 65535"
)

// ValidateForReconciliation gates a resource before it is queued. It never
// touches the gateway and reports every failed field at once.
func ValidateForReconciliation(r ManagedResource) error {
	var fieldErrs []FieldError

	if strings.TrimSpace(r.Name) == "" {
		fieldErrs = append(fieldErrs, FieldError{Field: FieldName, Message: MsgNameRequired})
	}

	if strings.TrimSpace(r.Namespace) == "" {
		fieldErrs = append(fieldErrs, FieldError{Field: FieldNamespace, Message: MsgNamespaceRequired})
	}

	if strings.TrimSpace(r.Spec.Image) == "" {
		fieldErrs = append(fieldErrs, FieldError{Field: FieldImage, Message: MsgImageRequired})
	}

	if r.Spec.Replicas < 0 {
		fieldErrs = append(fieldErrs, FieldError{Field: FieldReplicas, Message: MsgReplicasNegative})
	}

	if len(fieldErrs) == 0 {
		return nil
	}

	return &ValidationError{Errors: fieldErrs}
}
