package domain

import (
	"time"
)

// State is the lifecycle state of a managed resource.
type State string

const (
	StatePending     State = "Pending"
	StateReconciling State = "Reconciling"
	StateReady       State = "Ready"
	StateFailed      State = "Failed"
	StateDeleting    State = "Deleting"
)

// Default status messages.
const (
	MessageCreated     = "Resource created"
	MessageReconciling = "Reconciling resource"
	MessageReconciled  = "Resource reconciled successfully"
	MessageReady       = "Resource is ready"
	MessageDeleting    = "Resource is being deleted"
	MessageDeletingAll = "Deleting resources"
	failedPrefix       = "Reconciliation failed: "
)

// String implements fmt.Stringer.
func (s State) String() string {
	return string(s)
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateReconciling, StateReady, StateFailed, StateDeleting:
		return true
	default:
		return false
	}
}

// ResourceStatus is a tagged value: State selects the variant, the remaining
// fields are its payload. Only Ready carries ObservedGeneration.
type ResourceStatus struct {
	State              State
	Message            string
	LastReconciledAt   *time.Time
	ObservedGeneration *int64
}

// Pending builds the initial status.
func Pending(message string) ResourceStatus {
	return ResourceStatus{State: StatePending, Message: message}
}

// Reconciling marks the start of an attempt.
func Reconciling(message string, at time.Time) ResourceStatus {
	return ResourceStatus{State: StateReconciling, Message: message, LastReconciledAt: &at}
}

// Ready records a successful attempt against the given generation.
func Ready(message string, generation int64, at time.Time) ResourceStatus {
	if message == "" {
		message = MessageReady
	}

	return ResourceStatus{
		State:              StateReady,
		Message:            message,
		LastReconciledAt:   &at,
		ObservedGeneration: &generation,
	}
}

// Failed records a failed attempt. The cause message is prefixed.
func Failed(cause string) ResourceStatus {
	return ResourceStatus{State: StateFailed, Message: failedPrefix + cause}
}

// Deleting marks a resource whose children are being removed.
func Deleting(message string) ResourceStatus {
	if message == "" {
		message = MessageDeleting
	}

	return ResourceStatus{State: StateDeleting, Message: message}
}

// Equal compares by value, including pointer payloads.
func (s ResourceStatus) Equal(other ResourceStatus) bool {
	if s.State != other.State || s.Message != other.Message {
		return false
	}

	if !equalTime(s.LastReconciledAt, other.LastReconciledAt) {
		return false
	}

	return equalInt64(s.ObservedGeneration, other.ObservedGeneration)
}

// Generation returns the observed generation and whether it is set.
func (s ResourceStatus) Generation() (int64, bool) {
	if s.ObservedGeneration == nil {
		return 0, false
	}

	return *s.ObservedGeneration, true
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}

	return a.Equal(*b)
}

func equalInt64(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}

	return *a == *b
}
