package domain

import (
	"github.com/cockroachdb/errors"
)

// Event drives a state transition.
type Event string

const (
	EventReconcileStarted Event = "ReconcileStarted"
	EventConverged        Event = "Converged"
	EventFailed           Event = "Failed"
	EventSpecChanged      Event = "SpecChanged"
	EventDeleteRequested  Event = "DeleteRequested"
)

type transitionKey struct {
	from  State
	event Event
}

//nolint:gochecknoglobals // static transition table
var transitions = map[transitionKey]State{
	{StatePending, EventReconcileStarted}:     StateReconciling,
	{StateReconciling, EventReconcileStarted}: StateReconciling,
	{StateReady, EventReconcileStarted}:       StateReconciling,
	{StateFailed, EventReconcileStarted}:      StateReconciling,
	{StateReconciling, EventConverged}:        StateReady,
	{StateReconciling, EventFailed}:           StateFailed,
	{StateReady, EventSpecChanged}:            StatePending,
	{StateFailed, EventSpecChanged}:           StatePending,
}

// Transition returns the state reached from "from" on "event".
// Deleting is terminal except that repeated delete requests are accepted.
func Transition(from State, event Event) (State, error) {
	if event == EventDeleteRequested && from.Valid() {
		return StateDeleting, nil
	}

	if to, ok := transitions[transitionKey{from: from, event: event}]; ok {
		return to, nil
	}

	return from, errors.Wrapf(ErrInvalidTransition, "%s on %s", event, from)
}

// CanTransition reports whether event is legal in state from.
func CanTransition(from State, event Event) bool {
	_, err := Transition(from, event)

	return err == nil
}

// NeedsReconciliation decides whether a sweep should pick the resource up.
// A resource left in Reconciling is retried, since the previous attempt may
// have died mid-flight. Evaluate it on fresh data every sweep.
func NeedsReconciliation(r ManagedResource) bool {
	if r.IsDeleting() {
		return false
	}

	switch r.Status.State {
	case StatePending, StateReconciling:
		return true
	case StateReady, StateFailed, StateDeleting:
	}

	return r.HasPendingChanges()
}
