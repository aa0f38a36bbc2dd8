// Package domain holds the application model the operator converges: the
// ManagedResource entity, its spec and status value objects, and the lifecycle
// state machine.
//
// All types are values. Operations that change a resource return a new value
// and never mutate the receiver, so a resource read at the top of a sweep is
// never changed behind the caller's back.
package domain
