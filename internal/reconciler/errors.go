package reconciler

import (
	"github.com/cockroachdb/errors"
)

// ErrStatusPersist marks a status write that failed. Reconcile logs and drops
// these; the resource is picked up again by the next sweep.
var ErrStatusPersist = errors.New("status persist failed")

// Convergence steps reported in ConvergenceError.
const (
	StepCheckWorkload  = "check workload"
	StepCreateWorkload = "create workload"
	StepUpdateWorkload = "update workload"
	StepCreateEndpoint = "create endpoint"
	StepMarkStarted    = "mark reconciling"
)

// ConvergenceError is a gateway failure while driving children toward the spec.
// It ends up in the Failed status message and never escapes Reconcile.
type ConvergenceError struct {
	Step string
	Err  error
}

func (e *ConvergenceError) Error() string {
	return e.Step + ": " + e.Err.Error()
}

func (e *ConvergenceError) Unwrap() error {
	return e.Err
}

func convergenceError(step string, err error) error {
	return &ConvergenceError{Step: step, Err: err}
}
