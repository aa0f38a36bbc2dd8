// Package reconciler drives a single Application toward its declared state.
package reconciler

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/lexfrei/application-operator/internal/domain"
	"github.com/lexfrei/application-operator/internal/gateway"
	"github.com/lexfrei/application-operator/internal/metrics"
	"github.com/lexfrei/application-operator/internal/tracing"
)

// DefaultTimeout bounds one reconcile attempt.
const DefaultTimeout = 30 * time.Second

// Options configures a Service. Zero values fall back to defaults.
type Options struct {
	Timeout time.Duration
	Metrics metrics.Collector
	Logger  *slog.Logger

	// Now is the clock used for status timestamps.
	Now func() time.Time
}

// Service is the reconciliation domain service. It holds no per-resource
// state; everything lives in the gateway's backing store.
type Service struct {
	gateway gateway.Gateway
	timeout time.Duration
	metrics metrics.Collector
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates a Service on top of gw.
func NewService(gw gateway.Gateway, opts Options) *Service {
	svc := &Service{
		gateway: gw,
		timeout: opts.Timeout,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		now:     opts.Now,
	}

	if svc.timeout <= 0 {
		svc.timeout = DefaultTimeout
	}

	if svc.metrics == nil {
		svc.metrics = metrics.NewNoopCollector()
	}

	if svc.logger == nil {
		svc.logger = slog.Default()
	}

	if svc.now == nil {
		svc.now = time.Now
	}

	svc.logger = svc.logger.With("component", "reconciler")

	return svc
}

// Reconcile converges r once and returns the resulting resource. It never
// fails: gateway errors become a Failed status on the returned value.
//
// If the attempt times out or ctx is cancelled the resource is returned in
// Reconciling and nothing else is written, since the outcome of the in-flight
// call is unknown. A Deleting resource is returned untouched.
func (s *Service) Reconcile(ctx context.Context, r domain.ManagedResource) domain.ManagedResource {
	start := time.Now()
	logger := s.logger.With("application", r.Key().String(), "generation", r.Generation)

	if r.IsDeleting() {
		logger.Debug("skipping resource being deleted")
		s.metrics.RecordReconcile(ctx, metrics.ResultSkipped, time.Since(start))

		return r
	}

	if _, err := domain.Transition(r.Status.State, domain.EventReconcileStarted); err != nil {
		logger.Warn("cannot start reconciliation", "state", r.Status.State, "error", err)
		s.metrics.RecordReconcile(ctx, metrics.ResultSkipped, time.Since(start))

		return r
	}

	ctx, span := tracing.StartReconcileSpan(ctx, "Application.Reconcile", r.Name, r.Namespace, r.Generation)
	defer span.End()

	attemptCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	logger.Info(domain.MessageReconciling)

	reconciling := r.WithStatus(domain.Reconciling(domain.MessageReconciling, s.now()))

	err := s.persist(attemptCtx, reconciling)
	if err != nil {
		err = convergenceError(StepMarkStarted, err)
	} else {
		err = s.converge(attemptCtx, reconciling)
	}

	if err != nil {
		tracing.RecordSpanError(span, err)

		if interrupted(attemptCtx, err) {
			logger.Warn("reconciliation interrupted, will retry", "error", err, "timeout", s.timeout)
			s.metrics.RecordReconcile(ctx, metrics.ResultTimeout, time.Since(start))

			return reconciling
		}

		return s.fail(attemptCtx, logger, reconciling, err, start)
	}

	next, _ := domain.Transition(domain.StateReconciling, domain.EventConverged)
	ready := reconciling.WithStatus(domain.Ready(domain.MessageReconciled, r.Generation, s.now()))

	s.persistBestEffort(attemptCtx, logger, ready)
	logger.Info(domain.MessageReconciled, "state", next)
	s.metrics.RecordReconcile(ctx, metrics.ResultReady, time.Since(start))

	return ready
}

// Delete marks r as Deleting, removes its children and then the record.
// Missing children or a missing record are not errors, so an interrupted
// delete can be repeated.
func (s *Service) Delete(ctx context.Context, r domain.ManagedResource) error {
	logger := s.logger.With("application", r.Key().String())
	logger.Info(domain.MessageDeletingAll)

	ctx, span := tracing.StartReconcileSpan(ctx, "Application.Delete", r.Name, r.Namespace, r.Generation)
	defer span.End()

	deleting := r.WithStatus(domain.Deleting(domain.MessageDeletingAll))

	err := s.persist(ctx, deleting)
	if err != nil && !gateway.IsNotFound(err) {
		tracing.RecordSpanError(span, err)

		return err
	}

	err = s.gateway.DeleteWorkload(ctx, r.Key())
	if err != nil {
		tracing.RecordSpanError(span, err)

		return errors.Wrapf(err, "failed to delete children of %s", r.Key())
	}

	err = s.gateway.DeleteResource(ctx, r.Key())
	if err != nil {
		tracing.RecordSpanError(span, err)

		return errors.Wrapf(err, "failed to delete %s", r.Key())
	}

	logger.Info("resource deleted")

	return nil
}

// converge runs the create-or-update steps against the gateway.
func (s *Service) converge(ctx context.Context, r domain.ManagedResource) (err error) {
	ctx, span := tracing.StartChildSpan(ctx, "Converge")
	defer func() {
		tracing.RecordSpanError(span, err)
		span.End()
	}()

	exists, err := s.gateway.WorkloadExists(ctx, r.Key())
	if err != nil {
		return convergenceError(StepCheckWorkload, err)
	}

	if exists {
		if err := s.gateway.UpdateWorkload(ctx, r); err != nil {
			return convergenceError(StepUpdateWorkload, err)
		}
	} else {
		if err := s.gateway.CreateWorkload(ctx, r); err != nil {
			return convergenceError(StepCreateWorkload, err)
		}
	}

	err = s.gateway.CreateEndpoint(ctx, r)
	if err != nil && !gateway.IsAlreadyExists(err) {
		return convergenceError(StepCreateEndpoint, err)
	}

	return nil
}

func (s *Service) fail(
	ctx context.Context,
	logger *slog.Logger,
	r domain.ManagedResource,
	cause error,
	start time.Time,
) domain.ManagedResource {
	next, _ := domain.Transition(domain.StateReconciling, domain.EventFailed)
	failed := r.WithStatus(domain.Failed(cause.Error()))

	logger.Error("reconciliation failed", "error", cause, "state", next)
	s.persistBestEffort(ctx, logger, failed)
	s.metrics.RecordReconcile(ctx, metrics.ResultFailed, time.Since(start))

	return failed
}

func (s *Service) persist(ctx context.Context, r domain.ManagedResource) error {
	err := s.gateway.UpdateStatus(ctx, r.Key(), r.Status)
	if err != nil {
		s.metrics.RecordStatusPersistFailure(ctx)

		return errors.Mark(errors.Wrapf(err, "failed to persist %s status", r.Status.State), ErrStatusPersist)
	}

	s.metrics.RecordStatusTransition(ctx, r.Status.State.String())

	return nil
}

// persistBestEffort writes status and swallows the error after logging it.
func (s *Service) persistBestEffort(ctx context.Context, logger *slog.Logger, r domain.ManagedResource) {
	if err := s.persist(ctx, r); err != nil {
		logger.Error("status write dropped, resource stays eligible for the next sweep",
			"state", r.Status.State, "error", err)
	}
}

func interrupted(attemptCtx context.Context, err error) bool {
	if attemptCtx.Err() != nil {
		return true
	}

	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
