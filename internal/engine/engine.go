// Package engine exposes the operations a caller can request against
// Applications: create, read, list, update, delete and an on-demand
// reconcile. It validates input up front and delegates the actual work to
// the gateway, the reconciler and the sweep trigger.
package engine

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"

	"github.com/lexfrei/application-operator/internal/domain"
	"github.com/lexfrei/application-operator/internal/gateway"
	"github.com/lexfrei/application-operator/internal/sweep"
)

// Engine is the request layer on top of a gateway.
type Engine struct {
	gateway gateway.Gateway
	trigger *sweep.Trigger
	logger  *slog.Logger
}

// New creates an Engine. Reconciles and deletes requested through it share the
// trigger's per-key lock with the periodic sweep.
func New(gw gateway.Gateway, trigger *sweep.Trigger, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		gateway: gw,
		trigger: trigger,
		logger:  logger.With("component", "engine"),
	}
}

// CreateAndReconcile stores a new Application and converges it right away.
// The returned resource carries the outcome: Ready, Failed, or Reconciling
// when the attempt timed out.
func (e *Engine) CreateAndReconcile(
	ctx context.Context,
	name, namespace string,
	spec domain.ResourceSpec,
) (domain.ManagedResource, error) {
	resource := domain.ManagedResource{
		Name:       name,
		Namespace:  namespace,
		Spec:       domain.ResourceSpec{Replicas: spec.Replicas, Image: spec.Image, Port: spec.Port, Env: spec.EnvCopy()},
		Status:     domain.Pending(domain.MessageCreated),
		Generation: 1,
	}

	if err := validate(resource); err != nil {
		return domain.ManagedResource{}, err
	}

	created, err := e.gateway.CreateResource(ctx, resource)
	if err != nil {
		return domain.ManagedResource{}, errors.Wrapf(err, "failed to create %s", resource.Key())
	}

	e.logger.Info(domain.MessageCreated, "application", created.Key().String())

	return e.trigger.ReconcileNow(ctx, created.Key())
}

// Get returns the stored resource.
func (e *Engine) Get(ctx context.Context, key domain.Key) (domain.ManagedResource, error) {
	resource, err := e.gateway.GetResource(ctx, key)
	if err != nil {
		return domain.ManagedResource{}, errors.Wrapf(err, "failed to get %s", key)
	}

	return resource, nil
}

// List returns resources in namespace, or everywhere when namespace is empty.
func (e *Engine) List(ctx context.Context, namespace string) ([]domain.ManagedResource, error) {
	resources, err := e.gateway.ListResources(ctx, namespace)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list resources")
	}

	return resources, nil
}

// ReconcileNow converges one resource immediately.
func (e *Engine) ReconcileNow(ctx context.Context, key domain.Key) (domain.ManagedResource, error) {
	return e.trigger.ReconcileNow(ctx, key)
}

// UpdateSpec replaces the declared spec. The generation advances when the
// spec changed and the next sweep converges the children.
func (e *Engine) UpdateSpec(ctx context.Context, key domain.Key, spec domain.ResourceSpec) (domain.ManagedResource, error) {
	current, err := e.gateway.GetResource(ctx, key)
	if err != nil {
		return domain.ManagedResource{}, errors.Wrapf(err, "failed to get %s", key)
	}

	if current.IsDeleting() {
		return domain.ManagedResource{}, errors.Wrapf(domain.ErrInvalidTransition, "%s is being deleted", key)
	}

	desired := current.WithSpec(spec)
	if err := validate(desired); err != nil {
		return domain.ManagedResource{}, err
	}

	if desired.Generation == current.Generation {
		return current, nil
	}

	updated, err := e.gateway.ReplaceResource(ctx, desired)
	if err != nil {
		return domain.ManagedResource{}, errors.Wrapf(err, "failed to update %s", key)
	}

	e.logger.Info("spec updated", "application", key.String(), "generation", updated.Generation)

	return updated, nil
}

// Delete removes the resource and its children after any attempt in flight
// for the key finishes. A missing resource returns gateway.ErrNotFound.
func (e *Engine) Delete(ctx context.Context, key domain.Key) error {
	return e.trigger.Delete(ctx, key)
}

// validate runs the reconciliation gate plus the spec's own range checks and
// reports both as one ValidationError.
func validate(r domain.ManagedResource) error {
	var fieldErrs []domain.FieldError

	var validationErr *domain.ValidationError
	if errors.As(domain.ValidateForReconciliation(r), &validationErr) {
		fieldErrs = append(fieldErrs, validationErr.Errors...)
	}

	if r.Spec.Port < domain.MinPort || r.Spec.Port > domain.MaxPort {
		fieldErrs = append(fieldErrs, domain.FieldError{Field: domain.FieldPort, Message: domain.MsgPortOutOfRange})
	}

	if len(fieldErrs) == 0 {
		return nil
	}

	return &domain.ValidationError{Errors: fieldErrs}
}
