// Package sweep periodically lists Applications and reconciles the ones that
// drifted from their declared spec.
//
// A Trigger is a controller-runtime Runnable: it sweeps once when started and
// then on every tick until the manager stops. Every reconcile and delete,
// whether it comes from a sweep, ReconcileNow or Delete, holds a lock keyed by
// namespace/name, so the same Application never has two writers in flight.
// A caller that had to wait re-reads the resource once it holds the lock and
// acts on that record, never on the snapshot it started from.
package sweep

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
	"sigs.k8s.io/controller-runtime/pkg/manager"

	"github.com/lexfrei/application-operator/internal/domain"
	"github.com/lexfrei/application-operator/internal/gateway"
	"github.com/lexfrei/application-operator/internal/metrics"
	"github.com/lexfrei/application-operator/internal/tracing"
)

// Defaults applied to zero Options.
const (
	DefaultInterval    = 60 * time.Second
	DefaultConcurrency = 1
)

// Reconciler converges and deletes single resources.
type Reconciler interface {
	Reconcile(ctx context.Context, r domain.ManagedResource) domain.ManagedResource
	Delete(ctx context.Context, r domain.ManagedResource) error
}

// Options configures a Trigger.
type Options struct {
	// Interval between sweeps.
	Interval time.Duration

	// Namespace limits sweeps to one namespace. Empty means all namespaces.
	Namespace string

	// Concurrency caps parallel reconciles within one sweep. 1 is sequential.
	Concurrency int

	Metrics metrics.Collector
	Logger  *slog.Logger
}

// Report summarizes one sweep.
type Report struct {
	Listed     int
	Selected   int
	Reconciled int
	Ready      int
	Failed     int
	Invalid    int
	Deleted    int
}

// Trigger runs sweeps and manual reconciles.
type Trigger struct {
	gateway     gateway.Gateway
	reconciler  Reconciler
	interval    time.Duration
	namespace   string
	concurrency int
	metrics     metrics.Collector
	logger      *slog.Logger

	locks *keyLocks
}

var _ manager.Runnable = (*Trigger)(nil)

// New creates a Trigger reading through gw and converging through rec.
func New(gw gateway.Gateway, rec Reconciler, opts Options) *Trigger {
	trigger := &Trigger{
		gateway:     gw,
		reconciler:  rec,
		interval:    opts.Interval,
		namespace:   opts.Namespace,
		concurrency: opts.Concurrency,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		locks:       newKeyLocks(),
	}

	if trigger.interval <= 0 {
		trigger.interval = DefaultInterval
	}

	if trigger.concurrency <= 0 {
		trigger.concurrency = DefaultConcurrency
	}

	if trigger.metrics == nil {
		trigger.metrics = metrics.NewNoopCollector()
	}

	if trigger.logger == nil {
		trigger.logger = slog.Default()
	}

	trigger.logger = trigger.logger.With("component", "sweep")

	return trigger
}

// Start sweeps immediately and then every interval until ctx is done.
// A failed sweep is logged and retried on the next tick.
func (t *Trigger) Start(ctx context.Context) error {
	t.logger.Info("starting periodic sweep", "interval", t.interval, "namespace", t.namespace)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		if _, err := t.Sweep(ctx); err != nil && ctx.Err() == nil {
			t.logger.Error("sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			t.logger.Info("periodic sweep stopped")

			return nil
		case <-ticker.C:
		}
	}
}

// Sweep lists resources once and reconciles those that need it. Only a
// failure to list is returned; per-resource failures end up in their status
// and in the report.
func (t *Trigger) Sweep(ctx context.Context) (Report, error) {
	start := time.Now()

	ctx, span := tracing.StartSweepSpan(ctx, t.namespace)
	defer span.End()

	defer func() { t.metrics.RecordSweep(ctx, time.Since(start)) }()

	resources, err := t.gateway.ListResources(ctx, t.namespace)
	if err != nil {
		tracing.RecordSpanError(span, err)

		return Report{}, errors.Wrap(err, "failed to list resources")
	}

	var (
		mu     sync.Mutex
		report = Report{Listed: len(resources)}
		group  errgroup.Group
	)

	group.SetLimit(t.concurrency)

	for _, resource := range resources {
		if resource.IsDeleting() {
			group.Go(func() error {
				if t.resumeDelete(ctx, resource) {
					mu.Lock()
					report.Deleted++
					mu.Unlock()
				}

				return nil
			})

			continue
		}

		if !domain.NeedsReconciliation(resource) {
			continue
		}

		report.Selected++

		if err := domain.ValidateForReconciliation(resource); err != nil {
			t.recordInvalid(ctx, resource, err)

			report.Invalid++

			continue
		}

		group.Go(func() error {
			result, attempted := t.reconcileLatest(ctx, resource.Key())
			if !attempted {
				return nil
			}

			mu.Lock()
			defer mu.Unlock()

			report.Reconciled++

			switch result.Status.State {
			case domain.StateReady:
				report.Ready++
			case domain.StateFailed:
				report.Failed++
			}

			return nil
		})
	}

	_ = group.Wait()

	t.metrics.RecordSweepResources(ctx, metrics.PhaseListed, report.Listed)
	t.metrics.RecordSweepResources(ctx, metrics.PhaseSelected, report.Selected)
	t.metrics.RecordSweepResources(ctx, metrics.PhaseInvalid, report.Invalid)
	t.metrics.RecordSweepResources(ctx, metrics.PhaseDeleted, report.Deleted)

	t.logger.Debug("sweep finished",
		"listed", report.Listed,
		"selected", report.Selected,
		"ready", report.Ready,
		"failed", report.Failed,
		"invalid", report.Invalid,
		"deleted", report.Deleted,
		"duration", time.Since(start),
	)

	return report, nil
}

// ReconcileNow reconciles one resource right away, regardless of whether a
// sweep would have selected it. It waits for any attempt already running for
// the key and then reads the resource fresh; a missing resource returns
// gateway.ErrNotFound and an invalid one returns *domain.ValidationError
// without touching its children.
func (t *Trigger) ReconcileNow(ctx context.Context, key domain.Key) (domain.ManagedResource, error) {
	unlock, err := t.locks.lock(ctx, key.String())
	if err != nil {
		return domain.ManagedResource{}, err
	}
	defer unlock()

	resource, err := t.gateway.GetResource(ctx, key)
	if err != nil {
		return domain.ManagedResource{}, errors.Wrapf(err, "failed to load %s", key)
	}

	if err := domain.ValidateForReconciliation(resource); err != nil {
		t.recordInvalid(ctx, resource, err)

		return resource, err
	}

	return t.reconciler.Reconcile(ctx, resource), nil
}

// Delete removes the resource behind key and its children once no other
// attempt holds the key. A missing resource returns gateway.ErrNotFound.
func (t *Trigger) Delete(ctx context.Context, key domain.Key) error {
	unlock, err := t.locks.lock(ctx, key.String())
	if err != nil {
		return err
	}
	defer unlock()

	resource, err := t.gateway.GetResource(ctx, key)
	if err != nil {
		return errors.Wrapf(err, "failed to load %s", key)
	}

	return t.reconciler.Delete(ctx, resource)
}

// reconcileLatest re-reads key under its lock and reconciles the record if it
// still needs it. attempted is false when the record vanished, started
// deleting, converged meanwhile or turned invalid.
func (t *Trigger) reconcileLatest(ctx context.Context, key domain.Key) (domain.ManagedResource, bool) {
	unlock, err := t.locks.lock(ctx, key.String())
	if err != nil {
		return domain.ManagedResource{}, false
	}
	defer unlock()

	current, err := t.gateway.GetResource(ctx, key)
	if err != nil {
		if !gateway.IsNotFound(err) {
			t.logger.Error("failed to re-read resource, will retry", "application", key.String(), "error", err)
		}

		return domain.ManagedResource{}, false
	}

	if current.IsDeleting() || !domain.NeedsReconciliation(current) {
		return current, false
	}

	if err := domain.ValidateForReconciliation(current); err != nil {
		t.recordInvalid(ctx, current, err)

		return current, false
	}

	return t.reconciler.Reconcile(ctx, current), true
}

func (t *Trigger) resumeDelete(ctx context.Context, r domain.ManagedResource) bool {
	err := t.Delete(ctx, r.Key())
	if gateway.IsNotFound(err) {
		return false
	}

	if err != nil {
		t.logger.Error("failed to finish delete, will retry", "application", r.Key().String(), "error", err)

		return false
	}

	return true
}

func (t *Trigger) recordInvalid(ctx context.Context, r domain.ManagedResource, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		for _, field := range validationErr.Fields() {
			t.metrics.RecordValidationFailure(ctx, field)
		}
	}

	t.logger.Warn("skipping invalid resource", "application", r.Key().String(), "error", err)
}
