// Package metrics provides Prometheus metrics instrumentation for the operator.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Reconcile result labels.
const (
	ResultReady   = "ready"
	ResultFailed  = "failed"
	ResultTimeout = "timeout"
	ResultSkipped = "skipped"
)

// Gateway call status labels.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Sweep phase labels.
const (
	PhaseListed   = "listed"
	PhaseSelected = "selected"
	PhaseInvalid  = "invalid"
	PhaseDeleted  = "deleted"
)

// Collector provides metrics recording interface.
// This allows components to record metrics without direct prometheus dependency.
type Collector interface {
	// Reconcile metrics
	RecordReconcile(ctx context.Context, result string, duration time.Duration)
	RecordStatusTransition(ctx context.Context, state string)
	RecordStatusPersistFailure(ctx context.Context)

	// Sweep metrics
	RecordSweep(ctx context.Context, duration time.Duration)
	RecordSweepResources(ctx context.Context, phase string, count int)
	RecordValidationFailure(ctx context.Context, field string)

	// Gateway metrics
	RecordGatewayCall(ctx context.Context, operation, status string, duration time.Duration)
	RecordGatewayError(ctx context.Context, operation, errorType string)
}

// prometheusCollector implements Collector using Prometheus metrics.
type prometheusCollector struct {
	// Reconcile metrics
	reconcileDuration     *prometheus.HistogramVec
	reconcileTotal        *prometheus.CounterVec
	statusTransitions     *prometheus.CounterVec
	statusPersistFailures prometheus.Counter

	// Sweep metrics
	sweepDuration      prometheus.Histogram
	sweepResources     *prometheus.GaugeVec
	validationFailures *prometheus.CounterVec

	// Gateway metrics
	gatewayDuration    *prometheus.HistogramVec
	gatewayCallsTotal  *prometheus.CounterVec
	gatewayErrorsTotal *prometheus.CounterVec
}

// NewCollector creates a new Prometheus metrics collector and registers metrics.
func NewCollector(reg prometheus.Registerer) Collector {
	c := &prometheusCollector{}
	c.initReconcileMetrics()
	c.initSweepMetrics()
	c.initGatewayMetrics()
	c.register(reg)

	return c
}

// RecordReconcile records one reconcile attempt and its outcome.
func (c *prometheusCollector) RecordReconcile(_ context.Context, result string, duration time.Duration) {
	c.reconcileDuration.WithLabelValues(result).Observe(duration.Seconds())
	c.reconcileTotal.WithLabelValues(result).Inc()
}

// RecordStatusTransition records a persisted status change.
func (c *prometheusCollector) RecordStatusTransition(_ context.Context, state string) {
	c.statusTransitions.WithLabelValues(state).Inc()
}

// RecordStatusPersistFailure records a status write that was dropped.
func (c *prometheusCollector) RecordStatusPersistFailure(_ context.Context) {
	c.statusPersistFailures.Inc()
}

// RecordSweep records the duration of a full sweep.
func (c *prometheusCollector) RecordSweep(_ context.Context, duration time.Duration) {
	c.sweepDuration.Observe(duration.Seconds())
}

// RecordSweepResources records how many resources the last sweep saw per phase.
func (c *prometheusCollector) RecordSweepResources(_ context.Context, phase string, count int) {
	c.sweepResources.WithLabelValues(phase).Set(float64(count))
}

// RecordValidationFailure records a resource rejected before reconciliation.
func (c *prometheusCollector) RecordValidationFailure(_ context.Context, field string) {
	c.validationFailures.WithLabelValues(field).Inc()
}

// RecordGatewayCall records a backing store call.
func (c *prometheusCollector) RecordGatewayCall(
	_ context.Context,
	operation, status string,
	duration time.Duration,
) {
	c.gatewayDuration.WithLabelValues(operation).Observe(duration.Seconds())
	c.gatewayCallsTotal.WithLabelValues(operation, status).Inc()
}

// RecordGatewayError records a backing store error.
func (c *prometheusCollector) RecordGatewayError(_ context.Context, operation, errorType string) {
	c.gatewayErrorsTotal.WithLabelValues(operation, errorType).Inc()
}

func (c *prometheusCollector) initReconcileMetrics() {
	c.reconcileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "appop_reconcile_duration_seconds",
			Help:    "Duration of a single reconcile attempt",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"result"},
	)
	c.reconcileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appop_reconcile_total",
			Help: "Total reconcile attempts by result",
		},
		[]string{"result"},
	)
	c.statusTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appop_status_transitions_total",
			Help: "Total persisted status transitions by target state",
		},
		[]string{"state"},
	)
	c.statusPersistFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "appop_status_persist_failures_total",
			Help: "Total status writes that failed and were dropped",
		},
	)
}

func (c *prometheusCollector) initSweepMetrics() {
	c.sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "appop_sweep_duration_seconds",
			Help:    "Duration of a full sweep over all resources",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)
	c.sweepResources = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "appop_sweep_resources",
			Help: "Number of resources seen by the last sweep per phase",
		},
		[]string{"phase"},
	)
	c.validationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appop_validation_failures_total",
			Help: "Total resources rejected before reconciliation by field",
		},
		[]string{"field"},
	)
}

func (c *prometheusCollector) initGatewayMetrics() {
	c.gatewayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "appop_gateway_call_duration_seconds",
			Help:    "Duration of backing store calls",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"operation"},
	)
	c.gatewayCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appop_gateway_calls_total",
			Help: "Total backing store calls",
		},
		[]string{"operation", "status"},
	)
	c.gatewayErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appop_gateway_errors_total",
			Help: "Total backing store errors by type",
		},
		[]string{"operation", "error_type"},
	)
}

func (c *prometheusCollector) register(reg prometheus.Registerer) {
	reg.MustRegister(
		c.reconcileDuration,
		c.reconcileTotal,
		c.statusTransitions,
		c.statusPersistFailures,
		c.sweepDuration,
		c.sweepResources,
		c.validationFailures,
		c.gatewayDuration,
		c.gatewayCallsTotal,
		c.gatewayErrorsTotal,
	)
}

// NoopCollector is a no-op implementation of Collector for testing.
type NoopCollector struct{}

// NewNoopCollector creates a new no-op collector.
func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

// RecordReconcile is a no-op.
func (c *NoopCollector) RecordReconcile(_ context.Context, _ string, _ time.Duration) {}

// RecordStatusTransition is a no-op.
func (c *NoopCollector) RecordStatusTransition(_ context.Context, _ string) {}

// RecordStatusPersistFailure is a no-op.
func (c *NoopCollector) RecordStatusPersistFailure(_ context.Context) {}

// RecordSweep is a no-op.
func (c *NoopCollector) RecordSweep(_ context.Context, _ time.Duration) {}

// RecordSweepResources is a no-op.
func (c *NoopCollector) RecordSweepResources(_ context.Context, _ string, _ int) {}

// RecordValidationFailure is a no-op.
func (c *NoopCollector) RecordValidationFailure(_ context.Context, _ string) {}

// RecordGatewayCall is a no-op.
func (c *NoopCollector) RecordGatewayCall(_ context.Context, _, _ string, _ time.Duration) {}

// RecordGatewayError is a no-op.
func (c *NoopCollector) RecordGatewayError(_ context.Context, _, _ string) {}
