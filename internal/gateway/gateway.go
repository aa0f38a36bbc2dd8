// Package gateway reads and writes Application records and their managed
// children against a backing store.
//
// Two adapters implement Gateway: KubernetesGateway talks to the cluster
// through controller-runtime, BoltGateway keeps everything in an embedded
// bbolt file for standalone runs. Both report absence through ErrNotFound and
// duplicate creation through ErrAlreadyExists so callers can use errors.Is
// without knowing which store is behind the interface.
package gateway

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/lexfrei/application-operator/internal/domain"
	"github.com/lexfrei/application-operator/internal/metrics"
)

var (
	// ErrNotFound marks lookups that found nothing.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists marks creates that collided with an existing object.
	ErrAlreadyExists = errors.New("already exists")
)

// Operation labels for gateway metrics.
const (
	OpGetResource     = "get_resource"
	OpListResources   = "list_resources"
	OpCreateResource  = "create_resource"
	OpReplaceResource = "replace_resource"
	OpDeleteResource  = "delete_resource"
	OpUpdateStatus    = "update_status"
	OpWorkloadExists  = "workload_exists"
	OpCreateWorkload  = "create_workload"
	OpUpdateWorkload  = "update_workload"
	OpDeleteWorkload  = "delete_workload"
	OpCreateEndpoint  = "create_endpoint"
)

// Gateway is the contract between the reconciler and the backing store.
// Every call may block on I/O and must honour ctx.
//
//nolint:interfacebloat // mirrors the store's resource and child operations
type Gateway interface {
	GetResource(ctx context.Context, key domain.Key) (domain.ManagedResource, error)
	// ListResources lists resources in namespace, or in all namespaces when it is empty.
	ListResources(ctx context.Context, namespace string) ([]domain.ManagedResource, error)
	CreateResource(ctx context.Context, resource domain.ManagedResource) (domain.ManagedResource, error)
	// ReplaceResource writes the whole spec. The store decides the resulting generation.
	ReplaceResource(ctx context.Context, resource domain.ManagedResource) (domain.ManagedResource, error)
	// DeleteResource removes the record. A missing record is not an error.
	DeleteResource(ctx context.Context, key domain.Key) error
	// UpdateStatus persists status; the observed generation travels inside it.
	UpdateStatus(ctx context.Context, key domain.Key, status domain.ResourceStatus) error

	WorkloadExists(ctx context.Context, key domain.Key) (bool, error)
	CreateWorkload(ctx context.Context, resource domain.ManagedResource) error
	UpdateWorkload(ctx context.Context, resource domain.ManagedResource) error
	// DeleteWorkload removes the workload and its endpoint. Missing children are not errors.
	DeleteWorkload(ctx context.Context, key domain.Key) error
	// CreateEndpoint ensures the endpoint exists. An existing endpoint is success.
	CreateEndpoint(ctx context.Context, resource domain.ManagedResource) error
}

// IsNotFound reports whether err is marked as ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists reports whether err is marked as ErrAlreadyExists.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

func notFoundf(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrNotFound)
}

func alreadyExistsf(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrAlreadyExists)
}

// observeCall records one store call with its outcome.
func observeCall(ctx context.Context, collector metrics.Collector, operation string, start time.Time, err error) {
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
		collector.RecordGatewayError(ctx, operation, metrics.ClassifyGatewayError(err))
	}

	collector.RecordGatewayCall(ctx, operation, status, time.Since(start))
}
