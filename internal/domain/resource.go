package domain

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// Key identifies a resource within the cluster.
type Key struct {
	Namespace string
	Name      string
}

// String returns "namespace/name".
func (k Key) String() string {
	return k.Namespace + "/" + k.Name
}

// ManagedResource is the entity the operator converges. It is a value:
// WithStatus and WithSpec return modified copies.
type ManagedResource struct {
	Name       string
	Namespace  string
	Spec       ResourceSpec
	Status     ResourceStatus
	Generation int64
	UID        string

	// DeletionRequested is set when the backing store has started deleting the record.
	DeletionRequested bool
}

// NewManagedResource builds a fresh resource at generation 1 in Pending.
func NewManagedResource(name, namespace string, spec ResourceSpec) (ManagedResource, error) {
	if strings.TrimSpace(name) == "" {
		return ManagedResource{}, errors.New("resource name is required")
	}

	if strings.TrimSpace(namespace) == "" {
		return ManagedResource{}, errors.New("resource namespace is required")
	}

	if err := spec.Validate(); err != nil {
		return ManagedResource{}, err
	}

	return ManagedResource{
		Name:       name,
		Namespace:  namespace,
		Spec:       ResourceSpec{Replicas: spec.Replicas, Image: spec.Image, Port: spec.Port, Env: spec.EnvCopy()},
		Status:     Pending(MessageCreated),
		Generation: 1,
	}, nil
}

// Key returns the identity of the resource.
func (r ManagedResource) Key() Key {
	return Key{Namespace: r.Namespace, Name: r.Name}
}

// WithStatus returns a copy carrying the given status.
func (r ManagedResource) WithStatus(status ResourceStatus) ManagedResource {
	r.Status = status

	return r
}

// WithSpec returns a copy carrying the given spec. Generation advances by one
// only when the spec actually differs.
func (r ManagedResource) WithSpec(spec ResourceSpec) ManagedResource {
	if r.Spec.Equal(spec) {
		return r
	}

	r.Spec = ResourceSpec{Replicas: spec.Replicas, Image: spec.Image, Port: spec.Port, Env: spec.EnvCopy()}
	r.Generation++

	return r
}

// IsDeleting reports whether the resource is on its way out.
func (r ManagedResource) IsDeleting() bool {
	return r.DeletionRequested || r.Status.State == StateDeleting
}

// HasPendingChanges reports whether the spec moved past the last observed generation.
func (r ManagedResource) HasPendingChanges() bool {
	observed, ok := r.Status.Generation()
	if !ok {
		return true
	}

	return observed < r.Generation
}
