package gateway

import (
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/utils/ptr"

	"github.com/lexfrei/application-operator/api/v1alpha1"
	"github.com/lexfrei/application-operator/internal/domain"
)

// FromApplication converts a stored record into the domain entity.
// An observed generation ahead of the record generation is clamped, and a
// record the API server is deleting is reported as Deleting.
func FromApplication(app *v1alpha1.Application) domain.ManagedResource {
	resource := domain.ManagedResource{
		Name:      app.Name,
		Namespace: app.Namespace,
		Spec: domain.ResourceSpec{
			Replicas: app.Spec.Replicas,
			Image:    app.Spec.Image,
			Port:     app.Spec.Port,
			Env:      cloneMap(app.Spec.Env),
		},
		Generation:        app.Generation,
		UID:               string(app.UID),
		DeletionRequested: app.IsBeingDeleted(),
	}

	resource.Status = statusFromAPI(app.Status, app.Generation)

	if resource.DeletionRequested && resource.Status.State != domain.StateDeleting {
		resource.Status = domain.Deleting("")
	}

	return resource
}

// ToApplication converts the domain entity into the persisted layout.
func ToApplication(r domain.ManagedResource) *v1alpha1.Application {
	app := &v1alpha1.Application{
		TypeMeta: metav1.TypeMeta{
			APIVersion: v1alpha1.GroupVersion.String(),
			Kind:       v1alpha1.Kind,
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:       r.Name,
			Namespace:  r.Namespace,
			Generation: r.Generation,
			UID:        types.UID(r.UID),
		},
		Spec: specToAPI(r.Spec),
	}

	applyStatus(app, r.Status)

	return app
}

func specToAPI(spec domain.ResourceSpec) v1alpha1.ApplicationSpec {
	return v1alpha1.ApplicationSpec{
		Replicas: spec.Replicas,
		Image:    spec.Image,
		Port:     spec.Port,
		Env:      cloneMap(spec.Env),
	}
}

// applyStatus overwrites the persisted status with status.
func applyStatus(app *v1alpha1.Application, status domain.ResourceStatus) {
	app.Status = v1alpha1.ApplicationStatus{
		State:   v1alpha1.ApplicationState(status.State),
		Message: status.Message,
	}

	if status.LastReconciledAt != nil {
		app.Status.LastReconciledAt = ptr.To(metav1.NewTime(*status.LastReconciledAt))
	}

	if gen, ok := status.Generation(); ok {
		app.Status.ObservedGeneration = ptr.To(gen)
	}
}

func statusFromAPI(status v1alpha1.ApplicationStatus, generation int64) domain.ResourceStatus {
	result := domain.ResourceStatus{
		State:   domain.State(status.GetState()),
		Message: status.Message,
	}

	if status.LastReconciledAt != nil {
		result.LastReconciledAt = ptr.To(status.LastReconciledAt.Time.UTC().Truncate(time.Second))
	}

	if status.ObservedGeneration != nil {
		observed := min(*status.ObservedGeneration, generation)
		result.ObservedGeneration = &observed
	}

	return result
}

func cloneMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}

	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}

	return out
}
