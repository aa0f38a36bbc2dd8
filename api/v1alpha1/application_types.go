package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// ApplicationState is the lifecycle state reported in Application status.
// +kubebuilder:validation:Enum=Pending;Reconciling;Ready;Failed;Deleting
type ApplicationState string

const (
	StatePending     ApplicationState = "Pending"
	StateReconciling ApplicationState = "Reconciling"
	StateReady       ApplicationState = "Ready"
	StateFailed      ApplicationState = "Failed"
	StateDeleting    ApplicationState = "Deleting"
)

// ApplicationSpec defines the desired state of Application.
type ApplicationSpec struct {
	// Replicas is the desired number of pods for the managed Deployment.
	// +kubebuilder:validation:Minimum=0
	Replicas int32 `json:"replicas"`

	// Image is the container image reference.
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinLength=1
	Image string `json:"image"`

	// Port is the container port exposed through the managed Service.
	// +kubebuilder:validation:Minimum=1
	// +kubebuilder:validation:Maximum=65535
	Port int32 `json:"port"`

	// Env is injected into the container as plain environment variables.
	// +optional
	Env map[string]string `json:"env,omitempty"`
}

// ApplicationStatus defines the observed state of Application.
type ApplicationStatus struct {
	// State is the current lifecycle state.
	// +optional
	State ApplicationState `json:"state,omitempty"`

	// Message is a human-readable description of the state.
	// +optional
	Message string `json:"message,omitempty"`

	// LastReconciledAt is when the operator last started or finished a reconcile.
	// +optional
	LastReconciledAt *metav1.Time `json:"lastReconciledAt,omitempty"`

	// ObservedGeneration is the generation that was last reconciled successfully.
	// +optional
	ObservedGeneration *int64 `json:"observedGeneration,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:shortName=app
// +kubebuilder:printcolumn:name="Image",type=string,JSONPath=`.spec.image`
// +kubebuilder:printcolumn:name="Replicas",type=integer,JSONPath=`.spec.replicas`
// +kubebuilder:printcolumn:name="State",type=string,JSONPath=`.status.state`
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`

// Application is the Schema for the applications API.
// Each Application owns exactly one Deployment and one Service with the same name.
type Application struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   ApplicationSpec   `json:"spec,omitempty"`
	Status ApplicationStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// ApplicationList contains a list of Application.
type ApplicationList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Application `json:"items"`
}

func init() {
	SchemeBuilder.Register(&Application{}, &ApplicationList{})
}

// GetState returns the persisted state, defaulting to Pending for records
// that have never been touched by the operator.
func (s *ApplicationStatus) GetState() ApplicationState {
	if s.State == "" {
		return StatePending
	}

	return s.State
}

// IsBeingDeleted reports whether the API server has started deleting the record.
func (a *Application) IsBeingDeleted() bool {
	return !a.DeletionTimestamp.IsZero()
}
