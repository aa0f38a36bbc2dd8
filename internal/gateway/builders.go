package gateway

import (
	"slices"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"

	"github.com/lexfrei/application-operator/api/v1alpha1"
	"github.com/lexfrei/application-operator/internal/domain"
)

const (
	// LabelAppName is the standard label key for the application name.
	LabelAppName = "app.kubernetes.io/name"

	// LabelAppInstance is the standard label key for the instance name.
	LabelAppInstance = "app.kubernetes.io/instance"

	// LabelAppManagedBy is the standard label key for the managing tool.
	LabelAppManagedBy = "app.kubernetes.io/managed-by"

	// ManagedBy identifies the operator on every child it creates.
	ManagedBy = "application-operator"

	servicePortName = "http"
)

// BuildLabels returns the labels shared by the workload, its pods and the endpoint.
func BuildLabels(name string) map[string]string {
	return map[string]string{
		LabelAppName:      name,
		LabelAppInstance:  name,
		LabelAppManagedBy: ManagedBy,
	}
}

// selectorLabels is the immutable subset used in label selectors.
func selectorLabels(name string) map[string]string {
	return map[string]string{
		LabelAppName:     name,
		LabelAppInstance: name,
	}
}

// BuildDeployment returns the desired workload for r. The result is
// deterministic: env entries are sorted by name.
func BuildDeployment(r domain.ManagedResource) *appsv1.Deployment {
	labels := BuildLabels(r.Name)

	deployment := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:            r.Name,
			Namespace:       r.Namespace,
			Labels:          labels,
			OwnerReferences: ownerReferences(r),
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To(r.Spec.Replicas),
			Selector: &metav1.LabelSelector{
				MatchLabels: selectorLabels(r.Name),
			},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: labels,
				},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{buildContainer(r)},
				},
			},
		},
	}

	return deployment
}

// BuildService returns the desired ClusterIP endpoint for r.
func BuildService(r domain.ManagedResource) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:            r.Name,
			Namespace:       r.Namespace,
			Labels:          BuildLabels(r.Name),
			OwnerReferences: ownerReferences(r),
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeClusterIP,
			Selector: selectorLabels(r.Name),
			Ports:    buildServicePorts(r),
		},
	}
}

// applyWorkloadSpec copies the mutable fields of desired into existing.
// The selector is immutable and left alone.
func applyWorkloadSpec(existing, desired *appsv1.Deployment) {
	existing.Labels = mergeLabels(existing.Labels, desired.Labels)
	existing.Spec.Replicas = desired.Spec.Replicas
	existing.Spec.Template.Labels = mergeLabels(existing.Spec.Template.Labels, desired.Spec.Template.Labels)
	existing.Spec.Template.Spec.Containers = desired.Spec.Template.Spec.Containers

	if len(existing.OwnerReferences) == 0 {
		existing.OwnerReferences = desired.OwnerReferences
	}
}

// servicePortsMatch reports whether svc already exposes the desired ports.
func servicePortsMatch(existing, desired *corev1.Service) bool {
	if len(existing.Spec.Ports) != len(desired.Spec.Ports) {
		return false
	}

	for i := range desired.Spec.Ports {
		got, want := existing.Spec.Ports[i], desired.Spec.Ports[i]
		if got.Port != want.Port || got.TargetPort != want.TargetPort || got.Protocol != want.Protocol {
			return false
		}
	}

	return true
}

func buildContainer(r domain.ManagedResource) corev1.Container {
	return corev1.Container{
		Name:  r.Name,
		Image: r.Spec.Image,
		Ports: []corev1.ContainerPort{
			{
				Name:          servicePortName,
				ContainerPort: r.Spec.Port,
				Protocol:      corev1.ProtocolTCP,
			},
		},
		Env: buildContainerEnv(r.Spec.Env),
	}
}

func buildContainerEnv(env map[string]string) []corev1.EnvVar {
	if len(env) == 0 {
		return nil
	}

	names := make([]string, 0, len(env))
	for name := range env {
		names = append(names, name)
	}

	slices.Sort(names)

	vars := make([]corev1.EnvVar, 0, len(names))
	for _, name := range names {
		vars = append(vars, corev1.EnvVar{Name: name, Value: env[name]})
	}

	return vars
}

func buildServicePorts(r domain.ManagedResource) []corev1.ServicePort {
	return []corev1.ServicePort{
		{
			Name:       servicePortName,
			Port:       r.Spec.Port,
			TargetPort: intstr.FromInt32(r.Spec.Port),
			Protocol:   corev1.ProtocolTCP,
		},
	}
}

// ownerReferences links a child to its Application so the garbage collector
// removes it with the parent. Nothing is set until the parent has a UID.
func ownerReferences(r domain.ManagedResource) []metav1.OwnerReference {
	if r.UID == "" {
		return nil
	}

	return []metav1.OwnerReference{
		{
			APIVersion:         v1alpha1.GroupVersion.String(),
			Kind:               v1alpha1.Kind,
			Name:               r.Name,
			UID:                types.UID(r.UID),
			Controller:         ptr.To(true),
			BlockOwnerDeletion: ptr.To(true),
		},
	}
}

func mergeLabels(base, overrides map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(overrides))
	for k, v := range base {
		merged[k] = v
	}

	for k, v := range overrides {
		merged[k] = v
	}

	return merged
}
