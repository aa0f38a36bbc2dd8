package gateway

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/lexfrei/application-operator/internal/domain"
)

func testResource() domain.ManagedResource {
	return domain.ManagedResource{
		Name:       "web",
		Namespace:  "default",
		Spec:       domain.ResourceSpec{Replicas: 3, Image: "nginx:1.25", Port: 80},
		Status:     domain.Pending(domain.MessageCreated),
		Generation: 1,
	}
}

func TestBuildLabels(t *testing.T) {
	t.Parallel()

	labels := BuildLabels("web")

	assert.Equal(t, map[string]string{
		"app.kubernetes.io/name":       "web",
		"app.kubernetes.io/instance":   "web",
		"app.kubernetes.io/managed-by": "application-operator",
	}, labels)
}

func TestBuildDeployment(t *testing.T) {
	t.Parallel()

	resource := testResource()
	resource.Spec.Env = map[string]string{"ZETA": "z", "ALPHA": "a", "MID": "m"}

	deployment := BuildDeployment(resource)

	assert.Equal(t, "web", deployment.Name)
	assert.Equal(t, "default", deployment.Namespace)
	require.NotNil(t, deployment.Spec.Replicas)
	assert.Equal(t, int32(3), *deployment.Spec.Replicas)
	assert.Equal(t, selectorLabels("web"), deployment.Spec.Selector.MatchLabels)
	assert.Equal(t, BuildLabels("web"), deployment.Spec.Template.Labels)
	assert.Empty(t, deployment.OwnerReferences)

	require.Len(t, deployment.Spec.Template.Spec.Containers, 1)

	want := corev1.Container{
		Name:  "web",
		Image: "nginx:1.25",
		Ports: []corev1.ContainerPort{{Name: "http", ContainerPort: 80, Protocol: corev1.ProtocolTCP}},
		Env: []corev1.EnvVar{
			{Name: "ALPHA", Value: "a"},
			{Name: "MID", Value: "m"},
			{Name: "ZETA", Value: "z"},
		},
	}

	if diff := cmp.Diff(want, deployment.Spec.Template.Spec.Containers[0]); diff != "" {
		t.Errorf("container mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildDeployment_OwnerReference(t *testing.T) {
	t.Parallel()

	resource := testResource()
	resource.UID = "1234-abcd"

	deployment := BuildDeployment(resource)

	require.Len(t, deployment.OwnerReferences, 1)
	ref := deployment.OwnerReferences[0]
	assert.Equal(t, "platform.k8sbox.io/v1alpha1", ref.APIVersion)
	assert.Equal(t, "Application", ref.Kind)
	assert.Equal(t, "web", ref.Name)
	assert.Equal(t, "1234-abcd", string(ref.UID))
	require.NotNil(t, ref.Controller)
	assert.True(t, *ref.Controller)
}

func TestBuildService(t *testing.T) {
	t.Parallel()

	resource := testResource()
	resource.UID = "1234-abcd"

	service := BuildService(resource)

	assert.Equal(t, corev1.ServiceTypeClusterIP, service.Spec.Type)
	assert.Equal(t, selectorLabels("web"), service.Spec.Selector)
	require.Len(t, service.Spec.Ports, 1)
	assert.Equal(t, int32(80), service.Spec.Ports[0].Port)
	assert.Equal(t, intstr.FromInt32(80), service.Spec.Ports[0].TargetPort)
	assert.Len(t, service.OwnerReferences, 1)
}

func TestApplyWorkloadSpec(t *testing.T) {
	t.Parallel()

	existing := BuildDeployment(testResource())
	existing.Labels["custom"] = "kept"
	existing.Spec.Selector.MatchLabels = map[string]string{"legacy": "selector"}

	updated := testResource()
	updated.Spec = domain.ResourceSpec{Replicas: 5, Image: "nginx:1.27", Port: 8080, Env: map[string]string{"A": "1"}}

	applyWorkloadSpec(existing, BuildDeployment(updated))

	assert.Equal(t, int32(5), *existing.Spec.Replicas)
	assert.Equal(t, "nginx:1.27", existing.Spec.Template.Spec.Containers[0].Image)
	assert.Equal(t, int32(8080), existing.Spec.Template.Spec.Containers[0].Ports[0].ContainerPort)
	assert.Equal(t, "kept", existing.Labels["custom"])
	assert.Equal(t, map[string]string{"legacy": "selector"}, existing.Spec.Selector.MatchLabels)
}

func TestServicePortsMatch(t *testing.T) {
	t.Parallel()

	resource := testResource()
	current := BuildService(resource)

	assert.True(t, servicePortsMatch(current, BuildService(resource)))

	resource.Spec.Port = 8080
	assert.False(t, servicePortsMatch(current, BuildService(resource)))
}
