package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/tools/record"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"

	"github.com/lexfrei/application-operator/api/v1alpha1"
	"github.com/lexfrei/application-operator/internal/domain"
	"github.com/lexfrei/application-operator/internal/metrics"
)

// recordingCollector captures gateway error labels.
type recordingCollector struct {
	metrics.NoopCollector

	mu     sync.Mutex
	errors map[string]string
	calls  map[string]int
}

func newRecordingCollector() *recordingCollector {
	return &recordingCollector{errors: map[string]string{}, calls: map[string]int{}}
}

func (c *recordingCollector) RecordGatewayCall(_ context.Context, operation, _ string, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls[operation]++
}

func (c *recordingCollector) RecordGatewayError(_ context.Context, operation, errorType string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.errors[operation] = errorType
}

func newTestScheme(t *testing.T) *runtime.Scheme {
	t.Helper()

	scheme := runtime.NewScheme()
	require.NoError(t, v1alpha1.AddToScheme(scheme))
	require.NoError(t, appsv1.AddToScheme(scheme))
	require.NoError(t, corev1.AddToScheme(scheme))

	return scheme
}

func newTestApplication(name string) *v1alpha1.Application {
	return &v1alpha1.Application{
		ObjectMeta: metav1.ObjectMeta{
			Name:       name,
			Namespace:  "default",
			Generation: 1,
			UID:        types.UID("uid-" + name),
		},
		Spec: v1alpha1.ApplicationSpec{
			Replicas: 3,
			Image:    "nginx:1.25",
			Port:     80,
		},
	}
}

func newKubernetesGateway(
	t *testing.T,
	objs ...client.Object,
) (*KubernetesGateway, client.Client, *record.FakeRecorder, *recordingCollector) {
	t.Helper()

	fakeClient := fake.NewClientBuilder().
		WithScheme(newTestScheme(t)).
		WithObjects(objs...).
		WithStatusSubresource(&v1alpha1.Application{}).
		Build()

	recorder := record.NewFakeRecorder(20)
	collector := newRecordingCollector()

	return NewKubernetesGateway(fakeClient, fakeClient, recorder, collector, nil), fakeClient, recorder, collector
}

func TestKubernetesGateway_GetResource_NotFound(t *testing.T) {
	t.Parallel()

	gw, _, _, collector := newKubernetesGateway(t)

	_, err := gw.GetResource(context.Background(), domain.Key{Namespace: "default", Name: "missing"})

	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, metrics.ErrorTypeNotFound, collector.errors[OpGetResource])
}

func TestKubernetesGateway_CreateAndGet(t *testing.T) {
	t.Parallel()

	gw, _, _, _ := newKubernetesGateway(t)
	ctx := context.Background()

	created, err := gw.CreateResource(ctx, testResource())
	require.NoError(t, err)
	assert.Equal(t, domain.StatePending, created.Status.State)

	fetched, err := gw.GetResource(ctx, created.Key())
	require.NoError(t, err)
	assert.Equal(t, int32(3), fetched.Spec.Replicas)
	assert.Equal(t, domain.StatePending, fetched.Status.State)
	assert.Equal(t, domain.MessageCreated, fetched.Status.Message)

	_, err = gw.CreateResource(ctx, testResource())
	require.Error(t, err)
	assert.True(t, IsAlreadyExists(err))
}

func TestKubernetesGateway_CreateResource_StatusWriteFails(t *testing.T) {
	t.Parallel()

	fakeClient := fake.NewClientBuilder().
		WithScheme(newTestScheme(t)).
		WithStatusSubresource(&v1alpha1.Application{}).
		WithInterceptorFuncs(interceptor.Funcs{
			SubResourceUpdate: func(
				context.Context, client.Client, string, client.Object, ...client.SubResourceUpdateOption,
			) error {
				return apierrors.NewServiceUnavailable("etcd leader changed")
			},
		}).
		Build()

	collector := newRecordingCollector()
	gw := NewKubernetesGateway(fakeClient, fakeClient, nil, collector, nil)
	ctx := context.Background()

	created, err := gw.CreateResource(ctx, testResource())
	require.NoError(t, err)
	assert.Equal(t, domain.StatePending, created.Status.State)
	assert.Equal(t, 1, collector.calls[OpUpdateStatus])
	assert.NotEmpty(t, collector.errors[OpUpdateStatus])

	fetched, err := gw.GetResource(ctx, created.Key())
	require.NoError(t, err)
	assert.Equal(t, domain.StatePending, fetched.Status.State)
}

func TestKubernetesGateway_ListResources(t *testing.T) {
	t.Parallel()

	other := newTestApplication("api")
	other.Namespace = "staging"

	gw, _, _, _ := newKubernetesGateway(t, newTestApplication("web"), other)
	ctx := context.Background()

	all, err := gw.ListResources(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	scoped, err := gw.ListResources(ctx, "staging")
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "api", scoped[0].Name)
}

func TestKubernetesGateway_ReplaceResource(t *testing.T) {
	t.Parallel()

	gw, fakeClient, _, _ := newKubernetesGateway(t, newTestApplication("web"))
	ctx := context.Background()

	resource, err := gw.GetResource(ctx, domain.Key{Namespace: "default", Name: "web"})
	require.NoError(t, err)

	updated, err := gw.ReplaceResource(ctx, resource.WithSpec(domain.ResourceSpec{Replicas: 5, Image: "nginx:1.25", Port: 80}))
	require.NoError(t, err)
	assert.Equal(t, int32(5), updated.Spec.Replicas)

	var stored v1alpha1.Application
	require.NoError(t, fakeClient.Get(ctx, client.ObjectKey{Namespace: "default", Name: "web"}, &stored))
	assert.Equal(t, int32(5), stored.Spec.Replicas)

	_, err = gw.ReplaceResource(ctx, domain.ManagedResource{Name: "missing", Namespace: "default"})
	assert.True(t, IsNotFound(err))
}

func TestKubernetesGateway_UpdateStatus(t *testing.T) {
	t.Parallel()

	gw, fakeClient, recorder, _ := newKubernetesGateway(t, newTestApplication("web"))
	ctx := context.Background()
	key := domain.Key{Namespace: "default", Name: "web"}

	require.NoError(t, gw.UpdateStatus(ctx, key, domain.Ready(domain.MessageReconciled, 1, time.Now())))

	var stored v1alpha1.Application
	require.NoError(t, fakeClient.Get(ctx, client.ObjectKey{Namespace: "default", Name: "web"}, &stored))
	assert.Equal(t, v1alpha1.StateReady, stored.Status.State)
	require.NotNil(t, stored.Status.ObservedGeneration)
	assert.Equal(t, int64(1), *stored.Status.ObservedGeneration)

	select {
	case event := <-recorder.Events:
		assert.Contains(t, event, "Normal Ready")
	default:
		t.Fatal("expected a Ready event")
	}

	err := gw.UpdateStatus(ctx, domain.Key{Namespace: "default", Name: "missing"}, domain.Failed("x"))
	assert.True(t, IsNotFound(err))
}

func TestKubernetesGateway_UpdateStatus_FailedEmitsWarning(t *testing.T) {
	t.Parallel()

	gw, _, recorder, _ := newKubernetesGateway(t, newTestApplication("web"))

	err := gw.UpdateStatus(context.Background(), domain.Key{Namespace: "default", Name: "web"}, domain.Failed("image pull"))
	require.NoError(t, err)

	select {
	case event := <-recorder.Events:
		assert.Contains(t, event, "Warning ReconcileFailed Reconciliation failed: image pull")
	default:
		t.Fatal("expected a warning event")
	}
}

func TestKubernetesGateway_WorkloadLifecycle(t *testing.T) {
	t.Parallel()

	gw, fakeClient, _, _ := newKubernetesGateway(t)
	ctx := context.Background()
	resource := testResource()

	exists, err := gw.WorkloadExists(ctx, resource.Key())
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, gw.CreateWorkload(ctx, resource))
	require.NoError(t, gw.CreateEndpoint(ctx, resource))

	exists, err = gw.WorkloadExists(ctx, resource.Key())
	require.NoError(t, err)
	assert.True(t, exists)

	resource.Spec.Replicas = 5
	resource.Spec.Image = "nginx:1.27"
	require.NoError(t, gw.UpdateWorkload(ctx, resource))

	var deployment appsv1.Deployment
	require.NoError(t, fakeClient.Get(ctx, client.ObjectKey{Namespace: "default", Name: "web"}, &deployment))
	assert.Equal(t, int32(5), *deployment.Spec.Replicas)
	assert.Equal(t, "nginx:1.27", deployment.Spec.Template.Spec.Containers[0].Image)

	require.NoError(t, gw.DeleteWorkload(ctx, resource.Key()))

	exists, err = gw.WorkloadExists(ctx, resource.Key())
	require.NoError(t, err)
	assert.False(t, exists)

	var service corev1.Service
	err = fakeClient.Get(ctx, client.ObjectKey{Namespace: "default", Name: "web"}, &service)
	assert.True(t, apierrors.IsNotFound(err))
}

func TestKubernetesGateway_CreateWorkload_FallsBackToUpdate(t *testing.T) {
	t.Parallel()

	existing := BuildDeployment(testResource())
	gw, fakeClient, _, _ := newKubernetesGateway(t, existing)
	ctx := context.Background()

	resource := testResource()
	resource.Spec.Replicas = 7

	require.NoError(t, gw.CreateWorkload(ctx, resource))

	var deployment appsv1.Deployment
	require.NoError(t, fakeClient.Get(ctx, client.ObjectKey{Namespace: "default", Name: "web"}, &deployment))
	assert.Equal(t, int32(7), *deployment.Spec.Replicas)
}

func TestKubernetesGateway_UpdateWorkload_Missing(t *testing.T) {
	t.Parallel()

	gw, _, _, _ := newKubernetesGateway(t)

	err := gw.UpdateWorkload(context.Background(), testResource())

	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestKubernetesGateway_CreateEndpoint_Idempotent(t *testing.T) {
	t.Parallel()

	gw, fakeClient, _, _ := newKubernetesGateway(t)
	ctx := context.Background()
	resource := testResource()

	require.NoError(t, gw.CreateEndpoint(ctx, resource))
	require.NoError(t, gw.CreateEndpoint(ctx, resource))

	resource.Spec.Port = 8080
	require.NoError(t, gw.CreateEndpoint(ctx, resource))

	var service corev1.Service
	require.NoError(t, fakeClient.Get(ctx, client.ObjectKey{Namespace: "default", Name: "web"}, &service))
	require.Len(t, service.Spec.Ports, 1)
	assert.Equal(t, int32(8080), service.Spec.Ports[0].Port)
}

func TestKubernetesGateway_DeleteIsIdempotent(t *testing.T) {
	t.Parallel()

	gw, _, _, _ := newKubernetesGateway(t)
	ctx := context.Background()
	key := domain.Key{Namespace: "default", Name: "web"}

	assert.NoError(t, gw.DeleteWorkload(ctx, key))
	assert.NoError(t, gw.DeleteResource(ctx, key))
}

func TestKubernetesGateway_DeleteResource(t *testing.T) {
	t.Parallel()

	gw, _, _, collector := newKubernetesGateway(t, newTestApplication("web"))
	ctx := context.Background()
	key := domain.Key{Namespace: "default", Name: "web"}

	require.NoError(t, gw.DeleteResource(ctx, key))

	_, err := gw.GetResource(ctx, key)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, 1, collector.calls[OpDeleteResource])
}

func TestKubernetesGateway_DeletingRecordMapsToDeleting(t *testing.T) {
	t.Parallel()

	now := metav1.Now()
	app := newTestApplication("web")
	app.DeletionTimestamp = &now
	app.Finalizers = []string{"platform.k8sbox.io/test"}

	gw, _, _, _ := newKubernetesGateway(t, app)

	resource, err := gw.GetResource(context.Background(), domain.Key{Namespace: "default", Name: "web"})
	require.NoError(t, err)
	assert.True(t, resource.DeletionRequested)
	assert.Equal(t, domain.StateDeleting, resource.Status.State)
}
