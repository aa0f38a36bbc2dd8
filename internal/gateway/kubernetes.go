package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/tools/record"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/lexfrei/application-operator/api/v1alpha1"
	"github.com/lexfrei/application-operator/internal/domain"
	"github.com/lexfrei/application-operator/internal/metrics"
)

// Event reasons emitted on Application objects.
const (
	EventReasonReconciling = "Reconciling"
	EventReasonReady       = "Ready"
	EventReasonFailed      = "ReconcileFailed"
	EventReasonDeleting    = "Deleting"
	EventReasonWorkload    = "WorkloadCreated"
	EventReasonEndpoint    = "EndpointCreated"
)

// KubernetesGateway stores Applications as custom resources and manages their
// Deployment and Service children.
//
// Reads go through Reader, which should bypass the informer cache so that
// every sweep acts on current state. Writes go through Client.
type KubernetesGateway struct {
	Client   client.Client
	Reader   client.Reader
	Recorder record.EventRecorder
	Metrics  metrics.Collector
	Logger   *slog.Logger
}

// NewKubernetesGateway wires a gateway. A nil reader falls back to the client,
// a nil recorder drops events and a nil collector drops metrics.
func NewKubernetesGateway(
	c client.Client,
	reader client.Reader,
	recorder record.EventRecorder,
	collector metrics.Collector,
	logger *slog.Logger,
) *KubernetesGateway {
	if reader == nil {
		reader = c
	}

	if collector == nil {
		collector = metrics.NewNoopCollector()
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &KubernetesGateway{
		Client:   c,
		Reader:   reader,
		Recorder: recorder,
		Metrics:  collector,
		Logger:   logger.With("component", "gateway", "store", "kubernetes"),
	}
}

// GetResource fetches one Application.
func (g *KubernetesGateway) GetResource(ctx context.Context, key domain.Key) (domain.ManagedResource, error) {
	start := time.Now()

	app, err := g.getApplication(ctx, key)
	g.observe(ctx, OpGetResource, start, err)

	if err != nil {
		return domain.ManagedResource{}, err
	}

	return FromApplication(app), nil
}

// ListResources lists Applications in namespace, or cluster-wide when empty.
func (g *KubernetesGateway) ListResources(ctx context.Context, namespace string) ([]domain.ManagedResource, error) {
	start := time.Now()

	var list v1alpha1.ApplicationList

	var opts []client.ListOption
	if namespace != "" {
		opts = append(opts, client.InNamespace(namespace))
	}

	err := g.Reader.List(ctx, &list, opts...)
	g.observe(ctx, OpListResources, start, err)

	if err != nil {
		return nil, errors.Wrap(err, "failed to list applications")
	}

	resources := make([]domain.ManagedResource, 0, len(list.Items))
	for i := range list.Items {
		resources = append(resources, FromApplication(&list.Items[i]))
	}

	return resources, nil
}

// CreateResource creates the record and then writes its initial status. The
// status write is best effort: a record without status already reads as
// Pending, and failing here would leave a stored record behind an error.
func (g *KubernetesGateway) CreateResource(
	ctx context.Context,
	resource domain.ManagedResource,
) (domain.ManagedResource, error) {
	start := time.Now()

	app := ToApplication(resource)
	app.Status = v1alpha1.ApplicationStatus{}

	err := g.Client.Create(ctx, app)
	g.observe(ctx, OpCreateResource, start, err)

	if err != nil {
		if apierrors.IsAlreadyExists(err) {
			return domain.ManagedResource{}, errors.Mark(
				errors.Wrapf(err, "application %s", resource.Key()), ErrAlreadyExists)
		}

		return domain.ManagedResource{}, errors.Wrapf(err, "failed to create application %s", resource.Key())
	}

	// Status is dropped on create when the status subresource is enabled.
	applyStatus(app, resource.Status)

	start = time.Now()
	statusErr := g.Client.Status().Update(ctx, app)
	g.observe(ctx, OpUpdateStatus, start, statusErr)

	if statusErr != nil {
		g.Logger.Warn("failed to set initial status, record reads as pending",
			"application", resource.Key().String(), "error", statusErr)

		app.Status = v1alpha1.ApplicationStatus{}
	}

	return FromApplication(app), nil
}

// ReplaceResource overwrites the spec of an existing Application.
func (g *KubernetesGateway) ReplaceResource(
	ctx context.Context,
	resource domain.ManagedResource,
) (domain.ManagedResource, error) {
	start := time.Now()

	app, err := g.getApplication(ctx, resource.Key())
	if err != nil {
		g.observe(ctx, OpReplaceResource, start, err)

		return domain.ManagedResource{}, err
	}

	app.Spec = specToAPI(resource.Spec)
	// The API server owns generation; this only matters for stores that don't.
	app.Generation = resource.Generation

	err = g.Client.Update(ctx, app)
	g.observe(ctx, OpReplaceResource, start, err)

	if err != nil {
		return domain.ManagedResource{}, errors.Wrapf(err, "failed to update application %s", resource.Key())
	}

	return FromApplication(app), nil
}

// DeleteResource deletes the Application. Children are removed by the
// garbage collector through their owner references.
func (g *KubernetesGateway) DeleteResource(ctx context.Context, key domain.Key) error {
	start := time.Now()

	app := &v1alpha1.Application{
		ObjectMeta: metav1.ObjectMeta{Name: key.Name, Namespace: key.Namespace},
	}

	err := client.IgnoreNotFound(g.Client.Delete(ctx, app, client.PropagationPolicy(metav1.DeletePropagationBackground)))
	g.observe(ctx, OpDeleteResource, start, err)

	if err != nil {
		return errors.Wrapf(err, "failed to delete application %s", key)
	}

	return nil
}

// UpdateStatus writes status through the status subresource. The write is
// guarded by the resourceVersion of a fresh read, so a concurrent writer
// produces a conflict instead of a lost update.
func (g *KubernetesGateway) UpdateStatus(ctx context.Context, key domain.Key, status domain.ResourceStatus) error {
	start := time.Now()

	app, err := g.getApplication(ctx, key)
	if err != nil {
		g.observe(ctx, OpUpdateStatus, start, err)

		return err
	}

	previous := app.Status.GetState()
	applyStatus(app, status)

	err = g.Client.Status().Update(ctx, app)
	g.observe(ctx, OpUpdateStatus, start, err)

	if err != nil {
		return errors.Wrapf(err, "failed to update status of application %s", key)
	}

	if previous != app.Status.State || status.State == domain.StateFailed {
		g.emitStatusEvent(app, status)
	}

	return nil
}

// WorkloadExists reports whether the Deployment is present.
func (g *KubernetesGateway) WorkloadExists(ctx context.Context, key domain.Key) (bool, error) {
	start := time.Now()

	var deployment appsv1.Deployment

	err := g.Reader.Get(ctx, client.ObjectKey{Namespace: key.Namespace, Name: key.Name}, &deployment)
	if apierrors.IsNotFound(err) {
		g.observe(ctx, OpWorkloadExists, start, nil)

		return false, nil
	}

	g.observe(ctx, OpWorkloadExists, start, err)

	if err != nil {
		return false, errors.Wrapf(err, "failed to get deployment %s", key)
	}

	return true, nil
}

// CreateWorkload creates the Deployment, falling back to an update when it
// already exists.
func (g *KubernetesGateway) CreateWorkload(ctx context.Context, resource domain.ManagedResource) error {
	start := time.Now()

	desired := BuildDeployment(resource)

	err := g.Client.Create(ctx, desired)
	if apierrors.IsAlreadyExists(err) {
		g.observe(ctx, OpCreateWorkload, start, nil)
		g.Logger.Debug("deployment already exists, updating instead", "key", resource.Key().String())

		return g.UpdateWorkload(ctx, resource)
	}

	g.observe(ctx, OpCreateWorkload, start, err)

	if err != nil {
		return errors.Wrapf(err, "failed to create deployment %s", resource.Key())
	}

	g.emitOwnerEvent(resource, corev1.EventTypeNormal, EventReasonWorkload, "Created deployment %s", resource.Name)

	return nil
}

// UpdateWorkload patches replicas, image, port and env of the Deployment.
func (g *KubernetesGateway) UpdateWorkload(ctx context.Context, resource domain.ManagedResource) error {
	start := time.Now()

	var existing appsv1.Deployment

	err := g.Reader.Get(ctx, client.ObjectKey{Namespace: resource.Namespace, Name: resource.Name}, &existing)
	if err != nil {
		g.observe(ctx, OpUpdateWorkload, start, err)

		if apierrors.IsNotFound(err) {
			return errors.Mark(errors.Wrapf(err, "deployment %s", resource.Key()), ErrNotFound)
		}

		return errors.Wrapf(err, "failed to get deployment %s", resource.Key())
	}

	applyWorkloadSpec(&existing, BuildDeployment(resource))

	err = g.Client.Update(ctx, &existing)
	g.observe(ctx, OpUpdateWorkload, start, err)

	if err != nil {
		return errors.Wrapf(err, "failed to update deployment %s", resource.Key())
	}

	return nil
}

// DeleteWorkload removes the Deployment and the Service. Both deletes are
// attempted even if the first fails.
func (g *KubernetesGateway) DeleteWorkload(ctx context.Context, key domain.Key) error {
	start := time.Now()

	meta := metav1.ObjectMeta{Name: key.Name, Namespace: key.Namespace}
	policy := client.PropagationPolicy(metav1.DeletePropagationBackground)

	deployErr := client.IgnoreNotFound(g.Client.Delete(ctx, &appsv1.Deployment{ObjectMeta: meta}, policy))
	svcErr := client.IgnoreNotFound(g.Client.Delete(ctx, &corev1.Service{ObjectMeta: meta}, policy))

	var err error
	if deployErr != nil {
		err = errors.Wrapf(deployErr, "failed to delete deployment %s", key)
	}

	if svcErr != nil {
		err = errors.CombineErrors(err, errors.Wrapf(svcErr, "failed to delete service %s", key))
	}

	g.observe(ctx, OpDeleteWorkload, start, err)

	return err
}

// CreateEndpoint creates the Service. An existing Service is accepted and
// only its ports are brought in line with the spec.
func (g *KubernetesGateway) CreateEndpoint(ctx context.Context, resource domain.ManagedResource) error {
	start := time.Now()

	desired := BuildService(resource)

	err := g.Client.Create(ctx, desired)
	if err == nil {
		g.observe(ctx, OpCreateEndpoint, start, nil)
		g.emitOwnerEvent(resource, corev1.EventTypeNormal, EventReasonEndpoint, "Created service %s", resource.Name)

		return nil
	}

	if !apierrors.IsAlreadyExists(err) {
		g.observe(ctx, OpCreateEndpoint, start, err)

		return errors.Wrapf(err, "failed to create service %s", resource.Key())
	}

	err = g.syncEndpointPorts(ctx, desired)
	g.observe(ctx, OpCreateEndpoint, start, err)

	return err
}

func (g *KubernetesGateway) syncEndpointPorts(ctx context.Context, desired *corev1.Service) error {
	var existing corev1.Service

	err := g.Reader.Get(ctx, client.ObjectKeyFromObject(desired), &existing)
	if err != nil {
		return errors.Wrapf(err, "failed to get service %s/%s", desired.Namespace, desired.Name)
	}

	if servicePortsMatch(&existing, desired) {
		return nil
	}

	existing.Spec.Ports = desired.Spec.Ports

	err = g.Client.Update(ctx, &existing)
	if err != nil {
		return errors.Wrapf(err, "failed to update service %s/%s", desired.Namespace, desired.Name)
	}

	return nil
}

func (g *KubernetesGateway) getApplication(ctx context.Context, key domain.Key) (*v1alpha1.Application, error) {
	var app v1alpha1.Application

	err := g.Reader.Get(ctx, client.ObjectKey{Namespace: key.Namespace, Name: key.Name}, &app)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, errors.Mark(errors.Wrapf(err, "application %s", key), ErrNotFound)
		}

		return nil, errors.Wrapf(err, "failed to get application %s", key)
	}

	return &app, nil
}

func (g *KubernetesGateway) observe(ctx context.Context, operation string, start time.Time, err error) {
	observeCall(ctx, g.Metrics, operation, start, err)
}

func (g *KubernetesGateway) emitStatusEvent(app *v1alpha1.Application, status domain.ResourceStatus) {
	if g.Recorder == nil {
		return
	}

	switch status.State {
	case domain.StateReconciling:
		g.Recorder.Event(app, corev1.EventTypeNormal, EventReasonReconciling, status.Message)
	case domain.StateReady:
		g.Recorder.Event(app, corev1.EventTypeNormal, EventReasonReady, status.Message)
	case domain.StateFailed:
		g.Recorder.Event(app, corev1.EventTypeWarning, EventReasonFailed, status.Message)
	case domain.StateDeleting:
		g.Recorder.Event(app, corev1.EventTypeNormal, EventReasonDeleting, status.Message)
	case domain.StatePending:
	}
}

func (g *KubernetesGateway) emitOwnerEvent(
	resource domain.ManagedResource,
	eventType, reason, messageFmt string,
	args ...any,
) {
	if g.Recorder == nil {
		return
	}

	g.Recorder.Eventf(ToApplication(resource), eventType, reason, messageFmt, args...)
}
