package reconciler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexfrei/application-operator/internal/domain"
	"github.com/lexfrei/application-operator/internal/gateway"
)

var (
	errCreateBoom = errors.New("deployment quota exceeded")
	errStatusDown = errors.New("status endpoint unavailable")
)

// stubGateway records calls and returns injected errors.
type stubGateway struct {
	mu sync.Mutex

	workloadExists bool
	statuses       []domain.ResourceStatus
	calls          map[string]int

	createWorkloadErr error
	createEndpointErr error
	updateStatusErr   func(status domain.ResourceStatus) error
	blockUntilDone    bool
}

var _ gateway.Gateway = (*stubGateway)(nil)

func newStubGateway() *stubGateway {
	return &stubGateway{calls: map[string]int{}}
}

func (g *stubGateway) count(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.calls[op]
}

func (g *stubGateway) record(op string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls[op]++
}

func (g *stubGateway) GetResource(context.Context, domain.Key) (domain.ManagedResource, error) {
	g.record(gateway.OpGetResource)

	return domain.ManagedResource{}, errors.Mark(errors.New("missing"), gateway.ErrNotFound)
}

func (g *stubGateway) ListResources(context.Context, string) ([]domain.ManagedResource, error) {
	g.record(gateway.OpListResources)

	return nil, nil
}

func (g *stubGateway) CreateResource(_ context.Context, r domain.ManagedResource) (domain.ManagedResource, error) {
	g.record(gateway.OpCreateResource)

	return r, nil
}

func (g *stubGateway) ReplaceResource(_ context.Context, r domain.ManagedResource) (domain.ManagedResource, error) {
	g.record(gateway.OpReplaceResource)

	return r, nil
}

func (g *stubGateway) DeleteResource(context.Context, domain.Key) error {
	g.record(gateway.OpDeleteResource)

	return nil
}

func (g *stubGateway) UpdateStatus(ctx context.Context, _ domain.Key, status domain.ResourceStatus) error {
	g.record(gateway.OpUpdateStatus)

	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "update status")
	}

	if g.updateStatusErr != nil {
		if err := g.updateStatusErr(status); err != nil {
			return err
		}
	}

	g.mu.Lock()
	g.statuses = append(g.statuses, status)
	g.mu.Unlock()

	return nil
}

func (g *stubGateway) WorkloadExists(ctx context.Context, _ domain.Key) (bool, error) {
	g.record(gateway.OpWorkloadExists)

	if g.blockUntilDone {
		<-ctx.Done()

		return false, errors.Wrap(ctx.Err(), "get deployment")
	}

	return g.workloadExists, nil
}

func (g *stubGateway) CreateWorkload(context.Context, domain.ManagedResource) error {
	g.record(gateway.OpCreateWorkload)

	if g.createWorkloadErr != nil {
		return g.createWorkloadErr
	}

	g.mu.Lock()
	g.workloadExists = true
	g.mu.Unlock()

	return nil
}

func (g *stubGateway) UpdateWorkload(context.Context, domain.ManagedResource) error {
	g.record(gateway.OpUpdateWorkload)

	return nil
}

func (g *stubGateway) DeleteWorkload(context.Context, domain.Key) error {
	g.record(gateway.OpDeleteWorkload)

	return nil
}

func (g *stubGateway) CreateEndpoint(context.Context, domain.ManagedResource) error {
	g.record(gateway.OpCreateEndpoint)

	return g.createEndpointErr
}

func (g *stubGateway) lastStatus() domain.ResourceStatus {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.statuses[len(g.statuses)-1]
}

func newResource(t *testing.T) domain.ManagedResource {
	t.Helper()

	spec, err := domain.NewResourceSpec(3, "nginx:1.25", 80, nil)
	require.NoError(t, err)

	resource, err := domain.NewManagedResource("web", "default", spec)
	require.NoError(t, err)

	return resource
}

func fixedClock() func() time.Time {
	at := time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC)

	return func() time.Time { return at }
}

func TestReconcile_CreatesChildrenWhenAbsent(t *testing.T) {
	t.Parallel()

	gw := newStubGateway()
	svc := NewService(gw, Options{Now: fixedClock()})

	result := svc.Reconcile(context.Background(), newResource(t))

	assert.Equal(t, domain.StateReady, result.Status.State)
	assert.Equal(t, domain.MessageReconciled, result.Status.Message)
	observed, ok := result.Status.Generation()
	require.True(t, ok)
	assert.Equal(t, int64(1), observed)

	assert.Equal(t, 1, gw.count(gateway.OpCreateWorkload))
	assert.Equal(t, 1, gw.count(gateway.OpCreateEndpoint))
	assert.Equal(t, 0, gw.count(gateway.OpUpdateWorkload))

	require.Len(t, gw.statuses, 2)
	assert.Equal(t, domain.StateReconciling, gw.statuses[0].State)
	assert.Equal(t, domain.StateReady, gw.statuses[1].State)
}

func TestReconcile_UpdatesExistingWorkload(t *testing.T) {
	t.Parallel()

	gw := newStubGateway()
	gw.workloadExists = true
	svc := NewService(gw, Options{})

	result := svc.Reconcile(context.Background(), newResource(t))

	assert.Equal(t, domain.StateReady, result.Status.State)
	assert.Equal(t, 0, gw.count(gateway.OpCreateWorkload))
	assert.Equal(t, 1, gw.count(gateway.OpUpdateWorkload))
	assert.Equal(t, 1, gw.count(gateway.OpCreateEndpoint))
}

func TestReconcile_IsIdempotent(t *testing.T) {
	t.Parallel()

	gw := newStubGateway()
	svc := NewService(gw, Options{})
	ctx := context.Background()

	first := svc.Reconcile(ctx, newResource(t))
	second := svc.Reconcile(ctx, first)

	assert.Equal(t, domain.StateReady, second.Status.State)
	assert.Equal(t, 1, gw.count(gateway.OpCreateWorkload))
	assert.Equal(t, 1, gw.count(gateway.OpUpdateWorkload))
	assert.Equal(t, 2, gw.count(gateway.OpWorkloadExists))
}

func TestReconcile_GatewayFailureYieldsFailed(t *testing.T) {
	t.Parallel()

	gw := newStubGateway()
	gw.createWorkloadErr = errCreateBoom
	svc := NewService(gw, Options{})

	result := svc.Reconcile(context.Background(), newResource(t))

	assert.Equal(t, domain.StateFailed, result.Status.State)
	assert.Contains(t, result.Status.Message, "Reconciliation failed: ")
	assert.Contains(t, result.Status.Message, errCreateBoom.Error())
	assert.Contains(t, result.Status.Message, StepCreateWorkload)
	assert.Equal(t, domain.StateFailed, gw.lastStatus().State)
	assert.Equal(t, 0, gw.count(gateway.OpCreateEndpoint))
	assert.True(t, domain.NeedsReconciliation(result))
}

func TestReconcile_EndpointAlreadyExistsIsSuccess(t *testing.T) {
	t.Parallel()

	gw := newStubGateway()
	gw.createEndpointErr = errors.Mark(errors.New("service exists"), gateway.ErrAlreadyExists)
	svc := NewService(gw, Options{})

	result := svc.Reconcile(context.Background(), newResource(t))

	assert.Equal(t, domain.StateReady, result.Status.State)
}

func TestReconcile_FailedStatusWriteIsSwallowed(t *testing.T) {
	t.Parallel()

	gw := newStubGateway()
	gw.createWorkloadErr = errCreateBoom
	gw.updateStatusErr = func(status domain.ResourceStatus) error {
		if status.State == domain.StateFailed {
			return errStatusDown
		}

		return nil
	}
	svc := NewService(gw, Options{})

	var result domain.ManagedResource

	assert.NotPanics(t, func() {
		result = svc.Reconcile(context.Background(), newResource(t))
	})

	assert.Equal(t, domain.StateFailed, result.Status.State)
	assert.Equal(t, domain.StateReconciling, gw.lastStatus().State)
}

func TestReconcile_MarkReconcilingFailure(t *testing.T) {
	t.Parallel()

	gw := newStubGateway()
	gw.updateStatusErr = func(domain.ResourceStatus) error { return errStatusDown }
	svc := NewService(gw, Options{})

	result := svc.Reconcile(context.Background(), newResource(t))

	assert.Equal(t, domain.StateFailed, result.Status.State)
	assert.Contains(t, result.Status.Message, StepMarkStarted)
	assert.Equal(t, 0, gw.count(gateway.OpWorkloadExists))
}

func TestReconcile_TimeoutLeavesReconciling(t *testing.T) {
	t.Parallel()

	gw := newStubGateway()
	gw.blockUntilDone = true
	svc := NewService(gw, Options{Timeout: 20 * time.Millisecond})

	result := svc.Reconcile(context.Background(), newResource(t))

	assert.Equal(t, domain.StateReconciling, result.Status.State)
	assert.Equal(t, domain.StateReconciling, gw.lastStatus().State)
	assert.Equal(t, 1, gw.count(gateway.OpUpdateStatus))
	assert.True(t, domain.NeedsReconciliation(result))
}

func TestReconcile_SkipsDeleting(t *testing.T) {
	t.Parallel()

	gw := newStubGateway()
	svc := NewService(gw, Options{})

	resource := newResource(t).WithStatus(domain.Deleting(""))
	result := svc.Reconcile(context.Background(), resource)

	assert.Equal(t, resource, result)
	assert.Equal(t, 0, gw.count(gateway.OpUpdateStatus))
	assert.Equal(t, 0, gw.count(gateway.OpWorkloadExists))
}

func TestReconcile_DoesNotMutateInput(t *testing.T) {
	t.Parallel()

	svc := NewService(newStubGateway(), Options{})
	resource := newResource(t)

	_ = svc.Reconcile(context.Background(), resource)

	assert.Equal(t, domain.StatePending, resource.Status.State)
}

func TestDelete(t *testing.T) {
	t.Parallel()

	gw := newStubGateway()
	svc := NewService(gw, Options{})

	require.NoError(t, svc.Delete(context.Background(), newResource(t)))

	assert.Equal(t, domain.StateDeleting, gw.statuses[0].State)
	assert.Equal(t, domain.MessageDeletingAll, gw.statuses[0].Message)
	assert.Equal(t, 1, gw.count(gateway.OpDeleteWorkload))
	assert.Equal(t, 1, gw.count(gateway.OpDeleteResource))
}

func TestDelete_StatusWriteFails(t *testing.T) {
	t.Parallel()

	gw := newStubGateway()
	gw.updateStatusErr = func(domain.ResourceStatus) error { return errStatusDown }
	svc := NewService(gw, Options{})

	err := svc.Delete(context.Background(), newResource(t))

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStatusPersist))
	assert.Equal(t, 0, gw.count(gateway.OpDeleteWorkload))
}

func TestConvergenceError(t *testing.T) {
	t.Parallel()

	err := convergenceError(StepCreateWorkload, errCreateBoom)

	assert.Equal(t, "create workload: deployment quota exceeded", err.Error())
	assert.True(t, errors.Is(err, errCreateBoom))

	var convErr *ConvergenceError
	require.True(t, errors.As(err, &convErr))
	assert.Equal(t, StepCreateWorkload, convErr.Step)
}

// The two scenarios below run against the embedded store end to end.

func newBoltService(t *testing.T) (*Service, *gateway.BoltGateway) {
	t.Helper()

	gw, err := gateway.OpenBoltGateway(filepath.Join(t.TempDir(), "operator.db"), nil, nil)
	require.NoError(t, err)

	t.Cleanup(func() { _ = gw.Close() })

	return NewService(gw, Options{}), gw
}

func TestReconcile_EndToEnd_CreateThenScale(t *testing.T) {
	t.Parallel()

	svc, gw := newBoltService(t)
	ctx := context.Background()

	created, err := gw.CreateResource(ctx, newResource(t))
	require.NoError(t, err)

	result := svc.Reconcile(ctx, created)
	assert.Equal(t, domain.StateReady, result.Status.State)

	stored, err := gw.GetResource(ctx, created.Key())
	require.NoError(t, err)
	observed, _ := stored.Status.Generation()
	assert.Equal(t, int64(1), observed)
	assert.False(t, domain.NeedsReconciliation(stored))

	deployment, err := gw.GetWorkload(ctx, created.Key())
	require.NoError(t, err)
	assert.Equal(t, int32(3), *deployment.Spec.Replicas)
	assert.Equal(t, "nginx:1.25", deployment.Spec.Template.Spec.Containers[0].Image)
	assert.Equal(t, int32(80), deployment.Spec.Template.Spec.Containers[0].Ports[0].ContainerPort)

	service, err := gw.GetEndpoint(ctx, created.Key())
	require.NoError(t, err)
	assert.Equal(t, int32(80), service.Spec.Ports[0].TargetPort.IntVal)

	scaled, err := gw.ReplaceResource(ctx, stored.WithSpec(domain.ResourceSpec{Replicas: 5, Image: "nginx:1.25", Port: 80}))
	require.NoError(t, err)
	assert.Equal(t, int64(2), scaled.Generation)
	assert.True(t, domain.NeedsReconciliation(scaled))

	result = svc.Reconcile(ctx, scaled)
	assert.Equal(t, domain.StateReady, result.Status.State)

	stored, err = gw.GetResource(ctx, created.Key())
	require.NoError(t, err)
	observed, _ = stored.Status.Generation()
	assert.Equal(t, int64(2), observed)

	deployment, err = gw.GetWorkload(ctx, created.Key())
	require.NoError(t, err)
	assert.Equal(t, int32(5), *deployment.Spec.Replicas)
}

func TestDelete_EndToEnd(t *testing.T) {
	t.Parallel()

	svc, gw := newBoltService(t)
	ctx := context.Background()

	created, err := gw.CreateResource(ctx, newResource(t))
	require.NoError(t, err)

	_ = svc.Reconcile(ctx, created)
	require.NoError(t, svc.Delete(ctx, created))
	require.NoError(t, svc.Delete(ctx, created))

	_, err = gw.GetResource(ctx, created.Key())
	assert.True(t, gateway.IsNotFound(err))

	exists, err := gw.WorkloadExists(ctx, created.Key())
	require.NoError(t, err)
	assert.False(t, exists)
}
