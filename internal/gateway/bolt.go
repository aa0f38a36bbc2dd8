package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"

	"github.com/lexfrei/application-operator/api/v1alpha1"
	"github.com/lexfrei/application-operator/internal/domain"
	"github.com/lexfrei/application-operator/internal/metrics"
)

//nolint:gochecknoglobals // bucket names
var (
	bucketApplications = []byte("applications")
	bucketDeployments  = []byte("deployments")
	bucketServices     = []byte("services")
)

const boltFileMode = 0o600

// BoltGateway keeps Applications and their children in an embedded bbolt
// file. It emulates the parts of the API server the operator relies on:
// UID assignment, generation bumps on spec change and cascading deletes.
type BoltGateway struct {
	db      *bolt.DB
	metrics metrics.Collector
	logger  *slog.Logger
	now     func() time.Time
}

// OpenBoltGateway opens (or creates) the store at path.
func OpenBoltGateway(path string, collector metrics.Collector, logger *slog.Logger) (*BoltGateway, error) {
	db, err := bolt.Open(path, boltFileMode, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open bolt store %s", path)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketApplications, bucketDeployments, bucketServices} {
			if _, bucketErr := tx.CreateBucketIfNotExists(bucket); bucketErr != nil {
				return errors.Wrapf(bucketErr, "failed to create bucket %s", bucket)
			}
		}

		return nil
	})
	if err != nil {
		_ = db.Close()

		return nil, err
	}

	if collector == nil {
		collector = metrics.NewNoopCollector()
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &BoltGateway{
		db:      db,
		metrics: collector,
		logger:  logger.With("component", "gateway", "store", "bolt"),
		now:     time.Now,
	}, nil
}

// Close releases the database file lock.
func (g *BoltGateway) Close() error {
	return errors.Wrap(g.db.Close(), "failed to close bolt store")
}

// GetResource fetches one Application.
func (g *BoltGateway) GetResource(ctx context.Context, key domain.Key) (domain.ManagedResource, error) {
	start := time.Now()

	var app v1alpha1.Application

	err := g.view(ctx, func(tx *bolt.Tx) error {
		return getJSON(tx, bucketApplications, key, &app, "application")
	})
	observeCall(ctx, g.metrics, OpGetResource, start, err)

	if err != nil {
		return domain.ManagedResource{}, err
	}

	return FromApplication(&app), nil
}

// ListResources lists Applications in namespace, or all when empty, ordered by key.
func (g *BoltGateway) ListResources(ctx context.Context, namespace string) ([]domain.ManagedResource, error) {
	start := time.Now()

	var resources []domain.ManagedResource

	err := g.view(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(bucketApplications).ForEach(func(_, data []byte) error {
			var app v1alpha1.Application
			if err := json.Unmarshal(data, &app); err != nil {
				return errors.Wrap(err, "failed to decode application")
			}

			if namespace == "" || app.Namespace == namespace {
				resources = append(resources, FromApplication(&app))
			}

			return nil
		})
	})
	observeCall(ctx, g.metrics, OpListResources, start, err)

	if err != nil {
		return nil, err
	}

	return resources, nil
}

// CreateResource stores a new Application with a fresh UID at generation 1.
func (g *BoltGateway) CreateResource(
	ctx context.Context,
	resource domain.ManagedResource,
) (domain.ManagedResource, error) {
	start := time.Now()

	app := ToApplication(resource)
	app.UID = "" // assigned below

	err := g.update(ctx, func(tx *bolt.Tx) error {
		if tx.Bucket(bucketApplications).Get(storeKey(resource.Key())) != nil {
			return alreadyExistsf("application %s already exists", resource.Key())
		}

		app.UID = types.UID(newUID())
		app.Generation = 1
		app.ResourceVersion = "1"
		app.CreationTimestamp = metav1.NewTime(g.now().UTC().Truncate(time.Second))

		return putJSON(tx, bucketApplications, resource.Key(), app)
	})
	observeCall(ctx, g.metrics, OpCreateResource, start, err)

	if err != nil {
		return domain.ManagedResource{}, err
	}

	return FromApplication(app), nil
}

// ReplaceResource overwrites the spec. Generation advances only when the spec changed.
func (g *BoltGateway) ReplaceResource(
	ctx context.Context,
	resource domain.ManagedResource,
) (domain.ManagedResource, error) {
	start := time.Now()

	var app v1alpha1.Application

	err := g.update(ctx, func(tx *bolt.Tx) error {
		if err := getJSON(tx, bucketApplications, resource.Key(), &app, "application"); err != nil {
			return err
		}

		desired := specToAPI(resource.Spec)
		if !FromApplication(&app).Spec.Equal(resource.Spec) {
			app.Generation++
		}

		app.Spec = desired
		bumpResourceVersion(&app.ObjectMeta)

		return putJSON(tx, bucketApplications, resource.Key(), &app)
	})
	observeCall(ctx, g.metrics, OpReplaceResource, start, err)

	if err != nil {
		return domain.ManagedResource{}, err
	}

	return FromApplication(&app), nil
}

// DeleteResource removes the record and every child it owns.
func (g *BoltGateway) DeleteResource(ctx context.Context, key domain.Key) error {
	start := time.Now()

	err := g.update(ctx, func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketApplications).Get(storeKey(key))
		if data == nil {
			return nil
		}

		var app v1alpha1.Application
		if err := json.Unmarshal(data, &app); err != nil {
			return errors.Wrapf(err, "failed to decode application %s", key)
		}

		if err := deleteOwned(tx, string(app.UID)); err != nil {
			return err
		}

		return errors.Wrap(tx.Bucket(bucketApplications).Delete(storeKey(key)), "failed to delete application")
	})
	observeCall(ctx, g.metrics, OpDeleteResource, start, err)

	return err
}

// UpdateStatus overwrites the stored status.
func (g *BoltGateway) UpdateStatus(ctx context.Context, key domain.Key, status domain.ResourceStatus) error {
	start := time.Now()

	err := g.update(ctx, func(tx *bolt.Tx) error {
		var app v1alpha1.Application
		if err := getJSON(tx, bucketApplications, key, &app, "application"); err != nil {
			return err
		}

		applyStatus(&app, status)
		bumpResourceVersion(&app.ObjectMeta)

		return putJSON(tx, bucketApplications, key, &app)
	})
	observeCall(ctx, g.metrics, OpUpdateStatus, start, err)

	return err
}

// WorkloadExists reports whether a Deployment is stored under key.
func (g *BoltGateway) WorkloadExists(ctx context.Context, key domain.Key) (bool, error) {
	start := time.Now()

	var exists bool

	err := g.view(ctx, func(tx *bolt.Tx) error {
		exists = tx.Bucket(bucketDeployments).Get(storeKey(key)) != nil

		return nil
	})
	observeCall(ctx, g.metrics, OpWorkloadExists, start, err)

	return exists, err
}

// CreateWorkload stores the Deployment, updating it in place if present.
func (g *BoltGateway) CreateWorkload(ctx context.Context, resource domain.ManagedResource) error {
	start := time.Now()

	err := g.update(ctx, func(tx *bolt.Tx) error {
		desired := BuildDeployment(resource)

		var existing appsv1.Deployment

		err := getJSON(tx, bucketDeployments, resource.Key(), &existing, "deployment")
		if err == nil {
			g.logger.Debug("deployment already exists, updating instead", "key", resource.Key().String())
			applyWorkloadSpec(&existing, desired)
			bumpResourceVersion(&existing.ObjectMeta)

			return putJSON(tx, bucketDeployments, resource.Key(), &existing)
		}

		if !IsNotFound(err) {
			return err
		}

		desired.ResourceVersion = "1"

		return putJSON(tx, bucketDeployments, resource.Key(), desired)
	})
	observeCall(ctx, g.metrics, OpCreateWorkload, start, err)

	return err
}

// UpdateWorkload applies the mutable spec fields to the stored Deployment.
func (g *BoltGateway) UpdateWorkload(ctx context.Context, resource domain.ManagedResource) error {
	start := time.Now()

	err := g.update(ctx, func(tx *bolt.Tx) error {
		var existing appsv1.Deployment
		if err := getJSON(tx, bucketDeployments, resource.Key(), &existing, "deployment"); err != nil {
			return err
		}

		applyWorkloadSpec(&existing, BuildDeployment(resource))
		bumpResourceVersion(&existing.ObjectMeta)

		return putJSON(tx, bucketDeployments, resource.Key(), &existing)
	})
	observeCall(ctx, g.metrics, OpUpdateWorkload, start, err)

	return err
}

// DeleteWorkload removes the Deployment and the Service under key.
func (g *BoltGateway) DeleteWorkload(ctx context.Context, key domain.Key) error {
	start := time.Now()

	err := g.update(ctx, func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketDeployments).Delete(storeKey(key)); err != nil {
			return errors.Wrapf(err, "failed to delete deployment %s", key)
		}

		return errors.Wrapf(tx.Bucket(bucketServices).Delete(storeKey(key)), "failed to delete service %s", key)
	})
	observeCall(ctx, g.metrics, OpDeleteWorkload, start, err)

	return err
}

// CreateEndpoint stores the Service if absent and syncs its ports otherwise.
func (g *BoltGateway) CreateEndpoint(ctx context.Context, resource domain.ManagedResource) error {
	start := time.Now()

	err := g.update(ctx, func(tx *bolt.Tx) error {
		desired := BuildService(resource)

		var existing corev1.Service

		err := getJSON(tx, bucketServices, resource.Key(), &existing, "service")
		if err == nil {
			if servicePortsMatch(&existing, desired) {
				return nil
			}

			existing.Spec.Ports = desired.Spec.Ports
			bumpResourceVersion(&existing.ObjectMeta)

			return putJSON(tx, bucketServices, resource.Key(), &existing)
		}

		if !IsNotFound(err) {
			return err
		}

		desired.ResourceVersion = "1"

		return putJSON(tx, bucketServices, resource.Key(), desired)
	})
	observeCall(ctx, g.metrics, OpCreateEndpoint, start, err)

	return err
}

// GetWorkload returns the stored Deployment.
func (g *BoltGateway) GetWorkload(ctx context.Context, key domain.Key) (*appsv1.Deployment, error) {
	var deployment appsv1.Deployment

	err := g.view(ctx, func(tx *bolt.Tx) error {
		return getJSON(tx, bucketDeployments, key, &deployment, "deployment")
	})
	if err != nil {
		return nil, err
	}

	return &deployment, nil
}

// GetEndpoint returns the stored Service.
func (g *BoltGateway) GetEndpoint(ctx context.Context, key domain.Key) (*corev1.Service, error) {
	var service corev1.Service

	err := g.view(ctx, func(tx *bolt.Tx) error {
		return getJSON(tx, bucketServices, key, &service, "service")
	})
	if err != nil {
		return nil, err
	}

	return &service, nil
}

func (g *BoltGateway) view(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "bolt read aborted")
	}

	return g.db.View(fn) //nolint:wrapcheck // callbacks wrap their own errors
}

func (g *BoltGateway) update(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "bolt write aborted")
	}

	return g.db.Update(fn) //nolint:wrapcheck // callbacks wrap their own errors
}

// deleteOwned removes children whose controller owner has uid.
func deleteOwned(tx *bolt.Tx, uid string) error {
	if uid == "" {
		return nil
	}

	for _, bucket := range [][]byte{bucketDeployments, bucketServices} {
		b := tx.Bucket(bucket)

		var owned [][]byte

		err := b.ForEach(func(k, data []byte) error {
			var meta struct {
				Metadata metav1.ObjectMeta `json:"metadata"`
			}
			if err := json.Unmarshal(data, &meta); err != nil {
				return errors.Wrapf(err, "failed to decode %s entry %s", bucket, k)
			}

			if ref := metav1.GetControllerOfNoCopy(&meta.Metadata); ref != nil && string(ref.UID) == uid {
				owned = append(owned, append([]byte(nil), k...))
			}

			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range owned {
			if err := b.Delete(k); err != nil {
				return errors.Wrapf(err, "failed to delete owned %s entry %s", bucket, k)
			}
		}
	}

	return nil
}

func getJSON(tx *bolt.Tx, bucket []byte, key domain.Key, out any, kind string) error {
	data := tx.Bucket(bucket).Get(storeKey(key))
	if data == nil {
		return notFoundf("%s %s not found", kind, key)
	}

	return errors.Wrapf(json.Unmarshal(data, out), "failed to decode %s %s", kind, key)
}

func putJSON(tx *bolt.Tx, bucket []byte, key domain.Key, obj any) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s", key)
	}

	return errors.Wrapf(tx.Bucket(bucket).Put(storeKey(key), data), "failed to store %s", key)
}

func storeKey(key domain.Key) []byte {
	return []byte(key.String())
}

func newUID() string {
	return uuid.NewString()
}

// bumpResourceVersion advances the per-object version counter. A value that
// is not a counter restarts it at 1.
func bumpResourceVersion(meta *metav1.ObjectMeta) {
	current, err := strconv.ParseUint(meta.ResourceVersion, 10, 64)
	if err != nil {
		current = 0
	}

	meta.ResourceVersion = strconv.FormatUint(current+1, 10)
}
