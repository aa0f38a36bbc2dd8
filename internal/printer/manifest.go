package printer

import (
	"io"

	"github.com/cockroachdb/errors"
	"sigs.k8s.io/yaml"

	"github.com/lexfrei/application-operator/api/v1alpha1"
	"github.com/lexfrei/application-operator/internal/domain"
)

// ErrWrongKind is returned when a manifest describes something other than an Application.
var ErrWrongKind = errors.New("manifest is not an Application")

// DecodeManifest reads one Application manifest (YAML or JSON) and returns
// the resource it declares. An empty namespace is replaced by defaultNamespace.
// Unknown fields are rejected.
func DecodeManifest(r io.Reader, defaultNamespace string) (domain.ManagedResource, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return domain.ManagedResource{}, errors.Wrap(err, "failed to read manifest")
	}

	var app v1alpha1.Application
	if err := yaml.UnmarshalStrict(data, &app); err != nil {
		return domain.ManagedResource{}, errors.Wrap(err, "failed to decode manifest")
	}

	if app.Kind != "" && app.Kind != v1alpha1.Kind {
		return domain.ManagedResource{}, errors.Wrapf(ErrWrongKind, "got kind %q", app.Kind)
	}

	if app.APIVersion != "" && app.APIVersion != v1alpha1.GroupVersion.String() {
		return domain.ManagedResource{}, errors.Wrapf(ErrWrongKind, "got apiVersion %q", app.APIVersion)
	}

	namespace := app.Namespace
	if namespace == "" {
		namespace = defaultNamespace
	}

	return domain.ManagedResource{
		Name:      app.Name,
		Namespace: namespace,
		Spec: domain.ResourceSpec{
			Replicas: app.Spec.Replicas,
			Image:    app.Spec.Image,
			Port:     app.Spec.Port,
			Env:      app.Spec.Env,
		},
	}, nil
}
