package domain

import (
	"maps"
	"strings"

	"github.com/cockroachdb/errors"
)

// Valid container port range.
const (
	MinPort = 1
	MaxPort = 65535
)

// ResourceSpec is the desired state of a managed application.
// Treat it as immutable: Env is cloned on construction and on read through EnvCopy.
type ResourceSpec struct {
	Replicas int32
	Image    string
	Port     int32
	Env      map[string]string
}

// NewResourceSpec validates the fields and returns a spec owning its own env map.
func NewResourceSpec(replicas int32, image string, port int32, env map[string]string) (ResourceSpec, error) {
	spec := ResourceSpec{
		Replicas: replicas,
		Image:    image,
		Port:     port,
		Env:      cloneEnv(env),
	}

	if err := spec.Validate(); err != nil {
		return ResourceSpec{}, err
	}

	return spec, nil
}

// Validate re-checks the construction invariants, for specs read back from storage.
func (s ResourceSpec) Validate() error {
	if s.Replicas < 0 {
		return errors.Wrapf(ErrInvalidSpec, "replicas must be >= 0, got %d", s.Replicas)
	}

	if strings.TrimSpace(s.Image) == "" {
		return errors.Wrap(ErrInvalidSpec, "image must not be empty")
	}

	if s.Port < MinPort || s.Port > MaxPort {
		return errors.Wrapf(ErrInvalidSpec, "port must be in [%d, %d], got %d", MinPort, MaxPort, s.Port)
	}

	return nil
}

// Equal reports deep equality. A nil and an empty env are equal.
func (s ResourceSpec) Equal(other ResourceSpec) bool {
	if s.Replicas != other.Replicas || s.Image != other.Image || s.Port != other.Port {
		return false
	}

	return maps.Equal(s.Env, other.Env)
}

// EnvCopy returns a copy of the environment that callers may modify.
func (s ResourceSpec) EnvCopy() map[string]string {
	return cloneEnv(s.Env)
}

func cloneEnv(env map[string]string) map[string]string {
	if len(env) == 0 {
		return nil
	}

	return maps.Clone(env)
}
