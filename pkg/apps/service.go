package apps

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"apps-console/pkg/rpc"
)

// Service issues the read-side application calls used by the views.
type Service struct {
	caller rpc.Caller
}

// NewService creates a new application service.
func NewService(caller rpc.Caller) *Service {
	return &Service{caller: caller}
}

// Caller exposes the underlying connection for job submission.
func (s *Service) Caller() rpc.Caller {
	return s.caller
}

func call[T any](ctx context.Context, c rpc.Caller, method string, params ...any) (T, error) {
	var out T
	raw, err := c.Call(ctx, method, params...)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, errors.Wrapf(err, "failed to decode %s result", method)
	}
	return out, nil
}

// Catalogs lists every catalog with its items and versions.
func (s *Service) Catalogs(ctx context.Context) ([]Catalog, error) {
	return call[[]Catalog](ctx, s.caller, rpc.MethodCatalogQuery,
		[]any{}, rpc.QueryOptions{Extra: map[string]any{"item_details": true}})
}

// KubernetesConfig fetches the container runtime configuration.
func (s *Service) KubernetesConfig(ctx context.Context) (KubernetesConfig, error) {
	return call[KubernetesConfig](ctx, s.caller, rpc.MethodKubernetesConfig)
}

// KubernetesStarted reports whether the container runtime service is running.
func (s *Service) KubernetesStarted(ctx context.Context) (bool, error) {
	return call[bool](ctx, s.caller, rpc.MethodServiceStarted, "kubernetes")
}

// Pools lists the storage pools.
func (s *Service) Pools(ctx context.Context) ([]Pool, error) {
	return call[[]Pool](ctx, s.caller, rpc.MethodPoolQuery)
}

// ChartReleases lists installed releases, or the single release name when given.
func (s *Service) ChartReleases(ctx context.Context, name ...string) ([]ChartRelease, error) {
	filters := []any{}
	if len(name) > 0 && name[0] != "" {
		filters = rpc.Filter("id", "=", name[0])
	}
	return call[[]ChartRelease](ctx, s.caller, rpc.MethodReleaseQuery,
		filters, rpc.QueryOptions{Extra: map[string]any{"history": true}})
}

// ChartRelease fetches one release by name.
func (s *Service) ChartRelease(ctx context.Context, name string) (ChartRelease, error) {
	list, err := s.ChartReleases(ctx, name)
	if err != nil {
		return ChartRelease{}, err
	}
	if len(list) == 0 {
		return ChartRelease{}, rpc.NotFound("release %q not found", name)
	}
	return list[0], nil
}

// SetReplicaCount scales every workload of a release.
func (s *Service) SetReplicaCount(ctx context.Context, name string, count int) error {
	_, err := s.caller.CallJob(ctx, rpc.MethodReleaseScale, nil, name, ScaleOptions{ReplicaCount: count})
	return err
}

// PodConsoleChoices lists the pods of a release and their containers.
func (s *Service) PodConsoleChoices(ctx context.Context, name string) (ConsoleChoices, error) {
	return call[ConsoleChoices](ctx, s.caller, rpc.MethodPodConsoleChoices, name)
}

// GenerateToken returns a short-lived token for the shell endpoint.
func (s *Service) GenerateToken(ctx context.Context) (string, error) {
	return call[string](ctx, s.caller, rpc.MethodGenerateToken)
}
