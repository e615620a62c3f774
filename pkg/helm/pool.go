package helm

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"apps-console/pkg/apps"
	"apps-console/pkg/rpc"
)

// state is what the backend persists between runs.
type state struct {
	Pool     string                  `yaml:"pool,omitempty"`
	Settings apps.KubernetesSettings `yaml:"settings,omitempty"`
}

// stateStore keeps the pool binding, on disk when a path is set.
type stateStore struct {
	path  string
	mu    sync.RWMutex
	state state
}

func loadState(path string) (*stateStore, error) {
	s := &stateStore{path: path}
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read state file %s", path)
	}
	if err := yaml.Unmarshal(data, &s.state); err != nil {
		return nil, errors.Wrapf(err, "failed to parse state file %s", path)
	}
	return s, nil
}

func (s *stateStore) Pool() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Pool
}

func (s *stateStore) Settings() apps.KubernetesSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Settings
}

func (s *stateStore) SetPool(pool string) error {
	return s.update(func(st *state) { st.Pool = pool })
}

func (s *stateStore) SetSettings(settings apps.KubernetesSettings) error {
	return s.update(func(st *state) { st.Settings = st.Settings.Merge(settings) })
}

func (s *stateStore) update(fn func(*state)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.state
	fn(&next)
	if s.path != "" {
		data, err := yaml.Marshal(next)
		if err != nil {
			return errors.Wrap(err, "failed to encode state")
		}
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return errors.Wrapf(err, "failed to create state directory for %s", s.path)
		}
		if err := os.WriteFile(s.path, data, 0o600); err != nil {
			return errors.Wrapf(err, "failed to write state file %s", s.path)
		}
	}
	s.state = next
	return nil
}

func (c *Client) poolConfig() apps.KubernetesConfig {
	cfg := apps.KubernetesConfig{KubernetesSettings: c.state.Settings()}
	if pool := c.state.Pool(); pool != "" {
		cfg.Pool = &pool
	}
	return cfg
}

func (c *Client) kubernetesConfig(context.Context, []any, func(rpc.JobProgress)) (any, error) {
	return c.poolConfig(), nil
}

// kubernetesUpdate records the advanced settings it is given. When the update carries a pool key
// it binds the pool, which must name an existing storage class, or unsets it.
func (c *Client) kubernetesUpdate(ctx context.Context, params []any, report func(rpc.JobProgress)) (any, error) {
	var fields map[string]json.RawMessage
	if err := param(params, 0, &fields); err != nil {
		return nil, err
	}
	var settings apps.KubernetesSettings
	if err := param(params, 0, &settings); err != nil {
		return nil, err
	}
	if _, ok := fields["pool"]; !ok {
		if err := c.applySettings(settings); err != nil {
			return nil, err
		}
		return c.poolConfig(), nil
	}

	var update apps.PoolUpdate
	if err := param(params, 0, &update); err != nil {
		return nil, err
	}
	pool := ""
	if update.Pool != nil {
		pool = *update.Pool
		report(rpc.JobProgress{Percent: 30, Description: "Checking storage class " + pool})
		pools, err := c.pools(ctx)
		if err != nil {
			return nil, err
		}
		found := false
		for _, p := range pools {
			found = found || p.Name == pool
		}
		if !found {
			return nil, rpc.Invalid("pool %q does not exist", pool)
		}
	}
	if err := c.applySettings(settings); err != nil {
		return nil, err
	}
	if err := c.state.SetPool(pool); err != nil {
		return nil, err
	}
	c.log.WithField("pool", pool).Info("Pool binding updated")
	return c.poolConfig(), nil
}

func (c *Client) applySettings(settings apps.KubernetesSettings) error {
	if settings == (apps.KubernetesSettings{}) {
		return nil
	}
	if err := c.state.SetSettings(settings); err != nil {
		return err
	}
	c.log.WithField("settings", settings).Info("Kubernetes settings updated")
	return nil
}

// serviceStarted reports whether the API server answers and a pool is bound.
func (c *Client) serviceStarted(context.Context, []any, func(rpc.JobProgress)) (any, error) {
	if _, err := c.kubeClient.Discovery().ServerVersion(); err != nil {
		c.log.WithError(err).Debug("Kubernetes API is not reachable")
		return false, nil
	}
	return c.state.Pool() != "", nil
}

func (c *Client) pools(ctx context.Context) ([]apps.Pool, error) {
	list, err := c.kubeClient.StorageV1().StorageClasses().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list storage classes")
	}
	pools := make([]apps.Pool, 0, len(list.Items))
	for _, sc := range list.Items {
		pools = append(pools, apps.Pool{Name: sc.Name})
	}
	sort.Slice(pools, func(i, j int) bool { return pools[i].Name < pools[j].Name })
	return pools, nil
}

func (c *Client) queryPools(ctx context.Context, _ []any, _ func(rpc.JobProgress)) (any, error) {
	return c.pools(ctx)
}
