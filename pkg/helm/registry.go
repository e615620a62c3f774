package helm

import (
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ChartMeta defines an installable chart of the local catalog.
type ChartMeta struct {
	Name        string `json:"name" yaml:"name"`                             // User-friendly name (e.g., "nginx")
	Chart       string `json:"chart" yaml:"chart"`                           // Full chart name (e.g., "bitnami/nginx")
	Version     string `json:"version,omitempty" yaml:"version,omitempty"`   // Pinned chart version, latest when empty
	RepoURL     string `json:"repo_url,omitempty" yaml:"repo_url,omitempty"` // Helm repository URL
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Icon        string `json:"icon,omitempty" yaml:"icon,omitempty"`
}

// Repo returns the repository part of Chart.
func (m ChartMeta) Repo() string {
	repo, _, _ := strings.Cut(m.Chart, "/")
	return repo
}

// ChartName returns the chart part of Chart.
func (m ChartMeta) ChartName() string {
	if _, name, ok := strings.Cut(m.Chart, "/"); ok {
		return name
	}
	return m.Chart
}

// Registry holds the list of configured charts.
type Registry struct {
	Charts []ChartMeta `yaml:"charts"`
}

// LoadRegistry loads chart configurations from a YAML file.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read chart config file %s", path)
	}
	var r Registry
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal chart config from %s", path)
	}
	for i, c := range r.Charts {
		if !strings.Contains(c.Chart, "/") || c.RepoURL == "" {
			return nil, errors.Errorf("chart %d (%q) in %s: expected chart as repo/name and a repo_url", i, c.Name, path)
		}
		if c.Name == "" {
			r.Charts[i].Name = c.ChartName()
		}
	}
	return &r, nil
}

// Repos groups the charts by repository, sorted by repository name.
func (r *Registry) Repos() []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range r.Charts {
		if !seen[c.Repo()] {
			seen[c.Repo()] = true
			out = append(out, c.Repo())
		}
	}
	sort.Strings(out)
	return out
}

// InRepo returns the charts of one repository.
func (r *Registry) InRepo(repo string) []ChartMeta {
	var out []ChartMeta
	for _, c := range r.Charts {
		if c.Repo() == repo {
			out = append(out, c)
		}
	}
	return out
}

// Lookup finds a chart by catalog (repository) and chart name. An empty repo matches any.
func (r *Registry) Lookup(repo, chart string) (ChartMeta, bool) {
	for _, c := range r.Charts {
		if (repo == "" || c.Repo() == repo) && (c.ChartName() == chart || c.Name == chart) {
			return c, true
		}
	}
	return ChartMeta{}, false
}
