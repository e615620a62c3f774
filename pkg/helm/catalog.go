package helm

import (
	"context"

	"github.com/pkg/errors"
	"helm.sh/helm/v3/pkg/action"
	"helm.sh/helm/v3/pkg/chart"
	"helm.sh/helm/v3/pkg/chart/loader"
	"helm.sh/helm/v3/pkg/getter"
	"helm.sh/helm/v3/pkg/repo"

	"apps-console/pkg/appcatalog"
	"apps-console/pkg/apps"
	"apps-console/pkg/rpc"
)

// index returns the repository index, downloading it when the cached copy expired.
func (c *Client) index(ctx context.Context, name, url string) (*repo.IndexFile, error) {
	if idx, ok := c.indexes.Get(name); ok {
		return idx, nil
	}
	c.repoMu.Lock()
	defer c.repoMu.Unlock()
	if idx, ok := c.indexes.Get(name); ok {
		return idx, nil
	}
	idx, err := c.loadIndex(ctx, name, url)
	if err != nil {
		return nil, err
	}
	idx.SortEntries()
	c.indexes.Add(name, idx)
	return idx, nil
}

func (c *Client) downloadIndex(_ context.Context, name, url string) (*repo.IndexFile, error) {
	c.log.Debugf("Downloading index of repo %s (%s)", name, url)
	r, err := repo.NewChartRepository(&repo.Entry{Name: name, URL: url}, getter.All(c.settings))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create chart repository for %s", name)
	}
	r.CachePath = c.settings.RepositoryCache
	path, err := r.DownloadIndexFile()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to download index for repo %s (%s)", name, url)
	}
	idx, err := repo.LoadIndexFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load index for repo %s", name)
	}
	return idx, nil
}

// versions lists the versions of a registry chart, honouring a pinned version.
func (c *Client) versions(ctx context.Context, meta ChartMeta) (repo.ChartVersions, error) {
	idx, err := c.index(ctx, meta.Repo(), meta.RepoURL)
	if err != nil {
		return nil, err
	}
	var out repo.ChartVersions
	for _, cv := range idx.Entries[meta.ChartName()] {
		if meta.Version == "" || cv.Version == meta.Version {
			out = append(out, cv)
		}
	}
	return out, nil
}

func (c *Client) latestVersion(ctx context.Context, meta ChartMeta) (string, error) {
	versions, err := c.versions(ctx, meta)
	if err != nil {
		return "", err
	}
	labels := make([]string, 0, len(versions))
	for _, cv := range versions {
		labels = append(labels, cv.Version)
	}
	if len(labels) == 0 {
		return "", errors.Errorf("chart %s has no versions in repo %s", meta.ChartName(), meta.Repo())
	}
	return appcatalog.Latest(labels), nil
}

// queryCatalogs builds one catalog per registry repository, train "charts".
// A repository whose index cannot be read is skipped.
func (c *Client) queryCatalogs(ctx context.Context, _ []any, _ func(rpc.JobProgress)) (any, error) {
	catalogs := []apps.Catalog{}
	for _, name := range c.registry.Repos() {
		items := map[string]apps.ChartItem{}
		for _, meta := range c.registry.InRepo(name) {
			versions, err := c.versions(ctx, meta)
			if err != nil {
				c.log.WithError(err).WithField("repo", name).Warn("Skipping chart repository")
				break
			}
			item := apps.ChartItem{Name: meta.Name, IconURL: meta.Icon, Versions: map[string]apps.ChartVersion{}}
			for _, cv := range versions {
				readme := meta.Description
				if readme == "" {
					readme = cv.Description
				}
				if item.IconURL == "" {
					item.IconURL = cv.Icon
				}
				item.Versions[cv.Version] = apps.ChartVersion{AppReadme: readme}
			}
			if len(item.Versions) == 0 {
				c.log.WithField("chart", meta.Chart).Warn("Chart not found in repository index")
				continue
			}
			items[meta.ChartName()] = item
		}
		if len(items) == 0 {
			continue
		}
		catalogs = append(catalogs, apps.Catalog{
			ID:     name,
			Label:  name,
			Trains: map[string]map[string]apps.ChartItem{appcatalog.DefaultTrain: items},
		})
	}
	return catalogs, nil
}

// pullChart downloads a chart version straight from its repository URL.
func (c *Client) pullChart(meta ChartMeta, version string) (*chart.Chart, error) {
	opts := action.ChartPathOptions{RepoURL: meta.RepoURL, Version: version}
	c.log.Infof("Locating chart '%s' version '%s'...", meta.Chart, version)
	path, err := opts.LocateChart(meta.ChartName(), c.settings)
	if err != nil {
		return nil, errors.Wrapf(err, "could not locate chart '%s' (version '%s')", meta.Chart, version)
	}
	ch, err := loader.Load(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load chart from path %s", path)
	}
	return ch, nil
}
