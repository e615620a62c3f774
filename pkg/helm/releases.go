package helm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"helm.sh/helm/v3/pkg/action"
	"helm.sh/helm/v3/pkg/chartutil"
	"helm.sh/helm/v3/pkg/release"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"apps-console/pkg/appcatalog"
	"apps-console/pkg/apps"
	"apps-console/pkg/metrics"
	"apps-console/pkg/rpc"
)

// Release statuses in the daemon's vocabulary.
const (
	StatusActive    = "ACTIVE"
	StatusDeploying = "DEPLOYING"
	StatusStopped   = "STOPPED"
)

const portalName = "web_portal"

// listReleases lists every release of the install namespace, in any state.
func (c *Client) listReleases() ([]*release.Release, error) {
	list := action.NewList(c.actionConfig)
	list.All = true
	list.SetStateMask()
	results, err := list.Run()
	if err != nil {
		return nil, errors.Wrap(err, "failed to list Helm releases")
	}
	return results, nil
}

// idFilter extracts the release name from a [["id", "=", name]] filter list.
func idFilter(filters [][]any) string {
	for _, f := range filters {
		if len(f) == 3 && f[0] == "id" && f[1] == "=" {
			if name, ok := f[2].(string); ok {
				return name
			}
		}
	}
	return ""
}

func (c *Client) queryReleases(ctx context.Context, params []any, _ func(rpc.JobProgress)) (any, error) {
	var filters [][]any
	if err := optionalParam(params, 0, &filters); err != nil {
		return nil, err
	}
	name := idFilter(filters)

	results, err := c.listReleases()
	if err != nil {
		return nil, err
	}
	var selected []*release.Release
	for _, rel := range results {
		if name == "" || rel.Name == name {
			selected = append(selected, rel)
		}
	}

	out := make([]apps.ChartRelease, len(selected))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, rel := range selected {
		g.Go(func() error {
			cr, err := c.chartRelease(gctx, rel)
			if err != nil {
				return errors.Wrapf(err, "release %s", rel.Name)
			}
			out[i] = cr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// chartRelease assembles the daemon's view of a Helm release.
func (c *Client) chartRelease(ctx context.Context, rel *release.Release) (apps.ChartRelease, error) {
	pods, workloads, err := c.podStatus(ctx, rel.Name)
	if err != nil {
		return apps.ChartRelease{}, err
	}
	ports, portal, err := c.servicePorts(ctx, rel.Name)
	if err != nil {
		return apps.ChartRelease{}, err
	}
	history, err := c.history(rel)
	if err != nil {
		return apps.ChartRelease{}, err
	}

	values, err := chartutil.CoalesceValues(rel.Chart, rel.Config)
	if err != nil {
		return apps.ChartRelease{}, errors.Wrap(err, "failed to compute values")
	}

	md := rel.Chart.Metadata
	cr := apps.ChartRelease{
		Name:         rel.Name,
		ID:           rel.Name,
		CatalogTrain: appcatalog.DefaultTrain,
		Status:       releaseStatus(rel, pods, workloads),
		ChartMetadata: apps.ChartMetadata{
			Name:               md.Name,
			Version:            md.Version,
			LatestChartVersion: md.Version,
			Description:        md.Description,
			Icon:               md.Icon,
		},
		Config:    values.AsMap(),
		PodStatus: pods,
		UsedPorts: ports,
		History:   history,
	}
	if portal != "" {
		cr.Portals = map[string][]string{portalName: {portal}}
	}

	if meta, ok := c.registry.Lookup("", md.Name); ok {
		cr.Catalog = meta.Repo()
		if latest, err := c.latestVersion(ctx, meta); err != nil {
			c.log.WithError(err).WithField("release", rel.Name).Debug("Latest chart version unknown")
		} else {
			cr.ChartMetadata.LatestChartVersion = latest
			cr.UpdateAvailable = appcatalog.CompareVersions(latest, md.Version) > 0
		}
	}

	stats, err := c.metrics.ReleaseStats(ctx, rel.Namespace, rel.Name)
	if err != nil {
		c.log.WithError(err).WithField("release", rel.Name).Debug("Release stats unavailable")
	}
	cr.Stats = stats
	return cr, nil
}

// releaseStatus maps the Helm status and rollout state onto ACTIVE, DEPLOYING or STOPPED.
// Other Helm states are reported upper-cased, e.g. FAILED.
func releaseStatus(rel *release.Release, pods apps.PodStatus, workloads int) string {
	if rel.Info == nil {
		return strings.ToUpper(release.StatusUnknown.String())
	}
	switch rel.Info.Status {
	case release.StatusPendingInstall, release.StatusPendingUpgrade, release.StatusPendingRollback:
		return StatusDeploying
	case release.StatusDeployed:
		switch {
		case workloads == 0:
			return StatusActive
		case pods.Desired == 0:
			return StatusStopped
		case pods.Available < pods.Desired:
			return StatusDeploying
		}
		return StatusActive
	}
	return strings.ToUpper(rel.Info.Status.String())
}

func (c *Client) selector(name string) metav1.ListOptions {
	return metav1.ListOptions{LabelSelector: metrics.ReleaseSelector(name)}
}

// podStatus sums desired and available replicas over the release's deployments and stateful sets.
func (c *Client) podStatus(ctx context.Context, name string) (apps.PodStatus, int, error) {
	ns := c.config.AppInstallNamespace
	var status apps.PodStatus
	deployments, err := c.kubeClient.AppsV1().Deployments(ns).List(ctx, c.selector(name))
	if err != nil {
		return status, 0, errors.Wrapf(err, "failed to list deployments of %s", name)
	}
	for _, d := range deployments.Items {
		status.Desired += replicas(d.Spec.Replicas)
		status.Available += int(d.Status.AvailableReplicas)
	}
	sets, err := c.kubeClient.AppsV1().StatefulSets(ns).List(ctx, c.selector(name))
	if err != nil {
		return status, 0, errors.Wrapf(err, "failed to list stateful sets of %s", name)
	}
	for _, s := range sets.Items {
		status.Desired += replicas(s.Spec.Replicas)
		status.Available += int(s.Status.AvailableReplicas)
	}
	return status, len(deployments.Items) + len(sets.Items), nil
}

func replicas(n *int32) int {
	if n == nil {
		return 1
	}
	return int(*n)
}

// servicePorts returns the node ports of the release's services and a portal URL built from the
// first of them.
func (c *Client) servicePorts(ctx context.Context, name string) ([]apps.UsedPort, string, error) {
	services, err := c.kubeClient.CoreV1().Services(c.config.AppInstallNamespace).List(ctx, c.selector(name))
	if err != nil {
		return nil, "", errors.Wrapf(err, "failed to list services of %s", name)
	}
	sort.Slice(services.Items, func(i, j int) bool { return services.Items[i].Name < services.Items[j].Name })

	ports := []apps.UsedPort{}
	portal := ""
	for _, svc := range services.Items {
		if svc.Spec.Type != corev1.ServiceTypeNodePort && svc.Spec.Type != corev1.ServiceTypeLoadBalancer {
			continue
		}
		for _, p := range svc.Spec.Ports {
			if p.NodePort <= 0 {
				continue
			}
			protocol := string(p.Protocol)
			if protocol == "" {
				protocol = string(corev1.ProtocolTCP)
			}
			ports = append(ports, apps.UsedPort{Port: int(p.NodePort), Protocol: protocol})
			if portal == "" && protocol == string(corev1.ProtocolTCP) {
				portal = fmt.Sprintf("http://%s:%d/", c.portalHost, p.NodePort)
			}
		}
	}
	return ports, portal, nil
}

// historyEntry describes a past revision, keyed by its chart version.
type historyEntry struct {
	Revision   int    `json:"revision"`
	Status     string `json:"status"`
	Updated    string `json:"updated,omitempty"`
	AppVersion string `json:"app_version,omitempty"`
}

// history maps the chart versions of past revisions to their newest revision.
func (c *Client) history(rel *release.Release) (map[string]json.RawMessage, error) {
	revisions, err := c.revisions(rel.Name)
	if err != nil {
		return nil, err
	}
	out := map[string]json.RawMessage{}
	for _, r := range revisions {
		if r.Version == rel.Version || r.Chart == nil || r.Chart.Metadata == nil {
			continue
		}
		entry := historyEntry{Revision: r.Version, AppVersion: r.Chart.Metadata.AppVersion}
		if r.Info != nil {
			entry.Status = r.Info.Status.String()
			if !r.Info.LastDeployed.IsZero() {
				entry.Updated = r.Info.LastDeployed.Format(time.RFC3339)
			}
		}
		raw, err := json.Marshal(entry)
		if err != nil {
			return nil, err
		}
		out[r.Chart.Metadata.Version] = raw
	}
	return out, nil
}

// revisions returns the release history, oldest first.
func (c *Client) revisions(name string) ([]*release.Release, error) {
	revisions, err := action.NewHistory(c.actionConfig).Run(name)
	if err != nil {
		return nil, releaseError(err, name)
	}
	sort.Slice(revisions, func(i, j int) bool { return revisions[i].Version < revisions[j].Version })
	return revisions, nil
}

// podConsoleChoices lists the running pods of a release with their containers.
func (c *Client) podConsoleChoices(ctx context.Context, params []any, _ func(rpc.JobProgress)) (any, error) {
	name, err := releaseName(params)
	if err != nil {
		return nil, err
	}
	pods, err := c.kubeClient.CoreV1().Pods(c.config.AppInstallNamespace).List(ctx, c.selector(name))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list pods of %s", name)
	}
	choices := apps.ConsoleChoices{}
	for _, pod := range pods.Items {
		if pod.Status.Phase != corev1.PodRunning {
			continue
		}
		containers := make([]string, 0, len(pod.Spec.Containers))
		for _, ct := range pod.Spec.Containers {
			containers = append(containers, ct.Name)
		}
		choices[pod.Name] = containers
	}
	return choices, nil
}
