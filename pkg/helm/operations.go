package helm

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"helm.sh/helm/v3/pkg/action"
	"helm.sh/helm/v3/pkg/release"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"apps-console/pkg/appcatalog"
	"apps-console/pkg/apps"
	"apps-console/pkg/rpc"
)

// storageClassValue is the conventional chart value selecting the storage class of volumes.
const storageClassValue = "global.storageClass"

func (c *Client) lookupChart(catalog, item string) (ChartMeta, error) {
	if meta, ok := c.registry.Lookup(catalog, item); ok {
		return meta, nil
	}
	if meta, ok := c.registry.Lookup("", item); ok {
		return meta, nil
	}
	return ChartMeta{}, rpc.Invalid("chart %q is not configured in catalog %q", item, catalog)
}

func (c *Client) currentRelease(name string) (*release.Release, error) {
	rel, err := action.NewGet(c.actionConfig).Run(name)
	if err != nil {
		return nil, releaseError(err, name)
	}
	return rel, nil
}

// createRelease installs a chart; the release name must not exist yet.
func (c *Client) createRelease(ctx context.Context, params []any, report func(rpc.JobProgress)) (any, error) {
	var req apps.CreateRequest
	if err := param(params, 0, &req); err != nil {
		return nil, err
	}
	if req.ReleaseName == "" {
		return nil, rpc.Invalid("release_name is required")
	}
	ns := c.config.AppInstallNamespace

	histClient := action.NewHistory(c.actionConfig)
	histClient.Max = 1
	if history, err := histClient.Run(req.ReleaseName); err == nil && len(history) > 0 {
		return nil, rpc.Invalid("release '%s' already exists in namespace '%s'", req.ReleaseName, ns)
	} else if err != nil && !isReleaseNotFound(err) {
		return nil, errors.Wrapf(err, "error checking history for release %s", req.ReleaseName)
	}

	meta, err := c.lookupChart(req.Catalog, req.Item)
	if err != nil {
		return nil, err
	}
	version := req.Version
	if version == "" {
		version = meta.Version
	}
	report(rpc.JobProgress{Percent: 20, Description: "Locating chart " + meta.Chart})
	chrt, err := c.locateChart(meta, version)
	if err != nil {
		return nil, err
	}

	values := appcatalog.Merge(map[string]any{}, req.Values)
	if pool := c.state.Pool(); pool != "" && appcatalog.Lookup(values, storageClassValue) == nil {
		appcatalog.SetPath(values, storageClassValue, pool)
	}

	install := action.NewInstall(c.actionConfig)
	install.Namespace = ns
	install.ReleaseName = req.ReleaseName
	install.Version = version
	install.Wait = true
	install.Timeout = c.config.HelmTimeout

	report(rpc.JobProgress{Percent: 50, Description: "Installing " + req.ReleaseName})
	c.log.Infof("Installing chart '%s' as release '%s' in namespace '%s'", chrt.Name(), req.ReleaseName, ns)
	rel, err := install.RunWithContext(ctx, chrt, values)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to install chart '%s'", chrt.Name())
	}
	c.log.Infof("Successfully installed chart '%s' (version %s) as release '%s'", rel.Chart.Metadata.Name, rel.Chart.Metadata.Version, rel.Name)
	return c.chartRelease(ctx, rel)
}

// updateRelease re-applies the deployed chart with the stored values merged with new ones.
func (c *Client) updateRelease(ctx context.Context, params []any, report func(rpc.JobProgress)) (any, error) {
	name, err := releaseName(params)
	if err != nil {
		return nil, err
	}
	var req apps.UpdateRequest
	if err := param(params, 1, &req); err != nil {
		return nil, err
	}
	current, err := c.currentRelease(name)
	if err != nil {
		return nil, err
	}
	report(rpc.JobProgress{Percent: 50, Description: "Updating " + name})
	rel, err := c.newUpgrade().RunWithContext(ctx, name, current.Chart, req.Values)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to update release '%s'", name)
	}
	c.log.Infof("Updated release '%s' to revision %d", name, rel.Version)
	return c.chartRelease(ctx, rel)
}

func (c *Client) newUpgrade() *action.Upgrade {
	u := action.NewUpgrade(c.actionConfig)
	u.Namespace = c.config.AppInstallNamespace
	u.ReuseValues = true
	u.Wait = true
	u.Timeout = c.config.HelmTimeout
	return u
}

// upgradeRelease moves a release to item_version, or to the newest chart version of its repository.
func (c *Client) upgradeRelease(ctx context.Context, params []any, report func(rpc.JobProgress)) (any, error) {
	name, err := releaseName(params)
	if err != nil {
		return nil, err
	}
	var opts struct {
		ItemVersion string `json:"item_version"`
	}
	if err := optionalParam(params, 1, &opts); err != nil {
		return nil, err
	}
	current, err := c.currentRelease(name)
	if err != nil {
		return nil, err
	}
	meta, err := c.lookupChart("", current.Chart.Metadata.Name)
	if err != nil {
		return nil, err
	}
	version := opts.ItemVersion
	if version == "" {
		if version, err = c.latestVersion(ctx, meta); err != nil {
			return nil, err
		}
	}
	if version == current.Chart.Metadata.Version {
		return nil, rpc.Invalid("release '%s' is already at chart version %s", name, version)
	}

	report(rpc.JobProgress{Percent: 20, Description: "Locating chart " + meta.Chart + " " + version})
	chrt, err := c.locateChart(meta, version)
	if err != nil {
		return nil, err
	}
	report(rpc.JobProgress{Percent: 50, Description: "Upgrading " + name})
	rel, err := c.newUpgrade().RunWithContext(ctx, name, chrt, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to upgrade release '%s'", name)
	}
	c.log.Infof("Upgraded release '%s' from %s to %s", name, current.Chart.Metadata.Version, version)
	return c.chartRelease(ctx, rel)
}

// rollbackRelease returns to the newest past revision deployed with item_version.
// rollback_snapshot has no local equivalent and is ignored.
func (c *Client) rollbackRelease(ctx context.Context, params []any, report func(rpc.JobProgress)) (any, error) {
	name, err := releaseName(params)
	if err != nil {
		return nil, err
	}
	var opts apps.RollbackOptions
	if err := param(params, 1, &opts); err != nil {
		return nil, err
	}
	if opts.ItemVersion == "" {
		return nil, rpc.Invalid("item_version is required")
	}
	revisions, err := c.revisions(name)
	if err != nil {
		return nil, err
	}
	if len(revisions) == 0 {
		return nil, rpc.NotFound("release %q not found", name)
	}
	latest := revisions[len(revisions)-1].Version
	target := 0
	for _, r := range revisions {
		if r.Version != latest && r.Chart != nil && r.Chart.Metadata != nil && r.Chart.Metadata.Version == opts.ItemVersion {
			target = r.Version
		}
	}
	if target == 0 {
		return nil, rpc.NotFound("release %q has no revision with chart version %s", name, opts.ItemVersion)
	}

	rb := action.NewRollback(c.actionConfig)
	rb.Version = target
	rb.Force = opts.Force
	rb.Wait = true
	rb.Timeout = c.config.HelmTimeout
	report(rpc.JobProgress{Percent: 50, Description: "Rolling back " + name})
	if err := rb.Run(name); err != nil {
		return nil, errors.Wrapf(err, "failed to roll back release '%s' to revision %d", name, target)
	}
	c.log.Infof("Rolled back release '%s' to revision %d (chart %s)", name, target, opts.ItemVersion)
	rel, err := c.currentRelease(name)
	if err != nil {
		return nil, err
	}
	return c.chartRelease(ctx, rel)
}

// deleteRelease uninstalls a release.
func (c *Client) deleteRelease(_ context.Context, params []any, report func(rpc.JobProgress)) (any, error) {
	name, err := releaseName(params)
	if err != nil {
		return nil, err
	}
	uninstall := action.NewUninstall(c.actionConfig)
	uninstall.Wait = true
	uninstall.Timeout = c.config.HelmTimeout

	report(rpc.JobProgress{Percent: 50, Description: "Uninstalling " + name})
	c.log.Infof("Uninstalling release '%s' from namespace '%s'", name, c.config.AppInstallNamespace)
	res, err := uninstall.Run(name)
	if err != nil {
		if isReleaseNotFound(err) {
			return nil, rpc.NotFound("release '%s' not found in namespace '%s'", name, c.config.AppInstallNamespace)
		}
		return nil, errors.Wrapf(err, "failed to uninstall release '%s'", name)
	}
	c.log.Infof("Successfully uninstalled release '%s'", name)
	return map[string]string{"info": res.Info}, nil
}

// scaleRelease sets the replica count of every deployment and stateful set of a release.
func (c *Client) scaleRelease(ctx context.Context, params []any, report func(rpc.JobProgress)) (any, error) {
	name, err := releaseName(params)
	if err != nil {
		return nil, err
	}
	var opts apps.ScaleOptions
	if err := param(params, 1, &opts); err != nil {
		return nil, err
	}
	if opts.ReplicaCount < 0 {
		return nil, rpc.Invalid("replica_count must not be negative")
	}
	if _, err := c.currentRelease(name); err != nil {
		return nil, err
	}
	count := int32(opts.ReplicaCount)
	ns := c.config.AppInstallNamespace
	report(rpc.JobProgress{Percent: 50, Description: "Scaling " + name})

	deployments, err := c.kubeClient.AppsV1().Deployments(ns).List(ctx, c.selector(name))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list deployments of %s", name)
	}
	for i := range deployments.Items {
		d := &deployments.Items[i]
		d.Spec.Replicas = &count
		if _, err := c.kubeClient.AppsV1().Deployments(ns).Update(ctx, d, metav1.UpdateOptions{}); err != nil {
			return nil, errors.Wrapf(err, "failed to scale deployment %s", d.Name)
		}
	}
	sets, err := c.kubeClient.AppsV1().StatefulSets(ns).List(ctx, c.selector(name))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list stateful sets of %s", name)
	}
	for i := range sets.Items {
		s := &sets.Items[i]
		s.Spec.Replicas = &count
		if _, err := c.kubeClient.AppsV1().StatefulSets(ns).Update(ctx, s, metav1.UpdateOptions{}); err != nil {
			return nil, errors.Wrapf(err, "failed to scale stateful set %s", s.Name)
		}
	}
	c.log.WithFields(logrus.Fields{"release": name, "replicas": count}).Info("Scaled release")
	return opts, nil
}
