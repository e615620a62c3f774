package releases

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"apps-console/pkg/appcatalog"
	"apps-console/pkg/apps"
	"apps-console/pkg/rpc"
	"apps-console/pkg/ui"
)

// Dialog texts of the release actions.
const (
	TitleUpgrade       = "Upgrade"
	TitleUpgradeJob    = "Upgrading"
	TitleRollbackJob   = "Rolling back"
	TitleDelete        = "Delete"
	TitleDeleteJob     = "Deleting"
	TitlePullImage     = "Pull Image"
	TitlePullImageJob  = "Pulling image"
	TitleImagePulled   = "Image Updated"
	MessageImagePull   = "Pull the latest image for "
	MessageImagePulled = "The container image was pulled. Restart the application to use it."
)

// ErrStillDeploying is returned when a release keeps deploying after the last status poll.
var ErrStillDeploying = errors.New("release is still deploying")

// ErrNoPortal is returned when a release publishes no web portal.
var ErrNoPortal = errors.New("release has no web portal")

// Release returns the locally known record of name, querying the daemon when it is not loaded.
func (v *View) Release(ctx context.Context, name string) (Release, error) {
	if r, ok := v.store.Get(name); ok {
		return r, nil
	}
	cr, err := v.Apps.ChartRelease(ctx, name)
	if err != nil {
		return Release{}, err
	}
	return FromChartRelease(cr), nil
}

// Start scales name to one replica and follows its status.
func (v *View) Start(ctx context.Context, name string) (string, error) {
	return v.scale(ctx, name, 1)
}

// Stop scales name to zero replicas and follows its status.
func (v *View) Stop(ctx context.Context, name string) (string, error) {
	return v.scale(ctx, name, 0)
}

func (v *View) scale(ctx context.Context, name string, replicas int) (string, error) {
	log := v.log.WithFields(logrus.Fields{"release": name, "replicas": replicas})
	if err := v.Apps.SetReplicaCount(ctx, name, replicas); err != nil {
		return "", errors.Wrapf(err, "failed to scale %s", name)
	}
	log.Info("Release scaled")
	return v.PollStatus(ctx, name)
}

// PollStatus re-queries name and patches its status, repeating at the poll interval while it
// reads DEPLOYING. Polling stops early when name is not in the loaded mapping.
func (v *View) PollStatus(ctx context.Context, name string) (string, error) {
	for attempt := 1; ; attempt++ {
		cr, err := v.Apps.ChartRelease(ctx, name)
		if err != nil {
			return "", err
		}
		if !v.store.PatchStatus(name, cr.Status) || cr.Status != StatusDeploying {
			return cr.Status, nil
		}
		if v.opts.PollMaxAttempts > 0 && attempt >= v.opts.PollMaxAttempts {
			return cr.Status, ErrStillDeploying
		}
		select {
		case <-ctx.Done():
			return cr.Status, ctx.Err()
		case <-time.After(v.opts.PollInterval):
		}
	}
}

// Upgrade asks for confirmation and upgrades name to the latest chart version.
func (v *View) Upgrade(ctx context.Context, name string) (bool, error) {
	ok, err := v.Prompter.Confirm(ctx, ui.Confirmation{
		Title:   TitleUpgrade,
		Message: "Upgrade " + name + "?",
		Action:  TitleUpgrade,
	})
	if err != nil || !ok {
		return false, err
	}
	if _, err := v.Runner.Submit(ctx, TitleUpgradeJob, rpc.MethodReleaseUpgrade, name).Await(ctx); err != nil {
		return false, err
	}
	v.log.WithField("release", name).Info("Release upgraded")
	v.Refresh()
	return true, nil
}

// Rollback asks for the target version and rolls name back.
func (v *View) Rollback(ctx context.Context, name string) (bool, error) {
	choice, err := v.Prompter.Rollback(ctx, name)
	if err != nil || !choice.OK {
		return false, err
	}
	if choice.Options.ItemVersion == "" {
		return false, rpc.Invalid("a version to roll back to is required")
	}
	if _, err := v.Runner.Submit(ctx, TitleRollbackJob, rpc.MethodReleaseRollback, name, choice.Options).Await(ctx); err != nil {
		return false, err
	}
	v.log.WithFields(logrus.Fields{"release": name, "version": choice.Options.ItemVersion}).Info("Release rolled back")
	v.Refresh()
	return true, nil
}

// Delete asks for confirmation, deletes name and refreshes the list.
func (v *View) Delete(ctx context.Context, name string) (bool, error) {
	ok, err := v.Prompter.Confirm(ctx, ui.Confirmation{
		Title:   TitleDelete,
		Message: "Delete " + name + "?",
		Action:  TitleDelete,
	})
	if err != nil || !ok {
		return false, err
	}
	if _, err := v.Runner.Submit(ctx, TitleDeleteJob, rpc.MethodReleaseDelete, name).Await(ctx); err != nil {
		return false, err
	}
	v.log.WithField("release", name).Info("Release deleted")
	v.Refresh()
	return true, nil
}

// PullImage asks for confirmation, pulls the configured image of name and refreshes the list.
func (v *View) PullImage(ctx context.Context, name string) (bool, error) {
	r, err := v.Release(ctx, name)
	if err != nil {
		return false, err
	}
	if r.Repository == "" {
		return false, rpc.Invalid("release %s has no container image configured", name)
	}
	ok, err := v.Prompter.Confirm(ctx, ui.Confirmation{
		Title:   TitlePullImage,
		Message: MessageImagePull + r.Repository + "?",
		Action:  TitlePullImage,
	})
	if err != nil || !ok {
		return false, err
	}
	pull := apps.ImagePull{FromImage: r.Repository, Tag: r.Tag}
	if _, err := v.Runner.Submit(ctx, TitlePullImageJob, rpc.MethodImagePull, pull).Await(ctx); err != nil {
		return false, err
	}
	v.Notifier.Info(TitleImagePulled, MessageImagePulled)
	v.Refresh()
	return true, nil
}

// Edit opens the form matching the release kind and submits values through it.
func (v *View) Edit(ctx context.Context, name string, values map[string]any) error {
	r, err := v.Release(ctx, name)
	if err != nil {
		return err
	}
	var form appcatalog.Form
	if v.Catalog != nil {
		form, err = v.Catalog.EditForm(r.Kind, r.ChartName)
	} else {
		form, err = appcatalog.NewForm(appcatalog.Item{Name: r.ChartName, Kind: r.Kind})
	}
	if err != nil {
		return err
	}
	if _, err := appcatalog.Edit(ctx, v.Runner, form, name, values); err != nil {
		return err
	}
	v.Refresh()
	return nil
}

// Portal opens the web portal of name.
func (v *View) Portal(ctx context.Context, name string) (string, error) {
	r, err := v.Release(ctx, name)
	if err != nil {
		return "", err
	}
	if r.Portal == "" {
		return "", errors.Wrap(ErrNoPortal, name)
	}
	return r.Portal, v.Navigator.Navigate(ctx, r.Portal)
}
