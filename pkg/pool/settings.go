package pool

import (
	"context"
	"net/netip"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"apps-console/pkg/apps"
	"apps-console/pkg/jobs"
	"apps-console/pkg/rpc"
	"apps-console/pkg/ui"
)

// Advanced settings dialog texts.
const (
	TitleSettingsJob     = "Saving settings..."
	MessageSettingsSaved = "Kubernetes settings have been updated."
)

// SettingsForm asks for new settings, starting from current. ok is false when the form is
// dismissed.
type SettingsForm func(ctx context.Context, current apps.KubernetesSettings) (next apps.KubernetesSettings, ok bool, err error)

// SettingsEditor edits the advanced container runtime settings through kubernetes.update.
type SettingsEditor struct {
	apps     *apps.Service
	runner   *jobs.Runner
	form     SettingsForm
	notifier ui.Notifier
	log      *logrus.Entry
}

// NewSettingsEditor creates the advanced settings editor.
func NewSettingsEditor(a *apps.Service, runner *jobs.Runner, form SettingsForm, notifier ui.Notifier, log *logrus.Entry) *SettingsEditor {
	return &SettingsEditor{
		apps:     a,
		runner:   runner,
		form:     form,
		notifier: notifier,
		log:      log.WithField("component", "settings"),
	}
}

// Edit loads the current settings, runs the form and submits the result. It reports whether
// settings were saved.
func (e *SettingsEditor) Edit(ctx context.Context) (bool, error) {
	cfg, err := e.apps.KubernetesConfig(ctx)
	if err != nil {
		return false, errors.Wrap(err, "could not read kubernetes configuration")
	}
	next, ok, err := e.form(ctx, cfg.KubernetesSettings)
	if err != nil || !ok {
		return false, err
	}
	if err := validateSettings(next); err != nil {
		return false, err
	}

	job := e.runner.Submit(ctx, TitleSettingsJob, rpc.MethodKubernetesUpdate, next)
	defer job.Dialog().Close()
	if _, err := job.Wait(ctx); err != nil {
		return false, errors.Wrap(err, "could not update kubernetes settings")
	}
	e.log.WithField("settings", next).Info("kubernetes settings updated")
	e.notifier.Info(TitleSuccess, MessageSettingsSaved)
	return true, nil
}

func validateSettings(s apps.KubernetesSettings) error {
	type field struct{ name, value string }
	for _, f := range []field{{"cluster_cidr", s.ClusterCIDR}, {"service_cidr", s.ServiceCIDR}} {
		if _, err := netip.ParsePrefix(f.value); f.value != "" && err != nil {
			return rpc.Invalid("%s: %q is not a CIDR", f.name, f.value)
		}
	}
	for _, f := range []field{{"cluster_dns_ip", s.ClusterDNSIP}, {"node_ip", s.NodeIP}, {"route_v4_gateway", s.RouteV4Gateway}} {
		if _, err := netip.ParseAddr(f.value); f.value != "" && err != nil {
			return rpc.Invalid("%s: %q is not an IP address", f.name, f.value)
		}
	}
	return nil
}
