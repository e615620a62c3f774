package appcatalog

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"apps-console/pkg/jobs"
	"apps-console/pkg/rpc"
)

// Dialog titles of the install and edit jobs.
const (
	TitleInstall = "Installing"
	TitleEdit    = "Saving"
)

// Install validates values against form and submits chart.release.create.
func Install(ctx context.Context, runner *jobs.Runner, form Form, releaseName string, values map[string]any) (json.RawMessage, error) {
	req, err := form.CreateRequest(releaseName, values)
	if err != nil {
		return nil, err
	}
	res, err := runner.Submit(ctx, TitleInstall+" "+form.Item().Name, rpc.MethodReleaseCreate, req).Await(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to install %s", releaseName)
	}
	return res, nil
}

// Edit submits chart.release.update for releaseName with the values accepted by form.
func Edit(ctx context.Context, runner *jobs.Runner, form Form, releaseName string, values map[string]any) (json.RawMessage, error) {
	req, err := form.UpdateRequest(values)
	if err != nil {
		return nil, err
	}
	res, err := runner.Submit(ctx, TitleEdit+" "+releaseName, rpc.MethodReleaseUpdate, releaseName, req).Await(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to update %s", releaseName)
	}
	return res, nil
}

// LaunchInput asks for the release name and values of the generic chart. ok is false when the
// form is dismissed.
type LaunchInput func(ctx context.Context) (releaseName string, values map[string]any, ok bool, err error)

// Launcher installs the generic chart from the toolbar launch button.
type Launcher struct {
	catalog *Service
	runner  *jobs.Runner
	input   LaunchInput
}

// NewLauncher creates a launcher reading its form from input.
func NewLauncher(catalog *Service, runner *jobs.Runner, input LaunchInput) *Launcher {
	return &Launcher{catalog: catalog, runner: runner, input: input}
}

// Launch runs the generic form and installs it. It reports whether a release was created.
func (l *Launcher) Launch(ctx context.Context) (bool, error) {
	name, values, ok, err := l.input(ctx)
	if err != nil || !ok {
		return false, err
	}
	if _, err := Install(ctx, l.runner, l.catalog.LaunchForm(), name, values); err != nil {
		return false, err
	}
	return true, nil
}
