// Package shell picks a pod of a release and opens an interactive command in it.
package shell

import (
	"context"
	"net/url"
	"slices"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"apps-console/pkg/apps"
	"apps-console/pkg/ui"
)

// DefaultCommand is proposed when the user does not type one.
const DefaultCommand = "/bin/bash"

// Notice texts.
const (
	TitleNoPod   = "No Pods"
	MessageNoPod = "At least one pod must be available"
)

var (
	// ErrNoPods is returned when the release has no pod to attach to.
	ErrNoPods = errors.New("release has no pods")
	// ErrCancelled is returned when the pod dialog is dismissed.
	ErrCancelled = errors.New("shell selection cancelled")
)

// Target addresses a command inside a release pod.
type Target struct {
	Release   string `json:"release"`
	Pod       string `json:"pod"`
	Container string `json:"container,omitempty"`
	Command   string `json:"command"`
}

// Segments returns the route of the shell screen.
func (t Target) Segments() []string {
	return []string{"apps", "shell", t.Release, t.Pod, t.Command}
}

// Path returns the route with each segment escaped.
func (t Target) Path() string {
	return ui.Route(t.Segments()...)
}

// ParsePath reverses Path. The container is not part of the route and comes back empty.
func ParsePath(path string) (Target, error) {
	prefix := ui.RouteShell + "/"
	rest, ok := strings.CutPrefix(strings.TrimPrefix(path, "/"), prefix)
	if !ok {
		return Target{}, errors.Errorf("%q is not a shell route", path)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return Target{}, errors.Errorf("shell route %q needs release, pod and command", path)
	}
	var t Target
	for i, dst := range []*string{&t.Release, &t.Pod, &t.Command} {
		s, err := url.PathUnescape(parts[i])
		if err != nil {
			return Target{}, errors.Wrapf(err, "invalid shell route %q", path)
		}
		if s == "" {
			return Target{}, errors.Errorf("shell route %q has an empty segment", path)
		}
		*dst = s
	}
	return t, nil
}

// Flow runs the pod selection dialog and navigates to the shell screen.
type Flow struct {
	apps      *apps.Service
	prompter  ui.Prompter
	navigator ui.Navigator
	log       *logrus.Entry
}

// NewFlow creates a shell flow.
func NewFlow(a *apps.Service, prompter ui.Prompter, navigator ui.Navigator, log *logrus.Entry) *Flow {
	return &Flow{apps: a, prompter: prompter, navigator: navigator, log: log.WithField("component", "shell")}
}

// Open lists the pods of release, lets the user pick a pod, container and command, and
// navigates to the shell screen.
func (f *Flow) Open(ctx context.Context, release string) (Target, error) {
	choices, err := f.apps.PodConsoleChoices(ctx, release)
	if err != nil {
		return Target{}, errors.Wrapf(err, "could not list pods of %s", release)
	}
	if len(choices) == 0 {
		if _, err := f.prompter.Confirm(ctx, ui.Confirmation{
			Title:      TitleNoPod,
			Message:    MessageNoPod,
			Action:     "Close",
			HideCancel: true,
		}); err != nil {
			return Target{}, err
		}
		return Target{}, ErrNoPods
	}

	prompt := Prompt(release, choices)
	choice, err := f.prompter.ChoosePod(ctx, prompt)
	if err != nil {
		return Target{}, err
	}
	if !choice.OK {
		return Target{}, ErrCancelled
	}
	target, err := resolve(release, choices, choice)
	if err != nil {
		return Target{}, err
	}
	f.log.WithFields(logrus.Fields{"release": release, "pod": target.Pod, "container": target.Container}).Debug("Opening shell")
	if err := f.navigator.Navigate(ctx, target.Segments()...); err != nil {
		return Target{}, err
	}
	return target, nil
}

// Prompt builds the pod dialog input with the first pod, its first container and the default
// command preselected.
func Prompt(release string, choices apps.ConsoleChoices) ui.PodPrompt {
	pods := make([]string, 0, len(choices))
	for pod := range choices {
		pods = append(pods, pod)
	}
	sort.Strings(pods)
	p := ui.PodPrompt{
		Release:    release,
		Pods:       pods,
		Containers: map[string][]string(choices),
		Command:    DefaultCommand,
	}
	if len(pods) > 0 {
		p.Pod = pods[0]
		if containers := choices[p.Pod]; len(containers) > 0 {
			p.Container = containers[0]
		}
	}
	return p
}

func resolve(release string, choices apps.ConsoleChoices, choice ui.PodChoice) (Target, error) {
	containers, ok := choices[choice.Pod]
	if !ok {
		return Target{}, errors.Errorf("pod %q does not belong to %s", choice.Pod, release)
	}
	container := choice.Container
	if container == "" && len(containers) > 0 {
		container = containers[0]
	}
	if container != "" && !slices.Contains(containers, container) {
		return Target{}, errors.Errorf("container %q is not part of pod %s", container, choice.Pod)
	}
	command := strings.TrimSpace(choice.Command)
	if command == "" {
		command = DefaultCommand
	}
	return Target{Release: release, Pod: choice.Pod, Container: container, Command: command}, nil
}

// Attacher runs the target command with the caller's terminal attached.
type Attacher interface {
	Attach(ctx context.Context, t Target) error
}
