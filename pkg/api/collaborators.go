package api

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"apps-console/pkg/apps"
	"apps-console/pkg/ui"
)

// answers carries the dialog answers of one HTTP request. The request itself is the user's
// confirmation.
type answers struct {
	Pool      string
	Rollback  apps.RollbackOptions
	Pod       string
	Container string
	Command   string
	Settings  *apps.KubernetesSettings
	Release   string
	Values    map[string]any

	mu       sync.Mutex
	navigate string
}

type answersKey struct{}

func withAnswers(ctx context.Context, a *answers) context.Context {
	return context.WithValue(ctx, answersKey{}, a)
}

func answersFrom(ctx context.Context) *answers {
	if a, ok := ctx.Value(answersKey{}).(*answers); ok {
		return a
	}
	return &answers{}
}

func (a *answers) navigated() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.navigate
}

// requestPrompter answers dialogs from the request answers in ctx.
type requestPrompter struct{}

func (requestPrompter) Confirm(context.Context, ui.Confirmation) (bool, error) {
	return true, nil
}

func (requestPrompter) ChoosePool(ctx context.Context, _ []string) (ui.PoolChoice, error) {
	a := answersFrom(ctx)
	return ui.PoolChoice{Pool: a.Pool, OK: a.Pool != ""}, nil
}

func (requestPrompter) ChoosePod(ctx context.Context, p ui.PodPrompt) (ui.PodChoice, error) {
	a := answersFrom(ctx)
	choice := ui.PodChoice{Pod: a.Pod, Container: a.Container, Command: a.Command, OK: true}
	if choice.Pod == "" {
		choice.Pod = p.Pod
	}
	if choice.Container == "" && choice.Pod == p.Pod {
		choice.Container = p.Container
	}
	if choice.Command == "" {
		choice.Command = p.Command
	}
	return choice, nil
}

func (requestPrompter) Rollback(ctx context.Context, _ string) (ui.RollbackChoice, error) {
	a := answersFrom(ctx)
	return ui.RollbackChoice{Options: a.Rollback, OK: a.Rollback.ItemVersion != ""}, nil
}

// requestSettings answers the advanced settings form with the settings of the request.
func requestSettings(ctx context.Context, _ apps.KubernetesSettings) (apps.KubernetesSettings, bool, error) {
	a := answersFrom(ctx)
	if a.Settings == nil {
		return apps.KubernetesSettings{}, false, nil
	}
	return *a.Settings, true, nil
}

// requestLaunch answers the launch form with the release of the request.
func requestLaunch(ctx context.Context) (string, map[string]any, bool, error) {
	a := answersFrom(ctx)
	return a.Release, a.Values, a.Release != "", nil
}

// requestNavigator records the route on the request so the response can point the client there.
type requestNavigator struct{}

func (requestNavigator) Navigate(ctx context.Context, segments ...string) error {
	a := answersFrom(ctx)
	a.mu.Lock()
	a.navigate = ui.Route(segments...)
	a.mu.Unlock()
	return nil
}

type logNotifier struct {
	log *logrus.Entry
}

func (n logNotifier) Info(title, message string) {
	n.log.WithField("title", title).Info(message)
}
