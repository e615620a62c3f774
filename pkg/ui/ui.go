// Package ui declares the interactive collaborators the views depend on. Dialogs return typed
// results; the caller applies them.
package ui

import (
	"context"
	"net/url"
	"strings"

	"apps-console/pkg/apps"
	"apps-console/pkg/rpc"
)

// Dialog is an open, non-dismissable progress indicator for one job.
type Dialog interface {
	Update(p rpc.JobProgress)
	Fail(err error)
	Close()
}

// Progress opens progress dialogs.
type Progress interface {
	Open(title string) Dialog
}

// Confirmation is a yes/no question.
type Confirmation struct {
	Title   string
	Message string
	// Action labels the affirmative answer.
	Action string
	// HideCancel turns the dialog into a notice with a single button.
	HideCancel bool
}

// PoolChoice is the result of the pool selection dialog.
type PoolChoice struct {
	Pool string
	OK   bool
}

// PodPrompt is the input of the pod shell dialog.
type PodPrompt struct {
	Release string
	Pods    []string
	// Containers lists the containers of each pod.
	Containers map[string][]string
	Pod        string
	Container  string
	Command    string
}

// PodChoice is the result of the pod shell dialog.
type PodChoice struct {
	Pod       string
	Container string
	Command   string
	OK        bool
}

// RollbackChoice is the result of the rollback dialog.
type RollbackChoice struct {
	Options apps.RollbackOptions
	OK      bool
}

// Prompter shows dialogs and returns what the user picked.
type Prompter interface {
	Confirm(ctx context.Context, c Confirmation) (bool, error)
	ChoosePool(ctx context.Context, pools []string) (PoolChoice, error)
	ChoosePod(ctx context.Context, p PodPrompt) (PodChoice, error)
	Rollback(ctx context.Context, release string) (RollbackChoice, error)
}

// Notifier shows informational messages.
type Notifier interface {
	Info(title, message string)
}

// Navigator switches to another screen addressed by path segments.
type Navigator interface {
	Navigate(ctx context.Context, segments ...string) error
}

// Routes used by the views.
var (
	RouteStorageManager = []string{"storage", "manager"}
	RouteShell          = "apps/shell"
)

// Route joins segments into a path, escaping each one so that segments holding slashes survive.
// A single absolute URL is returned unchanged.
func Route(segments ...string) string {
	if len(segments) == 1 && (strings.HasPrefix(segments[0], "http://") || strings.HasPrefix(segments[0], "https://")) {
		return segments[0]
	}
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return strings.Join(escaped, "/")
}

// NoProgress discards progress; used where no one is watching.
type NoProgress struct{}

func (NoProgress) Open(string) Dialog { return noDialog{} }

type noDialog struct{}

func (noDialog) Update(rpc.JobProgress) {}
func (noDialog) Fail(error)             {}
func (noDialog) Close()                 {}
