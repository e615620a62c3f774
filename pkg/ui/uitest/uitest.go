// Package uitest provides scripted ui collaborators for tests.
package uitest

import (
	"context"
	"sync"

	"apps-console/pkg/rpc"
	"apps-console/pkg/ui"
)

// Prompter answers dialogs from its fields and records what was asked.
type Prompter struct {
	mu sync.Mutex

	ConfirmAnswer bool
	Pool          ui.PoolChoice
	Pod           ui.PodChoice
	RollbackTo    ui.RollbackChoice

	Confirmations []ui.Confirmation
	PoolOptions   [][]string
	PodPrompts    []ui.PodPrompt
	Rollbacks     []string
}

func (p *Prompter) Confirm(_ context.Context, c ui.Confirmation) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Confirmations = append(p.Confirmations, c)
	return p.ConfirmAnswer, nil
}

func (p *Prompter) ChoosePool(_ context.Context, pools []string) (ui.PoolChoice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.PoolOptions = append(p.PoolOptions, pools)
	return p.Pool, nil
}

func (p *Prompter) ChoosePod(_ context.Context, prompt ui.PodPrompt) (ui.PodChoice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.PodPrompts = append(p.PodPrompts, prompt)
	if !p.Pod.OK {
		return p.Pod, nil
	}
	choice := p.Pod
	if choice.Pod == "" {
		choice.Pod = prompt.Pod
	}
	if choice.Container == "" {
		choice.Container = prompt.Container
	}
	if choice.Command == "" {
		choice.Command = prompt.Command
	}
	return choice, nil
}

func (p *Prompter) Rollback(_ context.Context, release string) (ui.RollbackChoice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Rollbacks = append(p.Rollbacks, release)
	return p.RollbackTo, nil
}

// Navigator records navigations.
type Navigator struct {
	mu    sync.Mutex
	Paths []string
}

func (n *Navigator) Navigate(_ context.Context, segments ...string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Paths = append(n.Paths, ui.Route(segments...))
	return nil
}

// Visited returns the recorded paths.
func (n *Navigator) Visited() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.Paths...)
}

// Notifier records notices.
type Notifier struct {
	mu       sync.Mutex
	Messages []string
}

func (n *Notifier) Info(title, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Messages = append(n.Messages, title+": "+message)
}

// Progress records the dialogs it opens.
type Progress struct {
	mu      sync.Mutex
	Dialogs []*Dialog
}

func (p *Progress) Open(title string) ui.Dialog {
	p.mu.Lock()
	defer p.mu.Unlock()
	d := &Dialog{Title: title}
	p.Dialogs = append(p.Dialogs, d)
	return d
}

// Opened returns the dialogs opened so far.
func (p *Progress) Opened() []*Dialog {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Dialog(nil), p.Dialogs...)
}

// Dialog records updates.
type Dialog struct {
	mu       sync.Mutex
	Title    string
	Updates  []rpc.JobProgress
	Err      error
	IsClosed bool
}

func (d *Dialog) Update(p rpc.JobProgress) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Updates = append(d.Updates, p)
}

func (d *Dialog) Fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Err = err
}

func (d *Dialog) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.IsClosed = true
}

// Closed reports whether Close was called.
func (d *Dialog) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.IsClosed
}

// Failed returns the error reported to the dialog.
func (d *Dialog) Failed() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Err
}
