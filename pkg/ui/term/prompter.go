package term

import (
	"context"
	"fmt"
	"io"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"

	"apps-console/pkg/apps"
	"apps-console/pkg/ui"
)

// Prompter shows dialogs as bubbletea programs on a terminal.
type Prompter struct {
	In  io.Reader
	Out io.Writer
}

func (p *Prompter) run(ctx context.Context, m tea.Model) (tea.Model, error) {
	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if p.In != nil {
		opts = append(opts, tea.WithInput(p.In))
	}
	if p.Out != nil {
		opts = append(opts, tea.WithOutput(p.Out))
	}
	final, err := tea.NewProgram(m, opts...).Run()
	if err != nil {
		return nil, errors.Wrap(err, "prompt failed")
	}
	return final, nil
}

func (p *Prompter) Confirm(ctx context.Context, c ui.Confirmation) (bool, error) {
	action := c.Action
	if action == "" {
		action = "Continue"
	}
	final, err := p.run(ctx, confirmModel{title: c.Title, message: c.Message, action: action, notice: c.HideCancel})
	if err != nil {
		return false, err
	}
	return final.(confirmModel).answer, nil
}

func (p *Prompter) choose(ctx context.Context, title string, options []string, preselect string) (string, bool, error) {
	final, err := p.run(ctx, newSelect(title, options, preselect))
	if err != nil {
		return "", false, err
	}
	v, ok := final.(selectModel).value()
	return v, ok, nil
}

func (p *Prompter) input(ctx context.Context, title, value string) (string, bool, error) {
	final, err := p.run(ctx, newInput(title, value))
	if err != nil {
		return "", false, err
	}
	m := final.(inputModel)
	return strings.TrimSpace(m.input.Value()), m.done, nil
}

func (p *Prompter) ChoosePool(ctx context.Context, pools []string) (ui.PoolChoice, error) {
	pool, ok, err := p.choose(ctx, "Choose a pool for Apps", pools, "")
	return ui.PoolChoice{Pool: pool, OK: ok}, err
}

func (p *Prompter) ChoosePod(ctx context.Context, prompt ui.PodPrompt) (ui.PodChoice, error) {
	pod, ok, err := p.choose(ctx, "Pods of "+prompt.Release, prompt.Pods, prompt.Pod)
	if err != nil || !ok {
		return ui.PodChoice{}, err
	}
	containers := prompt.Containers[pod]
	container := ""
	if len(containers) > 0 {
		container, ok, err = p.choose(ctx, "Containers of "+pod, containers, containers[0])
		if err != nil || !ok {
			return ui.PodChoice{}, err
		}
	}
	command, ok, err := p.input(ctx, "Command", prompt.Command)
	if err != nil || !ok {
		return ui.PodChoice{}, err
	}
	return ui.PodChoice{Pod: pod, Container: container, Command: command, OK: true}, nil
}

func (p *Prompter) Rollback(ctx context.Context, release string) (ui.RollbackChoice, error) {
	version, ok, err := p.input(ctx, "Roll back "+release+" to version", "")
	if err != nil || !ok || version == "" {
		return ui.RollbackChoice{}, err
	}
	snapshot, err := p.Confirm(ctx, ui.Confirmation{Title: "Rollback", Message: "Roll back snapshots of the release volumes?", Action: "Yes"})
	if err != nil {
		return ui.RollbackChoice{}, err
	}
	force, err := p.Confirm(ctx, ui.Confirmation{Title: "Rollback", Message: "Force the rollback?", Action: "Yes"})
	if err != nil {
		return ui.RollbackChoice{}, err
	}
	return ui.RollbackChoice{
		Options: apps.RollbackOptions{ItemVersion: version, RollbackSnapshot: snapshot, Force: force},
		OK:      true,
	}, nil
}

// NonInteractive answers every dialog from preset values, for scripts and --yes.
type NonInteractive struct {
	Yes        bool
	Pool       string
	Pod        string
	Container  string
	Command    string
	RollbackTo apps.RollbackOptions
	Out        io.Writer
}

func (n *NonInteractive) Confirm(_ context.Context, c ui.Confirmation) (bool, error) {
	if c.HideCancel {
		if n.Out != nil {
			fmt.Fprintf(n.Out, "%s: %s\n", c.Title, c.Message)
		}
		return true, nil
	}
	return n.Yes, nil
}

func (n *NonInteractive) ChoosePool(_ context.Context, pools []string) (ui.PoolChoice, error) {
	if n.Pool == "" {
		return ui.PoolChoice{}, errors.Errorf("a pool is required, choose one of: %s", strings.Join(pools, ", "))
	}
	return ui.PoolChoice{Pool: n.Pool, OK: true}, nil
}

func (n *NonInteractive) ChoosePod(_ context.Context, prompt ui.PodPrompt) (ui.PodChoice, error) {
	choice := ui.PodChoice{Pod: n.Pod, Container: n.Container, Command: n.Command, OK: true}
	if choice.Pod == "" {
		choice.Pod = prompt.Pod
	}
	if choice.Container == "" && choice.Pod == prompt.Pod {
		choice.Container = prompt.Container
	}
	if choice.Command == "" {
		choice.Command = prompt.Command
	}
	return choice, nil
}

func (n *NonInteractive) Rollback(_ context.Context, release string) (ui.RollbackChoice, error) {
	if n.RollbackTo.ItemVersion == "" {
		return ui.RollbackChoice{}, errors.Errorf("a version is required to roll back %s", release)
	}
	return ui.RollbackChoice{Options: n.RollbackTo, OK: true}, nil
}
