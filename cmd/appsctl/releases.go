package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"apps-console/pkg/apps"
	"apps-console/pkg/releases"
	"apps-console/pkg/shell"
	"apps-console/pkg/ui"
	uiterm "apps-console/pkg/ui/term"
)

func (a *app) releasesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "releases",
		Aliases: []string{"release", "rel"},
		Short:   "Manage installed releases",
	}
	cmd.AddCommand(
		a.releasesListCmd(),
		a.scaleCmd("start", "Start a release", (*releases.View).Start),
		a.scaleCmd("stop", "Stop a release", (*releases.View).Stop),
		a.confirmCmd("upgrade", "Upgrade a release to its latest chart version", (*releases.View).Upgrade),
		a.rollbackCmd(),
		a.confirmCmd("delete", "Delete a release", (*releases.View).Delete),
		a.confirmCmd("pull-image", "Pull the latest container image of a release", (*releases.View).PullImage),
		a.editCmd(),
		a.portalCmd(),
		a.shellCmd(),
	)
	return cmd
}

// loadedView opens a release view and loads the releases, so status patches find their records.
func (a *app) loadedView(ctx context.Context, p ui.Prompter) (*releases.View, error) {
	if err := a.open(ctx); err != nil {
		return nil, err
	}
	v := a.view(p)
	if _, err := v.Reload(ctx); err != nil {
		v.Close()
		return nil, err
	}
	return v, nil
}

func (a *app) releasesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed releases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			if err := a.ensurePool(ctx); err != nil {
				return err
			}
			v := a.view(a.prompter(nil))
			defer v.Close()
			if _, err := v.Reload(ctx); err != nil {
				return err
			}
			snap := v.Snapshot()
			return a.render(snap, func() string {
				if snap.Placeholder != nil {
					return uiterm.PlaceholderView(*snap.Placeholder)
				}
				return uiterm.ReleaseTable(snap.Releases)
			})
		},
	}
}

func (a *app) scaleCmd(use, short string, scale func(*releases.View, context.Context, string) (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " NAME",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			v, err := a.loadedView(ctx, a.prompter(nil))
			if err != nil {
				return err
			}
			defer v.Close()
			status, err := scale(v, ctx, args[0])
			if err != nil && !errors.Is(err, releases.ErrStillDeploying) {
				return err
			}
			return a.render(map[string]string{"name": args[0], "status": status}, func() string {
				if err != nil {
					return fmt.Sprintf("%s is %s, check again later", args[0], status)
				}
				return fmt.Sprintf("%s is %s", args[0], status)
			})
		},
	}
}

func (a *app) confirmCmd(use, short string, action func(*releases.View, context.Context, string) (bool, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " NAME",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			v, err := a.loadedView(ctx, a.prompter(nil))
			if err != nil {
				return err
			}
			defer v.Close()
			ok, err := action(v, ctx, args[0])
			if err != nil {
				return err
			}
			return a.confirmed(args[0], use, ok)
		},
	}
}

func (a *app) confirmed(name, action string, ok bool) error {
	if !ok {
		return a.render(map[string]any{"name": name, "done": false}, func() string {
			return "Cancelled"
		})
	}
	return a.render(map[string]any{"name": name, "done": true}, func() string {
		return fmt.Sprintf("%s: %s done", name, action)
	})
}

func (a *app) rollbackCmd() *cobra.Command {
	var opts apps.RollbackOptions
	cmd := &cobra.Command{
		Use:   "rollback NAME",
		Short: "Roll a release back to a previous chart version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var preset *uiterm.NonInteractive
			if opts.ItemVersion != "" {
				preset = &uiterm.NonInteractive{RollbackTo: opts}
			}
			v, err := a.loadedView(ctx, a.prompter(preset))
			if err != nil {
				return err
			}
			defer v.Close()
			ok, err := v.Rollback(ctx, args[0])
			if err != nil {
				return err
			}
			return a.confirmed(args[0], "rollback", ok)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.ItemVersion, "version", "", "chart version to roll back to")
	f.BoolVar(&opts.RollbackSnapshot, "snapshot", false, "roll back the volume snapshots as well")
	f.BoolVar(&opts.Force, "force", false, "force the rollback")
	return cmd
}

func (a *app) editCmd() *cobra.Command {
	var valueFiles, sets []string
	cmd := &cobra.Command{
		Use:   "edit NAME",
		Short: "Change the values of a release",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			values, err := parseValues(valueFiles, sets)
			if err != nil {
				return err
			}
			if len(values) == 0 {
				return errors.New("nothing to change, pass --values or --set")
			}
			v, err := a.loadedView(ctx, a.prompter(nil))
			if err != nil {
				return err
			}
			defer v.Close()
			if err := v.Catalog.Load(ctx); err != nil {
				a.log.WithError(err).Warn("Could not load the catalog, editing without a schema")
			}
			if err := v.Edit(ctx, args[0], values); err != nil {
				return err
			}
			return a.confirmed(args[0], "edit", true)
		},
	}
	f := cmd.Flags()
	f.StringArrayVarP(&valueFiles, "values", "f", nil, "YAML values file, may be repeated")
	f.StringArrayVar(&sets, "set", nil, "set a value with path=value, may be repeated")
	return cmd
}

func (a *app) portalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "portal NAME",
		Short: "Show the web portal of a release",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			v, err := a.loadedView(ctx, a.prompter(nil))
			if err != nil {
				return err
			}
			defer v.Close()
			if a.flags.output == outputTable {
				// The navigator prints the address.
				_, err = v.Portal(ctx, args[0])
				return err
			}
			r, err := v.Release(ctx, args[0])
			if err != nil {
				return err
			}
			if r.Portal == "" {
				return errors.Wrap(releases.ErrNoPortal, args[0])
			}
			return a.render(map[string]string{"name": args[0], "portal": r.Portal}, nil)
		},
	}
}

func (a *app) shellCmd() *cobra.Command {
	var preset uiterm.NonInteractive
	cmd := &cobra.Command{
		Use:   "shell NAME",
		Short: "Open a shell in a pod of a release",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			var p ui.Prompter
			if preset.Pod != "" || preset.Container != "" || preset.Command != "" {
				p = a.prompter(&preset)
			} else {
				p = a.prompter(nil)
			}
			flow := shell.NewFlow(a.apps, p, a.navigator(), a.log)
			target, err := flow.Open(ctx, args[0])
			if errors.Is(err, shell.ErrCancelled) {
				return nil
			}
			if err != nil {
				return err
			}
			return a.backend.attacher.Attach(ctx, target)
		},
	}
	f := cmd.Flags()
	f.StringVar(&preset.Pod, "pod", "", "pod to attach to (defaults to the first pod)")
	f.StringVarP(&preset.Container, "container", "c", "", "container to attach to")
	f.StringVar(&preset.Command, "command", "", "command to run (defaults to "+shell.DefaultCommand+")")
	return cmd
}
