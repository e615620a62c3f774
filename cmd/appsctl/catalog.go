package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"apps-console/pkg/appcatalog"
	"apps-console/pkg/pool"
)

func (a *app) catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Browse and install catalog applications",
	}
	cmd.AddCommand(a.catalogListCmd(), a.catalogShowCmd(), a.catalogInstallCmd())
	return cmd
}

func (a *app) catalogListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the installable applications at their latest version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			catalog := a.catalog()
			if err := catalog.Load(ctx); err != nil {
				return err
			}
			items := catalog.Items()
			return a.render(items, func() string { return catalogTable(items) })
		},
	}
}

func (a *app) catalogShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show NAME",
		Short: "Show a catalog application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			catalog := a.catalog()
			if err := catalog.Load(ctx); err != nil {
				return err
			}
			item, err := catalog.ItemByName(args[0])
			if err != nil {
				return err
			}
			return a.render(item, func() string { return itemDetails(item) })
		},
	}
}

func (a *app) catalogInstallCmd() *cobra.Command {
	var (
		releaseName string
		valueFiles  []string
		sets        []string
	)
	cmd := &cobra.Command{
		Use:   "install NAME",
		Short: "Install a catalog application, or the generic chart " + appcatalog.GenericChart,
		Long: `Install a catalog application as a new release. Values are read from
--values files and --set assignments. Installing ` + appcatalog.GenericChart + ` launches a
container image with the generic chart.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if releaseName == "" {
				releaseName = args[0]
			}
			values, err := parseValues(valueFiles, sets)
			if err != nil {
				return err
			}
			if err := a.open(ctx); err != nil {
				return err
			}
			if _, err := a.boundBinder(ctx); err != nil {
				return err
			}

			catalog := a.catalog()
			if err := catalog.Load(ctx); err != nil {
				return err
			}
			form, err := catalog.InstallForm(args[0])
			if err != nil {
				return err
			}
			res, err := appcatalog.Install(ctx, a.runner(), form, releaseName, values)
			if err != nil {
				return err
			}
			return a.render(res, func() string {
				return fmt.Sprintf("Installed %s as %s", form.Item().Name, releaseName)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&releaseName, "name", "", "release name (defaults to the application name)")
	f.StringArrayVarP(&valueFiles, "values", "f", nil, "YAML values file, may be repeated")
	f.StringArrayVar(&sets, "set", nil, "set a value with path=value, may be repeated")
	return cmd
}

// boundBinder runs the pool check and fails unless a pool ends up bound.
func (a *app) boundBinder(ctx context.Context) (*pool.Binder, error) {
	binder := a.binder(a.prompter(nil))
	outcome, err := binder.Check(ctx)
	if err != nil {
		return nil, err
	}
	if binder.Pool() == "" {
		if outcome == pool.NavigatedToStorage {
			return nil, errors.New(pool.MessageNoPool)
		}
		return nil, errors.New("a pool must be bound before installing, see appsctl pool choose")
	}
	return binder, nil
}

func (a *app) launchCmd() *cobra.Command {
	var valueFiles, sets []string
	cmd := &cobra.Command{
		Use:   "launch NAME",
		Short: "Launch a container image as a release of the generic chart",
		Long: `Launch installs the generic chart ` + appcatalog.GenericChart + ` as release NAME. The
image and the other values are read from --values files and --set assignments,
for example --set image.repository=nginx.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			values, err := parseValues(valueFiles, sets)
			if err != nil {
				return err
			}
			if err := a.open(ctx); err != nil {
				return err
			}
			binder, err := a.boundBinder(ctx)
			if err != nil {
				return err
			}
			binder.Launcher = appcatalog.NewLauncher(a.catalog(), a.runner(),
				func(context.Context) (string, map[string]any, bool, error) {
					return args[0], values, true, nil
				})
			if _, err := binder.Handle(ctx, pool.ActionLaunch); err != nil {
				return err
			}
			return a.render(map[string]string{"release": args[0], "chart": appcatalog.GenericChart}, func() string {
				return fmt.Sprintf("Launched %s as %s", appcatalog.GenericChart, args[0])
			})
		},
	}
	f := cmd.Flags()
	f.StringArrayVarP(&valueFiles, "values", "f", nil, "YAML values file, may be repeated")
	f.StringArrayVar(&sets, "set", nil, "set a value with path=value, may be repeated")
	return cmd
}
