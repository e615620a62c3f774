package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"apps-console/pkg/apps"
	"apps-console/pkg/pool"
	uiterm "apps-console/pkg/ui/term"
)

func (a *app) poolCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Show or change the storage pool applications are installed on",
	}
	cmd.AddCommand(a.poolShowCmd(), a.poolChooseCmd(), a.poolUnsetCmd(), a.poolSettingsCmd())
	return cmd
}

type poolStatus struct {
	Pool  string    `json:"pool"`
	Menu  pool.Menu `json:"menu"`
	Pools []string  `json:"pools,omitempty"`
}

func menuLabels(m pool.Menu) string {
	labels := make([]string, 0, len(m.Settings))
	for _, o := range m.Settings {
		labels = append(labels, o.Label)
	}
	return strings.Join(labels, ", ")
}

func (a *app) poolShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the bound pool and the available pools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			cfg, err := a.apps.KubernetesConfig(ctx)
			if err != nil {
				return err
			}
			pools, err := a.apps.Pools(ctx)
			if err != nil {
				return err
			}
			st := poolStatus{Pool: cfg.PoolName(), Menu: pool.MenuFor(pool.StateOf(cfg.PoolName()))}
			for _, p := range pools {
				st.Pools = append(st.Pools, p.Name)
			}
			return a.render(st, func() string {
				bound := st.Pool
				if bound == "" {
					bound = "(none)"
				}
				return fmt.Sprintf("Pool:      %s\nAvailable: %s\nSettings:  %s",
					bound, strings.Join(st.Pools, ", "), menuLabels(st.Menu))
			})
		},
	}
}

func (a *app) poolChooseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "choose [POOL]",
		Short: "Bind applications to a pool",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			var preset *uiterm.NonInteractive
			if len(args) == 1 {
				preset = &uiterm.NonInteractive{Pool: args[0]}
			}
			binder := a.binder(a.prompter(preset))
			outcome, err := binder.Handle(ctx, pool.ActionSelectPool)
			if err != nil {
				return err
			}
			st := poolStatus{Pool: binder.Pool(), Menu: binder.Menu()}
			return a.render(st, func() string {
				switch outcome {
				case pool.Bound:
					return "Using pool " + st.Pool
				case pool.NavigatedToStorage:
					return "Create a pool, then run appsctl pool choose again"
				}
				return "Pool unchanged"
			})
		},
	}
}

func (a *app) poolUnsetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unset",
		Short: "Unbind applications from their pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			binder := a.binder(a.prompter(nil))
			if _, err := binder.Handle(ctx, pool.ActionUnsetPool); err != nil {
				return err
			}
			return a.render(poolStatus{Menu: binder.Menu()}, func() string { return pool.MessagePoolUnset })
		},
	}
}

func (a *app) poolSettingsCmd() *cobra.Command {
	var next apps.KubernetesSettings
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the advanced Kubernetes settings",
		Long: `Without flags, settings prints the advanced Kubernetes settings. Each flag
changes one setting; settings without a flag are kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			changed := next != (apps.KubernetesSettings{})
			binder := a.binder(a.prompter(nil))
			binder.Settings = pool.NewSettingsEditor(a.apps, a.runner(),
				func(context.Context, apps.KubernetesSettings) (apps.KubernetesSettings, bool, error) {
					return next, changed, nil
				}, a.notifier(), a.log)
			if _, err := binder.Handle(ctx, pool.ActionAdvancedSettings); err != nil {
				return err
			}

			cfg, err := a.apps.KubernetesConfig(ctx)
			if err != nil {
				return err
			}
			return a.render(cfg.KubernetesSettings, func() string { return settingsDetails(cfg.KubernetesSettings) })
		},
	}
	f := cmd.Flags()
	f.StringVar(&next.ClusterCIDR, "cluster-cidr", "", "CIDR of the pod network")
	f.StringVar(&next.ServiceCIDR, "service-cidr", "", "CIDR of the service network")
	f.StringVar(&next.ClusterDNSIP, "cluster-dns-ip", "", "IP address of the cluster DNS service")
	f.StringVar(&next.NodeIP, "node-ip", "", "IP address the node is reached on")
	f.StringVar(&next.RouteV4Interface, "route-v4-interface", "", "interface of the IPv4 default route")
	f.StringVar(&next.RouteV4Gateway, "route-v4-gateway", "", "gateway of the IPv4 default route")
	return cmd
}

func settingsDetails(s apps.KubernetesSettings) string {
	unset := func(v string) string {
		if v == "" {
			return "(default)"
		}
		return v
	}
	return fmt.Sprintf("Cluster CIDR:       %s\nService CIDR:       %s\nCluster DNS IP:     %s\nNode IP:            %s\nRoute v4 interface: %s\nRoute v4 gateway:   %s",
		unset(s.ClusterCIDR), unset(s.ServiceCIDR), unset(s.ClusterDNSIP),
		unset(s.NodeIP), unset(s.RouteV4Interface), unset(s.RouteV4Gateway))
}
