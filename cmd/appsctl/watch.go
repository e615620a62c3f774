package main

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	uiterm "apps-console/pkg/ui/term"
)

func (a *app) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Show a live view of the installed releases",
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

			updates, unsubscribe := v.Updates()
			defer unsubscribe()
			go func() {
				if err := v.Watch(ctx); err != nil && ctx.Err() == nil {
					a.log.WithError(err).Warn("Release events stopped")
				}
			}()
			v.Refresh()

			dashboard := uiterm.NewDashboard(v.Snapshot(), updates, v.Refresh)
			_, err := tea.NewProgram(dashboard,
				tea.WithContext(ctx),
				tea.WithInput(a.in),
				tea.WithOutput(a.out),
				tea.WithAltScreen(),
			).Run()
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
}
