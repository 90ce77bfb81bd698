package cli

import (
	"github.com/spf13/cobra"
)

func newDashboardCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Show report totals, pending dedup work and the recent trend",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := app.requireSession(cmd); err != nil {
				return writeErr(cmd, err)
			}
			m, err := app.client.DashboardMetrics(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": dashboardView{m}})
		},
	}
}
