package cli

import (
	"relief-cli/internal/dedup"
	"relief-cli/internal/model"

	"github.com/spf13/cobra"
)

func newDedupCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dedup",
		Short: "Merge duplicate disaster info on the server (admin)",
	}
	cmd.AddCommand(newDedupRunCmd(app))
	cmd.AddCommand(newDedupLogsCmd(app))
	return cmd
}

func newDedupRunCmd(app *App) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Merge tuples sharing a location and time",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := app.requireSession(cmd); err != nil {
				return writeErr(cmd, err)
			}
			if !yes {
				return writeErr(cmd, errConfirmationRequired("dedup"))
			}
			out, err := dedup.New(app.client).Run(cmd.Context(), dedup.Yes)
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{
				"data":   newDedupView(out),
				"_hints": []string{"relief dedup logs"},
			})
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the merge")
	return cmd
}

func newDedupLogsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logs",
		Short: "List past dedup runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := app.requireSession(cmd); err != nil {
				return writeErr(cmd, err)
			}
			logs, err := dedup.New(app.client).Logs(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}
			if logs == nil {
				logs = []model.DedupLog{}
			}
			return writeOut(cmd, app, map[string]any{"data": logsView{Logs: logs}})
		},
	}
}
