package cli

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"
)

func newProfileCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or change the signed-in account",
	}
	cmd.AddCommand(newProfileShowCmd(app))
	cmd.AddCommand(newProfileRenameCmd(app))
	cmd.AddCommand(newProfilePasswdCmd(app))
	return cmd
}

func newProfileShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the account the server associates with the credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := app.requireSession(cmd); err != nil {
				return writeErr(cmd, err)
			}
			u, err := app.client.Me(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": u})
		},
	}
}

func newProfileRenameCmd(app *App) *cobra.Command {
	var newID string

	cmd := &cobra.Command{
		Use:   "rename",
		Short: "Change the account name; signs out afterwards",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := app.requireSession(cmd); err != nil {
				return writeErr(cmd, err)
			}
			newID = strings.TrimSpace(newID)
			if newID == "" {
				return writeErr(cmd, errors.New("--new-id must not be empty"))
			}
			if err := app.client.UpdateUserID(cmd.Context(), newID); err != nil {
				return writeErr(cmd, err)
			}
			// The credential names the old account.
			if err := app.sessions.Logout(cmd.Context()); err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{
				"data":   map[string]any{"username": newID, "signedIn": false},
				"_hints": []string{"relief login --username " + newID},
			})
		},
	}

	cmd.Flags().StringVar(&newID, "new-id", "", "New account name")
	_ = cmd.MarkFlagRequired("new-id")
	return cmd
}

func newProfilePasswdCmd(app *App) *cobra.Command {
	var oldPassword string
	var newPassword string

	cmd := &cobra.Command{
		Use:   "passwd",
		Short: "Change the account password",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := app.requireSession(cmd); err != nil {
				return writeErr(cmd, err)
			}
			if oldPassword == "" || newPassword == "" {
				return writeErr(cmd, errors.New("--old and --new are required"))
			}
			if err := app.client.ChangePassword(cmd.Context(), oldPassword, newPassword); err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": map[string]any{"changed": true}})
		},
	}

	cmd.Flags().StringVar(&oldPassword, "old", "", "Current password")
	cmd.Flags().StringVar(&newPassword, "new", "", "New password")
	return cmd
}
