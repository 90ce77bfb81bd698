package cli

import (
	"errors"
	"strings"

	"relief-cli/internal/model"

	"github.com/spf13/cobra"
)

func sessionData(sess model.Session, signedIn bool, server string) map[string]any {
	out := map[string]any{"signedIn": signedIn, "server": server}
	if signedIn {
		out["subject"] = sess.Subject
		out["role"] = sess.Role
	}
	return out
}

func newLoginCmd(app *App) *cobra.Command {
	var username string
	var password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and remember the credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.connect(cmd, false); err != nil {
				return writeErr(cmd, err)
			}
			if password == "" {
				password = envOr("RELIEF_PASSWORD", "")
			}
			if strings.TrimSpace(username) == "" || password == "" {
				return writeErr(cmd, errors.New("username and password are required (use --password or RELIEF_PASSWORD)"))
			}
			sess, err := app.sessions.SignIn(cmd.Context(), app.client, strings.TrimSpace(username), password)
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": sessionData(sess, true, app.client.BaseURL())})
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "Account name")
	cmd.Flags().StringVar(&password, "password", "", "Password (default: $RELIEF_PASSWORD)")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func newLogoutCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.connect(cmd, false); err != nil {
				return writeErr(cmd, err)
			}
			if err := app.sessions.Logout(cmd.Context()); err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": sessionData(model.Session{}, false, app.client.BaseURL())})
		},
	}
}

func newSignupCmd(app *App) *cobra.Command {
	var in model.SignupRequest

	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Register a new account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.connect(cmd, false); err != nil {
				return writeErr(cmd, err)
			}
			in.Username = strings.TrimSpace(in.Username)
			if in.Username == "" || in.Password == "" {
				return writeErr(cmd, errors.New("username and password are required"))
			}
			u, err := app.client.Signup(cmd.Context(), in)
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{
				"data":   u,
				"_hints": []string{"relief login --username " + u.Username},
			})
		},
	}

	cmd.Flags().StringVar(&in.Username, "username", "", "Account name")
	cmd.Flags().StringVar(&in.Password, "password", "", "Password")
	cmd.Flags().StringVar(&in.AdminKey, "admin-key", envOr("RELIEF_ADMIN_KEY", ""), "Registration key granting the admin role")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newWhoamiCmd(app *App) *cobra.Command {
	var remote bool

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.connect(cmd, false); err != nil {
				return writeErr(cmd, err)
			}
			sess, ok := app.sessions.Current()
			data := sessionData(sess, ok, app.client.BaseURL())
			if remote && ok {
				u, err := app.client.Me(cmd.Context())
				if err != nil {
					return writeErr(cmd, err)
				}
				data["user"] = u
			}
			return writeOut(cmd, app, map[string]any{"data": data})
		},
	}

	cmd.Flags().BoolVar(&remote, "remote", false, "Also ask the server who the credential belongs to")
	return cmd
}
