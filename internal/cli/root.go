package cli

import (
	"fmt"
	"os"
	"strings"

	"relief-cli/internal/api"
	"relief-cli/internal/format"
	"relief-cli/internal/guard"
	"relief-cli/internal/logging"
	"relief-cli/internal/model"
	"relief-cli/internal/session"
	"relief-cli/internal/store"
	"relief-cli/internal/tui"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type App struct {
	Server     string
	Dir        string
	PrettyJSON bool
	Format     string
	LogLevel   string
	LogFile    string

	cfg      *store.GlobalConfig
	state    store.Store
	client   *api.Client
	sessions *session.Store
	closeLog func() error
}

// loadDotEnv reads .env.local then .env; existing variables win.
func loadDotEnv() {
	for _, f := range []string{".env.local", ".env"} {
		_ = godotenv.Load(f)
	}
}

func NewRootCmd() *cobra.Command {
	loadDotEnv()
	app := &App{}

	cmd := &cobra.Command{
		Use:          "relief",
		Short:        "Disaster report review client (CLI + TUI)",
		SilenceUsage: true,
		Example: strings.TrimSpace(`
  # Start the interactive TUI
  relief

  # Sign in, then page through reports mentioning a place
  relief login --username alice
  relief reports list --q 四川 --page 2

  # Direct report lookup (shortcut for: relief reports show <id>)
  relief 42
`),
		RunE: func(cmd *cobra.Command, args []string) error {
			// No subcommand => interactive TUI.
			if cmd.HasSubCommands() && len(args) == 0 {
				return runTUI(cmd, app)
			}
			return cmd.Help()
		},
	}

	cmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if app.closeLog != nil {
			return app.closeLog()
		}
		return nil
	}

	cmd.PersistentFlags().StringVar(&app.Server, "server", envOr("RELIEF_SERVER", ""), "Backend base URL (default: config baseURL, then "+api.DefaultBaseURL+")")
	cmd.PersistentFlags().StringVar(&app.Dir, "dir", envOr("RELIEF_DIR", ""), "Local state dir holding the signed-in session (default: ~/.relief)")
	cmd.PersistentFlags().BoolVar(&app.PrettyJSON, "pretty", false, "Pretty-print JSON/EDN output")
	cmd.PersistentFlags().StringVar(&app.Format, "format", envOr("RELIEF_FORMAT", "json"), "Output format ("+strings.Join(format.Formats, "|")+")")
	cmd.PersistentFlags().StringVar(&app.LogLevel, "log-level", envOr("RELIEF_LOG_LEVEL", ""), "Log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&app.LogFile, "log-file", envOr("RELIEF_LOG_FILE", ""), "Write JSON logs to this file")

	cmd.AddCommand(newLoginCmd(app))
	cmd.AddCommand(newLogoutCmd(app))
	cmd.AddCommand(newSignupCmd(app))
	cmd.AddCommand(newWhoamiCmd(app))
	cmd.AddCommand(newReportsCmd(app))
	cmd.AddCommand(newExportCmd(app))
	cmd.AddCommand(newDedupCmd(app))
	cmd.AddCommand(newDashboardCmd(app))
	cmd.AddCommand(newProfileCmd(app))
	cmd.AddCommand(newConfigCmd(app))
	cmd.AddCommand(newPublishCmd(app))
	cmd.AddCommand(newDocsCmd(app))
	cmd.AddCommand(newWebTUICmd(app))

	return cmd
}

// connect resolves config, logging, the API client and the persisted session.
// Precedence for the server is flag > env > config > default.
func (app *App) connect(cmd *cobra.Command, interactive bool) error {
	if app.client != nil {
		return nil
	}
	cfg, err := store.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	app.cfg = cfg

	level := app.LogLevel
	if strings.TrimSpace(level) == "" {
		// Failures already reach stderr through writeErr.
		level = "error"
	}
	closer, err := logging.Setup(logging.Options{
		Level:       level,
		File:        app.LogFile,
		Interactive: interactive,
		Stderr:      cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	app.closeLog = closer

	server := strings.TrimSpace(app.Server)
	if server == "" {
		server = cfg.BaseURL
	}
	dir := strings.TrimSpace(app.Dir)
	if dir == "" {
		if dir, err = store.DefaultDir(); err != nil {
			return err
		}
	}
	app.state = store.Store{Dir: dir}
	app.client = api.New(server, nil)
	app.sessions = session.NewStore(app.state, app.client)
	if _, err := app.sessions.Restore(cmd.Context()); err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	return nil
}

// requireSession connects and checks the signed-in gate.
func (app *App) requireSession(cmd *cobra.Command) (model.Session, error) {
	if err := app.connect(cmd, false); err != nil {
		return model.Session{}, err
	}
	g := guard.Guard{Sessions: app.sessions, Timeout: app.cfg.RestoreTimeout()}
	if g.Check(cmd.Context(), guard.Authenticated) != guard.Allow {
		return model.Session{}, errNotSignedIn
	}
	sess, _ := app.sessions.Current()
	return sess, nil
}

func runTUI(cmd *cobra.Command, app *App) error {
	if err := app.connect(cmd, true); err != nil {
		return writeErr(cmd, err)
	}
	return tui.Run(tui.Options{
		Client:   app.client,
		Sessions: app.sessions,
		Config:   app.cfg,
		State:    app.state,
	})
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func writeOut(cmd *cobra.Command, app *App, v any) error {
	return format.Write(cmd.OutOrStdout(), v, app.Format, app.PrettyJSON)
}

func writeErr(cmd *cobra.Command, err error) error {
	fmt.Fprintln(cmd.ErrOrStderr(), describe(err))
	return err
}
