package cli

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"relief-cli/internal/webtui"

	"github.com/apex/log"
	"github.com/spf13/cobra"
)

func newWebTUICmd(app *App) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "webtui",
		Short: "Run the TUI in your browser (PTY + WebSocket, experimental)",
		Long: strings.TrimSpace(`
Serves a browser terminal. Every tab starts its own relief TUI on the server,
sharing --server and --dir, so it sees the session signed in on this machine.

There is no authentication in front of the page: bind to localhost.
`),
		Example: strings.TrimSpace(`
relief webtui --addr 127.0.0.1:3334
`),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.connect(cmd, false); err != nil {
				return writeErr(cmd, err)
			}
			srv, err := webtui.NewServer(webtui.ServerConfig{
				Addr:   addr,
				Server: app.client.BaseURL(),
				Dir:    app.state.Dir,
				Logger: log.Log.WithField("component", "webtui"),
			})
			if err != nil {
				return writeErr(cmd, err)
			}

			listenAddr := srv.Addr()
			_ = writeOut(cmd, app, map[string]any{
				"data": map[string]any{
					"addr":      listenAddr,
					"server":    app.client.BaseURL(),
					"dir":       app.state.Dir,
					"startedAt": time.Now().UTC().Format(time.RFC3339Nano),
				},
				"_hints": []string{"open http://" + listenAddr},
			})
			fmt.Fprintf(cmd.ErrOrStderr(), "relief webtui running at http://%s\n", listenAddr)
			return http.ListenAndServe(listenAddr, srv.Handler())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:3334", "Bind address (host:port or :port)")
	return cmd
}
