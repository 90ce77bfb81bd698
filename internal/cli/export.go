package cli

import (
	"strings"

	"relief-cli/internal/export"

	"github.com/spf13/cobra"
)

func newExportCmd(app *App) *cobra.Command {
	var keyword string
	var dir string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Download reports matching a keyword as " + export.FileName,
		Long: strings.TrimSpace(`
Saves the spreadsheet under a fixed name in --out-dir (default: config exportDir,
then the working directory). A previous download is replaced.
`),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := app.requireSession(cmd); err != nil {
				return writeErr(cmd, err)
			}
			if strings.TrimSpace(dir) == "" {
				dir = app.cfg.ExportDir
			}
			path, err := export.New(app.client, dir, nil).Download(cmd.Context(), strings.TrimSpace(keyword))
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": map[string]any{"path": path, "keyword": keyword}})
		},
	}

	cmd.Flags().StringVar(&keyword, "q", "", "Keyword filter (empty exports everything)")
	cmd.Flags().StringVar(&dir, "out-dir", "", "Directory to save into")
	return cmd
}
