package cli

import (
	"errors"
	"strings"

	"relief-cli/internal/publish"

	"github.com/spf13/cobra"
)

func newPublishCmd(app *App) *cobra.Command {
	var keyword string
	var page int
	var toDir string
	var noHTML bool
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Write a Markdown/HTML digest of one page of reports (derived, read-only)",
		Example: strings.TrimSpace(`
# Digest of the first page of reports mentioning 四川
relief publish --q 四川 --to ./digest
`),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := app.requireSession(cmd); err != nil {
				return writeErr(cmd, err)
			}
			if strings.TrimSpace(toDir) == "" {
				return writeErr(cmd, errors.New("missing --to"))
			}
			p, err := app.controller().Load(cmd.Context(), strings.TrimSpace(keyword), page)
			if err != nil {
				return writeErr(cmd, err)
			}
			res, err := publish.WritePage(p, toDir, publish.WriteOptions{
				Overwrite: overwrite,
				HTML:      !noHTML,
			})
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{
				"data": res,
				"meta": map[string]any{"label": p.Label()},
			})
		},
	}

	cmd.Flags().StringVar(&keyword, "q", "", "Keyword filter")
	cmd.Flags().IntVar(&page, "page", 1, "1-based page number")
	cmd.Flags().StringVar(&toDir, "to", "", "Output directory")
	cmd.Flags().BoolVar(&noHTML, "no-html", false, "Write only the Markdown file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace existing files")
	return cmd
}
