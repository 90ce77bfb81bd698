package cli

import (
	"fmt"
	"strings"

	"relief-cli/internal/docs"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
)

// docView renders as terminal markdown in text output.
type docView struct {
	Topic    string `json:"topic"`
	Markdown string `json:"markdown"`
}

func (v docView) Text() string {
	out, err := glamour.Render(v.Markdown, "notty")
	if err != nil {
		return v.Markdown
	}
	return strings.TrimRight(out, "\n")
}

func newDocsCmd(app *App) *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "docs [topic]",
		Short: "Show on-demand documentation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return writeOut(cmd, app, map[string]any{
					"data":   map[string]any{"topics": docs.Topics()},
					"_hints": []string{"relief docs workflow"},
				})
			}

			topic := args[0]
			body, ok := docs.Get(topic)
			if !ok {
				return writeErr(cmd, fmt.Errorf("unknown docs topic: %q (run `relief docs` to list topics)", topic))
			}
			if raw {
				_, err := fmt.Fprint(cmd.OutOrStdout(), body)
				return err
			}
			return writeOut(cmd, app, map[string]any{"data": docView{Topic: strings.ToLower(topic), Markdown: body}})
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "Print raw markdown (no envelope)")
	return cmd
}
