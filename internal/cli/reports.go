package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"relief-cli/internal/editor"
	"relief-cli/internal/model"
	"relief-cli/internal/reports"

	"github.com/spf13/cobra"
)

func newReportsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "reports",
		Aliases: []string{"r"},
		Short:   "List, inspect and review disaster reports",
	}
	cmd.AddCommand(newReportsListCmd(app))
	cmd.AddCommand(newReportsWatchCmd(app))
	cmd.AddCommand(newReportsShowCmd(app))
	cmd.AddCommand(newReportsSubmitCmd(app))
	cmd.AddCommand(newReportsEditCmd(app))
	cmd.AddCommand(newReportsReextractCmd(app))
	cmd.AddCommand(newReportsDeleteCmd(app))
	return cmd
}

func (app *App) controller() *reports.Controller {
	return reports.New(app.client, reports.Options{
		PageSize:          app.cfg.PageSizeOrDefault(model.DefaultPageSize),
		ResetPageOnSearch: app.cfg.ResetsPageOnSearch(),
	})
}

func pageHints(v pageView) []string {
	var hints []string
	q := ""
	if v.Keyword != "" {
		q = fmt.Sprintf(" --q %q", v.Keyword)
	}
	if v.Page < v.PageCount {
		hints = append(hints, fmt.Sprintf("relief reports list%s --page %d", q, v.Page+1))
	}
	if v.Page > 1 {
		hints = append(hints, fmt.Sprintf("relief reports list%s --page %d", q, v.Page-1))
	}
	if len(v.Items) > 0 {
		hints = append(hints, fmt.Sprintf("relief reports show %d", v.Items[0].ID))
	}
	return hints
}

func newReportsListCmd(app *App) *cobra.Command {
	var keyword string
	var page int

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Show one page of reports, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := app.requireSession(cmd); err != nil {
				return writeErr(cmd, err)
			}
			p, err := app.controller().Load(cmd.Context(), strings.TrimSpace(keyword), page)
			if err != nil {
				return writeErr(cmd, err)
			}
			v := newPageView(p)
			return writeOut(cmd, app, map[string]any{
				"data":   v,
				"meta":   map[string]any{"label": v.label()},
				"_hints": pageHints(v),
			})
		},
	}

	cmd.Flags().StringVar(&keyword, "q", "", "Keyword matched against summaries and disaster info")
	cmd.Flags().IntVar(&page, "page", 1, "1-based page number")
	return cmd
}

func newReportsWatchCmd(app *App) *cobra.Command {
	var keyword string
	var page int
	var interval time.Duration
	var count int

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-list reports on an interval until interrupted",
		Long: strings.TrimSpace(`
Loads the page immediately and then on every tick. A failed refresh is
reported on stderr and the previous page stays current; polling continues.
Responses that arrive after a newer one are dropped.
`),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := app.requireSession(cmd); err != nil {
				return writeErr(cmd, err)
			}
			if interval <= 0 {
				interval = app.cfg.PollInterval()
			}
			ctl := app.controller()
			ctl.SetKeyword(strings.TrimSpace(keyword))
			ctl.SetPage(page)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var mu sync.Mutex
			var emitted int
			var werr error
			ctl.Poll(ctx, interval, func(res reports.Result) {
				mu.Lock()
				defer mu.Unlock()
				if werr != nil || (count > 0 && emitted >= count) {
					return
				}
				if res.Err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), describe(res.Err))
					return
				}
				if !res.Applied {
					return
				}
				v := newPageView(res.Page)
				werr = writeOut(cmd, app, map[string]any{
					"data": v,
					"meta": map[string]any{"label": v.label(), "seq": res.Seq},
				})
				emitted++
				if werr != nil || (count > 0 && emitted >= count) {
					stop()
				}
			})
			if werr != nil {
				return writeErr(cmd, werr)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&keyword, "q", "", "Keyword filter")
	cmd.Flags().IntVar(&page, "page", 1, "1-based page number")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Refresh interval (default: config pollSeconds, then 10s)")
	cmd.Flags().IntVar(&count, "count", 0, "Stop after this many pages were printed (0 = until interrupted)")
	return cmd
}

func parseReportID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid report id %q", s)
	}
	return id, nil
}

func newReportsShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one report with its extracted disaster info",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := app.requireSession(cmd); err != nil {
				return writeErr(cmd, err)
			}
			id, err := parseReportID(args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			r, err := app.client.GetReport(cmd.Context(), id)
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": newReportView(r)})
		},
	}
}

// readText returns --text, or the contents of --file ("-" reads stdin).
func readText(cmd *cobra.Command, text, file string) (string, error) {
	if file == "" {
		return text, nil
	}
	if text != "" {
		return "", errors.New("use either --text or --file, not both")
	}
	var (
		b   []byte
		err error
	)
	if file == "-" {
		b, err = io.ReadAll(cmd.InOrStdin())
	} else {
		b, err = os.ReadFile(file)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", file, err)
	}
	return string(b), nil
}

func newReportsSubmitCmd(app *App) *cobra.Command {
	var text string
	var file string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit free-form report text for extraction",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := app.requireSession(cmd); err != nil {
				return writeErr(cmd, err)
			}
			body, err := readText(cmd, text, file)
			if err != nil {
				return writeErr(cmd, err)
			}
			r, err := reports.Submit(cmd.Context(), app.client, body)
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{
				"data":   newReportView(r),
				"_hints": []string{fmt.Sprintf("relief reports show %d", r.ID)},
			})
		},
	}

	cmd.Flags().StringVar(&text, "text", "", "Report text")
	cmd.Flags().StringVar(&file, "file", "", "Read report text from a file (- for stdin)")
	return cmd
}

type fieldEdit struct {
	infoID int64
	field  editor.Field
	value  string
}

// parseFieldEdit parses "<info id>.<field>=<value>".
func parseFieldEdit(s string) (fieldEdit, error) {
	lhs, value, ok := strings.Cut(s, "=")
	if !ok {
		return fieldEdit{}, fmt.Errorf("invalid --set %q (expected <info id>.<field>=<value>)", s)
	}
	idPart, fieldPart, ok := strings.Cut(lhs, ".")
	if !ok {
		return fieldEdit{}, fmt.Errorf("invalid --set %q (expected <info id>.<field>=<value>)", s)
	}
	id, err := strconv.ParseInt(strings.TrimSpace(idPart), 10, 64)
	if err != nil {
		return fieldEdit{}, fmt.Errorf("invalid --set %q: bad info id", s)
	}
	f, err := editor.ParseField(fieldPart)
	if err != nil {
		return fieldEdit{}, err
	}
	return fieldEdit{infoID: id, field: f, value: value}, nil
}

// openEditor fetches the report and opens an editor on it.
func (app *App) openEditor(cmd *cobra.Command, arg string) (*editor.Editor, error) {
	id, err := parseReportID(arg)
	if err != nil {
		return nil, err
	}
	r, err := app.client.GetReport(cmd.Context(), id)
	if err != nil {
		return nil, err
	}
	e := editor.New(app.client)
	e.Open(r)
	return e, nil
}

func newReportsEditCmd(app *App) *cobra.Command {
	var sets []string
	var rollback bool

	cmd := &cobra.Command{
		Use:   "edit <id> --set <info id>.<field>=<value>...",
		Short: "Correct extracted disaster info field by field (admin)",
		Long: strings.TrimSpace(`
Fields are time, location, event and level. Only tuples whose values
actually change are sent, one request per tuple. When a request fails the
tuples already written stay written; --rollback-on-failure restores them.
`),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := app.requireSession(cmd); err != nil {
				return writeErr(cmd, err)
			}
			if len(sets) == 0 {
				return writeErr(cmd, errors.New("nothing to change; pass at least one --set"))
			}
			edits := make([]fieldEdit, 0, len(sets))
			for _, s := range sets {
				fe, err := parseFieldEdit(s)
				if err != nil {
					return writeErr(cmd, err)
				}
				edits = append(edits, fe)
			}

			e, err := app.openEditor(cmd, args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			for _, fe := range edits {
				idx, ok := e.IndexOf(fe.infoID)
				if !ok {
					return writeErr(cmd, fmt.Errorf("report %s has no disaster info %d", args[0], fe.infoID))
				}
				if err := e.SetInfoField(idx, fe.field, fe.value); err != nil {
					return writeErr(cmd, err)
				}
			}
			changed := len(e.Modified())

			r, err := e.Confirm(cmd.Context())
			if err != nil {
				var pf *editor.PartialUpdateFailure
				if rollback && errors.As(err, &pf) {
					if rerr := e.Rollback(cmd.Context()); rerr != nil {
						return writeErr(cmd, fmt.Errorf("%s; rollback failed: %w", describe(err), rerr))
					}
					return writeErr(cmd, fmt.Errorf("%s; rolled back", describe(err)))
				}
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{
				"data": newReportView(r),
				"meta": map[string]any{"updated": changed},
			})
		},
	}

	cmd.Flags().StringArrayVar(&sets, "set", nil, "Field change as <info id>.<field>=<value> (repeatable)")
	cmd.Flags().BoolVar(&rollback, "rollback-on-failure", false, "Restore already-written tuples when a later one fails")
	return cmd
}

func newReportsReextractCmd(app *App) *cobra.Command {
	var text string
	var file string

	cmd := &cobra.Command{
		Use:   "reextract <id>",
		Short: "Replace a report's text and extract its disaster info again (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := app.requireSession(cmd); err != nil {
				return writeErr(cmd, err)
			}
			body, err := readText(cmd, text, file)
			if err != nil {
				return writeErr(cmd, err)
			}
			if err := reports.RequireText(body); err != nil {
				return writeErr(cmd, err)
			}
			e, err := app.openEditor(cmd, args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			if err := e.SetMode(editor.Reextract); err != nil {
				return writeErr(cmd, err)
			}
			if err := e.SetText(body); err != nil {
				return writeErr(cmd, err)
			}
			r, err := e.Confirm(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": newReportView(r)})
		},
	}

	cmd.Flags().StringVar(&text, "text", "", "Replacement report text")
	cmd.Flags().StringVar(&file, "file", "", "Read replacement text from a file (- for stdin)")
	return cmd
}

func newReportsDeleteCmd(app *App) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a report and its disaster info (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := app.requireSession(cmd); err != nil {
				return writeErr(cmd, err)
			}
			id, err := parseReportID(args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			if !yes {
				return writeErr(cmd, errConfirmationRequired(fmt.Sprintf("deleting report %d", id)))
			}
			if err := app.client.DeleteReport(cmd.Context(), id); err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": map[string]any{"id": id, "deleted": true}})
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the deletion")
	return cmd
}
