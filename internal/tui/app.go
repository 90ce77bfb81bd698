// Package tui is the interactive terminal front end.
package tui

import (
	"context"
	"errors"
	"strings"
	"time"

	"relief-cli/internal/api"
	"relief-cli/internal/dedup"
	"relief-cli/internal/editor"
	"relief-cli/internal/export"
	"relief-cli/internal/guard"
	"relief-cli/internal/model"
	"relief-cli/internal/reports"
	"relief-cli/internal/session"
	"relief-cli/internal/store"

	"github.com/apex/log"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

type Options struct {
	Client   *api.Client
	Sessions *session.Store
	Config   *store.GlobalConfig
	// State is where the last screen is remembered between launches.
	State store.Store
}

func Run(opts Options) error {
	var profile string
	if opts.Config != nil && opts.Config.TUI != nil {
		profile = opts.Config.TUI.Profile
	}
	applyThemePreference()
	applyColorProfilePreference(profile)

	m := newAppModel(opts)
	defer m.shutdown()
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

const flashDuration = 4 * time.Second

type appModel struct {
	ctx    context.Context
	cancel context.CancelFunc

	client   *api.Client
	sessions *session.Store
	cfg      *store.GlobalConfig
	state    store.Store
	guard    guard.Guard
	logger   log.Interface

	list     *reports.Controller
	editor   *editor.Editor
	deduper  *dedup.Runner
	exporter *export.Controller

	sessCh     <-chan session.Status
	sessCancel func()

	width  int
	height int

	view  view
	modal modalKind

	snap        reports.State
	cursor      int
	showPreview bool
	pollGen     int
	loading     bool

	authInputs []textinput.Model
	authFocus  int
	authBusy   bool

	search     textinput.Model
	submitArea textarea.Model
	submitBusy bool

	editReportID  int64
	editRow       int
	editCol       int
	editingCell   bool
	cellInput     textinput.Model
	reextractArea textarea.Model

	confirmFocus confirmModalFocus
	deleteID     int64
	dedupOutcome dedup.Outcome

	dashboard    *model.DashboardMetrics
	dashboardErr error

	flash    string
	flashErr bool
	flashSeq int

	// notice is a failure that stays on screen until dismissed.
	noticeTitle string
	notice      string
}

func newAppModel(opts Options) appModel {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := opts.Config
	if cfg == nil {
		cfg = &store.GlobalConfig{}
	}
	logger := log.Log.WithField("component", "tui")

	list := reports.New(opts.Client, reports.Options{
		PageSize:          cfg.PageSizeOrDefault(model.DefaultPageSize),
		ResetPageOnSearch: cfg.ResetsPageOnSearch(),
		Logger:            logger,
	})
	reload := func(ctx context.Context) error {
		err := list.Reload(ctx)
		if errors.Is(err, reports.ErrStale) {
			return nil
		}
		return err
	}

	m := appModel{
		ctx:      ctx,
		cancel:   cancel,
		client:   opts.Client,
		sessions: opts.Sessions,
		cfg:      cfg,
		state:    opts.State,
		guard:    guard.Guard{Sessions: opts.Sessions, Timeout: cfg.RestoreTimeout()},
		logger:   logger,
		list:     list,
		editor:   editor.New(opts.Client, editor.WithReload(reload), editor.WithLogger(logger)),
		deduper:  dedup.New(opts.Client, dedup.WithReload(reload), dedup.WithLogger(logger)),
		exporter: export.New(opts.Client, cfg.ExportDir, logger),
		view:     viewReports,
	}
	if opts.Sessions != nil {
		m.sessCh, m.sessCancel = opts.Sessions.Subscribe()
	}

	m.search = textinput.New()
	m.search.Prompt = "/ "
	m.search.Placeholder = "keyword"
	m.submitArea = textarea.New()
	m.submitArea.Placeholder = "Describe what happened, where and when…"
	m.submitArea.ShowLineNumbers = false
	m.reextractArea = textarea.New()
	m.reextractArea.ShowLineNumbers = false
	m.cellInput = textinput.New()
	m.cellInput.Prompt = ""
	m.resetAuthInputs()

	if st, err := opts.State.LoadTUIState(); err == nil && st != nil {
		if v, ok := parseView(st.View); ok {
			m.view = v
		}
		m.list.SetKeyword(st.Keyword)
		m.list.SetPage(st.Page)
		m.showPreview = st.ShowPreview
	}
	m.snap = m.list.Snapshot()
	return m
}

func (m appModel) Init() tea.Cmd {
	return tea.Batch(m.waitSession(), m.navigate(m.view))
}

// shutdown releases the subscription and cancels in-flight requests.
func (m appModel) shutdown() {
	if m.sessCancel != nil {
		m.sessCancel()
	}
	m.cancel()
}

func (m appModel) saveState() {
	q := m.list.Query()
	st := &store.TUIState{
		Version:     1,
		View:        m.view.String(),
		Keyword:     q.Keyword,
		Page:        q.Page,
		ShowPreview: m.showPreview,
	}
	if m.view == viewLogin || m.view == viewSignup {
		st.View = viewReports.String()
	}
	if err := m.state.SaveTUIState(st); err != nil {
		m.logger.WithError(err).Warn("save tui state")
	}
}

func (m appModel) quit() (tea.Model, tea.Cmd) {
	m.saveState()
	m.shutdown()
	return m, tea.Quit
}

func (m appModel) waitSession() tea.Cmd {
	ch := m.sessCh
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		st, ok := <-ch
		return sessionMsg{status: st, closed: !ok}
	}
}

func accessFor(v view) guard.Access {
	switch v {
	case viewLogin, viewSignup:
		return guard.GuestOnly
	default:
		return guard.Authenticated
	}
}

// navigate asks the guard about target off the UI goroutine; the answer
// arrives as a navMsg.
func (m appModel) navigate(target view) tea.Cmd {
	g := m.guard
	ctx := m.ctx
	return func() tea.Msg {
		return navMsg{target: target, decision: g.Check(ctx, accessFor(target))}
	}
}

func (m *appModel) applyNav(msg navMsg) tea.Cmd {
	target := msg.target
	switch msg.decision {
	case guard.RedirectLogin:
		if target != viewSignup {
			target = viewLogin
		}
	case guard.RedirectHome:
		target = viewReports
	}
	changed := target != m.view
	m.view = target
	if changed || target == viewReports || target == viewDashboard {
		m.modal = modalNone
		m.editor.Cancel()
	}
	return m.enterView()
}

func (m *appModel) enterView() tea.Cmd {
	switch m.view {
	case viewLogin, viewSignup:
		m.pollGen++
		m.authBusy = false
		m.resetAuthInputs()
		return textinput.Blink
	case viewDashboard:
		m.pollGen++
		return m.dashboardCmd()
	default:
		m.pollGen++
		return tea.Batch(m.loadCmd(), m.pollTick())
	}
}

func (m *appModel) resetAuthInputs() {
	n := 2
	if m.view == viewSignup {
		n = 3
	}
	m.authInputs = make([]textinput.Model, n)
	labels := []string{"username", "password", "admin key (optional)"}
	for i := range m.authInputs {
		in := textinput.New()
		in.Placeholder = labels[i]
		in.Prompt = "› "
		if i > 0 {
			in.EchoMode = textinput.EchoPassword
		}
		m.authInputs[i] = in
	}
	m.authFocus = 0
	m.authInputs[0].Focus()
}

func (m *appModel) session() (model.Session, bool) {
	if m.sessions == nil {
		return model.Session{}, false
	}
	return m.sessions.Current()
}

func (m *appModel) loadCmd() tea.Cmd {
	list := m.list
	ctx := m.ctx
	t := list.Begin()
	m.loading = true
	return func() tea.Msg {
		p, err := list.Fetch(ctx, t)
		return pageMsg{ticket: t, page: p, err: err}
	}
}

func (m *appModel) pollTick() tea.Cmd {
	gen := m.pollGen
	return tea.Tick(m.cfg.PollInterval(), func(time.Time) tea.Msg { return pollTickMsg{gen: gen} })
}

func (m *appModel) dashboardCmd() tea.Cmd {
	c := m.client
	ctx := m.ctx
	return func() tea.Msg {
		dm, err := c.DashboardMetrics(ctx)
		return dashboardMsg{metrics: dm, err: err}
	}
}

func (m *appModel) showFlash(text string, isErr bool) tea.Cmd {
	m.flash = strings.TrimSpace(text)
	m.flashErr = isErr
	m.flashSeq++
	seq := m.flashSeq
	return tea.Tick(flashDuration, func(time.Time) tea.Msg { return flashDoneMsg{seq: seq} })
}

// showFailure reports err in the notice overlay. The session is left alone,
// even on 401; only an explicit sign-out ends it.
func (m *appModel) showFailure(err error, title string) {
	m.noticeTitle = title
	m.notice = api.UserMessage(err, title)
}

func (m *appModel) dismissNotice() {
	m.noticeTitle = ""
	m.notice = ""
}

func (m *appModel) selected() (model.Report, bool) {
	items := m.snap.Page.Items
	if m.cursor < 0 || m.cursor >= len(items) {
		return model.Report{}, false
	}
	return items[m.cursor], true
}

func (m *appModel) refreshSnapshot() {
	m.snap = m.list.Snapshot()
	if n := len(m.snap.Page.Items); m.cursor >= n {
		m.cursor = n - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}
