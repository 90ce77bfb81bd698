package tui

import (
	"errors"
	"fmt"
	"strings"

	"relief-cli/internal/dedup"
	"relief-cli/internal/model"
	"relief-cli/internal/perm"
	"relief-cli/internal/reports"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

func (m appModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.submitArea.SetWidth(modalBodyWidth(m.width))
		m.reextractArea.SetWidth(modalBodyWidth(m.width))
		return m, nil

	case sessionMsg:
		if msg.closed {
			return m, nil
		}
		return m, tea.Batch(m.waitSession(), m.navigate(m.view))

	case navMsg:
		next := m.applyNav(msg)
		return m, next

	case pageMsg:
		applied := m.list.Apply(msg.ticket, msg.page, msg.err)
		m.loading = false
		m.refreshSnapshot()
		if applied && msg.err != nil {
			m.showFailure(msg.err, "failed to load reports")
		}
		return m, nil

	case pollTickMsg:
		if msg.gen != m.pollGen || m.view != viewReports {
			return m, nil
		}
		next := tea.Batch(m.loadCmd(), m.pollTick())
		return m, next

	case authDoneMsg:
		m.authBusy = false
		if msg.err != nil {
			m.showFailure(msg.err, "sign in failed")
			return m, nil
		}
		next := tea.Batch(m.showFlash("signed in as "+msg.sess.Subject, false), m.navigate(viewReports))
		return m, next

	case signupDoneMsg:
		m.authBusy = false
		if msg.err != nil {
			m.showFailure(msg.err, "registration failed")
			return m, nil
		}
		m.view = viewLogin
		m.resetAuthInputs()
		m.authInputs[0].SetValue(msg.user.Username)
		m.focusAuth(1)
		next := m.showFlash(fmt.Sprintf("registered %s (%s); sign in to continue", msg.user.Username, msg.user.Role), false)
		return m, next

	case logoutDoneMsg:
		if msg.err != nil {
			m.showFailure(msg.err, "sign out failed")
			return m, nil
		}
		next := tea.Batch(m.showFlash("signed out", false), m.navigate(viewLogin))
		return m, next

	case submitDoneMsg:
		m.submitBusy = false
		if msg.err != nil {
			m.showFailure(msg.err, "submit failed")
			return m, nil
		}
		if m.modal == modalSubmit {
			m.modal = modalNone
			m.submitArea.Reset()
		}
		next := tea.Batch(
			m.showFlash(fmt.Sprintf("report %d submitted: %s", msg.report.ID, msg.report.Summary), false),
			m.loadCmd(),
		)
		return m, next

	case commitDoneMsg:
		return m.handleCommitDone(msg)

	case rollbackDoneMsg:
		m.refreshSnapshot()
		if msg.err != nil {
			m.showFailure(msg.err, "rollback failed")
			return m, nil
		}
		next := m.showFlash(fmt.Sprintf("report %d restored", msg.reportID), false)
		return m, next

	case deleteDoneMsg:
		m.refreshSnapshot()
		if msg.err != nil {
			m.showFailure(msg.err, "delete failed")
			return m, nil
		}
		next := m.showFlash(fmt.Sprintf("report %d deleted", msg.id), false)
		return m, next

	case dedupDoneMsg:
		m.refreshSnapshot()
		if msg.err != nil {
			if m.modal == modalDedupResult {
				m.modal = modalNone
			}
			if errors.Is(msg.err, dedup.ErrInFlight) {
				next := m.showFlash("dedup is already running", true)
				return m, next
			}
			m.showFailure(msg.err, "dedup failed")
			return m, nil
		}
		m.dedupOutcome = msg.outcome
		m.modal = modalDedupResult
		return m, nil

	case exportDoneMsg:
		if msg.err != nil {
			m.showFailure(msg.err, "export failed")
			return m, nil
		}
		next := m.showFlash("saved "+msg.path, false)
		return m, next

	case dashboardMsg:
		if msg.err != nil {
			m.dashboardErr = msg.err
			m.showFailure(msg.err, "failed to load dashboard")
			return m, nil
		}
		dm := msg.metrics
		m.dashboard = &dm
		m.dashboardErr = nil
		return m, nil

	case flashDoneMsg:
		if msg.seq == m.flashSeq {
			m.flash = ""
			m.flashErr = false
		}
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m.quit()
		}
		if m.notice != "" {
			switch msg.String() {
			case "esc", "enter", " ", "q":
				m.dismissNotice()
			}
			return m, nil
		}
		if m.modal != modalNone {
			return m.updateModal(msg)
		}
		switch m.view {
		case viewLogin, viewSignup:
			return m.updateAuth(msg)
		case viewDashboard:
			return m.updateDashboard(msg)
		default:
			return m.updateReports(msg)
		}
	}
	return m, nil
}

func (m *appModel) focusAuth(i int) {
	for j := range m.authInputs {
		m.authInputs[j].Blur()
	}
	m.authFocus = (i + len(m.authInputs)) % len(m.authInputs)
	m.authInputs[m.authFocus].Focus()
}

func (m appModel) updateAuth(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		if m.view == viewSignup {
			m.view = viewLogin
			m.resetAuthInputs()
			return m, nil
		}
		return m.quit()
	case "ctrl+n":
		if m.view == viewLogin {
			m.view = viewSignup
		} else {
			m.view = viewLogin
		}
		m.resetAuthInputs()
		return m, textinput.Blink
	case "tab", "down":
		m.focusAuth(m.authFocus + 1)
		return m, nil
	case "shift+tab", "up":
		m.focusAuth(m.authFocus - 1)
		return m, nil
	case "enter":
		if m.authBusy {
			return m, nil
		}
		if m.authFocus < len(m.authInputs)-1 && strings.TrimSpace(m.authInputs[m.authFocus+1].Value()) == "" {
			m.focusAuth(m.authFocus + 1)
			return m, nil
		}
		return m.submitAuth()
	}
	var cmd tea.Cmd
	m.authInputs[m.authFocus], cmd = m.authInputs[m.authFocus].Update(msg)
	return m, cmd
}

func (m appModel) submitAuth() (tea.Model, tea.Cmd) {
	username := strings.TrimSpace(m.authInputs[0].Value())
	password := m.authInputs[1].Value()
	if username == "" || password == "" {
		next := m.showFlash("username and password are required", true)
		return m, next
	}
	m.authBusy = true
	ctx := m.ctx
	if m.view == viewSignup {
		in := model.SignupRequest{Username: username, Password: password, AdminKey: strings.TrimSpace(m.authInputs[2].Value())}
		c := m.client
		return m, func() tea.Msg {
			u, err := c.Signup(ctx, in)
			return signupDoneMsg{user: u, err: err}
		}
	}
	sessions := m.sessions
	c := m.client
	return m, func() tea.Msg {
		sess, err := sessions.SignIn(ctx, c, username, password)
		return authDoneMsg{sess: sess, err: err}
	}
}

func (m appModel) updateDashboard(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m.quit()
	case "esc", "g", "backspace":
		return m, m.navigate(viewReports)
	case "r":
		return m, m.dashboardCmd()
	case "L":
		return m, m.logoutCmd()
	}
	return m, nil
}

func (m appModel) logoutCmd() tea.Cmd {
	sessions := m.sessions
	ctx := m.ctx
	return func() tea.Msg { return logoutDoneMsg{err: sessions.Logout(ctx)} }
}

func (m appModel) updateReports(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	sess, signedIn := m.session()
	adminOnly := func(a perm.Action) (tea.Model, tea.Cmd, bool) {
		if perm.Allows(sess, signedIn, a) {
			return m, nil, true
		}
		next := m.showFlash("admin only", true)
		return m, next, false
	}

	switch msg.String() {
	case "q":
		return m.quit()
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil
	case "down", "j":
		if m.cursor < len(m.snap.Page.Items)-1 {
			m.cursor++
		}
		return m, nil
	case "right", "n", "pgdown":
		if m.list.NextPage() {
			m.cursor = 0
			next := m.loadCmd()
			return m, next
		}
		return m, nil
	case "left", "b", "pgup":
		if m.list.PrevPage() {
			m.cursor = 0
			next := m.loadCmd()
			return m, next
		}
		return m, nil
	case "r":
		next := m.loadCmd()
		return m, next
	case "/":
		m.modal = modalSearch
		m.search.SetValue(m.list.Query().Keyword)
		m.search.CursorEnd()
		m.search.Focus()
		return m, textinput.Blink
	case "esc":
		if m.list.Query().Keyword != "" {
			m.list.SetKeyword("")
			m.cursor = 0
			next := m.loadCmd()
			return m, next
		}
		return m, nil
	case "p":
		m.showPreview = !m.showPreview
		return m, nil
	case "s":
		m.modal = modalSubmit
		m.submitArea.Focus()
		return m, textarea.Blink
	case "x":
		keyword := m.list.Query().Keyword
		ex := m.exporter
		ctx := m.ctx
		next := tea.Batch(m.showFlash("exporting…", false), func() tea.Msg {
			path, err := ex.Download(ctx, keyword)
			return exportDoneMsg{path: path, err: err}
		})
		return m, next
	case "g":
		return m, m.navigate(viewDashboard)
	case "L":
		return m, m.logoutCmd()
	case "?":
		m.modal = modalHelp
		return m, nil
	case "enter", "e":
		r, ok := m.selected()
		if !ok {
			return m, nil
		}
		if mm, cmd, ok := adminOnly(perm.EditReport); !ok {
			return mm, cmd
		}
		return m.openEditModal(r)
	case "d":
		r, ok := m.selected()
		if !ok {
			return m, nil
		}
		if mm, cmd, ok := adminOnly(perm.DeleteReport); !ok {
			return mm, cmd
		}
		m.deleteID = r.ID
		m.confirmFocus = confirmFocusCancel
		m.modal = modalConfirmDelete
		return m, nil
	case "D":
		if mm, cmd, ok := adminOnly(perm.RunDedup); !ok {
			return mm, cmd
		}
		if m.deduper.Running() {
			next := m.showFlash("dedup is already running", true)
			return m, next
		}
		m.confirmFocus = confirmFocusCancel
		m.modal = modalConfirmDedup
		return m, nil
	}
	return m, nil
}

func (m appModel) updateModal(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.modal {
	case modalSearch:
		return m.updateSearch(msg)
	case modalSubmit:
		return m.updateSubmit(msg)
	case modalEdit:
		return m.updateEditModal(msg)
	case modalConfirmDelete, modalConfirmDedup:
		return m.updateConfirm(msg)
	case modalDedupResult, modalHelp:
		switch msg.String() {
		case "esc", "enter", "q", "?":
			m.modal = modalNone
		}
		return m, nil
	}
	return m, nil
}

func (m appModel) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.modal = modalNone
		m.search.Blur()
		return m, nil
	case "enter":
		m.modal = modalNone
		m.search.Blur()
		m.list.SetKeyword(strings.TrimSpace(m.search.Value()))
		m.cursor = 0
		next := m.loadCmd()
		return m, next
	}
	var cmd tea.Cmd
	m.search, cmd = m.search.Update(msg)
	return m, cmd
}

func (m appModel) updateSubmit(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.modal = modalNone
		m.submitArea.Blur()
		return m, nil
	case "ctrl+s":
		if m.submitBusy {
			return m, nil
		}
		text := m.submitArea.Value()
		if err := reports.RequireText(text); err != nil {
			next := m.showFlash(err.Error(), true)
			return m, next
		}
		m.submitBusy = true
		c := m.client
		ctx := m.ctx
		return m, func() tea.Msg {
			r, err := reports.Submit(ctx, c, text)
			return submitDoneMsg{report: r, err: err}
		}
	}
	var cmd tea.Cmd
	m.submitArea, cmd = m.submitArea.Update(msg)
	return m, cmd
}

func (m appModel) updateConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	confirmed := false
	switch msg.String() {
	case "esc", "n", "ctrl+g":
		m.modal = modalNone
		return m, nil
	case "tab", "shift+tab", "left", "right", "h", "l":
		if m.confirmFocus == confirmFocusConfirm {
			m.confirmFocus = confirmFocusCancel
		} else {
			m.confirmFocus = confirmFocusConfirm
		}
		return m, nil
	case "y":
		confirmed = true
	case "enter":
		confirmed = m.confirmFocus == confirmFocusConfirm
		if !confirmed {
			m.modal = modalNone
			return m, nil
		}
	default:
		return m, nil
	}
	if !confirmed {
		return m, nil
	}

	ctx := m.ctx
	switch m.modal {
	case modalConfirmDelete:
		m.modal = modalNone
		id := m.deleteID
		c := m.client
		list := m.list
		return m, func() tea.Msg {
			err := c.DeleteReport(ctx, id)
			if err == nil {
				_ = list.Reload(ctx)
			}
			return deleteDoneMsg{id: id, err: err}
		}
	case modalConfirmDedup:
		m.modal = modalNone
		runner := m.deduper
		next := tea.Batch(m.showFlash("running dedup…", false), func() tea.Msg {
			out, err := runner.Run(ctx, dedup.Yes)
			return dedupDoneMsg{outcome: out, err: err}
		})
		return m, next
	}
	return m, nil
}
