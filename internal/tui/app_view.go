package tui

import (
	"fmt"
	"strconv"
	"strings"

	"relief-cli/internal/api"
	"relief-cli/internal/format"
	"relief-cli/internal/model"
	"relief-cli/internal/perm"
	"relief-cli/internal/publish"

	"github.com/charmbracelet/lipgloss"
)

const previewMinWidth = 100

func (m appModel) View() string {
	var body string
	switch m.view {
	case viewLogin, viewSignup:
		body = m.renderAuth()
	case viewDashboard:
		body = m.renderDashboard()
	default:
		body = m.renderReports()
	}

	modal := m.renderModal()
	if m.notice != "" {
		modal = m.renderNotice()
	}
	if modal != "" {
		h := m.height - 2
		if h < 0 {
			h = 0
		}
		body = overlayCenter(m.width, h, modal)
	}

	return strings.Join([]string{m.renderHeader(), body, m.renderFooter()}, "\n")
}

func (m appModel) renderHeader() string {
	parts := []string{styleTitle().Render("relief"), styleChrome().Render(m.view.String())}
	if sess, ok := m.session(); ok {
		who := sess.Subject
		if who == "" {
			who = "signed in"
		}
		parts = append(parts, styleChrome().Render(fmt.Sprintf("%s (%s)", who, sess.Role)))
	}
	if m.client != nil {
		parts = append(parts, styleMuted().Render(m.client.BaseURL()))
	}
	return strings.Join(parts, styleMuted().Render(" · "))
}

func (m appModel) renderFooter() string {
	if m.flash != "" {
		if m.flashErr {
			return styleError().Render(m.flash)
		}
		return styleOK().Render(m.flash)
	}
	return styleMuted().Render(m.keyHints())
}

func (m appModel) keyHints() string {
	switch m.view {
	case viewLogin:
		return "tab: next field   enter: sign in   ctrl+n: register   esc: quit"
	case viewSignup:
		return "tab: next field   enter: register   ctrl+n/esc: back to sign in"
	case viewDashboard:
		return "r: refresh   esc/g: reports   L: sign out   q: quit"
	}
	hints := []string{"j/k: move", "n/b: page", "/: search", "p: preview", "s: submit", "x: export", "g: dashboard"}
	sess, ok := m.session()
	if perm.CanEditReports(sess, ok) {
		hints = append(hints, "enter: edit")
	}
	if perm.CanDeleteReports(sess, ok) {
		hints = append(hints, "d: delete")
	}
	if perm.CanRunDedup(sess, ok) {
		hints = append(hints, "D: dedup")
	}
	hints = append(hints, "?: help", "q: quit")
	return strings.Join(hints, "   ")
}

func (m appModel) renderAuth() string {
	title := "Sign in"
	if m.view == viewSignup {
		title = "Register"
	}
	lines := []string{styleTitle().Render(title), ""}
	labels := []string{"Username", "Password", "Admin key"}
	for i, in := range m.authInputs {
		lines = append(lines, styleChrome().Render(labels[i]), in.View(), "")
	}
	if m.authBusy {
		lines = append(lines, styleMuted().Render("working…"))
	}
	return lipgloss.NewStyle().Padding(1, 2).Render(strings.Join(lines, "\n"))
}

func (m appModel) renderReports() string {
	snap := m.snap
	q := m.list.Query()

	head := model.Page{Number: q.Page, Size: q.PageSize, Total: snap.Page.Total}.Label()
	if snap.Loaded {
		head = snap.Page.Label()
	}
	head += fmt.Sprintf("   %d report(s)", snap.Page.Total)
	if q.Keyword != "" {
		head += "   " + styleChrome().Render("q: "+q.Keyword)
	}
	if m.loading {
		head += "   " + styleMuted().Render("loading…")
	}
	if snap.Err != nil {
		head += "   " + styleError().Render(api.UserMessage(snap.Err, "refresh failed"))
	}

	listW := m.width
	showPreview := m.showPreview && m.width >= previewMinWidth
	if showPreview {
		listW = m.width / 2
	}

	var rows []string
	rows = append(rows, head, "")
	switch {
	case !snap.Loaded && snap.Err == nil:
		rows = append(rows, styleMuted().Render("loading reports…"))
	case len(snap.Page.Items) == 0:
		rows = append(rows, styleMuted().Render("no reports"))
	default:
		for i, r := range snap.Page.Items {
			rows = append(rows, m.renderReportRow(r, i == m.cursor, listW))
		}
	}
	list := strings.Join(rows, "\n")

	if !showPreview {
		return list
	}
	h := m.height - 2
	if h < 1 {
		h = len(rows)
	}
	previewW := m.width - listW - 1
	preview := styleMuted().Render("no report selected")
	if r, ok := m.selected(); ok {
		preview = renderMarkdown(publish.ReportMarkdown(r), markdownStyle(m.markdownPref()), previewW)
	}
	sep := styleMuted().Render(strings.Repeat("│\n", h-1) + "│")
	return lipgloss.JoinHorizontal(lipgloss.Top,
		normalizePane(list, listW, h),
		sep,
		normalizePane(preview, previewW, h),
	)
}

func (m appModel) markdownPref() string {
	if m.cfg != nil && m.cfg.TUI != nil {
		return m.cfg.TUI.Markdown
	}
	return ""
}

func (m appModel) renderReportRow(r model.Report, selected bool, width int) string {
	created := ""
	if !r.CreatedAt.IsZero() {
		created = r.CreatedAt.Format("01-02 15:04")
	}
	prefix := fmt.Sprintf("%-6s %-11s ×%-3d ", strconv.FormatInt(r.ID, 10), created, r.ReportCount())
	summary := strings.Join(strings.Fields(r.Summary), " ")
	line := prefix + truncate(summary, width-lipgloss.Width(prefix)-2)
	if selected {
		return styleSelected().Render("› " + line)
	}
	return "  " + line
}

func (m appModel) renderDashboard() string {
	if m.dashboard == nil {
		if m.dashboardErr != nil {
			return styleError().Render(api.UserMessage(m.dashboardErr, "failed to load dashboard"))
		}
		return styleMuted().Render("loading dashboard…")
	}
	d := m.dashboard
	lines := []string{
		styleTitle().Render("Dashboard"),
		"",
		fmt.Sprintf("Total reports   %d", d.TotalReports),
		fmt.Sprintf("Today           %d", d.TodayReports),
		fmt.Sprintf("Pending dedup   %d", d.PendingDedup),
	}
	if d.LastDedup != nil {
		lines = append(lines, fmt.Sprintf("Last dedup      %s  merged %d, deleted %d",
			d.LastDedup.RunAt.Format("2006-01-02 15:04"), d.LastDedup.MergedClusters, d.LastDedup.DeletedRecords))
	} else {
		lines = append(lines, "Last dedup      never")
	}
	if len(d.ReportTrend) > 0 {
		counts := make([]int, len(d.ReportTrend))
		for i, p := range d.ReportTrend {
			counts[i] = p.Count
		}
		lines = append(lines, "",
			"Trend           "+styleTitle().Render(format.Sparkline(counts)),
			styleMuted().Render(fmt.Sprintf("                %s … %s", d.ReportTrend[0].Date, d.ReportTrend[len(d.ReportTrend)-1].Date)))
	}
	return lipgloss.NewStyle().Padding(1, 2).Render(strings.Join(lines, "\n"))
}

func (m appModel) renderNotice() string {
	body := styleError().Width(modalBodyWidth(m.width)).Render(m.notice)
	return renderModalBox(m.width, m.noticeTitle, body+"\n\n"+styleMuted().Render("enter/esc: dismiss"))
}

func (m appModel) renderModal() string {
	switch m.modal {
	case modalSearch:
		return renderModalBox(m.width, "Search", m.search.View()+"\n\n"+styleMuted().Render("enter: apply   esc: cancel   empty clears the filter"))
	case modalSubmit:
		status := "ctrl+s: submit   esc: cancel"
		if m.submitBusy {
			status = "submitting…"
		}
		return renderModalBox(m.width, "Submit report", m.submitArea.View()+"\n\n"+styleMuted().Render(status))
	case modalEdit:
		return m.renderEditModal()
	case modalConfirmDelete:
		return renderConfirmModal(m.width, "Delete report",
			fmt.Sprintf("Delete report %d and all of its disaster info? This cannot be undone.", m.deleteID),
			"Delete", "Cancel", m.confirmFocus)
	case modalConfirmDedup:
		return renderConfirmModal(m.width, "Run dedup",
			"Merge disaster info that shares a location and time across all reports? Merged records are deleted.",
			"Run", "Cancel", m.confirmFocus)
	case modalDedupResult:
		out := m.dedupOutcome
		lines := []string{out.Headline()}
		if len(out.Lines) > 0 {
			lines = append(lines, "")
			lines = append(lines, out.Lines...)
		}
		lines = append(lines, "", styleMuted().Render("enter/esc: close"))
		return renderModalBox(m.width, "Dedup finished", strings.Join(lines, "\n"))
	case modalHelp:
		return renderModalBox(m.width, "Keys", strings.ReplaceAll(m.keyHints(), "   ", "\n"))
	}
	return ""
}
