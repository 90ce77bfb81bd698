package tui

import (
	"errors"
	"fmt"
	"strings"

	"relief-cli/internal/api"
	"relief-cli/internal/editor"
	"relief-cli/internal/model"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const editFieldCount = 4

func (m appModel) openEditModal(r model.Report) (tea.Model, tea.Cmd) {
	m.editor.Open(r)
	m.editReportID = r.ID
	m.editRow, m.editCol = 0, 0
	m.editingCell = false
	m.reextractArea.SetValue(r.Text)
	m.reextractArea.Blur()
	m.modal = modalEdit
	return m, nil
}

func (m *appModel) closeEditModal() {
	m.editor.Cancel()
	m.editingCell = false
	m.cellInput.Blur()
	m.reextractArea.Blur()
	m.modal = modalNone
}

func (m appModel) updateEditModal(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.editingCell {
		switch msg.String() {
		case "esc":
			m.editingCell = false
			m.cellInput.Blur()
			return m, nil
		case "enter", "tab":
			if err := m.editor.SetInfoField(m.editRow, editor.Field(m.editCol), m.cellInput.Value()); err != nil {
				next := m.showFlash(err.Error(), true)
				return m, next
			}
			m.editingCell = false
			m.cellInput.Blur()
			if msg.String() == "tab" {
				m.editCol = (m.editCol + 1) % editFieldCount
			}
			return m, nil
		}
		var cmd tea.Cmd
		m.cellInput, cmd = m.cellInput.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "esc":
		// Late results of an abandoned commit are ignored.
		m.closeEditModal()
		return m, nil
	case "ctrl+s":
		return m.confirmEdit()
	case "ctrl+r":
		var pf *editor.PartialUpdateFailure
		if m.editor.Busy() || !errors.As(m.editor.Err(), &pf) {
			return m, nil
		}
		ed := m.editor
		ctx := m.ctx
		id := m.editReportID
		next := tea.Batch(m.showFlash("rolling back…", false), func() tea.Msg {
			return rollbackDoneMsg{reportID: id, err: ed.Rollback(ctx)}
		})
		return m, next
	case "ctrl+t":
		if m.editor.Busy() {
			return m, nil
		}
		mode := editor.Reextract
		if m.editor.Mode() == editor.Reextract {
			mode = editor.Manual
		}
		_ = m.editor.SetMode(mode)
		if mode == editor.Reextract {
			m.reextractArea.Focus()
			return m, textarea.Blink
		}
		m.reextractArea.Blur()
		return m, nil
	}

	if m.editor.Mode() == editor.Reextract {
		var cmd tea.Cmd
		m.reextractArea, cmd = m.reextractArea.Update(msg)
		return m, cmd
	}

	rows := len(m.editor.Draft().DisasterInfos)
	switch msg.String() {
	case "up", "k":
		if m.editRow > 0 {
			m.editRow--
		}
	case "down", "j":
		if m.editRow < rows-1 {
			m.editRow++
		}
	case "left", "h", "shift+tab":
		m.editCol = (m.editCol + editFieldCount - 1) % editFieldCount
	case "right", "l", "tab":
		m.editCol = (m.editCol + 1) % editFieldCount
	case "enter":
		if rows == 0 {
			return m, nil
		}
		d := m.editor.Draft().DisasterInfos[m.editRow]
		m.cellInput.SetValue(d.Fields()[m.editCol])
		m.cellInput.CursorEnd()
		m.cellInput.Focus()
		m.editingCell = true
		return m, textinput.Blink
	}
	return m, nil
}

func (m appModel) confirmEdit() (tea.Model, tea.Cmd) {
	if m.editor.Busy() {
		return m, nil
	}
	if m.editor.Mode() == editor.Reextract {
		if err := m.editor.SetText(m.reextractArea.Value()); err != nil {
			next := m.showFlash(err.Error(), true)
			return m, next
		}
	}
	ed := m.editor
	ctx := m.ctx
	id := m.editReportID
	return m, func() tea.Msg {
		r, err := ed.Confirm(ctx)
		return commitDoneMsg{reportID: id, report: r, err: err}
	}
}

func (m appModel) handleCommitDone(msg commitDoneMsg) (tea.Model, tea.Cmd) {
	m.refreshSnapshot()
	current := m.modal == modalEdit && m.editReportID == msg.reportID
	if msg.err != nil {
		if !current {
			return m, nil
		}
		var pf *editor.PartialUpdateFailure
		if errors.As(msg.err, &pf) {
			next := m.showFlash(fmt.Sprintf("%s; saved %d, not saved %d (ctrl+s retries, ctrl+r rolls back)",
				api.UserMessage(pf.Err, "update failed"), len(pf.Persisted), len(pf.Remaining)), true)
			return m, next
		}
		next := m.showFlash(api.UserMessage(msg.err, "save failed"), true)
		return m, next
	}
	if current {
		m.modal = modalNone
		m.editingCell = false
		m.reextractArea.Blur()
	}
	next := m.showFlash(fmt.Sprintf("report %d saved", msg.reportID), false)
	return m, next
}

var fieldHeaders = [editFieldCount]string{"time", "location", "event", "level"}

func (m appModel) renderEditModal() string {
	draft := m.editor.Draft()
	bodyW := modalBodyWidth(m.width)
	var b strings.Builder

	mode := m.editor.Mode()
	tabs := []string{"manual", "re-extract"}
	for i, t := range tabs {
		st := styleMuted()
		if (i == 0) == (mode == editor.Manual) {
			st = styleSelected()
		}
		tabs[i] = st.Render(" " + t + " ")
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, tabs...))
	b.WriteString("\n\n")

	if mode == editor.Reextract {
		b.WriteString(m.reextractArea.View())
		b.WriteString("\n")
	} else if len(draft.DisasterInfos) == 0 {
		b.WriteString(styleMuted().Render("no disaster info to edit; ctrl+t to re-extract"))
		b.WriteString("\n")
	} else {
		colW := (bodyW - 6) / editFieldCount
		if colW < 6 {
			colW = 6
		}
		cell := func(s string, selected bool) string {
			st := lipgloss.NewStyle().Width(colW)
			if selected {
				st = styleSelected().Width(colW)
			}
			return st.Render(truncate(s, colW))
		}
		head := make([]string, 0, editFieldCount+1)
		head = append(head, lipgloss.NewStyle().Width(6).Render("#"))
		for _, h := range fieldHeaders {
			head = append(head, styleChrome().Width(colW).Render(h))
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, head...))
		b.WriteString("\n")
		for i, d := range draft.DisasterInfos {
			row := []string{lipgloss.NewStyle().Width(6).Render(model.DisplayID(draft.ID, i))}
			for j, v := range d.Fields() {
				selected := i == m.editRow && j == m.editCol
				if selected && m.editingCell {
					row = append(row, lipgloss.NewStyle().Width(colW).Render(m.cellInput.View()))
					continue
				}
				row = append(row, cell(v, selected))
			}
			b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, row...))
			b.WriteString("\n")
		}
		if n := len(m.editor.Modified()); n > 0 {
			b.WriteString(styleMuted().Render(fmt.Sprintf("%d tuple(s) modified", n)))
			b.WriteString("\n")
		}
	}

	if m.editor.Busy() {
		b.WriteString("\n" + styleMuted().Render("saving…"))
	} else if err := m.editor.Err(); err != nil {
		b.WriteString("\n" + styleError().Width(bodyW).Render(api.UserMessage(err, "")))
	}

	help := "enter: edit cell   ←/→/↑/↓: move   ctrl+t: re-extract   ctrl+s: save   esc: cancel"
	if mode == editor.Reextract {
		help = "ctrl+t: manual   ctrl+s: re-extract   esc: cancel"
	}
	var pf *editor.PartialUpdateFailure
	if errors.As(m.editor.Err(), &pf) {
		help += "   ctrl+r: roll back"
	}
	b.WriteString("\n" + styleMuted().Width(bodyW).Render(help))

	return renderModalBox(m.width, fmt.Sprintf("Edit report %d", draft.ID), b.String())
}
