package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	xansi "github.com/charmbracelet/x/ansi"
)

// normalizePane forces s to exactly width columns (ANSI-aware) and height
// lines so panes line up under lipgloss.JoinHorizontal.
func normalizePane(s string, width, height int) string {
	if width < 0 {
		width = 0
	}
	lines := strings.Split(s, "\n")
	if height > 0 {
		if len(lines) > height {
			lines = lines[:height]
		}
		for len(lines) < height {
			lines = append(lines, "")
		}
	}
	for i, ln := range lines {
		w := xansi.StringWidth(ln)
		if w > width {
			switch {
			case width <= 0:
				ln = ""
			case width == 1:
				ln = xansi.Cut(ln, 0, 1)
			default:
				ln = xansi.Cut(ln, 0, width-1) + "…"
			}
			w = xansi.StringWidth(ln)
		}
		if w < width {
			ln += strings.Repeat(" ", width-w)
		}
		lines[i] = ln
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, width int) string {
	if width <= 1 {
		return xansi.Truncate(s, width, "")
	}
	return xansi.Truncate(s, width, "…")
}

func modalBodyWidth(width int) int {
	w := width - 10
	if w > 80 {
		w = 80
	}
	if w < 20 {
		w = 20
	}
	return w
}

// renderModalBox draws a bordered box with a title row.
func renderModalBox(width int, title, content string) string {
	bodyW := modalBodyWidth(width)
	head := styleTitle().Render(title)
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorModalBorder).
		Padding(0, 1).
		Width(bodyW + 2)
	return box.Render(head + "\n\n" + content)
}

// overlayCenter places the modal in the middle of a width x height screen.
func overlayCenter(width, height int, modal string) string {
	if width <= 0 || height <= 0 {
		return modal
	}
	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, modal)
}
