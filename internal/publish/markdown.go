package publish

import (
	"bytes"
	"fmt"
	"strings"

	"relief-cli/internal/model"
)

func escapeCell(s string) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "|", `\|`)
	if s == "" {
		return "-"
	}
	return s
}

// ReportMarkdown renders one report: summary, quoted source text and a table
// of its disaster info keyed by display id.
func ReportMarkdown(r model.Report) string {
	var buf bytes.Buffer
	writeReport(&buf, r, "##")
	return buf.String()
}

func writeReport(buf *bytes.Buffer, r model.Report, heading string) {
	writeLn := func(s string) {
		buf.WriteString(s)
		buf.WriteString("\n")
	}

	writeLn(fmt.Sprintf("%s Report %d", heading, r.ID))
	writeLn("")
	if !r.CreatedAt.IsZero() {
		writeLn("_" + r.CreatedAt.Format("2006-01-02 15:04") + "_")
		writeLn("")
	}
	if s := strings.TrimSpace(r.Summary); s != "" {
		writeLn("**" + s + "**")
		writeLn("")
	}
	if t := strings.TrimSpace(r.Text); t != "" {
		for _, line := range strings.Split(t, "\n") {
			writeLn("> " + line)
		}
		writeLn("")
	}
	if len(r.DisasterInfos) == 0 {
		writeLn("No disaster info was extracted.")
		return
	}
	writeLn("| # | Time | Location | Event | Level | Count |")
	writeLn("|---|---|---|---|---|---|")
	for i, d := range r.DisasterInfos {
		writeLn(fmt.Sprintf("| %s | %s | %s | %s | %s | %d |",
			model.DisplayID(r.ID, i), escapeCell(d.Time), escapeCell(d.Location),
			escapeCell(d.Event), escapeCell(d.Level), d.ReportCount))
	}
}

// PageMarkdown renders a digest of one listing page.
func PageMarkdown(p model.Page) string {
	var buf bytes.Buffer
	writeLn := func(s string) {
		buf.WriteString(s)
		buf.WriteString("\n")
	}

	writeLn("# " + pageTitle(p))
	writeLn("")
	writeLn(fmt.Sprintf("- Page: %s", p.Label()))
	writeLn(fmt.Sprintf("- Matching reports: %d", p.Total))
	if keyword := strings.TrimSpace(p.Keyword); keyword != "" {
		writeLn("- Keyword: " + keyword)
	}
	if len(p.Items) == 0 {
		writeLn("")
		writeLn("No reports.")
		return buf.String()
	}
	for _, r := range p.Items {
		writeLn("")
		writeReport(&buf, r, "##")
	}
	return buf.String()
}

func pageTitle(p model.Page) string {
	if keyword := strings.TrimSpace(p.Keyword); keyword != "" {
		return fmt.Sprintf("Disaster reports: %s (page %d)", keyword, p.Number)
	}
	return fmt.Sprintf("Disaster reports (page %d)", p.Number)
}
