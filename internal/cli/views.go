package cli

import (
	"fmt"
	"strconv"
	"strings"

	"relief-cli/internal/dedup"
	"relief-cli/internal/format"
	"relief-cli/internal/model"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/x/ansi"
)

const summaryWidth = 48

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderRow(false).
		Headers(headers...)
}

// pageView is one page of the report listing.
type pageView struct {
	Keyword   string         `json:"keyword"`
	Page      int            `json:"page"`
	PageCount int            `json:"pageCount"`
	PageSize  int            `json:"pageSize"`
	Total     int            `json:"total"`
	Items     []model.Report `json:"items"`
}

func newPageView(p model.Page) pageView {
	items := p.Items
	if items == nil {
		items = []model.Report{}
	}
	return pageView{
		Keyword:   p.Keyword,
		Page:      p.Number,
		PageCount: p.PageCount(),
		PageSize:  p.Size,
		Total:     p.Total,
		Items:     items,
	}
}

func (v pageView) label() string {
	return model.Page{Number: v.Page, Size: v.PageSize, Total: v.Total}.Label()
}

func (v pageView) Text() string {
	var b strings.Builder
	head := v.label()
	if v.Keyword != "" {
		head += fmt.Sprintf("  (q=%q)", v.Keyword)
	}
	fmt.Fprintf(&b, "%s  %d report(s)\n", head, v.Total)
	if len(v.Items) == 0 {
		b.WriteString("no reports\n")
		return b.String()
	}
	t := newTable("ID", "CREATED", "COUNT", "SUMMARY")
	for _, r := range v.Items {
		t.Row(
			strconv.FormatInt(r.ID, 10),
			r.CreatedAt.Format("2006-01-02 15:04"),
			strconv.Itoa(r.ReportCount()),
			ansi.Truncate(oneLine(r.Summary), summaryWidth, "…"),
		)
	}
	b.WriteString(t.String())
	return b.String()
}

type reportView struct {
	Report     model.Report `json:"report"`
	DisplayIDs []string     `json:"display_ids"`
}

func newReportView(r model.Report) reportView {
	if r.DisasterInfos == nil {
		r.DisasterInfos = []model.DisasterInfo{}
	}
	return reportView{Report: r, DisplayIDs: r.DisplayIDs()}
}

func (v reportView) Text() string {
	r := v.Report
	var b strings.Builder
	fmt.Fprintf(&b, "report %d  %s\n", r.ID, r.CreatedAt.Format("2006-01-02 15:04"))
	if r.Summary != "" {
		fmt.Fprintf(&b, "summary: %s\n", r.Summary)
	}
	fmt.Fprintf(&b, "text: %s\n", oneLine(r.Text))
	if len(r.DisasterInfos) == 0 {
		b.WriteString("no extracted disaster info\n")
		return b.String()
	}
	t := newTable("DISPLAY", "INFO", "TIME", "LOCATION", "EVENT", "LEVEL", "COUNT")
	for i, d := range r.DisasterInfos {
		t.Row(
			v.DisplayIDs[i],
			strconv.FormatInt(d.ID, 10),
			d.Time, d.Location, d.Event, d.Level,
			strconv.Itoa(d.ReportCount),
		)
	}
	b.WriteString(t.String())
	return b.String()
}

type dedupView struct {
	dedup.Outcome
	Headline string `json:"headline"`
}

func newDedupView(o dedup.Outcome) dedupView {
	return dedupView{Outcome: o, Headline: o.Headline()}
}

func (v dedupView) Text() string {
	if len(v.Lines) == 0 {
		return v.Headline
	}
	return v.Headline + "\n" + strings.Join(v.Lines, "\n")
}

type logsView struct {
	Logs []model.DedupLog `json:"logs"`
}

func (v logsView) Text() string {
	if len(v.Logs) == 0 {
		return "no dedup runs yet"
	}
	t := newTable("RUN AT", "PAIRS", "CLUSTERS", "DELETED")
	for _, l := range v.Logs {
		t.Row(
			l.RunAt.Format("2006-01-02 15:04:05"),
			strconv.Itoa(l.DuplicatesDetected),
			strconv.Itoa(l.MergedClusters),
			strconv.Itoa(l.DeletedRecords),
		)
	}
	return t.String()
}

type dashboardView struct {
	model.DashboardMetrics
}

func (v dashboardView) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "total reports:  %d\n", v.TotalReports)
	fmt.Fprintf(&b, "today:          %d\n", v.TodayReports)
	fmt.Fprintf(&b, "pending dedup:  %d\n", v.PendingDedup)
	if v.LastDedup != nil {
		fmt.Fprintf(&b, "last dedup:     %s (%d merged, %d deleted)\n",
			v.LastDedup.RunAt.Format("2006-01-02 15:04"), v.LastDedup.MergedClusters, v.LastDedup.DeletedRecords)
	} else {
		b.WriteString("last dedup:     never\n")
	}
	if len(v.ReportTrend) > 0 {
		counts := make([]int, len(v.ReportTrend))
		for i, p := range v.ReportTrend {
			counts[i] = p.Count
		}
		first, last := v.ReportTrend[0].Date, v.ReportTrend[len(v.ReportTrend)-1].Date
		fmt.Fprintf(&b, "trend:          %s  %s..%s\n", format.Sparkline(counts), first, last)
	}
	return b.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
