package model

import (
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

func (r Role) Valid() bool { return r == RoleAdmin || r == RoleUser }

// Session is the identity derived from a bearer credential. Role is read from
// the credential's claims without verification and is only a UI hint.
type Session struct {
	Credential string `json:"-"`
	Role       Role   `json:"role"`
	Subject    string `json:"subject,omitempty"`
}

func (s Session) IsAdmin() bool { return s.Role == RoleAdmin }

// Timestamp accepts the naive ISO-8601 values the backend emits
// ("2025-07-01T08:30:00.123456") as well as RFC 3339. Naive values are UTC.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Timestamp{}, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Timestamp{Time: t.UTC()}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("invalid timestamp %q", s)
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		t.Time = time.Time{}
		return nil
	}
	s = strings.Trim(s, `"`)
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.UTC().Format(time.RFC3339) + `"`), nil
}

type DisasterInfo struct {
	ID             int64  `json:"id"`
	Time           string `json:"time"`
	Location       string `json:"location"`
	Event          string `json:"event"`
	Level          string `json:"level"`
	ReportCount    int    `json:"report_count"`
	HasBeenChecked bool   `json:"has_been_checked,omitempty"`
}

// Fields returns the four editable fields in display order.
func (d DisasterInfo) Fields() [4]string {
	return [4]string{d.Time, d.Location, d.Event, d.Level}
}

// SameFields reports whether the editable fields of a and b are equal.
func (d DisasterInfo) SameFields(o DisasterInfo) bool {
	return d.Fields() == o.Fields()
}

func (d DisasterInfo) Update() DisasterInfoUpdate {
	return DisasterInfoUpdate{Time: d.Time, Location: d.Location, Event: d.Event, Level: d.Level}
}

// DisasterInfoUpdate is the body of PUT /disaster-info/{id}.
type DisasterInfoUpdate struct {
	Time     string `json:"time"`
	Location string `json:"location"`
	Event    string `json:"event"`
	Level    string `json:"level"`
}

type Report struct {
	ID            int64          `json:"id"`
	Text          string         `json:"text"`
	Summary       string         `json:"summary"`
	CreatedAt     Timestamp      `json:"created_at"`
	DisasterInfos []DisasterInfo `json:"disaster_infos"`
}

// DisplayID is the identifier the dedup service uses for a tuple:
// "<report id>.<1-based position within the report>".
func DisplayID(reportID int64, index int) string {
	return fmt.Sprintf("%d.%d", reportID, index+1)
}

func (r Report) DisplayIDs() []string {
	out := make([]string, 0, len(r.DisasterInfos))
	for i := range r.DisasterInfos {
		out = append(out, DisplayID(r.ID, i))
	}
	return out
}

// ReportCount is the number of raw submissions folded into the report's lead tuple.
func (r Report) ReportCount() int {
	if len(r.DisasterInfos) == 0 {
		return 0
	}
	return r.DisasterInfos[0].ReportCount
}

// Clone returns a deep copy; edits to the copy never reach r.
func (r Report) Clone() Report {
	out := r
	if r.DisasterInfos != nil {
		out.DisasterInfos = make([]DisasterInfo, len(r.DisasterInfos))
		copy(out.DisasterInfos, r.DisasterInfos)
	}
	return out
}

const DefaultPageSize = 10

type ListQuery struct {
	Keyword  string
	Page     int
	PageSize int
}

type Page struct {
	Keyword string   `json:"keyword"`
	Number  int      `json:"page"`
	Size    int      `json:"pageSize"`
	Total   int      `json:"total"`
	Items   []Report `json:"items"`
}

func (p Page) HasNext() bool     { return p.Number*p.Size < p.Total }
func (p Page) HasPrevious() bool { return p.Number > 1 }

func (p Page) PageCount() int {
	if p.Size <= 0 || p.Total <= 0 {
		return 1
	}
	return (p.Total + p.Size - 1) / p.Size
}

// Label renders "page N / M".
func (p Page) Label() string {
	n := p.Number
	if n < 1 {
		n = 1
	}
	return fmt.Sprintf("page %d / %d", n, p.PageCount())
}

// Contains reports whether a report with the given id is on the page.
func (p Page) Contains(id int64) bool {
	for _, r := range p.Items {
		if r.ID == id {
			return true
		}
	}
	return false
}

// DisplayIDs returns every tuple display id on the page.
func (p Page) DisplayIDs() map[string]bool {
	out := map[string]bool{}
	for _, r := range p.Items {
		for _, id := range r.DisplayIDs() {
			out[id] = true
		}
	}
	return out
}

type ClusterDetail struct {
	MainDisplayID    string   `json:"main_display_id"`
	MergedDisplayIDs []string `json:"merged_display_ids"`
}

type DedupRunResult struct {
	RanAt              time.Time       `json:"ran_at"`
	DuplicatesDetected int             `json:"duplicates_detected"`
	MergedClusters     int             `json:"merged_clusters"`
	DeletedRecords     int             `json:"deleted_records"`
	ClusterDetails     []ClusterDetail `json:"cluster_details"`
}

type DedupLog struct {
	RunAt              Timestamp `json:"run_at"`
	DuplicatesDetected int       `json:"duplicates_detected"`
	MergedClusters     int       `json:"merged_clusters"`
	DeletedRecords     int       `json:"deleted_records"`
}

type TrendPoint struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type DashboardMetrics struct {
	TotalReports int          `json:"total_reports"`
	TodayReports int          `json:"today_reports"`
	PendingDedup int          `json:"pending_dedup"`
	LastDedup    *DedupLog    `json:"last_dedup"`
	ReportTrend  []TrendPoint `json:"report_trend"`
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type SignupRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	AdminKey string `json:"admin_key"`
}
