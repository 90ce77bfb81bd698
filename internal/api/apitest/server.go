// Package apitest runs an in-memory stand-in for the report backend.
//
// Extraction and dedup here are naive placeholders that only exist so client
// flows can be exercised end to end; they make no claim to match the real
// service's algorithms.
package apitest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"relief-cli/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const AdminKey = "admin-key"

type user struct {
	id       int64
	username string
	password string
	role     model.Role
}

type RecordedRequest struct {
	Method        string
	Path          string
	Query         string
	Authorization string
}

type Server struct {
	*httptest.Server

	secret []byte

	mu           sync.Mutex
	users        map[string]*user
	nextUserID   int64
	reports      []*model.Report
	nextReportID int64
	nextInfoID   int64
	dedupLogs    []model.DedupLog
	clock        time.Time
	failUpdates  map[int64]int
	failLists    int
	requests     []RecordedRequest
}

// NewServer starts the fake backend and closes it when tb finishes.
func NewServer(tb testing.TB) *Server {
	tb.Helper()
	gin.SetMode(gin.TestMode)
	s := &Server{
		secret:       []byte("apitest-secret"),
		users:        map[string]*user{},
		nextUserID:   1,
		nextReportID: 1,
		nextInfoID:   1,
		clock:        time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC),
		failUpdates:  map[int64]int{},
	}
	s.Server = httptest.NewServer(s.router())
	tb.Cleanup(s.Close)
	return s
}

func (s *Server) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.record)

	r.POST("/auth/token", s.handleToken)
	r.POST("/auth/signup", s.handleSignup)

	authed := r.Group("/", s.requireUser)
	authed.GET("/dashboard/metrics", s.handleMetrics)
	authed.GET("/user/me", s.handleMe)
	authed.POST("/user/update_user_id", s.handleUpdateUserID)
	authed.POST("/user/change_password", s.handleChangePassword)
	authed.POST("/report", s.handleSubmit)
	authed.GET("/report/:id", s.handleGetReport)
	authed.GET("/reports", s.handleList)
	authed.GET("/reports/export_excel", s.handleExport)

	admin := r.Group("/", s.requireUser, s.requireAdmin)
	admin.PUT("/report/:id", s.handleReextract)
	admin.DELETE("/report/:id", s.handleDelete)
	admin.PUT("/disaster-info/:id", s.handleUpdateInfo)
	admin.POST("/dedup", s.handleDedup)
	admin.GET("/dedup/logs", s.handleDedupLogs)
	return r
}

// AddUser registers an account directly.
func (s *Server) AddUser(username, password string, role model.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username] = &user{id: s.nextUserID, username: username, password: password, role: role}
	s.nextUserID++
}

// Token issues a signed credential for an existing user.
func (s *Server) Token(tb testing.TB, username string) string {
	tb.Helper()
	s.mu.Lock()
	u, ok := s.users[username]
	s.mu.Unlock()
	if !ok {
		tb.Fatalf("apitest: unknown user %q", username)
	}
	tok, err := s.sign(u)
	if err != nil {
		tb.Fatalf("apitest: sign token: %v", err)
	}
	return tok
}

func (s *Server) sign(u *user) (string, error) {
	claims := jwt.MapClaims{
		"sub":  u.username,
		"role": string(u.role),
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Seed stores a report as if it had been submitted.
func (s *Server) Seed(text string) model.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(text).Clone()
}

// FailInfoUpdate makes PUT /disaster-info/{id} answer with status.
func (s *Server) FailInfoUpdate(id int64, status int) {
	s.mu.Lock()
	s.failUpdates[id] = status
	s.mu.Unlock()
}

// ClearFailures removes every injected tuple-update failure.
func (s *Server) ClearFailures() {
	s.mu.Lock()
	s.failUpdates = map[int64]int{}
	s.mu.Unlock()
}

// FailNextLists makes the next n list calls answer 500.
func (s *Server) FailNextLists(n int) {
	s.mu.Lock()
	s.failLists = n
	s.mu.Unlock()
}

// Reports returns a snapshot of every stored report, newest first.
func (s *Server) Reports() []model.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Report, 0, len(s.reports))
	for i := len(s.reports) - 1; i >= 0; i-- {
		out = append(out, s.reports[i].Clone())
	}
	return out
}

func (s *Server) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RecordedRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// RequestsTo returns recorded requests matching method and path.
func (s *Server) RequestsTo(method, path string) []RecordedRequest {
	var out []RecordedRequest
	for _, r := range s.Requests() {
		if r.Method == method && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func (s *Server) record(c *gin.Context) {
	s.mu.Lock()
	s.requests = append(s.requests, RecordedRequest{
		Method:        c.Request.Method,
		Path:          c.Request.URL.Path,
		Query:         c.Request.URL.RawQuery,
		Authorization: c.GetHeader("Authorization"),
	})
	s.mu.Unlock()
	c.Next()
}

func detail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": msg})
}

func (s *Server) requireUser(c *gin.Context) {
	h := c.GetHeader("Authorization")
	raw := strings.TrimPrefix(h, "Bearer ")
	if h == "" || raw == h {
		detail(c, http.StatusUnauthorized, "Not authenticated")
		return
	}
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !tok.Valid {
		detail(c, http.StatusUnauthorized, "认证失败，无法解析令牌")
		return
	}
	claims, _ := tok.Claims.(jwt.MapClaims)
	sub, _ := claims["sub"].(string)
	s.mu.Lock()
	u, ok := s.users[sub]
	s.mu.Unlock()
	if !ok {
		detail(c, http.StatusUnauthorized, "认证失败，无法解析令牌")
		return
	}
	c.Set("user", u)
	c.Next()
}

func (s *Server) requireAdmin(c *gin.Context) {
	u := c.MustGet("user").(*user)
	if u.role != model.RoleAdmin {
		detail(c, http.StatusForbidden, "需要管理员权限")
		return
	}
	c.Next()
}

func (s *Server) handleToken(c *gin.Context) {
	username := c.PostForm("username")
	password := c.PostForm("password")
	s.mu.Lock()
	u, ok := s.users[username]
	s.mu.Unlock()
	if !ok || u.password != password {
		detail(c, http.StatusUnauthorized, "用户名或密码错误")
		return
	}
	tok, err := s.sign(u)
	if err != nil {
		detail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, model.TokenResponse{AccessToken: tok, TokenType: "bearer"})
}

func (s *Server) handleSignup(c *gin.Context) {
	var in model.SignupRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		detail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[in.Username]; exists {
		detail(c, http.StatusBadRequest, "用户名已存在")
		return
	}
	role := model.RoleUser
	if in.AdminKey != "" && in.AdminKey == AdminKey {
		role = model.RoleAdmin
	}
	u := &user{id: s.nextUserID, username: in.Username, password: in.Password, role: role}
	s.nextUserID++
	s.users[in.Username] = u
	c.JSON(http.StatusOK, model.User{ID: u.id, Username: u.username, Role: u.role})
}

func (s *Server) handleMe(c *gin.Context) {
	u := c.MustGet("user").(*user)
	c.JSON(http.StatusOK, model.User{ID: u.id, Username: u.username, Role: u.role})
}

func (s *Server) handleUpdateUserID(c *gin.Context) {
	var in struct {
		NewUserID string `json:"new_user_id"`
	}
	if err := c.ShouldBindJSON(&in); err != nil || strings.TrimSpace(in.NewUserID) == "" {
		detail(c, http.StatusUnprocessableEntity, "new_user_id required")
		return
	}
	u := c.MustGet("user").(*user)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[in.NewUserID]; exists {
		detail(c, http.StatusBadRequest, "用户名已存在")
		return
	}
	delete(s.users, u.username)
	u.username = in.NewUserID
	s.users[u.username] = u
	c.JSON(http.StatusOK, gin.H{"message": "用户ID更新成功"})
}

func (s *Server) handleChangePassword(c *gin.Context) {
	var in struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		detail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	u := c.MustGet("user").(*user)
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.password != in.OldPassword {
		detail(c, http.StatusBadRequest, "旧密码不正确")
		return
	}
	u.password = in.NewPassword
	c.JSON(http.StatusOK, gin.H{"msg": "密码更新成功"})
}

func (s *Server) handleSubmit(c *gin.Context) {
	var in struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		detail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.mu.Lock()
	r := s.createLocked(in.Text).Clone()
	s.mu.Unlock()
	c.JSON(http.StatusOK, r)
}

func (s *Server) createLocked(text string) *model.Report {
	summary, infos := Extract(text)
	for i := range infos {
		infos[i].ID = s.nextInfoID
		s.nextInfoID++
	}
	s.clock = s.clock.Add(time.Minute)
	r := &model.Report{
		ID:            s.nextReportID,
		Text:          text,
		Summary:       summary,
		CreatedAt:     model.Timestamp{Time: s.clock},
		DisasterInfos: infos,
	}
	s.nextReportID++
	s.reports = append(s.reports, r)
	return r
}

func (s *Server) findLocked(c *gin.Context) (*model.Report, int, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		detail(c, http.StatusUnprocessableEntity, "invalid id")
		return nil, -1, false
	}
	for i, r := range s.reports {
		if r.ID == id {
			return r, i, true
		}
	}
	detail(c, http.StatusNotFound, "未找到该报告")
	return nil, -1, false
}

func (s *Server) handleGetReport(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, _, ok := s.findLocked(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, r.Clone())
}

func (s *Server) handleReextract(c *gin.Context) {
	var in struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		detail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, _, ok := s.findLocked(c)
	if !ok {
		return
	}
	summary, infos := Extract(in.Text)
	for i := range infos {
		infos[i].ID = s.nextInfoID
		s.nextInfoID++
	}
	r.Text = in.Text
	r.Summary = summary
	r.DisasterInfos = infos
	c.JSON(http.StatusOK, r.Clone())
}

func (s *Server) handleDelete(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, idx, ok := s.findLocked(c)
	if !ok {
		return
	}
	s.reports = append(s.reports[:idx], s.reports[idx+1:]...)
	c.JSON(http.StatusOK, gin.H{"detail": "删除成功"})
}

func (s *Server) handleUpdateInfo(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		detail(c, http.StatusUnprocessableEntity, "invalid id")
		return
	}
	var in model.DisasterInfoUpdate
	if err := c.ShouldBindJSON(&in); err != nil {
		detail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if status, ok := s.failUpdates[id]; ok {
		detail(c, status, fmt.Sprintf("update of tuple %d failed", id))
		return
	}
	for _, r := range s.reports {
		for i := range r.DisasterInfos {
			d := &r.DisasterInfos[i]
			if d.ID != id {
				continue
			}
			d.Time, d.Location, d.Event, d.Level = in.Time, in.Location, in.Event, in.Level
			c.JSON(http.StatusOK, *d)
			return
		}
	}
	detail(c, http.StatusNotFound, "未找到该灾情元组")
}

func (s *Server) matchingLocked(q string) []*model.Report {
	var out []*model.Report
	for i := len(s.reports) - 1; i >= 0; i-- {
		r := s.reports[i]
		if q == "" || matches(r, q) {
			out = append(out, r)
		}
	}
	return out
}

func matches(r *model.Report, q string) bool {
	if strings.Contains(r.Summary, q) {
		return true
	}
	for _, d := range r.DisasterInfos {
		for _, f := range d.Fields() {
			if strings.Contains(f, q) {
				return true
			}
		}
	}
	return false
}

func (s *Server) handleList(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	if page < 1 || size < 1 {
		detail(c, http.StatusUnprocessableEntity, "page and page_size must be >= 1")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failLists > 0 {
		s.failLists--
		detail(c, http.StatusInternalServerError, "database unavailable")
		return
	}
	all := s.matchingLocked(c.Query("q"))
	items := []model.Report{}
	start := (page - 1) * size
	for i := start; i < len(all) && i < start+size; i++ {
		items = append(items, all[i].Clone())
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": len(all)})
}

func (s *Server) handleExport(c *gin.Context) {
	s.mu.Lock()
	all := s.matchingLocked(c.Query("q"))
	var b strings.Builder
	b.WriteString("报告ID\t摘要\t上报时间\t时间\t地点\t灾害类型\t受灾程度\t上报次数\n")
	for _, r := range all {
		for _, d := range r.DisasterInfos {
			fmt.Fprintf(&b, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
				r.ID, r.Summary, r.CreatedAt.Format("2006-01-02 15:04:05"),
				d.Time, d.Location, d.Event, d.Level, d.ReportCount)
		}
	}
	s.mu.Unlock()
	c.Header("Content-Disposition", "attachment; filename=report_export.xlsx")
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", []byte(b.String()))
}

func (s *Server) handleMetrics(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	today := s.clock.Truncate(24 * time.Hour)
	out := model.DashboardMetrics{TotalReports: len(s.reports)}
	var lastRun time.Time
	if n := len(s.dedupLogs); n > 0 {
		last := s.dedupLogs[n-1]
		out.LastDedup = &last
		lastRun = last.RunAt.Time
	}
	for _, r := range s.reports {
		if !r.CreatedAt.Before(today) {
			out.TodayReports++
		}
		if r.CreatedAt.After(lastRun) {
			out.PendingDedup++
		}
	}
	for i := 6; i >= 0; i-- {
		day := today.AddDate(0, 0, -i)
		n := 0
		for _, r := range s.reports {
			if !r.CreatedAt.Before(day) && r.CreatedAt.Before(day.AddDate(0, 0, 1)) {
				n++
			}
		}
		out.ReportTrend = append(out.ReportTrend, model.TrendPoint{Date: day.Format("2006-01-02"), Count: n})
	}
	c.JSON(http.StatusOK, out)
}

type tupleRef struct {
	report *model.Report
	index  int
}

// handleDedup folds tuples that share a location and time. The tuple with the
// highest report count (then lowest id) survives and absorbs the counts.
func (s *Server) handleDedup(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	display := map[int64]string{}
	groups := map[string][]tupleRef{}
	var keys []string
	for _, r := range s.reports {
		for i, d := range r.DisasterInfos {
			display[d.ID] = model.DisplayID(r.ID, i)
			if strings.TrimSpace(d.Location) == "" {
				continue
			}
			k := d.Location + "\x00" + d.Time
			if _, seen := groups[k]; !seen {
				keys = append(keys, k)
			}
			groups[k] = append(groups[k], tupleRef{report: r, index: i})
		}
	}

	out := model.DedupRunResult{ClusterDetails: []model.ClusterDetail{}}
	doomed := map[int64]bool{}
	for _, k := range keys {
		refs := groups[k]
		if len(refs) < 2 {
			continue
		}
		out.DuplicatesDetected += len(refs) * (len(refs) - 1) / 2
		out.MergedClusters++
		out.DeletedRecords += len(refs) - 1

		sort.SliceStable(refs, func(i, j int) bool {
			a := refs[i].report.DisasterInfos[refs[i].index]
			b := refs[j].report.DisasterInfos[refs[j].index]
			if a.ReportCount != b.ReportCount {
				return a.ReportCount > b.ReportCount
			}
			return a.ID < b.ID
		})
		main := &refs[0].report.DisasterInfos[refs[0].index]
		cd := model.ClusterDetail{MainDisplayID: display[main.ID]}
		for _, ref := range refs[1:] {
			d := ref.report.DisasterInfos[ref.index]
			main.ReportCount += d.ReportCount
			doomed[d.ID] = true
			cd.MergedDisplayIDs = append(cd.MergedDisplayIDs, display[d.ID])
		}
		out.ClusterDetails = append(out.ClusterDetails, cd)
	}

	kept := s.reports[:0]
	for _, r := range s.reports {
		infos := r.DisasterInfos[:0]
		for _, d := range r.DisasterInfos {
			if !doomed[d.ID] {
				infos = append(infos, d)
			}
		}
		r.DisasterInfos = infos
		if len(infos) > 0 {
			kept = append(kept, r)
		}
	}
	s.reports = kept

	s.clock = s.clock.Add(time.Minute)
	s.dedupLogs = append(s.dedupLogs, model.DedupLog{
		RunAt:              model.Timestamp{Time: s.clock},
		DuplicatesDetected: out.DuplicatesDetected,
		MergedClusters:     out.MergedClusters,
		DeletedRecords:     out.DeletedRecords,
	})
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleDedupLogs(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.DedupLog, 0, len(s.dedupLogs))
	for i := len(s.dedupLogs) - 1; i >= 0; i-- {
		out = append(out, s.dedupLogs[i])
	}
	c.JSON(http.StatusOK, out)
}
