package tui

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"relief-cli/internal/api"
	"relief-cli/internal/api/apitest"
	"relief-cli/internal/model"
	"relief-cli/internal/session"
	"relief-cli/internal/store"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/golang-jwt/jwt/v5"
)

// runCmd executes cmd and flattens batches. Commands that don't finish
// quickly (ticks, session waits) are dropped.
func runCmd(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	ch := make(chan tea.Msg, 1)
	go func() { ch <- cmd() }()
	select {
	case msg := <-ch:
		if batch, ok := msg.(tea.BatchMsg); ok {
			var out []tea.Msg
			for _, c := range batch {
				out = append(out, runCmd(c)...)
			}
			return out
		}
		if msg == nil {
			return nil
		}
		return []tea.Msg{msg}
	case <-time.After(300 * time.Millisecond):
		return nil
	}
}

func settle(t *testing.T, m appModel, cmd tea.Cmd) appModel {
	t.Helper()
	queue := runCmd(cmd)
	for i := 0; len(queue) > 0; i++ {
		if i > 100 {
			t.Fatalf("messages did not settle")
		}
		msg := queue[0]
		queue = queue[1:]
		next, c := m.Update(msg)
		m = next.(appModel)
		queue = append(queue, runCmd(c)...)
	}
	return m
}

func press(t *testing.T, m appModel, keys ...string) appModel {
	t.Helper()
	for _, k := range keys {
		var msg tea.KeyMsg
		switch k {
		case "enter":
			msg = tea.KeyMsg{Type: tea.KeyEnter}
		case "esc":
			msg = tea.KeyMsg{Type: tea.KeyEsc}
		case "tab":
			msg = tea.KeyMsg{Type: tea.KeyTab}
		case "ctrl+s":
			msg = tea.KeyMsg{Type: tea.KeyCtrlS}
		case "ctrl+r":
			msg = tea.KeyMsg{Type: tea.KeyCtrlR}
		case "ctrl+t":
			msg = tea.KeyMsg{Type: tea.KeyCtrlT}
		default:
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
		}
		next, cmd := m.Update(msg)
		m = settle(t, next.(appModel), cmd)
	}
	return m
}

type fixture struct {
	srv      *apitest.Server
	client   *api.Client
	sessions *session.Store
	state    store.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := apitest.NewServer(t)
	srv.AddUser("alice", "pw", model.RoleUser)
	srv.AddUser("root", "pw", model.RoleAdmin)
	c := api.New(srv.URL, nil)
	sessions := session.NewStore(nil, c)
	if _, err := sessions.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	return &fixture{srv: srv, client: c, sessions: sessions, state: store.Store{Dir: t.TempDir()}}
}

func (f *fixture) signIn(t *testing.T, username string) {
	t.Helper()
	if _, err := f.sessions.Login(context.Background(), f.srv.Token(t, username)); err != nil {
		t.Fatalf("Login: %v", err)
	}
}

func (f *fixture) start(t *testing.T) appModel {
	t.Helper()
	m := newAppModel(Options{Client: f.client, Sessions: f.sessions, Config: &store.GlobalConfig{}, State: f.state})
	t.Cleanup(m.shutdown)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m = next.(appModel)
	return settle(t, m, m.navigate(m.view))
}

func TestSignedOutStartsOnLogin(t *testing.T) {
	f := newFixture(t)
	m := f.start(t)

	if m.view != viewLogin {
		t.Fatalf("view = %s, want login", m.view)
	}
	if n := len(f.srv.Requests()); n != 0 {
		t.Fatalf("expected no requests before sign-in; got %d", n)
	}
	if !strings.Contains(m.View(), "Sign in") {
		t.Fatalf("expected sign-in form:\n%s", m.View())
	}
}

func TestLoginLoadsReports(t *testing.T) {
	f := newFixture(t)
	f.srv.Seed("7月1日，四川发生山洪，造成3人受伤")
	m := f.start(t)

	m.authInputs[0].SetValue("alice")
	m.authInputs[1].SetValue("pw")
	m.focusAuth(1)
	m = press(t, m, "enter")

	if m.view != viewReports {
		t.Fatalf("view = %s, want reports", m.view)
	}
	if !m.snap.Loaded || len(m.snap.Page.Items) != 1 {
		t.Fatalf("expected one loaded report; got %+v", m.snap)
	}
	if sess, ok := f.sessions.Current(); !ok || sess.Role != model.RoleUser {
		t.Fatalf("expected user session; got %+v %v", sess, ok)
	}
}

func TestLoginFailureStaysOnForm(t *testing.T) {
	f := newFixture(t)
	m := f.start(t)

	m.authInputs[0].SetValue("alice")
	m.authInputs[1].SetValue("wrong")
	m.focusAuth(1)
	m = press(t, m, "enter")

	if m.view != viewLogin {
		t.Fatalf("view = %s, want login", m.view)
	}
	if !strings.Contains(m.notice, "用户名或密码错误") {
		t.Fatalf("expected server detail in notice; got %q", m.notice)
	}
}

func TestSignedInSkipsLogin(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, "alice")
	m := f.start(t)

	m = settle(t, m, m.navigate(viewLogin))
	if m.view != viewReports {
		t.Fatalf("guest-only view should redirect home; got %s", m.view)
	}
}

func TestStalePageNeverOverwritesNewer(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, "alice")
	m := f.start(t)

	older := m.list.Begin()
	newer := m.list.Begin()
	newPage := model.Page{Number: 1, Size: 10, Total: 1, Items: []model.Report{{ID: 2}}}
	oldPage := model.Page{Number: 1, Size: 10, Total: 1, Items: []model.Report{{ID: 1}}}

	next, _ := m.Update(pageMsg{ticket: newer, page: newPage})
	m = next.(appModel)
	next, _ = m.Update(pageMsg{ticket: older, page: oldPage})
	m = next.(appModel)

	if got := m.snap.Page.Items[0].ID; got != 2 {
		t.Fatalf("stale page was applied; item id = %d", got)
	}
}

func TestPollTickIgnoredAfterViewChange(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, "alice")
	m := f.start(t)

	gen := m.pollGen
	m = settle(t, m, m.navigate(viewDashboard))
	before := len(f.srv.RequestsTo(http.MethodGet, "/reports"))
	next, cmd := m.Update(pollTickMsg{gen: gen})
	m = settle(t, next.(appModel), cmd)
	if after := len(f.srv.RequestsTo(http.MethodGet, "/reports")); after != before {
		t.Fatalf("poll tick from an old view issued a load")
	}
	if m.dashboard == nil {
		t.Fatalf("expected dashboard metrics to load")
	}
}

func TestSearchResetsPage(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 12; i++ {
		f.srv.Seed("7月1日，四川发生山洪")
	}
	f.signIn(t, "alice")
	m := f.start(t)

	m = press(t, m, "n")
	if got := m.list.Query().Page; got != 2 {
		t.Fatalf("page = %d, want 2", got)
	}
	m = press(t, m, "/")
	if m.modal != modalSearch {
		t.Fatalf("expected search modal")
	}
	m.search.SetValue("四川")
	m = press(t, m, "enter")
	q := m.list.Query()
	if q.Page != 1 || q.Keyword != "四川" {
		t.Fatalf("query = %+v, want page 1 keyword 四川", q)
	}
	if !m.snap.Loaded || m.snap.Page.Total != 12 {
		t.Fatalf("expected filtered page; got %+v", m.snap.Page)
	}
}

func TestAdminActionsHiddenFromUsers(t *testing.T) {
	f := newFixture(t)
	f.srv.Seed("7月1日，四川发生山洪")
	f.signIn(t, "alice")
	m := f.start(t)

	for _, k := range []string{"enter", "d", "D"} {
		m = press(t, m, k)
		if m.modal != modalNone {
			t.Fatalf("%s opened modal %d for a user", k, m.modal)
		}
		if m.flash != "admin only" {
			t.Fatalf("%s: flash = %q", k, m.flash)
		}
	}
	if strings.Contains(m.keyHints(), "d: delete") {
		t.Fatalf("delete hint shown to a user")
	}
}

func TestEditModal_ManualSave(t *testing.T) {
	f := newFixture(t)
	r := f.srv.Seed("7月1日，四川发生山洪，造成3人受伤")
	f.signIn(t, "root")
	m := f.start(t)

	m = press(t, m, "enter")
	if m.modal != modalEdit {
		t.Fatalf("expected edit modal")
	}
	_ = m.View()
	m = press(t, m, "l", "l", "l", "enter")
	if !m.editingCell {
		t.Fatalf("expected cell editor")
	}
	m.cellInput.SetValue("5人受伤")
	m = press(t, m, "enter", "ctrl+s")

	if m.modal != modalNone {
		t.Fatalf("expected modal to close after save; flash %q", m.flash)
	}
	if got := f.srv.Reports()[0].DisasterInfos[0].Level; got != "5人受伤" {
		t.Fatalf("level = %q", got)
	}
	path := "/disaster-info/" + strconv.FormatInt(r.DisasterInfos[0].ID, 10)
	if n := len(f.srv.RequestsTo(http.MethodPut, path)); n != 1 {
		t.Fatalf("expected one PUT; got %d", n)
	}
	if m.snap.Page.Items[0].DisasterInfos[0].Level != "5人受伤" {
		t.Fatalf("list not reloaded after save")
	}
}

func TestEditModal_PartialFailureThenRollback(t *testing.T) {
	f := newFixture(t)
	r := f.srv.Seed("7月1日，四川发生山洪，造成3人受伤；7月2日，云南发生地震，造成房屋倒塌")
	f.signIn(t, "root")
	f.srv.FailInfoUpdate(r.DisasterInfos[1].ID, http.StatusInternalServerError)
	m := f.start(t)

	m = press(t, m, "enter")
	for row := 0; row < 2; row++ {
		if err := m.editor.SetInfoField(row, 3, "已修正"); err != nil {
			t.Fatalf("SetInfoField: %v", err)
		}
	}
	m = press(t, m, "ctrl+s")
	if m.modal != modalEdit {
		t.Fatalf("expected modal to stay open after partial failure")
	}
	if !strings.Contains(m.flash, "saved 1, not saved 1") {
		t.Fatalf("flash = %q", m.flash)
	}
	if got := f.srv.Reports()[0].DisasterInfos[0].Level; got != "已修正" {
		t.Fatalf("first tuple should be written; got %q", got)
	}

	m = press(t, m, "ctrl+r")
	if got := f.srv.Reports()[0].DisasterInfos[0].Level; got != "3人受伤" {
		t.Fatalf("rollback did not restore first tuple; got %q", got)
	}
}

func TestEditModal_ReextractBlankSendsNothing(t *testing.T) {
	f := newFixture(t)
	r := f.srv.Seed("7月1日，四川发生山洪")
	f.signIn(t, "root")
	m := f.start(t)

	m = press(t, m, "enter", "ctrl+t")
	m.reextractArea.SetValue("   ")
	m = press(t, m, "ctrl+s")
	if !m.flashErr {
		t.Fatalf("expected validation error flash")
	}
	if n := len(f.srv.RequestsTo(http.MethodPut, "/report/"+strconv.FormatInt(r.ID, 10))); n != 0 {
		t.Fatalf("blank re-extract sent %d request(s)", n)
	}

	m.reextractArea.SetValue("7月8日，重庆发生暴雨")
	m = press(t, m, "ctrl+s")
	if m.modal != modalNone {
		t.Fatalf("expected modal to close; flash %q", m.flash)
	}
	if got := m.snap.Page.Items[0].DisasterInfos[0].Location; got != "重庆" {
		t.Fatalf("list not refreshed with re-extracted tuple; got %q", got)
	}
}

func TestDeleteConfirm(t *testing.T) {
	f := newFixture(t)
	r := f.srv.Seed("7月1日，四川发生山洪")
	f.signIn(t, "root")
	m := f.start(t)
	path := "/report/" + strconv.FormatInt(r.ID, 10)

	m = press(t, m, "d")
	if m.modal != modalConfirmDelete {
		t.Fatalf("expected delete confirmation")
	}
	_ = m.View()
	m = press(t, m, "n")
	if n := len(f.srv.RequestsTo(http.MethodDelete, path)); n != 0 {
		t.Fatalf("declined delete sent a request")
	}

	m = press(t, m, "d", "y")
	if len(f.srv.Reports()) != 0 {
		t.Fatalf("report not deleted")
	}
	if len(m.snap.Page.Items) != 0 {
		t.Fatalf("list not reloaded after delete")
	}
}

func TestDedupConfirmShowsOutcome(t *testing.T) {
	f := newFixture(t)
	f.srv.Seed("7月1日，四川发生山洪，造成3人受伤")
	f.srv.Seed("7月1日，四川发生山洪，造成道路中断")
	f.signIn(t, "root")
	m := f.start(t)

	m = press(t, m, "D", "esc")
	if n := len(f.srv.RequestsTo(http.MethodPost, "/dedup")); n != 0 {
		t.Fatalf("declined dedup sent a request")
	}

	m = press(t, m, "D", "y")
	if m.modal != modalDedupResult {
		t.Fatalf("expected dedup result modal; flash %q", m.flash)
	}
	if !strings.Contains(m.View(), "merged 1 cluster(s)") {
		t.Fatalf("outcome not rendered:\n%s", m.View())
	}
	if len(m.snap.Page.Items) != 1 {
		t.Fatalf("expected list reload after dedup; got %d items", len(m.snap.Page.Items))
	}
}

func TestLogoutReturnsToLogin(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, "alice")
	m := f.start(t)

	m = press(t, m, "L")
	if m.view != viewLogin {
		t.Fatalf("view = %s, want login", m.view)
	}
	if _, ok := f.sessions.Current(); ok {
		t.Fatalf("session still present")
	}
}

func TestQuitSavesState(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, "alice")
	m := f.start(t)

	m.list.SetKeyword("云南")
	m = press(t, m, "p", "q")

	st, err := f.state.LoadTUIState()
	if err != nil {
		t.Fatalf("LoadTUIState: %v", err)
	}
	if st.Keyword != "云南" || !st.ShowPreview || st.View != "reports" {
		t.Fatalf("unexpected saved state %+v", st)
	}

	restored := newAppModel(Options{Client: f.client, Sessions: f.sessions, State: f.state})
	t.Cleanup(restored.shutdown)
	if restored.list.Query().Keyword != "云南" || !restored.showPreview {
		t.Fatalf("state not restored: %+v", restored.list.Query())
	}
}

func TestPreviewRendersSelectedReport(t *testing.T) {
	f := newFixture(t)
	f.srv.Seed("7月1日，四川发生山洪，造成3人受伤")
	f.signIn(t, "alice")
	m := f.start(t)

	m = press(t, m, "p")
	out := m.View()
	if !strings.Contains(out, "Report") || !strings.Contains(out, "山洪") {
		t.Fatalf("preview missing report content:\n%s", out)
	}
}

func TestUnauthorizedFetchKeepsSession(t *testing.T) {
	f := newFixture(t)
	// Well-formed, but signed with a key the backend does not accept.
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "ghost", "role": "user"}).SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := f.sessions.Login(context.Background(), raw); err != nil {
		t.Fatalf("Login: %v", err)
	}
	m := f.start(t)

	if m.view != viewReports {
		t.Fatalf("view = %s, want reports", m.view)
	}
	if _, ok := f.sessions.Current(); !ok {
		t.Fatalf("401 on list signed the user out")
	}
	if !strings.Contains(m.notice, "认证失败") {
		t.Fatalf("expected server detail in notice; got %q", m.notice)
	}
	if !strings.Contains(m.View(), "认证失败") {
		t.Fatalf("notice not rendered:\n%s", m.View())
	}
}

func TestFailureNoticeStaysUntilDismissed(t *testing.T) {
	f := newFixture(t)
	f.srv.Seed("7月1日，四川发生山洪")
	f.signIn(t, "alice")
	m := f.start(t)

	f.srv.FailNextLists(1)
	m = press(t, m, "r")
	if m.notice == "" || m.noticeTitle != "failed to load reports" {
		t.Fatalf("expected failure notice; got %q / %q", m.noticeTitle, m.notice)
	}

	next, _ := m.Update(flashDoneMsg{seq: m.flashSeq})
	m = next.(appModel)
	if m.notice == "" {
		t.Fatalf("notice cleared by the flash timer")
	}

	// Keys other than dismiss are swallowed while the notice is up.
	m = press(t, m, "s")
	if m.modal != modalNone || m.notice == "" {
		t.Fatalf("notice should block other keys; modal=%d notice=%q", m.modal, m.notice)
	}

	m = press(t, m, "enter")
	if m.notice != "" {
		t.Fatalf("enter should dismiss the notice")
	}
	if len(m.snap.Page.Items) != 1 {
		t.Fatalf("last good page should stay visible after a failed refresh")
	}
}
