package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"relief-cli/internal/api/apitest"
	"relief-cli/internal/export"
	"relief-cli/internal/model"
)

const threeEvents = "7月1日，四川发生山洪，造成3人受伤；7月2日，云南发生地震，造成房屋倒塌；7月3日，贵州发生滑坡，造成道路中断"

func runCLI(t *testing.T, args []string) (stdout []byte, stderr []byte, err error) {
	t.Helper()

	cmd := NewRootCmd()

	var outBuf bytes.Buffer
	var errBuf bytes.Buffer
	cmd.SetOut(&outBuf)
	cmd.SetErr(&errBuf)
	cmd.SetArgs(args)

	e := cmd.Execute()
	return outBuf.Bytes(), errBuf.Bytes(), e
}

type harness struct {
	t   *testing.T
	srv *apitest.Server
	dir string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Setenv("RELIEF_CONFIG_DIR", t.TempDir())
	t.Setenv("RELIEF_PASSWORD", "")
	srv := apitest.NewServer(t)
	srv.AddUser("alice", "pw", model.RoleUser)
	srv.AddUser("root", "pw", model.RoleAdmin)
	return &harness{t: t, srv: srv, dir: t.TempDir()}
}

func (h *harness) args(args ...string) []string {
	return append([]string{"--server", h.srv.URL, "--dir", h.dir}, args...)
}

func (h *harness) run(args ...string) (string, string, error) {
	h.t.Helper()
	stdout, stderr, err := runCLI(h.t, h.args(args...))
	return string(stdout), string(stderr), err
}

func (h *harness) mustEnv(args ...string) map[string]any {
	h.t.Helper()
	stdout, stderr, err := runCLI(h.t, h.args(args...))
	if err != nil {
		h.t.Fatalf("command failed: relief %v\nerr: %v\nstderr:\n%s\nstdout:\n%s", args, err, string(stderr), string(stdout))
	}
	var env map[string]any
	if err := json.Unmarshal(stdout, &env); err != nil {
		h.t.Fatalf("unmarshal stdout as json envelope: %v\nstdout:\n%s\nargs: %v", err, string(stdout), args)
	}
	if _, ok := env["data"]; !ok {
		h.t.Fatalf("expected JSON envelope to contain data key; got: %v\nstdout:\n%s", env, string(stdout))
	}
	if meta, ok := env["meta"]; ok && meta != nil {
		if _, ok := meta.(map[string]any); !ok {
			h.t.Fatalf("expected meta to be object; got %T", meta)
		}
	}
	if hints, ok := env["_hints"]; ok && hints != nil {
		if _, ok := hints.([]any); !ok {
			h.t.Fatalf("expected _hints to be list; got %T", hints)
		}
	}
	return env
}

func (h *harness) login(username string) {
	h.t.Helper()
	h.mustEnv("login", "--username", username, "--password", "pw")
}

func data(env map[string]any) map[string]any {
	m, _ := env["data"].(map[string]any)
	return m
}

func TestOutputContract_JSONEnvelope(t *testing.T) {
	h := newHarness(t)
	h.srv.Seed("7月1日，四川发生山洪，造成3人受伤")

	who := data(h.mustEnv("whoami"))
	if who["signedIn"] != false {
		t.Fatalf("expected signed out before login; got %#v", who)
	}

	h.login("root")
	who = data(h.mustEnv("whoami", "--remote"))
	if who["signedIn"] != true || who["role"] != "admin" || who["subject"] != "root" {
		t.Fatalf("unexpected whoami after login: %#v", who)
	}

	list := h.mustEnv("reports", "list")
	items, _ := data(list)["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected 1 report; got %#v", data(list))
	}
	id := int64(items[0].(map[string]any)["id"].(float64))

	h.mustEnv("reports", "show", strconv.FormatInt(id, 10))
	h.mustEnv("reports", "submit", "--text", "7月2日，云南发生地震，造成房屋倒塌")
	h.mustEnv("dashboard")
	h.mustEnv("dedup", "logs")
	h.mustEnv("profile", "show")
	h.mustEnv("config", "show")
	h.mustEnv("logout")

	who = data(h.mustEnv("whoami"))
	if who["signedIn"] != false {
		t.Fatalf("expected signed out after logout; got %#v", who)
	}
}

func TestProtectedCommandsRequireLogin(t *testing.T) {
	h := newHarness(t)

	for _, args := range [][]string{
		{"reports", "list"},
		{"reports", "show", "1"},
		{"dashboard"},
		{"export"},
	} {
		_, stderr, err := h.run(args...)
		if err == nil {
			t.Fatalf("relief %v: expected an error when signed out", args)
		}
		if !strings.Contains(stderr, "not signed in") {
			t.Fatalf("relief %v: expected sign-in hint on stderr; got %q", args, stderr)
		}
	}
	if n := len(h.srv.Requests()); n != 0 {
		t.Fatalf("expected no backend requests while signed out; got %d", n)
	}
}

func TestLogin_WrongPasswordShowsServerDetail(t *testing.T) {
	h := newHarness(t)

	_, stderr, err := h.run("login", "--username", "alice", "--password", "nope")
	if err == nil {
		t.Fatalf("expected login failure")
	}
	if !strings.Contains(stderr, "用户名或密码错误") {
		t.Fatalf("expected server detail on stderr; got %q", stderr)
	}
}

func TestLogin_PasswordFromEnv(t *testing.T) {
	h := newHarness(t)
	t.Setenv("RELIEF_PASSWORD", "pw")

	got := data(h.mustEnv("login", "--username", "alice"))
	if got["role"] != "user" {
		t.Fatalf("expected user role; got %#v", got)
	}
}

func TestReportsList_PagingHintsAndText(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 12; i++ {
		h.srv.Seed("7月1日，四川发生山洪，造成3人受伤")
	}
	h.login("alice")

	env := h.mustEnv("reports", "list", "--page", "2")
	d := data(env)
	if d["page"] != float64(2) || d["pageCount"] != float64(2) || d["total"] != float64(12) {
		t.Fatalf("unexpected page fields: %#v", d)
	}
	if items, _ := d["items"].([]any); len(items) != 2 {
		t.Fatalf("expected 2 items on the last page; got %d", len(items))
	}
	if label := env["meta"].(map[string]any)["label"]; label != "page 2 / 2" {
		t.Fatalf("unexpected label %v", label)
	}

	stdout, _, err := h.run("--format", "text", "reports", "list", "--q", "不存在")
	if err != nil {
		t.Fatalf("text list: %v", err)
	}
	if !strings.Contains(stdout, "page 1 / 1") || !strings.Contains(stdout, "no reports") {
		t.Fatalf("unexpected text output:\n%s", stdout)
	}
}

func TestReportsWatch_StopsAfterCount(t *testing.T) {
	h := newHarness(t)
	h.srv.Seed("7月1日，四川发生山洪，造成3人受伤")
	h.login("alice")

	stdout, stderr, err := h.run("reports", "watch", "--interval", "20ms", "--count", "2")
	if err != nil {
		t.Fatalf("watch: %v\nstderr:\n%s", err, stderr)
	}
	dec := json.NewDecoder(strings.NewReader(stdout))
	var n int
	for dec.More() {
		var env map[string]any
		if err := dec.Decode(&env); err != nil {
			t.Fatalf("decode page %d: %v", n+1, err)
		}
		n++
	}
	if n != 2 {
		t.Fatalf("expected 2 pages, got %d:\n%s", n, stdout)
	}
}

func TestReportsSubmit_BlankTextSendsNothing(t *testing.T) {
	h := newHarness(t)
	h.login("alice")

	_, stderr, err := h.run("reports", "submit", "--text", "   ")
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(stderr, "must not be empty") {
		t.Fatalf("unexpected stderr %q", stderr)
	}
	if got := h.srv.RequestsTo(http.MethodPost, "/report"); len(got) != 0 {
		t.Fatalf("expected no submit request; got %d", len(got))
	}
}

func TestReportsDelete_RequiresYes(t *testing.T) {
	h := newHarness(t)
	r := h.srv.Seed("7月1日，四川发生山洪")
	h.login("root")
	id := strconv.FormatInt(r.ID, 10)

	_, stderr, err := h.run("reports", "delete", id)
	if err == nil || !strings.Contains(stderr, "--yes") {
		t.Fatalf("expected confirmation error; err=%v stderr=%q", err, stderr)
	}
	if got := h.srv.RequestsTo(http.MethodDelete, "/report/"+id); len(got) != 0 {
		t.Fatalf("expected no delete request without --yes")
	}

	h.mustEnv("reports", "delete", id, "--yes")
	if len(h.srv.Reports()) != 0 {
		t.Fatalf("expected report to be deleted")
	}
}

func TestReportsDelete_UserRejectedByServer(t *testing.T) {
	h := newHarness(t)
	r := h.srv.Seed("7月1日，四川发生山洪")
	h.login("alice")

	_, stderr, err := h.run("reports", "delete", strconv.FormatInt(r.ID, 10), "--yes")
	if err == nil || !strings.Contains(stderr, "需要管理员权限") {
		t.Fatalf("expected server rejection; err=%v stderr=%q", err, stderr)
	}
}

func TestReportsEdit_SendsOnlyChangedTuples(t *testing.T) {
	h := newHarness(t)
	r := h.srv.Seed(threeEvents)
	h.login("root")
	second := r.DisasterInfos[1]

	env := h.mustEnv("reports", "edit", strconv.FormatInt(r.ID, 10),
		"--set", strconv.FormatInt(second.ID, 10)+".level=5人受伤",
		"--set", strconv.FormatInt(r.DisasterInfos[0].ID, 10)+".time="+r.DisasterInfos[0].Time)
	if updated := env["meta"].(map[string]any)["updated"]; updated != float64(1) {
		t.Fatalf("expected one changed tuple; got %v", updated)
	}

	var puts int
	for _, d := range r.DisasterInfos {
		puts += len(h.srv.RequestsTo(http.MethodPut, "/disaster-info/"+strconv.FormatInt(d.ID, 10)))
	}
	if puts != 1 {
		t.Fatalf("expected exactly one PUT; got %d", puts)
	}
	if got := h.srv.Reports()[0].DisasterInfos[1].Level; got != "5人受伤" {
		t.Fatalf("level not persisted: %q", got)
	}
}

func TestReportsEdit_PartialFailureListsPersisted(t *testing.T) {
	h := newHarness(t)
	r := h.srv.Seed(threeEvents)
	h.login("root")
	ids := make([]string, len(r.DisasterInfos))
	for i, d := range r.DisasterInfos {
		ids[i] = strconv.FormatInt(d.ID, 10)
	}
	h.srv.FailInfoUpdate(r.DisasterInfos[1].ID, http.StatusInternalServerError)

	args := []string{"reports", "edit", strconv.FormatInt(r.ID, 10)}
	for _, id := range ids {
		args = append(args, "--set", id+".level=已修正")
	}
	_, stderr, err := h.run(args...)
	if err == nil {
		t.Fatalf("expected partial failure")
	}
	if !strings.Contains(stderr, "persisted: ["+ids[0]+"]") {
		t.Fatalf("expected persisted tuple on stderr; got %q", stderr)
	}
	if got := h.srv.Reports()[0].DisasterInfos[0].Level; got != "已修正" {
		t.Fatalf("first tuple should stay written without rollback; got %q", got)
	}

	h.srv.ClearFailures()
	h.srv.FailInfoUpdate(r.DisasterInfos[2].ID, http.StatusInternalServerError)
	args = append(args[:3:3], "--rollback-on-failure")
	for _, id := range ids {
		args = append(args, "--set", id+".level=再次修正")
	}
	_, stderr, err = h.run(args...)
	if err == nil || !strings.Contains(stderr, "rolled back") {
		t.Fatalf("expected rolled back failure; err=%v stderr=%q", err, stderr)
	}
	stored := h.srv.Reports()[0].DisasterInfos
	if stored[0].Level != "已修正" || stored[1].Level != "房屋倒塌" {
		t.Fatalf("expected tuples restored to their values at open; got %q, %q", stored[0].Level, stored[1].Level)
	}
}

func TestReportsReextract(t *testing.T) {
	h := newHarness(t)
	r := h.srv.Seed("7月1日，四川发生山洪")
	h.login("root")
	id := strconv.FormatInt(r.ID, 10)

	if _, _, err := h.run("reports", "reextract", id, "--text", " "); err == nil {
		t.Fatalf("expected blank text to be rejected")
	}
	if got := h.srv.RequestsTo(http.MethodPut, "/report/"+id); len(got) != 0 {
		t.Fatalf("expected no re-extract request for blank text")
	}

	env := h.mustEnv("reports", "reextract", id, "--text", "7月5日，重庆发生暴雨，造成积水")
	rep := data(env)["report"].(map[string]any)
	if !strings.Contains(rep["summary"].(string), "重庆") {
		t.Fatalf("expected new summary; got %#v", rep)
	}
}

func TestDedupRun_RequiresYesAndSummarizes(t *testing.T) {
	h := newHarness(t)
	a := h.srv.Seed("7月1日，四川发生山洪，造成3人受伤")
	h.srv.Seed("7月1日，四川发生山洪，造成道路中断")
	h.login("root")

	if _, stderr, err := h.run("dedup", "run"); err == nil || !strings.Contains(stderr, "--yes") {
		t.Fatalf("expected confirmation error; err=%v stderr=%q", err, stderr)
	}
	if got := h.srv.RequestsTo(http.MethodPost, "/dedup"); len(got) != 0 {
		t.Fatalf("expected no dedup request without --yes")
	}

	d := data(h.mustEnv("dedup", "run", "--yes"))
	if d["no_duplicates"] != false {
		t.Fatalf("expected duplicates; got %#v", d)
	}
	lines, _ := d["lines"].([]any)
	if len(lines) != 1 || !strings.Contains(lines[0].(string), model.DisplayID(a.ID, 0)) {
		t.Fatalf("unexpected cluster lines %#v", lines)
	}

	again := data(h.mustEnv("dedup", "run", "--yes"))
	if again["headline"] != "no records needed merging" {
		t.Fatalf("expected no-op headline; got %#v", again["headline"])
	}

	logs := data(h.mustEnv("dedup", "logs"))["logs"].([]any)
	if len(logs) != 2 {
		t.Fatalf("expected 2 dedup logs; got %d", len(logs))
	}
}

func TestExport_WritesFixedFileName(t *testing.T) {
	h := newHarness(t)
	h.srv.Seed("7月1日，四川发生山洪，造成3人受伤")
	h.login("alice")
	out := t.TempDir()

	d := data(h.mustEnv("export", "--q", "四川", "--out-dir", out))
	want := filepath.Join(out, export.FileName)
	if d["path"] != want {
		t.Fatalf("path = %v, want %s", d["path"], want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("expected export file: %v", err)
	}
}

func TestProfileRename_SignsOut(t *testing.T) {
	h := newHarness(t)
	h.login("alice")

	h.mustEnv("profile", "rename", "--new-id", "alice2")
	who := data(h.mustEnv("whoami"))
	if who["signedIn"] != false {
		t.Fatalf("expected sign-out after rename; got %#v", who)
	}
	h.mustEnv("login", "--username", "alice2", "--password", "pw")
}

func TestConfigSet_AffectsPageSize(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		h.srv.Seed("7月1日，四川发生山洪")
	}

	h.mustEnv("config", "set", "pageSize", "2")
	if _, _, err := h.run("config", "set", "nope", "1"); err == nil {
		t.Fatalf("expected unknown key error")
	}

	h.login("alice")
	d := data(h.mustEnv("reports", "list"))
	if d["pageSize"] != float64(2) || d["pageCount"] != float64(2) {
		t.Fatalf("expected configured page size; got %#v", d)
	}
}

func TestDocs_ListAndShow(t *testing.T) {
	h := newHarness(t)

	topics, _ := data(h.mustEnv("docs"))["topics"].([]any)
	if len(topics) == 0 {
		t.Fatalf("expected docs topics")
	}
	d := data(h.mustEnv("docs", "Dedup"))
	if d["topic"] != "dedup" || !strings.Contains(d["markdown"].(string), "# Deduplication") {
		t.Fatalf("unexpected docs output: %#v", d)
	}

	out, _, err := h.run("docs", "roles", "--raw")
	if err != nil || !strings.HasPrefix(out, "# Roles") {
		t.Fatalf("raw docs: err=%v out=%q", err, out)
	}

	_, stderr, err := h.run("docs", "nope")
	if err == nil || !strings.Contains(stderr, "unknown docs topic") {
		t.Fatalf("expected unknown topic error; err=%v stderr=%q", err, stderr)
	}
}

func TestPublish_WritesDigest(t *testing.T) {
	h := newHarness(t)
	h.srv.Seed("7月1日，四川发生山洪，造成3人受伤")
	h.srv.Seed("7月2日，云南发生地震")
	h.login("alice")

	out := filepath.Join(t.TempDir(), "digest")
	env := h.mustEnv("publish", "--q", "四川", "--to", out)
	written, _ := data(env)["written"].([]any)
	if len(written) != 2 || data(env)["reports"] != float64(1) {
		t.Fatalf("unexpected publish result: %#v", data(env))
	}
	md, err := os.ReadFile(filepath.Join(out, "reports-page-1.md"))
	if err != nil {
		t.Fatalf("read digest: %v", err)
	}
	if !strings.Contains(string(md), "四川") || strings.Contains(string(md), "云南") {
		t.Fatalf("digest not filtered by keyword:\n%s", md)
	}

	if _, stderr, err := h.run("publish", "--q", "四川", "--to", out); err == nil || !strings.Contains(stderr, "--overwrite") {
		t.Fatalf("expected overwrite refusal; err=%v stderr=%q", err, stderr)
	}
}
