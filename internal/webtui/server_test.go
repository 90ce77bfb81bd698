package webtui

import (
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

func TestNewServer_RequiresAddr(t *testing.T) {
	if _, err := NewServer(ServerConfig{Addr: "  "}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}

func TestHandler_TerminalPageAndAssets(t *testing.T) {
	srv, err := NewServer(ServerConfig{Addr: "127.0.0.1:0", Server: "http://backend:8000", Dir: "/tmp/relief"})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/terminal" {
		t.Fatalf("expected redirect to /terminal; got %d %q", rec.Code, rec.Header().Get("Location"))
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/terminal", nil))
	body, _ := io.ReadAll(rec.Body)
	if rec.Code != http.StatusOK || !strings.Contains(string(body), "http://backend:8000") || !strings.Contains(string(body), "/static/app.js") {
		t.Fatalf("unexpected terminal page (%d):\n%s", rec.Code, body)
	}

	for _, p := range []string{"/static/app.js", "/static/app.css"} {
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, p, nil))
		if rec.Code != http.StatusOK || rec.Body.Len() == 0 {
			t.Fatalf("%s: status %d", p, rec.Code)
		}
	}
}

func TestChildArgs(t *testing.T) {
	s := &Server{cfg: ServerConfig{Server: " http://x ", Dir: ""}}
	if got, want := s.childArgs(), []string{"--server", "http://x"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("childArgs = %v, want %v", got, want)
	}
}

func TestSameOrigin(t *testing.T) {
	cases := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://127.0.0.1:3334", true},
		{"http://evil.example", false},
		{"http://127.0.0.1:3334.evil.example", false},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "http://127.0.0.1:3334/ws", nil)
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		if got := sameOrigin(r); got != tc.want {
			t.Fatalf("sameOrigin(%q) = %v, want %v", tc.origin, got, tc.want)
		}
	}
}

func TestParseControl(t *testing.T) {
	m, ok := parseControl(websocket.TextMessage, []byte(`{"type":" Resize ","cols":80,"rows":24}`))
	if !ok || m.Type != "resize" || m.Cols != 80 || m.Rows != 24 {
		t.Fatalf("unexpected control: %+v %v", m, ok)
	}
	for _, tc := range []struct {
		mt   int
		data string
	}{
		{websocket.TextMessage, "q"},
		{websocket.TextMessage, "{"},
		{websocket.BinaryMessage, `{"type":"resize"}`},
	} {
		if _, ok := parseControl(tc.mt, []byte(tc.data)); ok {
			t.Fatalf("%q should be a keystroke", tc.data)
		}
	}
}
