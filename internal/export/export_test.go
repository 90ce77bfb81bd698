package export

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"relief-cli/internal/api"
	"relief-cli/internal/api/apitest"
	"relief-cli/internal/model"
)

func client(t *testing.T, srv *apitest.Server) *api.Client {
	t.Helper()
	srv.AddUser("u", "pw", model.RoleUser)
	c := api.New(srv.URL, nil)
	c.SetBearer(srv.Token(t, "u"))
	return c
}

func TestDownload_IdempotentAndOverwrites(t *testing.T) {
	t.Parallel()

	srv := apitest.NewServer(t)
	srv.Seed("7月1日，四川发生山洪，造成3人受伤")
	srv.Seed("7月2日，云南发生地震，造成房屋倒塌")
	dir := t.TempDir()
	c := New(client(t, srv), dir, nil)

	p1, err := c.Download(context.Background(), "四川")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	first, _ := os.ReadFile(p1)
	p2, err := c.Download(context.Background(), "四川")
	if err != nil {
		t.Fatalf("Download (again): %v", err)
	}
	second, _ := os.ReadFile(p2)

	if p1 != p2 || p1 != filepath.Join(dir, FileName) {
		t.Fatalf("unexpected paths %q %q", p1, p2)
	}
	if !bytes.Equal(first, second) || len(first) == 0 {
		t.Fatalf("expected byte-identical artifacts")
	}
	if !strings.Contains(string(first), "四川") || strings.Contains(string(first), "云南") {
		t.Fatalf("export ignored the keyword filter:\n%s", first)
	}
	ents, _ := os.ReadDir(dir)
	if len(ents) != 1 {
		t.Fatalf("expected only the artifact in dir; got %d entries", len(ents))
	}
}

func TestDownload_FailureWritesNothing(t *testing.T) {
	t.Parallel()

	srv := apitest.NewServer(t)
	dir := t.TempDir()
	c := New(api.New(srv.URL, nil), dir, nil)
	_, err := c.Download(context.Background(), "")
	var fe *api.FetchError
	if !errors.As(err, &fe) || !fe.Unauthorized() {
		t.Fatalf("expected unauthorized FetchError; got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, FileName)); !os.IsNotExist(err) {
		t.Fatalf("expected no artifact; stat err=%v", err)
	}
}
