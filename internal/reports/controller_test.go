package reports

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"relief-cli/internal/api"
	"relief-cli/internal/api/apitest"
	"relief-cli/internal/model"
)

type fetchFunc func(ctx context.Context, q model.ListQuery) (model.Page, error)

func (f fetchFunc) ListReports(ctx context.Context, q model.ListQuery) (model.Page, error) {
	return f(ctx, q)
}

func pageOf(q model.ListQuery, total int, ids ...int64) model.Page {
	p := model.Page{Keyword: q.Keyword, Number: q.Page, Size: q.PageSize, Total: total, Items: []model.Report{}}
	for _, id := range ids {
		p.Items = append(p.Items, model.Report{ID: id})
	}
	return p
}

func signedInClient(t *testing.T, srv *apitest.Server) *api.Client {
	t.Helper()
	srv.AddUser("admin", "pw", model.RoleAdmin)
	c := api.New(srv.URL, nil)
	c.SetBearer(srv.Token(t, "admin"))
	return c
}

func TestApply_StaleSequenceNeverOverwritesNewer(t *testing.T) {
	t.Parallel()

	c := New(fetchFunc(nil), Options{})
	older := c.Begin()
	newer := c.Begin()

	if !c.Apply(newer, pageOf(newer.Query, 2, 2), nil) {
		t.Fatalf("expected newer load to apply")
	}
	if c.Apply(older, pageOf(older.Query, 1, 1), nil) {
		t.Fatalf("expected older load to be discarded")
	}
	st := c.Snapshot()
	if len(st.Page.Items) != 1 || st.Page.Items[0].ID != 2 || st.Applied != newer.Seq {
		t.Fatalf("unexpected state after stale apply: %#v", st)
	}
}

func TestApply_DiscardsResultForOldQuery(t *testing.T) {
	t.Parallel()

	c := New(fetchFunc(nil), Options{ResetPageOnSearch: true})
	tk := c.Begin()
	c.SetKeyword("四川")
	if c.Apply(tk, pageOf(tk.Query, 1, 1), nil) {
		t.Fatalf("expected result for previous keyword to be discarded")
	}
	if c.Snapshot().Loaded {
		t.Fatalf("expected nothing applied")
	}
}

func TestApply_FailureKeepsItems(t *testing.T) {
	t.Parallel()

	c := New(fetchFunc(nil), Options{})
	t1 := c.Begin()
	c.Apply(t1, pageOf(t1.Query, 1, 7), nil)
	t2 := c.Begin()
	boom := errors.New("boom")
	if !c.Apply(t2, model.Page{}, boom) {
		t.Fatalf("expected failure to be recorded")
	}
	st := c.Snapshot()
	if !errors.Is(st.Err, boom) || len(st.Page.Items) != 1 {
		t.Fatalf("unexpected state: %#v", st)
	}
}

func TestPagination_NeverBelowOne(t *testing.T) {
	t.Parallel()

	c := New(fetchFunc(func(_ context.Context, q model.ListQuery) (model.Page, error) {
		return pageOf(q, 25), nil
	}), Options{PageSize: 10})
	if c.PrevPage() {
		t.Fatalf("PrevPage at page 1 should be a no-op")
	}
	c.SetPage(-4)
	if got := c.Query().Page; got != 1 {
		t.Fatalf("page = %d, want 1", got)
	}
	if c.NextPage() {
		t.Fatalf("NextPage before any load should be a no-op")
	}

	ctx := context.Background()
	for want := 2; want <= 3; want++ {
		if err := c.Reload(ctx); err != nil {
			t.Fatalf("Reload: %v", err)
		}
		if !c.NextPage() {
			t.Fatalf("expected next page toward %d", want)
		}
	}
	if err := c.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if c.NextPage() {
		t.Fatalf("NextPage on last page should be a no-op")
	}
	if got := c.Snapshot().Page.Label(); got != "page 3 / 3" {
		t.Fatalf("label = %q", got)
	}
}

func TestSetKeyword_ResetsPage(t *testing.T) {
	t.Parallel()

	c := New(fetchFunc(nil), Options{ResetPageOnSearch: true})
	c.SetPage(4)
	if !c.SetKeyword("洪水") {
		t.Fatalf("expected keyword change")
	}
	if got := c.Query().Page; got != 1 {
		t.Fatalf("page = %d, want 1", got)
	}
	if c.SetKeyword("洪水") {
		t.Fatalf("same keyword should not count as a change")
	}

	keep := New(fetchFunc(nil), Options{ResetPageOnSearch: false})
	keep.SetPage(4)
	keep.SetKeyword("洪水")
	if got := keep.Query().Page; got != 4 {
		t.Fatalf("page = %d, want 4 when reset is disabled", got)
	}
}

func TestLoad_EmptyCorpus(t *testing.T) {
	t.Parallel()

	srv := apitest.NewServer(t)
	c := New(signedInClient(t, srv), Options{})
	p, err := c.Load(context.Background(), "", 1)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Total != 0 || p.Items == nil || len(p.Items) != 0 {
		t.Fatalf("expected empty page; got %#v", p)
	}
	if p.HasNext() || p.HasPrevious() {
		t.Fatalf("empty corpus should have no neighbours")
	}
	if got := p.Label(); got != "page 1 / 1" {
		t.Fatalf("label = %q", got)
	}
}

func TestLoad_FilterAndPaging(t *testing.T) {
	t.Parallel()

	srv := apitest.NewServer(t)
	for i := 0; i < 12; i++ {
		srv.Seed("7月1日，四川发生山洪，造成3人受伤")
	}
	srv.Seed("7月2日，云南发生地震，造成房屋倒塌")
	c := New(signedInClient(t, srv), Options{PageSize: 5})

	p, err := c.Load(context.Background(), "四川", 3)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Total != 12 || len(p.Items) != 2 || p.HasNext() || !p.HasPrevious() {
		t.Fatalf("unexpected page: total=%d items=%d", p.Total, len(p.Items))
	}
	reqs := srv.RequestsTo("GET", "/reports")
	if len(reqs) != 1 || reqs[0].Query != "page=3&page_size=5&q=%E5%9B%9B%E5%B7%9D" {
		t.Fatalf("unexpected request: %#v", reqs)
	}
}

func TestLoad_FailureIsFetchError(t *testing.T) {
	t.Parallel()

	srv := apitest.NewServer(t)
	srv.FailNextLists(1)
	c := New(signedInClient(t, srv), Options{})
	_, err := c.Load(context.Background(), "", 1)
	var fe *api.FetchError
	if !errors.As(err, &fe) || fe.Status != 500 || fe.Detail != "database unavailable" {
		t.Fatalf("expected FetchError 500; got %v", err)
	}
}

func TestPoll_ContinuesAfterErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := New(fetchFunc(func(_ context.Context, q model.ListQuery) (model.Page, error) {
		if calls.Add(1)%2 == 1 {
			return model.Page{}, errors.New("flaky")
		}
		return pageOf(q, 0), nil
	}), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	var results []Result
	done := make(chan struct{})
	go func() {
		c.Poll(ctx, 5*time.Millisecond, func(r Result) {
			mu.Lock()
			results = append(results, r)
			n := len(results)
			mu.Unlock()
			if n == 4 {
				cancel()
			}
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatalf("Poll did not stop")
	}
	mu.Lock()
	defer mu.Unlock()
	var failed, ok int
	for _, r := range results {
		if r.Err != nil {
			failed++
		} else {
			ok++
		}
	}
	if failed == 0 || ok == 0 {
		t.Fatalf("expected both failures and successes; got %d/%d", failed, ok)
	}
}

func TestSubmit_ReturnsServerTuplesUntransformed(t *testing.T) {
	t.Parallel()

	srv := apitest.NewServer(t)
	c := signedInClient(t, srv)
	r, err := Submit(context.Background(), c, "7月1日，四川发生山洪，造成3人受伤")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(r.DisasterInfos) != 1 {
		t.Fatalf("expected one tuple; got %#v", r.DisasterInfos)
	}
	d := r.DisasterInfos[0]
	if d.Time != "7月1日" || d.Location != "四川" || d.Event != "山洪" || d.Level != "3人受伤" || d.ReportCount != 1 {
		t.Fatalf("unexpected tuple: %#v", d)
	}
	stored := srv.Reports()
	if len(stored) != 1 || stored[0].DisasterInfos[0] != d || stored[0].Summary != r.Summary {
		t.Fatalf("response differs from stored report")
	}
}

func TestSubmit_BlankTextSendsNothing(t *testing.T) {
	t.Parallel()

	srv := apitest.NewServer(t)
	c := signedInClient(t, srv)
	_, err := Submit(context.Background(), c, "  \n ")
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError; got %v", err)
	}
	if n := len(srv.RequestsTo("POST", "/report")); n != 0 {
		t.Fatalf("expected no request; got %d", n)
	}
}
