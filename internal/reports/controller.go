// Package reports drives the paginated, searchable report listing.
package reports

import (
	"context"
	"errors"
	"sync"
	"time"

	"relief-cli/internal/model"

	"github.com/apex/log"
)

// ErrStale is returned by Load when a newer load, or a query change, made the
// result obsolete before it arrived.
var ErrStale = errors.New("stale load discarded")

type Fetcher interface {
	ListReports(ctx context.Context, q model.ListQuery) (model.Page, error)
}

type Options struct {
	PageSize          int
	ResetPageOnSearch bool
	Logger            log.Interface
}

// Ticket identifies one load. Seq increases with every Begin.
type Ticket struct {
	Seq   uint64
	Query model.ListQuery
}

// State is a point-in-time copy of the controller.
type State struct {
	Query   model.ListQuery
	Page    model.Page
	Loaded  bool
	Err     error
	Applied uint64
}

type Controller struct {
	fetcher Fetcher
	opts    Options

	mu      sync.Mutex
	keyword string
	page    int
	issued  uint64
	applied uint64
	current model.Page
	loaded  bool
	lastErr error
}

func New(f Fetcher, opts Options) *Controller {
	if opts.PageSize < 1 {
		opts.PageSize = model.DefaultPageSize
	}
	if opts.Logger == nil {
		opts.Logger = log.Log
	}
	return &Controller{fetcher: f, opts: opts, page: 1}
}

func (c *Controller) queryLocked() model.ListQuery {
	return model.ListQuery{Keyword: c.keyword, Page: c.page, PageSize: c.opts.PageSize}
}

func (c *Controller) Query() model.ListQuery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queryLocked()
}

// SetKeyword changes the filter and reports whether it changed.
func (c *Controller) SetKeyword(keyword string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if keyword == c.keyword {
		return false
	}
	c.keyword = keyword
	if c.opts.ResetPageOnSearch {
		c.page = 1
	}
	return true
}

// SetPage moves to page n, never below 1.
func (c *Controller) SetPage(n int) {
	if n < 1 {
		n = 1
	}
	c.mu.Lock()
	c.page = n
	c.mu.Unlock()
}

// NextPage advances when the last applied page says there is more.
func (c *Controller) NextPage() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded || !c.current.HasNext() || c.current.Number != c.page || c.current.Keyword != c.keyword {
		return false
	}
	c.page++
	return true
}

func (c *Controller) PrevPage() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.page <= 1 {
		return false
	}
	c.page--
	return true
}

// Begin tags a load of the current query.
func (c *Controller) Begin() Ticket {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.issued++
	return Ticket{Seq: c.issued, Query: c.queryLocked()}
}

func (c *Controller) Fetch(ctx context.Context, t Ticket) (model.Page, error) {
	return c.fetcher.ListReports(ctx, t.Query)
}

// Apply records the outcome of t. It is ignored when a later load has already
// been applied or the query has moved on. A failed load keeps the previous
// items and records the error.
func (c *Controller) Apply(t Ticket, p model.Page, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	logger := c.opts.Logger.WithFields(log.Fields{"seq": t.Seq, "q": t.Query.Keyword, "page": t.Query.Page})
	if t.Seq <= c.applied || t.Query != c.queryLocked() {
		logger.Debug("discarding stale load")
		return false
	}
	c.applied = t.Seq
	if err != nil {
		c.lastErr = err
		logger.WithError(err).Warn("load failed")
		return true
	}
	if p.Items == nil {
		p.Items = []model.Report{}
	}
	c.current = p
	c.loaded = true
	c.lastErr = nil
	logger.WithField("total", p.Total).Debug("load applied")
	return true
}

// Load sets keyword and page, then fetches and applies them.
func (c *Controller) Load(ctx context.Context, keyword string, page int) (model.Page, error) {
	c.mu.Lock()
	c.keyword = keyword
	if page < 1 {
		page = 1
	}
	c.page = page
	c.mu.Unlock()
	return c.run(ctx)
}

// Reload fetches the current query again.
func (c *Controller) Reload(ctx context.Context) error {
	_, err := c.run(ctx)
	return err
}

func (c *Controller) run(ctx context.Context) (model.Page, error) {
	t := c.Begin()
	p, err := c.Fetch(ctx, t)
	if !c.Apply(t, p, err) {
		return model.Page{}, ErrStale
	}
	return p, err
}

func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.current
	p.Items = make([]model.Report, len(c.current.Items))
	for i, r := range c.current.Items {
		p.Items[i] = r.Clone()
	}
	return State{
		Query:   c.queryLocked(),
		Page:    p,
		Loaded:  c.loaded,
		Err:     c.lastErr,
		Applied: c.applied,
	}
}

// Result is one polling outcome.
type Result struct {
	Seq     uint64
	Page    model.Page
	Err     error
	Applied bool
}

// Poll loads immediately and then on every tick until ctx ends. Each load
// runs in its own goroutine, so onResult may be called concurrently and out
// of order; Applied tells whether the result became current. Errors never
// stop the ticker.
func (c *Controller) Poll(ctx context.Context, interval time.Duration, onResult func(Result)) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	var wg sync.WaitGroup
	load := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			t := c.Begin()
			p, err := c.Fetch(ctx, t)
			if ctx.Err() != nil {
				return
			}
			applied := c.Apply(t, p, err)
			if onResult != nil {
				onResult(Result{Seq: t.Seq, Page: p, Err: err, Applied: applied})
			}
		}()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	load()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-ticker.C:
			load()
		}
	}
}
