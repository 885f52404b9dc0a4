// Package query drives paginated, searchable list views against a backend.
//
// A Controller keeps the query (page, search text, filters), debounces
// search input, fetches on a goroutine and applies only the response to
// the most recently issued request.
package query

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"dmarc-dash/internal/events"
	"dmarc-dash/internal/metrics"
)

// DefaultDebounce is the quiet period before a search is sent.
const DefaultDebounce = 300 * time.Millisecond

// Query is the list query for one fetch.
type Query struct {
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
	Search   string            `json:"search"`
	Filters  map[string]string `json:"filters,omitempty"`
}

// Values encodes q as page, limit and the optional search and filter
// parameters. Empty values are omitted.
func (q Query) Values() url.Values {
	v := url.Values{}
	v.Set("page", strconv.Itoa(q.Page))
	v.Set("limit", strconv.Itoa(q.PageSize))
	if s := strings.TrimSpace(q.Search); s != "" {
		v.Set("search", s)
	}
	for k, val := range q.Filters {
		if val != "" {
			v.Set(k, val)
		}
	}
	return v
}

func (q Query) clone() Query {
	out := q
	if q.Filters != nil {
		out.Filters = make(map[string]string, len(q.Filters))
		for k, v := range q.Filters {
			out.Filters[k] = v
		}
	}
	return out
}

// Result is one page of items.
type Result[T any] struct {
	Items []T
	Total int
	Pages int
}

// PageCount returns ceil(total/size).
func PageCount(total, size int) int {
	if total <= 0 || size <= 0 {
		return 0
	}
	return (total + size - 1) / size
}

// Fetcher loads one page for q. It must honour ctx cancellation.
type Fetcher[T any] func(ctx context.Context, q Query) (Result[T], error)

// State is what a list view renders.
type State[T any] struct {
	Query     Query  `json:"query"`
	Items     []T    `json:"items"`
	Total     int    `json:"total"`
	Pages     int    `json:"pages"`
	Loading   bool   `json:"loading"`
	Err       error  `json:"-"`
	Error     string `json:"error,omitempty"`
	CanGoPrev bool   `json:"can_go_prev"`
	CanGoNext bool   `json:"can_go_next"`
}

// Options configures a Controller.
type Options struct {
	// Name labels metrics, logs and events ("reports", "domains").
	Name     string
	PageSize int
	// Debounce is the search quiet period. Zero means DefaultDebounce.
	Debounce time.Duration
	// Search and Filters seed the initial query.
	Search  string
	Filters map[string]string

	Metrics *metrics.Metrics
	Bus     *events.Bus
	Logger  *slog.Logger
}

// Controller is safe for concurrent use.
type Controller[T any] struct {
	name     string
	fetch    Fetcher[T]
	debounce time.Duration
	metrics  *metrics.Metrics
	bus      *events.Bus
	logger   *slog.Logger

	base   context.Context
	stop   context.CancelFunc
	latest Latest
	work   sync.WaitGroup

	mu          sync.Mutex
	query       Query
	items       []T
	total       int
	pages       int
	loading     bool
	err         error
	timer       *time.Timer
	debounceGen uint64
	listeners   []func(State[T])
}

// NewController creates a controller on page 1. Nothing is fetched until
// Load or a query change.
func NewController[T any](ctx context.Context, fetch Fetcher[T], opts Options) *Controller[T] {
	if opts.PageSize <= 0 {
		opts.PageSize = 20
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	base, stop := context.WithCancel(ctx)
	c := &Controller[T]{
		name:     opts.Name,
		fetch:    fetch,
		debounce: opts.Debounce,
		metrics:  opts.Metrics,
		bus:      opts.Bus,
		logger:   opts.Logger,
		base:     base,
		stop:     stop,
		query:    Query{Page: 1, PageSize: opts.PageSize, Search: opts.Search},
	}
	for k, v := range opts.Filters {
		if v == "" {
			continue
		}
		if c.query.Filters == nil {
			c.query.Filters = make(map[string]string)
		}
		c.query.Filters[k] = v
	}
	return c
}

// Load fetches the current query immediately.
func (c *Controller[T]) Load() {
	c.mu.Lock()
	c.cancelDebounceLocked()
	c.issueLocked()
	c.mu.Unlock()
	c.notify()
}

// Refresh refetches the current query, e.g. after a delete.
func (c *Controller[T]) Refresh() {
	c.Load()
}

// SetSearch updates the search text, resets to page 1 and schedules a
// fetch once input has been quiet for the debounce period.
func (c *Controller[T]) SetSearch(text string) {
	c.mu.Lock()
	if text == c.query.Search {
		c.mu.Unlock()
		return
	}
	c.query.Search = text
	c.query.Page = 1
	if c.cancelDebounceLocked() {
		c.metrics.RecordDebounced(c.name)
	}
	c.debounceGen++
	gen := c.debounceGen
	c.work.Add(1)
	c.timer = time.AfterFunc(c.debounce, func() {
		defer c.work.Done()
		c.mu.Lock()
		if gen != c.debounceGen {
			c.mu.Unlock()
			return
		}
		c.timer = nil
		c.issueLocked()
		c.mu.Unlock()
		c.notify()
	})
	c.mu.Unlock()
	c.notify()
}

// SetFilter sets or, with an empty value, clears a filter. The list
// returns to page 1 and is fetched immediately.
func (c *Controller[T]) SetFilter(key, value string) {
	c.mu.Lock()
	if c.query.Filters[key] == value {
		c.mu.Unlock()
		return
	}
	if value == "" {
		delete(c.query.Filters, key)
	} else {
		if c.query.Filters == nil {
			c.query.Filters = make(map[string]string)
		}
		c.query.Filters[key] = value
	}
	c.query.Page = 1
	c.cancelDebounceLocked()
	c.issueLocked()
	c.mu.Unlock()
	c.notify()
}

// SetPage navigates to page n, clamped to the known page count.
func (c *Controller[T]) SetPage(n int) {
	c.mu.Lock()
	if c.pages > 0 && n > c.pages {
		n = c.pages
	}
	if n < 1 {
		n = 1
	}
	if n == c.query.Page {
		c.mu.Unlock()
		return
	}
	c.query.Page = n
	c.cancelDebounceLocked()
	c.issueLocked()
	c.mu.Unlock()
	c.notify()
}

// Next moves forward one page when there is one.
func (c *Controller[T]) Next() {
	c.mu.Lock()
	page, ok := c.query.Page+1, c.query.Page < c.pages
	c.mu.Unlock()
	if ok {
		c.SetPage(page)
	}
}

// Prev moves back one page when there is one.
func (c *Controller[T]) Prev() {
	c.mu.Lock()
	page, ok := c.query.Page-1, c.query.Page > 1
	c.mu.Unlock()
	if ok {
		c.SetPage(page)
	}
}

// State returns the current view state.
func (c *Controller[T]) State() State[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller[T]) stateLocked() State[T] {
	s := State[T]{
		Query:     c.query.clone(),
		Items:     c.items,
		Total:     c.total,
		Pages:     c.pages,
		Loading:   c.loading,
		Err:       c.err,
		CanGoPrev: c.query.Page > 1,
		CanGoNext: c.query.Page < c.pages,
	}
	if s.Items == nil {
		s.Items = []T{}
	}
	if c.err != nil {
		s.Error = c.err.Error()
	}
	return s
}

// OnChange registers fn to run after every state change.
func (c *Controller[T]) OnChange(fn func(State[T])) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Wait blocks until pending debounced searches and fetches have finished.
func (c *Controller[T]) Wait() {
	c.work.Wait()
}

// Close cancels pending work.
func (c *Controller[T]) Close() {
	c.mu.Lock()
	c.cancelDebounceLocked()
	c.mu.Unlock()
	c.latest.Cancel()
	c.stop()
}

// cancelDebounceLocked drops a scheduled search and reports whether one
// was pending.
func (c *Controller[T]) cancelDebounceLocked() bool {
	c.debounceGen++
	if c.timer == nil {
		return false
	}
	stopped := c.timer.Stop()
	c.timer = nil
	if stopped {
		c.work.Done()
	}
	return stopped
}

func (c *Controller[T]) issueLocked() {
	q := c.query.clone()
	ctx, ticket := c.latest.Begin(c.base)
	c.loading = true
	c.work.Add(1)
	go c.run(ctx, ticket, q)
}

func (c *Controller[T]) run(ctx context.Context, ticket Ticket, q Query) {
	defer c.work.Done()

	start := time.Now()
	res, err := c.fetch(ctx, q)

	c.mu.Lock()
	if !c.latest.Finish(ticket) {
		c.mu.Unlock()
		c.metrics.RecordStale(c.name)
		c.logger.Debug("dropped stale list response", "view", c.name, "page", q.Page, "search", q.Search)
		return
	}
	c.loading = false
	if err != nil {
		c.err = err
	} else {
		c.err = nil
		c.items = res.Items
		c.total = res.Total
		c.pages = res.Pages
		if c.pages == 0 {
			c.pages = PageCount(res.Total, q.PageSize)
		}
		// The list shrank under the current page: move to the last page.
		if last := max(c.pages, 1); q.Page > last {
			c.logger.Debug("page past the end, refetching last page", "view", c.name, "page", q.Page, "pages", c.pages)
			c.query.Page = last
			c.issueLocked()
		}
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("list fetch failed", "view", c.name, "err", err)
		c.bus.Publish(events.Event{Type: events.ListUpdated, View: c.name, Error: err.Error()})
	} else {
		c.logger.Debug("list fetched", "view", c.name, "page", q.Page, "items", len(res.Items), "duration", time.Since(start))
		c.bus.Publish(events.Event{Type: events.ListUpdated, View: c.name})
	}
	c.notify()
}

func (c *Controller[T]) notify() {
	c.mu.Lock()
	s := c.stateLocked()
	listeners := append([]func(State[T]){}, c.listeners...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(s)
	}
}
