// Package dashboard assembles the dashboard view model: the selected date
// range, stats for that range and everything derived from them.
package dashboard

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"dmarc-dash/internal/backend"
	"dmarc-dash/internal/daterange"
	"dmarc-dash/internal/events"
	"dmarc-dash/internal/metrics"
	"dmarc-dash/internal/query"
	"dmarc-dash/internal/stats"
	"dmarc-dash/internal/timeseries"
)

// StatsSource fetches dashboard aggregates for [start, end] in Unix seconds.
type StatsSource interface {
	Stats(ctx context.Context, start, end int64) (backend.Stats, error)
}

// Activity is a recent-activity row with its pass and fail shares.
type Activity struct {
	backend.ReportRow
	PassPct float64 `json:"pass_pct"`
	FailPct float64 `json:"fail_pct"`
}

// Model is what the dashboard renders.
type Model struct {
	Range daterange.Range `json:"range"`
	// Window is the range actually fetched. It differs from Range when
	// Range is unparsable and the default window was used.
	Window       daterange.Range    `json:"window"`
	Start        int64              `json:"start"`
	End          int64              `json:"end"`
	FellBack     bool               `json:"fell_back,omitempty"`
	Loading      bool               `json:"loading"`
	Error        string             `json:"error,omitempty"`
	KPIs         stats.KPIs         `json:"kpis"`
	Compliance   stats.Compliance   `json:"compliance"`
	Slices       []stats.Slice      `json:"slices"`
	Dispositions stats.Dispositions `json:"dispositions"`
	Series       []timeseries.Point `json:"volume_series"`
	Recent       []Activity         `json:"recent_activity"`
	UpdatedAt    time.Time          `json:"updated_at,omitempty"`
}

// Build derives the view model for window from one stats response.
func Build(window daterange.Range, s backend.Stats) Model {
	compliance := stats.Summarize(s.Dispositions, s.TotalVolume)
	recent := make([]Activity, 0, len(s.RecentActivity))
	for _, row := range s.RecentActivity {
		recent = append(recent, Activity{
			ReportRow: row,
			PassPct:   stats.Rate(row.PassCount, row.TotalCount),
			FailPct:   stats.Rate(row.FailCount, row.TotalCount),
		})
	}
	return Model{
		Range:        window,
		Window:       window,
		KPIs:         stats.Headline(s.TotalReports, s.TotalVolume, s.Dispositions),
		Compliance:   compliance,
		Slices:       stats.Slices(compliance),
		Dispositions: s.Dispositions,
		Series:       timeseries.Reconcile(s.VolumeSeries, window.Start, window.End),
		Recent:       recent,
	}
}

// Options configures a View.
type Options struct {
	Metrics *metrics.Metrics
	Bus     *events.Bus
	Logger  *slog.Logger
	Now     func() time.Time
}

// View keeps the dashboard model current with the date range. Every range
// change refetches; only the response to the latest request is applied.
type View struct {
	ranges  *daterange.Controller
	src     StatsSource
	metrics *metrics.Metrics
	bus     *events.Bus
	logger  *slog.Logger
	now     func() time.Time

	base   context.Context
	stop   context.CancelFunc
	latest query.Latest
	work   sync.WaitGroup

	mu        sync.Mutex
	model     Model
	closed    bool
	listeners []func(Model)
}

// New creates a view bound to ranges. Nothing is fetched until Refresh or
// a range change.
func New(ctx context.Context, ranges *daterange.Controller, src StatsSource, opts Options) *View {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	base, stop := context.WithCancel(ctx)
	v := &View{
		ranges:  ranges,
		src:     src,
		metrics: opts.Metrics,
		bus:     opts.Bus,
		logger:  opts.Logger,
		now:     opts.Now,
		base:    base,
		stop:    stop,
	}
	r := ranges.Range()
	v.model = Model{Range: r, Window: r, Series: []timeseries.Point{}, Recent: []Activity{}}
	ranges.OnChange(v.load)
	return v
}

// Refresh refetches stats for the current range.
func (v *View) Refresh() {
	v.load(v.ranges.Range())
}

func (v *View) load(r daterange.Range) {
	start, end, fellBack := v.ranges.TimestampsFor(r)
	window := r
	if fellBack {
		window = v.ranges.Default()
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	ctx, ticket := v.latest.Begin(v.base)
	v.model.Range = r
	v.model.Loading = true
	v.work.Add(1)
	v.mu.Unlock()
	v.notify()

	go v.fetch(ctx, ticket, r, window, start, end, fellBack)
}

func (v *View) fetch(ctx context.Context, ticket query.Ticket, r, window daterange.Range, start, end int64, fellBack bool) {
	defer v.work.Done()

	s, err := v.src.Stats(ctx, start, end)

	v.mu.Lock()
	if !v.latest.Finish(ticket) {
		v.mu.Unlock()
		v.metrics.RecordStale("dashboard")
		v.logger.Debug("dropped stale stats response", "range", r.String())
		return
	}
	if err != nil {
		v.model.Loading = false
		v.model.Error = backend.UserMessage(err, "Failed to load dashboard")
	} else {
		m := Build(window, s)
		m.Range = r
		m.Start, m.End = start, end
		m.FellBack = fellBack
		m.UpdatedAt = v.now()
		v.model = m
	}
	v.mu.Unlock()

	if err != nil {
		v.logger.Warn("stats fetch failed", "range", r.String(), "err", err)
		v.bus.Publish(events.Event{Type: events.DashboardUpdated, View: "dashboard", Error: err.Error()})
	} else {
		v.bus.Publish(events.Event{Type: events.DashboardUpdated, View: "dashboard", Detail: window.String()})
	}
	v.notify()
}

// Model returns a copy of the current model.
func (v *View) Model() Model {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.model
}

// OnChange registers fn to run after every model change.
func (v *View) OnChange(fn func(Model)) {
	v.mu.Lock()
	v.listeners = append(v.listeners, fn)
	v.mu.Unlock()
}

// Wait blocks until in-flight fetches have finished.
func (v *View) Wait() {
	v.work.Wait()
}

// Close cancels the in-flight fetch. Later range changes are ignored.
func (v *View) Close() {
	v.mu.Lock()
	v.closed = true
	v.mu.Unlock()
	v.latest.Cancel()
	v.stop()
}

func (v *View) notify() {
	v.mu.Lock()
	m := v.model
	listeners := append([]func(Model){}, v.listeners...)
	v.mu.Unlock()
	for _, fn := range listeners {
		fn(m)
	}
}
