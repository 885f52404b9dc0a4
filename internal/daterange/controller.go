// Package daterange holds the dashboard's selected calendar window and turns
// it into the Unix-second bounds the stats endpoint expects.
package daterange

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"dmarc-dash/internal/events"
	"dmarc-dash/internal/prefs"
	"dmarc-dash/internal/timeseries"
)

// DefaultDays is the width of the default window ending today.
const DefaultDays = 7

// Presets are the quick-select window widths in days.
var Presets = []int{1, 7, 14, 31}

// Range is an inclusive pair of calendar dates (YYYY-MM-DD).
type Range struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func (r Range) String() string {
	return r.Start + ".." + r.End
}

// Valid reports whether both dates parse.
func (r Range) Valid() bool {
	_, errS := time.Parse(timeseries.DateLayout, r.Start)
	_, errE := time.Parse(timeseries.DateLayout, r.End)
	return errS == nil && errE == nil
}

// ValidationError reports an unparsable date or preset.
type ValidationError struct {
	Field string
	Value string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q", e.Field, e.Value)
}

// Options configures a Controller.
type Options struct {
	// Location sets day boundaries. Defaults to time.Local.
	Location *time.Location
	// Now is the clock. Defaults to time.Now.
	Now    func() time.Time
	Bus    *events.Bus
	Logger *slog.Logger
}

// Controller owns the selected range. It is safe for concurrent use.
type Controller struct {
	prefs  *prefs.Prefs
	bus    *events.Bus
	logger *slog.Logger
	now    func() time.Time
	loc    *time.Location

	mu        sync.Mutex
	current   Range
	listeners []func(Range)
}

// NewController loads the persisted range, falling back to the default
// window when it is absent or unparsable.
func NewController(p *prefs.Prefs, opts Options) *Controller {
	c := &Controller{
		prefs:  p,
		bus:    opts.Bus,
		logger: opts.Logger,
		now:    opts.Now,
		loc:    opts.Location,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.loc == nil {
		c.loc = time.Local
	}

	var stored Range
	if p != nil && p.GetJSON(prefs.KeyDateRange, &stored) && stored.Valid() {
		c.current = stored
	} else {
		c.current = c.Default()
	}
	return c
}

// Default returns [today-7d, today].
func (c *Controller) Default() Range {
	return c.window(DefaultDays)
}

func (c *Controller) window(days int) Range {
	today := c.now().In(c.loc)
	return Range{
		Start: today.AddDate(0, 0, -days).Format(timeseries.DateLayout),
		End:   today.Format(timeseries.DateLayout),
	}
}

// Range returns the current selection.
func (c *Controller) Range() Range {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// SetRange stores the pair as given, persists it for a year and notifies
// listeners. Ordering is the caller's concern. An unparsable date is still
// stored; the returned *ValidationError tells the caller that fetches will
// use the default window instead.
func (c *Controller) SetRange(start, end string) error {
	r := Range{Start: start, End: end}

	c.mu.Lock()
	c.current = r
	listeners := append([]func(Range){}, c.listeners...)
	c.mu.Unlock()

	if c.prefs != nil {
		if err := c.prefs.SetJSON(prefs.KeyDateRange, r, prefs.PrefTTL); err != nil {
			c.logger.Warn("persist date range failed", "err", err)
		}
	}
	c.bus.Publish(events.Event{Type: events.RangeChanged, View: "dashboard", Detail: r.String()})
	for _, fn := range listeners {
		fn(r)
	}

	if _, err := time.Parse(timeseries.DateLayout, start); err != nil {
		return &ValidationError{Field: "start date", Value: start}
	}
	if _, err := time.Parse(timeseries.DateLayout, end); err != nil {
		return &ValidationError{Field: "end date", Value: end}
	}
	return nil
}

// ApplyPreset selects [today-days, today].
func (c *Controller) ApplyPreset(days int) (Range, error) {
	if days < 0 {
		return c.Range(), &ValidationError{Field: "preset", Value: fmt.Sprint(days)}
	}
	r := c.window(days)
	return r, c.SetRange(r.Start, r.End)
}

// OnChange registers fn to run after every SetRange.
func (c *Controller) OnChange(fn func(Range)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Timestamps converts the current range to Unix seconds. When either date
// is unparsable both bounds come from the default window and fellBack is
// true.
func (c *Controller) Timestamps() (start, end int64, fellBack bool) {
	return c.TimestampsFor(c.Range())
}

// TimestampsFor converts r the same way Timestamps does.
func (c *Controller) TimestampsFor(r Range) (start, end int64, fellBack bool) {
	start, end, err := Bounds(r, c.loc)
	if err == nil {
		return start, end, false
	}
	c.logger.Debug("date range unusable, using default window", "range", r.String(), "err", err)
	start, end, _ = Bounds(c.Default(), c.loc)
	return start, end, true
}

// Bounds returns the Unix second of local midnight on r.Start and of
// 23:59:59.999 local time on r.End, floored.
func Bounds(r Range, loc *time.Location) (int64, int64, error) {
	if loc == nil {
		loc = time.Local
	}
	from, err := time.ParseInLocation(timeseries.DateLayout, r.Start, loc)
	if err != nil {
		return 0, 0, &ValidationError{Field: "start date", Value: r.Start}
	}
	to, err := time.ParseInLocation(timeseries.DateLayout, r.End, loc)
	if err != nil {
		return 0, 0, &ValidationError{Field: "end date", Value: r.End}
	}
	endOfDay := to.AddDate(0, 0, 1).Add(-time.Millisecond)
	return from.Unix(), endOfDay.Unix(), nil
}
