// Package timeseries turns the sparse daily volume series returned by the
// backend into a dense series with exactly one point per calendar day.
package timeseries

import "time"

// DateLayout is the calendar-date format used for series keys and ranges.
const DateLayout = "2006-01-02"

// Point is one day of message volume by disposition.
//
// Quarantine and Reject are nil on synthetic points so a chart can tell a
// filled gap from a day the backend reported as zero.
type Point struct {
	Date       string `json:"name"`
	Pass       int64  `json:"pass"`
	Quarantine *int64 `json:"quarantine,omitempty"`
	Reject     *int64 `json:"reject,omitempty"`
}

// Synthetic reports whether p was produced by gap filling.
func (p Point) Synthetic() bool {
	return p.Quarantine == nil && p.Reject == nil && p.Pass == 0
}

// Reconcile returns one point per day from start to end inclusive.
//
// Input points are matched by date key; when a date repeats the last one
// wins. Days with no input point get {date, pass: 0}. Input points outside
// the range are dropped. Unparsable bounds or start after end yield an empty
// series. Reconcile(Reconcile(s, a, b), a, b) equals Reconcile(s, a, b).
func Reconcile(series []Point, start, end string) []Point {
	from, err := time.Parse(DateLayout, start)
	if err != nil {
		return []Point{}
	}
	to, err := time.Parse(DateLayout, end)
	if err != nil {
		return []Point{}
	}
	if from.After(to) {
		return []Point{}
	}

	byDate := make(map[string]Point, len(series))
	for _, p := range series {
		byDate[p.Date] = p
	}

	// time.Parse without a zone yields UTC, so AddDate never crosses a DST edge.
	out := make([]Point, 0, Days(from, to)+1)
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		key := d.Format(DateLayout)
		if p, ok := byDate[key]; ok {
			p.Date = key
			out = append(out, p)
			continue
		}
		out = append(out, Point{Date: key})
	}
	return out
}

// Days returns the number of whole days between two UTC midnights.
func Days(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}

// Int64 returns a pointer to n, for building points with explicit counts.
func Int64(n int64) *int64 {
	return &n
}
