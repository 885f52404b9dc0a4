package confirm

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"dmarc-dash/internal/daterange"
	"dmarc-dash/internal/timeseries"
)

// FlushFilter selects reports for bulk deletion. Every field is optional;
// an empty filter deletes everything.
type FlushFilter struct {
	Domain  string `json:"domain,omitempty"`
	OrgName string `json:"org_name,omitempty"`
	Days    int    `json:"days,omitempty"`
	Start   string `json:"start,omitempty"`
	End     string `json:"end,omitempty"`
}

// Empty reports whether no field is set.
func (f FlushFilter) Empty() bool {
	return strings.TrimSpace(f.Domain) == "" && strings.TrimSpace(f.OrgName) == "" &&
		f.Days == 0 && f.Start == "" && f.End == ""
}

// Summary lists the applied filters for the review step.
func (f FlushFilter) Summary() []string {
	if f.Empty() {
		return []string{"Delete everything"}
	}
	var out []string
	if d := strings.TrimSpace(f.Domain); d != "" {
		out = append(out, "Domain: "+d)
	}
	if o := strings.TrimSpace(f.OrgName); o != "" {
		out = append(out, "Org: "+o)
	}
	if f.Days != 0 {
		out = append(out, fmt.Sprintf("Last %d days", f.Days))
	}
	if f.Start != "" {
		out = append(out, "From: "+f.Start)
	}
	if f.End != "" {
		out = append(out, "To: "+f.End)
	}
	return out
}

// Values encodes the filter for DELETE /api/reports. Start and End become
// the Unix second of midnight in loc on that date.
func (f FlushFilter) Values(loc *time.Location) (url.Values, error) {
	if loc == nil {
		loc = time.Local
	}
	v := url.Values{}
	if d := strings.TrimSpace(f.Domain); d != "" {
		v.Set("domain", d)
	}
	if o := strings.TrimSpace(f.OrgName); o != "" {
		v.Set("org_name", o)
	}
	if f.Days < 0 {
		return nil, &daterange.ValidationError{Field: "days", Value: strconv.Itoa(f.Days)}
	}
	if f.Days > 0 {
		v.Set("days", strconv.Itoa(f.Days))
	}
	for _, p := range []struct{ key, field, value string }{
		{"start", "start date", f.Start},
		{"end", "end date", f.End},
	} {
		if p.value == "" {
			continue
		}
		t, err := time.ParseInLocation(timeseries.DateLayout, p.value, loc)
		if err != nil {
			return nil, &daterange.ValidationError{Field: p.field, Value: p.value}
		}
		v.Set(p.key, strconv.FormatInt(t.Unix(), 10))
	}
	return v, nil
}
