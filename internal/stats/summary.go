// Package stats derives compliance figures from raw disposition counters.
// Every function is total: missing data counts as zero.
package stats

import (
	"math"
	"strings"

	"dmarc-dash/internal/util"
)

// Dispositions holds message counts by DMARC policy outcome.
type Dispositions struct {
	None       int64 `json:"none"`
	Quarantine int64 `json:"quarantine"`
	Reject     int64 `json:"reject"`
}

// UnmarshalJSON accepts the backend's disposition map. Keys are matched
// case-insensitively; unknown keys are ignored and null or non-numeric
// values count as zero.
func (d *Dispositions) UnmarshalJSON(b []byte) error {
	m, err := util.DecodeJSONMap(b)
	if err != nil {
		return err
	}
	*d = Dispositions{}
	for k, v := range m {
		n, _ := util.ToInt64(v)
		switch strings.ToLower(k) {
		case "none":
			d.None += n
		case "quarantine":
			d.Quarantine += n
		case "reject":
			d.Reject += n
		}
	}
	return nil
}

// Compliance is the pass/fail summary shown on the dashboard.
type Compliance struct {
	PassCount   int64   `json:"pass_count"`
	FailCount   int64   `json:"fail_count"`
	PassRatePct float64 `json:"pass_rate_pct"`
}

// Summarize derives the compliance summary.
//
// The pass rate is relative to totalVolume, not to the disposition sum, so
// it can exceed 100 when the two disagree. It is not clamped.
func Summarize(d Dispositions, totalVolume int64) Compliance {
	return Compliance{
		PassCount:   d.None,
		FailCount:   d.Quarantine + d.Reject,
		PassRatePct: Rate(d.None, totalVolume),
	}
}

// KPIs are the four headline tiles.
type KPIs struct {
	TotalReports int64   `json:"total_reports"`
	TotalVolume  int64   `json:"total_volume"`
	FailCount    int64   `json:"fail_count"`
	PassRatePct  float64 `json:"pass_rate_pct"`
}

// Headline builds the KPI tiles.
func Headline(totalReports, totalVolume int64, d Dispositions) KPIs {
	c := Summarize(d, totalVolume)
	return KPIs{
		TotalReports: totalReports,
		TotalVolume:  totalVolume,
		FailCount:    c.FailCount,
		PassRatePct:  c.PassRatePct,
	}
}

// Slice is one segment of the compliance chart.
type Slice struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

// Slices returns the Pass and Fail segments in display order.
func Slices(c Compliance) []Slice {
	return []Slice{
		{Name: "Pass", Value: c.PassCount},
		{Name: "Fail", Value: c.FailCount},
	}
}

// Rate returns part/total as a percentage rounded to one decimal, or 0
// when total is not positive.
func Rate(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(part)/float64(total)*1000) / 10
}
