package util

import (
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
)

// Count renders a counter with thousands separators ("12,345").
func Count(n int64) string {
	return humanize.Comma(n)
}

// Bytes renders a file size using binary units ("1.5 KiB").
func Bytes(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	return humanize.IBytes(uint64(n))
}

// Percent renders a one-decimal percentage ("97.3%").
func Percent(pct float64) string {
	return strconv.FormatFloat(pct, 'f', 1, 64) + "%"
}

// Ago renders a timestamp relative to now ("3 days ago").
func Ago(unix int64) string {
	if unix <= 0 {
		return "-"
	}
	return humanize.Time(time.Unix(unix, 0))
}
