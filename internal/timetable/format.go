package timetable

import (
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// LayoutDayTime renders "Mon, 2:00 PM".
	LayoutDayTime = "Mon, 3:04 PM"
	// LayoutTime renders "2:00 PM".
	LayoutTime = "3:04 PM"
)

// Humanize renders d as "1d 2h 3m". Days and hours appear only when
// non-zero; minutes are rounded and appear when they have any fractional
// value or nothing else was printed. Negative durations render as "0m".
func Humanize(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d.Minutes()

	parts := make([]string, 0, 3)
	if days > 0 {
		parts = append(parts, strconv.FormatInt(int64(days), 10)+"d")
	}
	if hours > 0 {
		parts = append(parts, strconv.FormatInt(int64(hours), 10)+"h")
	}
	if minutes != 0 || len(parts) == 0 {
		m := math.Max(0, math.Round(minutes))
		parts = append(parts, strconv.FormatInt(int64(m), 10)+"m")
	}
	return strings.Join(parts, " ")
}
