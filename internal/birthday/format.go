package birthday

import (
	"strconv"
	"strings"
	"time"
)

// ShortDate renders "Feb 29".
func ShortDate(month, day int) string {
	if month < 1 || month > 12 {
		return MonthDayKey(month, day)
	}
	return time.Month(month).String()[:3] + " " + strconv.Itoa(day)
}

// FormatAnnouncement renders one message for every record celebrated today.
func FormatAnnouncement(rs []Record) string {
	var b strings.Builder
	b.WriteString("🎉 **Happy birthday!**")
	for _, r := range rs {
		b.WriteString("\n🎂 **")
		b.WriteString(r.Name)
		b.WriteString("** (")
		b.WriteString(ShortDate(r.Month, r.Day))
		b.WriteString(")")
	}
	return b.String()
}

// EmptyListText is shown when a tenant has no birthdays.
const EmptyListText = "No birthdays yet. Add one with /addbirthday."

// FormatList renders sorted records. rs must be non-empty.
func FormatList(rs []Record) string {
	var b strings.Builder
	b.WriteString("🎂 **Birthdays**")
	for _, r := range rs {
		b.WriteString("\n• ")
		b.WriteString(ShortDate(r.Month, r.Day))
		b.WriteString(": ")
		b.WriteString(r.Name)
	}
	return b.String()
}
