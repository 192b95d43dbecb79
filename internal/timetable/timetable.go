// Package timetable answers "which class is on now" and "which class is next"
// for a static weekly timetable.
//
// Occurrences are re-derived from the civil calendar on every query, in the
// location of the instant passed in, so DST shifts and week rollover need no
// stored state.
package timetable

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Weekday numbers days Monday=1 .. Sunday=7.
type Weekday int

const (
	Monday Weekday = iota + 1
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

var weekdayShort = map[Weekday]string{
	Monday:    "Mon",
	Tuesday:   "Tue",
	Wednesday: "Wed",
	Thursday:  "Thu",
	Friday:    "Fri",
	Saturday:  "Sat",
	Sunday:    "Sun",
}

func (w Weekday) Valid() bool { return w >= Monday && w <= Sunday }

func (w Weekday) String() string {
	if s, ok := weekdayShort[w]; ok {
		return s
	}
	return "Weekday(" + strconv.Itoa(int(w)) + ")"
}

// isoWeekday maps time.Weekday (Sunday=0) onto Weekday.
func isoWeekday(d time.Weekday) Weekday {
	if d == time.Sunday {
		return Sunday
	}
	return Weekday(d)
}

// Clock is a 24h wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
}

func (c Clock) Valid() bool {
	return c.Hour >= 0 && c.Hour <= 23 && c.Minute >= 0 && c.Minute <= 59
}

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// ParseClock parses "HH:MM" (24h).
func ParseClock(s string) (Clock, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(mm) != 2 || len(hh) == 0 || len(hh) > 2 {
		return Clock{}, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	h, err1 := strconv.Atoi(hh)
	m, err2 := strconv.Atoi(mm)
	if err1 != nil || err2 != nil {
		return Clock{}, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	c := Clock{Hour: h, Minute: m}
	if !c.Valid() {
		return Clock{}, fmt.Errorf("time %q out of range", s)
	}
	return c, nil
}

// Interval is one weekly recurring block, e.g. a lecture.
type Interval struct {
	Name    string
	Weekday Weekday
	Start   Clock
	End     Clock
}

// Occurrence is a concrete instance of an Interval.
type Occurrence struct {
	Interval Interval
	Start    time.Time
	End      time.Time
}

// Table is an ordered set of intervals. Order breaks ties.
type Table []Interval

var ErrEmptyName = errors.New("interval name is empty")

func (t Table) Validate() error {
	for i, iv := range t {
		if strings.TrimSpace(iv.Name) == "" {
			return fmt.Errorf("timetable[%d]: %w", i, ErrEmptyName)
		}
		if !iv.Weekday.Valid() {
			return fmt.Errorf("timetable[%d] %q: weekday %d out of range 1..7", i, iv.Name, iv.Weekday)
		}
		if !iv.Start.Valid() || !iv.End.Valid() {
			return fmt.Errorf("timetable[%d] %q: invalid start/end", i, iv.Name)
		}
	}
	return nil
}

// DefaultTable is the cohort's timetable used when none is configured.
func DefaultTable() Table {
	return Table{
		{Name: "CTIN 534 Lecture", Weekday: Monday, Start: Clock{11, 30}, End: Clock{13, 50}},
		{Name: "CTIN 541 Lecture", Weekday: Monday, Start: Clock{14, 0}, End: Clock{16, 50}},
		{Name: "CTIN 541 Lab", Weekday: Tuesday, Start: Clock{10, 0}, End: Clock{12, 50}},
		{Name: "CTIN 534 Lab", Weekday: Friday, Start: Clock{11, 30}, End: Clock{13, 50}},
	}
}

const week = 7

// weekStart returns Monday 00:00 of now's week, in now's location.
func weekStart(now time.Time) time.Time {
	y, m, d := now.Date()
	back := int(isoWeekday(now.Weekday())) - 1
	return time.Date(y, m, d-back, 0, 0, 0, 0, now.Location())
}

// at returns the instant of weekday+clock within the week starting at ws.
// Calendar arithmetic goes through time.Date so DST days keep wall-clock time.
func at(ws time.Time, wd Weekday, c Clock, addDays int) time.Time {
	y, m, d := ws.Date()
	return time.Date(y, m, d+int(wd)-1+addDays, c.Hour, c.Minute, 0, 0, ws.Location())
}

// occurrenceFor builds the occurrence of iv in the week starting at ws,
// moving the end forward a day when the interval crosses midnight.
func occurrenceFor(ws time.Time, iv Interval, weekOffset int) Occurrence {
	start := at(ws, iv.Weekday, iv.Start, weekOffset*week)
	end := at(ws, iv.Weekday, iv.End, weekOffset*week)
	if end.Before(start) {
		end = at(ws, iv.Weekday, iv.End, weekOffset*week+1)
	}
	return Occurrence{Interval: iv, Start: start, End: end}
}

// rangeFor returns the occurrence of iv relevant to now: this week's, or next
// week's once this week's has fully elapsed. A previous-week occurrence that
// spills past Monday midnight (Sunday night blocks) is preferred while it
// still contains now.
func rangeFor(now time.Time, iv Interval) Occurrence {
	ws := weekStart(now)
	if prev := occurrenceFor(ws, iv, -1); !now.After(prev.End) && !now.Before(prev.Start) {
		return prev
	}
	occ := occurrenceFor(ws, iv, 0)
	if now.After(occ.End) {
		return occurrenceFor(ws, iv, 1)
	}
	return occ
}

// ActiveAt returns the first interval, in table order, whose occurrence
// contains now (inclusive on both ends).
func ActiveAt(now time.Time, table Table) (Occurrence, bool) {
	for _, iv := range table {
		occ := rangeFor(now, iv)
		if !now.Before(occ.Start) && !now.After(occ.End) {
			return occ, true
		}
	}
	return Occurrence{}, false
}

// NextOccurrence returns the interval starting soonest at or after now.
// Ties keep table order.
func NextOccurrence(now time.Time, table Table) (Occurrence, bool) {
	if len(table) == 0 {
		return Occurrence{}, false
	}
	ws := weekStart(now)
	occs := make([]Occurrence, 0, len(table))
	for _, iv := range table {
		occ := occurrenceFor(ws, iv, 0)
		if now.After(occ.Start) {
			occ = occurrenceFor(ws, iv, 1)
		}
		occs = append(occs, occ)
	}
	sort.SliceStable(occs, func(i, j int) bool { return occs[i].Start.Before(occs[j].Start) })
	return occs[0], true
}
