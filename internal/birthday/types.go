package birthday

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidDate means the month/day pair does not exist in any year.
	ErrInvalidDate = errors.New("invalid date")
	// ErrPermissionDenied means the requester lacks the tenant manage capability.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrDelivery wraps announcement send failures.
	ErrDelivery = errors.New("announcement delivery failed")
)

// Record is one stored birthday. MD ("MM-DD") is derived from Month and Day.
type Record struct {
	Name    string `json:"name"`
	Month   int    `json:"month"`
	Day     int    `json:"day"`
	AddedBy string `json:"addedBy"`
	MD      string `json:"md"`
}

// Registry is the per-tenant state.
type Registry struct {
	ChannelID   string
	Entries     []Record
	AnnouncedOn string // civil date of the last successful announcement
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (r *Registry) Clone() *Registry {
	if r == nil {
		return &Registry{Entries: []Record{}}
	}
	cp := *r
	cp.Entries = append(make([]Record, 0, len(r.Entries)), r.Entries...)
	return &cp
}

// Repository persists tenant registries.
//
// Get never returns nil for a tenant it has not seen; it returns an empty
// registry. Implementations are safe for concurrent use.
type Repository interface {
	Get(ctx context.Context, tenantID string) (*Registry, error)
	Save(ctx context.Context, tenantID string, reg *Registry) error
	Tenants(ctx context.Context) ([]string, error)
}

// Announcer delivers an announcement to a channel.
type Announcer interface {
	Announce(ctx context.Context, channelID, text string) error
}

// AnnouncerFunc adapts a function to Announcer.
type AnnouncerFunc func(ctx context.Context, channelID, text string) error

func (f AnnouncerFunc) Announce(ctx context.Context, channelID, text string) error {
	return f(ctx, channelID, text)
}

// leapReference is used to validate dates so Feb-29 is always accepted.
const leapReference = 2000

// MonthDayKey returns the canonical "MM-DD" key.
func MonthDayKey(month, day int) string {
	return fmt.Sprintf("%02d-%02d", month, day)
}

// ValidDate reports whether month/day exists in at least one calendar year.
func ValidDate(month, day int) bool {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return false
	}
	t := time.Date(leapReference, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return int(t.Month()) == month && t.Day() == day
}

// NewRecord validates and builds a record.
func NewRecord(name string, month, day int, addedBy string) (Record, error) {
	if !ValidDate(month, day) {
		return Record{}, fmt.Errorf("%w: month %d day %d", ErrInvalidDate, month, day)
	}
	return Record{Name: name, Month: month, Day: day, AddedBy: addedBy, MD: MonthDayKey(month, day)}, nil
}

// DateKey formats the civil date as stored in Registry.AnnouncedOn.
func DateKey(t time.Time) string { return t.Format(time.DateOnly) }

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// matchKeys returns the MD keys celebrated on the civil date of today.
// On Feb 28 of a non-leap year, Feb 29 birthdays are celebrated too.
func matchKeys(today time.Time) []string {
	keys := []string{MonthDayKey(int(today.Month()), today.Day())}
	if today.Month() == time.February && today.Day() == 28 && !isLeap(today.Year()) {
		keys = append(keys, MonthDayKey(2, 29))
	}
	return keys
}
