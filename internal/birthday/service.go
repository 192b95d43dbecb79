package birthday

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"bongobot/internal/eventbus"
	logx "bongobot/pkg/logx"
)

const (
	EventAdded          = "birthday.added"
	EventAnnounced      = "birthday.announced"
	EventAnnounceFailed = "birthday.announce_failed"
)

type Options struct {
	// Location is the civil timezone "today" is computed in. Defaults to UTC.
	Location *time.Location
	// FallbackChannel is used for tenants without their own channel.
	FallbackChannel string
	// Limiter paces announcement sends. Nil means unlimited.
	Limiter *rate.Limiter
	Bus     eventbus.Bus
	Now     func() time.Time
}

// Service implements the birthday registry operations on top of a Repository.
//
// Operations on one tenant are serialized; a scan and a concurrent add for the
// same tenant cannot both observe a stale AnnouncedOn.
type Service struct {
	repo     Repository
	announce Announcer
	log      logx.Logger
	opt      Options

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(repo Repository, announce Announcer, log logx.Logger, opt Options) *Service {
	if opt.Location == nil {
		opt.Location = time.UTC
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		repo:     repo,
		announce: announce,
		log:      log,
		opt:      opt,
		locks:    map[string]*sync.Mutex{},
	}
}

func (s *Service) Location() *time.Location { return s.opt.Location }

// Today returns the current instant in the configured timezone.
func (s *Service) Today() time.Time { return s.opt.Now().In(s.opt.Location) }

func (s *Service) lock(tenantID string) func() {
	s.mu.Lock()
	l, ok := s.locks[tenantID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[tenantID] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// AddResult reports what Add did.
type AddResult struct {
	Record Record
	// AnnouncedNow is true when the birthday is today and the immediate
	// announcement was delivered.
	AnnouncedNow bool
}

// Add validates and appends a birthday, then persists the registry.
//
// When the birthday is today, a single-record announcement is sent right away
// and, on success, the tenant is marked announced for today. That mark also
// suppresses the periodic scan for the rest of the day.
func (s *Service) Add(ctx context.Context, tenantID, name string, month, day int, addedBy string) (AddResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return AddResult{}, errors.New("name is required")
	}
	rec, err := NewRecord(name, month, day, addedBy)
	if err != nil {
		return AddResult{}, err
	}

	unlock := s.lock(tenantID)
	defer unlock()

	reg, err := s.repo.Get(ctx, tenantID)
	if err != nil {
		return AddResult{}, fmt.Errorf("load registry: %w", err)
	}
	reg = reg.Clone()
	reg.Entries = append(reg.Entries, rec)
	if err := s.repo.Save(ctx, tenantID, reg); err != nil {
		return AddResult{}, fmt.Errorf("save registry: %w", err)
	}
	s.publish(EventAdded, tenantID, map[string]any{"name": rec.Name, "md": rec.MD, "added_by": addedBy})

	res := AddResult{Record: rec}
	today := s.Today()
	if rec.MD != MonthDayKey(int(today.Month()), today.Day()) {
		return res, nil
	}
	channel := s.channelFor(reg)
	if channel == "" {
		return res, nil
	}
	if err := s.send(ctx, tenantID, channel, FormatAnnouncement([]Record{rec})); err != nil {
		return res, nil
	}
	reg.AnnouncedOn = DateKey(today)
	if err := s.repo.Save(ctx, tenantID, reg); err != nil {
		s.log.Warn("birthday: mark announced failed", logx.String("tenant", tenantID), logx.Err(err))
	}
	res.AnnouncedNow = true
	return res, nil
}

// List returns the tenant's birthdays sorted by month, day, then name.
// An empty slice means no birthdays have been added.
func (s *Service) List(ctx context.Context, tenantID string) ([]Record, error) {
	reg, err := s.repo.Get(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}
	out := append([]Record(nil), reg.Entries...)
	SortRecords(out)
	return out, nil
}

// Channel returns the tenant's configured announcement channel, or the
// process fallback when unset.
func (s *Service) Channel(ctx context.Context, tenantID string) (string, error) {
	reg, err := s.repo.Get(ctx, tenantID)
	if err != nil {
		return "", err
	}
	return s.channelFor(reg), nil
}

// SetAnnouncementChannel stores the tenant's announcement channel.
// canManage is the requester's tenant manage capability as resolved by the transport.
func (s *Service) SetAnnouncementChannel(ctx context.Context, tenantID, channelID string, canManage bool) error {
	if !canManage {
		return ErrPermissionDenied
	}
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return errors.New("channel is required")
	}

	unlock := s.lock(tenantID)
	defer unlock()

	reg, err := s.repo.Get(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}
	reg = reg.Clone()
	reg.ChannelID = channelID
	if err := s.repo.Save(ctx, tenantID, reg); err != nil {
		return fmt.Errorf("save registry: %w", err)
	}
	return nil
}

// DailyScan announces today's birthdays for one tenant, at most once per
// civil day. It reports whether an announcement was sent.
//
// The tenant is only marked announced after a successful send with a
// non-empty match set, so a birthday added later the same day, or a failed
// delivery, is picked up by the next scan.
func (s *Service) DailyScan(ctx context.Context, tenantID string, today time.Time) (bool, error) {
	unlock := s.lock(tenantID)
	defer unlock()

	reg, err := s.repo.Get(ctx, tenantID)
	if err != nil {
		return false, fmt.Errorf("load registry: %w", err)
	}
	day := DateKey(today)
	if reg.AnnouncedOn == day {
		return false, nil
	}

	matches := Matches(reg.Entries, today)
	if len(matches) == 0 {
		return false, nil
	}
	channel := s.channelFor(reg)
	if channel == "" {
		s.log.Debug("birthday: no announcement channel", logx.String("tenant", tenantID), logx.Int("matches", len(matches)))
		return false, nil
	}
	if err := s.send(ctx, tenantID, channel, FormatAnnouncement(matches)); err != nil {
		return false, err
	}

	reg = reg.Clone()
	reg.AnnouncedOn = day
	if err := s.repo.Save(ctx, tenantID, reg); err != nil {
		return true, fmt.Errorf("save registry: %w", err)
	}
	return true, nil
}

// ScanAll runs DailyScan for every known tenant using today's date in the
// configured timezone.
func (s *Service) ScanAll(ctx context.Context) error {
	tenants, err := s.repo.Tenants(ctx)
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}
	today := s.Today()
	sent := 0
	for _, id := range tenants {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ok, err := s.DailyScan(ctx, id, today)
		switch {
		case errors.Is(err, ErrDelivery):
			// already logged; retried on the next scan
		case err != nil:
			s.log.Warn("birthday: scan failed", logx.String("tenant", id), logx.Err(err))
		case ok:
			sent++
		}
	}
	if sent > 0 {
		s.log.Info("birthday: scan announced", logx.Int("tenants", len(tenants)), logx.Int("announced", sent), logx.String("date", DateKey(today)))
	}
	return nil
}

func (s *Service) channelFor(reg *Registry) string {
	if reg != nil && strings.TrimSpace(reg.ChannelID) != "" {
		return reg.ChannelID
	}
	return strings.TrimSpace(s.opt.FallbackChannel)
}

func (s *Service) send(ctx context.Context, tenantID, channelID, text string) error {
	if s.opt.Limiter != nil {
		if err := s.opt.Limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrDelivery, err)
		}
	}
	if s.announce == nil {
		return fmt.Errorf("%w: no announcer", ErrDelivery)
	}
	if err := s.announce.Announce(ctx, channelID, text); err != nil {
		s.log.Warn("birthday: announcement failed", logx.String("tenant", tenantID), logx.String("channel", channelID), logx.Err(err))
		s.publish(EventAnnounceFailed, tenantID, map[string]any{"channel": channelID, "err": err.Error()})
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	s.publish(EventAnnounced, tenantID, map[string]any{"channel": channelID})
	return nil
}

func (s *Service) publish(typ, tenantID string, data map[string]any) {
	if s.opt.Bus == nil {
		return
	}
	data["tenant"] = tenantID
	s.opt.Bus.Publish(eventbus.Event{Type: typ, Data: data})
}

// Matches returns the records celebrated on today's civil date, sorted.
func Matches(entries []Record, today time.Time) []Record {
	keys := matchKeys(today)
	var out []Record
	for _, r := range entries {
		for _, k := range keys {
			if r.MD == k {
				out = append(out, r)
				break
			}
		}
	}
	SortRecords(out)
	return out
}

// SortRecords orders records by month, day, then name.
func SortRecords(rs []Record) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].Month != rs[j].Month {
			return rs[i].Month < rs[j].Month
		}
		if rs[i].Day != rs[j].Day {
			return rs[i].Day < rs[j].Day
		}
		return rs[i].Name < rs[j].Name
	})
}
