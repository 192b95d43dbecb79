package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"bongobot/internal/timetable"
)

const (
	PlatformDiscord  = "discord"
	PlatformTelegram = "telegram"

	DefaultTimezone  = "America/Los_Angeles"
	DefaultStorePath = "./data/birthdays.json"
	DefaultPoll      = "1m"
)

func platformOf(cfg *Config) string {
	p := strings.ToLower(strings.TrimSpace(cfg.Transport.Platform))
	if p == "" {
		return PlatformDiscord
	}
	return p
}

// ApplyDefaults fills unset fields.
func ApplyDefaults(cfg *Config) {
	cfg.Transport.Platform = platformOf(cfg)
	if strings.TrimSpace(cfg.Timezone) == "" {
		cfg.Timezone = DefaultTimezone
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
		cfg.Logging.Console = true
	}
	if strings.TrimSpace(cfg.Storage.Driver) == "" {
		cfg.Storage.Driver = "file"
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		cfg.Storage.Path = DefaultStorePath
	}
	if strings.TrimSpace(cfg.Birthdays.Poll) == "" {
		cfg.Birthdays.Poll = DefaultPoll
	}
}

// Token returns the token for the selected platform.
func (c *Config) Token() string {
	if platformOf(c) == PlatformTelegram {
		return strings.TrimSpace(c.Telegram.Token)
	}
	return strings.TrimSpace(c.Discord.Token)
}

// Location loads the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Timezone)
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", name, err)
	}
	return loc, nil
}

// Timetable converts the configured intervals, falling back to the built-in table.
func (c *Config) Timetable() (timetable.Table, error) {
	if len(c.Classes.Timetable) == 0 {
		return timetable.DefaultTable(), nil
	}
	out := make(timetable.Table, 0, len(c.Classes.Timetable))
	for i, ic := range c.Classes.Timetable {
		start, err := timetable.ParseClock(ic.Start)
		if err != nil {
			return nil, fmt.Errorf("classes.timetable[%d].start: %w", i, err)
		}
		end, err := timetable.ParseClock(ic.End)
		if err != nil {
			return nil, fmt.Errorf("classes.timetable[%d].end: %w", i, err)
		}
		out = append(out, timetable.Interval{
			Name:    strings.TrimSpace(ic.Name),
			Weekday: timetable.Weekday(ic.Weekday),
			Start:   start,
			End:     end,
		})
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// Validate checks a defaulted config.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	switch platformOf(cfg) {
	case PlatformDiscord, PlatformTelegram:
	default:
		errs = append(errs, fmt.Errorf("transport.platform: unknown platform %q", cfg.Transport.Platform))
	}
	if cfg.Token() == "" {
		errs = append(errs, fmt.Errorf("%s token is empty (set %s)", platformOf(cfg), EnvToken))
	}
	if _, err := cfg.Location(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.Timetable(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "file", "json", "sqlite", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("birthdays.scan_timeout", cfg.Birthdays.ScanTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("transport.command_timeout", cfg.Transport.CommandTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}
	if cfg.Birthdays.AnnounceRatePerSec < 0 {
		errs = append(errs, errors.New("birthdays.announce_rate_per_sec must be >= 0"))
	}
	return errors.Join(errs...)
}
