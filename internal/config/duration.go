package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a non-negative Go duration; empty means zero.
// path names the field in error messages.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func durationOr(path, raw string, def time.Duration) time.Duration {
	d, err := ParseDurationField(path, raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func (c *Config) CommandTimeout() time.Duration {
	return durationOr("transport.command_timeout", c.Transport.CommandTimeout, 15*time.Second)
}

func (c *Config) ScanTimeout() time.Duration {
	return durationOr("birthdays.scan_timeout", c.Birthdays.ScanTimeout, 45*time.Second)
}

func (c *Config) PollTimeout() time.Duration {
	return durationOr("telegram.poll_timeout", c.Telegram.PollTimeout, 10*time.Second)
}

func (c *Config) BusyTimeout() time.Duration {
	return durationOr("storage.busy_timeout", c.Storage.BusyTimeout, time.Second)
}
