package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bongobot/internal/timetable"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "config.yaml", `
transport:
  platform: telegram
telegram:
  token: "123:abc"
timezone: Europe/Berlin
classes:
  timetable:
    - name: Studio
      weekday: 3
      start: "09:00"
      end: "12:00"
birthdays:
  fallback_channel: "-1001"
storage:
  driver: sqlite
  path: ./bday.db
`)
	m := NewConfigManager(p)
	m.SetEnv(envMap(nil))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Token() != "123:abc" {
		t.Fatalf("Token() = %q", cfg.Token())
	}
	tbl, err := cfg.Timetable()
	if err != nil {
		t.Fatalf("Timetable() error: %v", err)
	}
	want := timetable.Interval{Name: "Studio", Weekday: timetable.Wednesday, Start: timetable.Clock{Hour: 9}, End: timetable.Clock{Hour: 12}}
	if len(tbl) != 1 || tbl[0] != want {
		t.Fatalf("Timetable() = %+v, want [%+v]", tbl, want)
	}
	if cfg.Birthdays.Poll != DefaultPoll {
		t.Fatalf("Birthdays.Poll = %q, want default %q", cfg.Birthdays.Poll, DefaultPoll)
	}
	if m.Get() != cfg {
		t.Fatal("Get() did not return the committed config")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	tests := []struct {
		name string
		file string
		body string
	}{
		{name: "json unknown", file: "c.json", body: `{"telegram":{"token":"x"},"nope":1}`},
		{name: "yaml unknown", file: "c.yml", body: "telegram:\n  tokn: x\n"},
		{name: "json trailing", file: "t.json", body: `{} {}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewConfigManager(writeFile(t, dir, tt.file, tt.body))
			m.SetEnv(envMap(nil))
			if _, err := m.Parse(); err == nil {
				t.Fatalf("Parse(%s) succeeded, want error", tt.body)
			}
		})
	}
}

func TestMissingFileUsesEnvironment(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(filepath.Join(t.TempDir(), "absent.json"))
	m.SetEnv(envMap(map[string]string{
		EnvToken:           "discord-token",
		EnvGuildID:         "42",
		EnvTimezone:        "UTC",
		EnvFallbackChannel: "c-1",
		EnvStorePath:       "/tmp/b.json",
	}))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Transport.Platform != PlatformDiscord {
		t.Fatalf("platform = %q, want discord", cfg.Transport.Platform)
	}
	if cfg.Discord.Token != "discord-token" || cfg.Discord.GuildID != "42" {
		t.Fatalf("discord = %+v", cfg.Discord)
	}
	if cfg.Birthdays.FallbackChannel != "c-1" || cfg.Storage.Path != "/tmp/b.json" || cfg.Storage.Driver != "file" {
		t.Fatalf("birthdays/storage = %+v / %+v", cfg.Birthdays, cfg.Storage)
	}
	tbl, _ := cfg.Timetable()
	if len(tbl) != len(timetable.DefaultTable()) {
		t.Fatalf("Timetable() = %d intervals, want default table", len(tbl))
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "c.json", `{"transport":{"platform":"telegram"},"telegram":{"token":"file"},"timezone":"UTC"}`)
	m := NewConfigManager(p)
	m.SetEnv(envMap(map[string]string{EnvToken: "env", EnvTimezone: "Asia/Jakarta"}))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Telegram.Token != "env" || cfg.Discord.Token != "" {
		t.Fatalf("token routed to wrong platform: telegram=%q discord=%q", cfg.Telegram.Token, cfg.Discord.Token)
	}
	if cfg.Timezone != "Asia/Jakarta" {
		t.Fatalf("Timezone = %q", cfg.Timezone)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() *Config {
		c := &Config{Discord: DiscordConfig{Token: "t"}}
		ApplyDefaults(c)
		return c
	}
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "ok", mutate: func(*Config) {}},
		{name: "no token", mutate: func(c *Config) { c.Discord.Token = "" }, wantErr: "token is empty"},
		{name: "bad platform", mutate: func(c *Config) { c.Transport.Platform = "irc" }, wantErr: "unknown platform"},
		{name: "bad tz", mutate: func(c *Config) { c.Timezone = "Mars/Olympus" }, wantErr: "timezone"},
		{name: "bad weekday", mutate: func(c *Config) {
			c.Classes.Timetable = []IntervalConfig{{Name: "x", Weekday: 0, Start: "09:00", End: "10:00"}}
		}, wantErr: "weekday"},
		{name: "bad clock", mutate: func(c *Config) {
			c.Classes.Timetable = []IntervalConfig{{Name: "x", Weekday: 1, Start: "9am", End: "10:00"}}
		}, wantErr: "start"},
		{name: "bad driver", mutate: func(c *Config) { c.Storage.Driver = "redis" }, wantErr: "storage.driver"},
		{name: "bad duration", mutate: func(c *Config) { c.Birthdays.ScanTimeout = "soon" }, wantErr: "scan_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := Validate(c)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDurations(t *testing.T) {
	t.Parallel()
	c := &Config{Transport: TransportConfig{CommandTimeout: "3s"}}
	if got := c.CommandTimeout(); got != 3*time.Second {
		t.Fatalf("CommandTimeout() = %s, want 3s", got)
	}
	if got := c.ScanTimeout(); got != 45*time.Second {
		t.Fatalf("ScanTimeout() default = %s, want 45s", got)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("ParseDurationField accepted a negative duration")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	a := &Config{Logging: LoggingConfig{Level: "info"}, Discord: DiscordConfig{Token: "a"}}
	b := &Config{Logging: LoggingConfig{Level: "debug"}, Discord: DiscordConfig{Token: "b"}}
	changed, _ := SummarizeConfigChange(a, b)
	if strings.Join(changed, ",") != "discord,logging" {
		t.Fatalf("changed = %v, want [discord logging]", changed)
	}
	if got := RestartRequired(changed); strings.Join(got, ",") != "discord" {
		t.Fatalf("RestartRequired = %v, want [discord]", got)
	}
}

func TestWatchPublishesReload(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "c.json", `{"discord":{"token":"t"},"logging":{"level":"info","console":true}}`)
	m := NewConfigManager(p)
	m.SetEnv(envMap(nil))
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()

	// Give the watcher time to register before writing.
	time.Sleep(200 * time.Millisecond)
	writeFile(t, dir, "c.json", `{"discord":{"token":"t"},"logging":{"level":"debug","console":true}}`)

	select {
	case cfg := <-ch:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("reloaded level = %q, want debug", cfg.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no config published after file change")
	}
	cancel()
	<-done
}
