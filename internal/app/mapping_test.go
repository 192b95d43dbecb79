package app

import (
	"testing"
	"time"

	"bongobot/internal/config"
	kit "bongobot/internal/transport"
	logx "bongobot/pkg/logx"
)

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Storage: config.StorageConfig{Driver: " JSON ", Path: " ./b.json ", BusyTimeout: "3s"}}
	sc := mapStorageConfig(cfg)
	if sc.Driver != "file" || sc.Path != "./b.json" || sc.BusyTimeout != 3*time.Second {
		t.Fatalf("mapStorageConfig() = %+v", sc)
	}
}

func TestAnnounceLimiter(t *testing.T) {
	t.Parallel()
	if l := announceLimiter(&config.Config{}); l != nil {
		t.Fatal("announceLimiter(0) should be nil")
	}
	cfg := &config.Config{Birthdays: config.BirthdaysConfig{AnnounceRatePerSec: 2}}
	l := announceLimiter(cfg)
	if l == nil || float64(l.Limit()) != 2 || l.Burst() != 1 {
		t.Fatalf("announceLimiter(2) = %v", l)
	}
}

func TestMapLogConfig(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Logging: config.LoggingConfig{
		Level: "debug",
		Chat:  config.LoggingChat{Enabled: true, Target: "-100", MinLevel: "error", RatePerSec: 3},
	}}
	lc := mapLogConfig(cfg)
	if lc.Level != "debug" || !lc.Chat.Enabled || lc.Chat.Target != "-100" || lc.Chat.RatePerSec != 3 {
		t.Fatalf("mapLogConfig() = %+v", lc)
	}
}

func TestNewAdapter(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Transport: config.TransportConfig{Platform: "discord"},
		Discord:   config.DiscordConfig{Token: "abc", GuildID: "g1"},
	}
	ad, err := newAdapter(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("newAdapter(discord) = %v", err)
	}
	if ad.Platform() != kit.PlatformDiscord {
		t.Fatalf("Platform() = %s, want discord", ad.Platform())
	}
	if _, ok := ad.(kit.CommandRegistrar); !ok {
		t.Fatal("discord adapter should register commands")
	}

	cfg.Transport.Platform = "irc"
	if _, err := newAdapter(cfg, logx.Nop()); err == nil {
		t.Fatal("newAdapter(irc) should fail")
	}
}
