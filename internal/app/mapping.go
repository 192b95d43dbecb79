package app

import (
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"bongobot/internal/config"
	"bongobot/internal/storage"
	kit "bongobot/internal/transport"
	"bongobot/internal/transport/discord"
	"bongobot/internal/transport/telegram"
	logx "bongobot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    lc.Chat.Enabled,
			Target:     lc.Chat.Target,
			ThreadID:   lc.Chat.ThreadID,
			MinLevel:   lc.Chat.MinLevel,
			RatePerSec: lc.Chat.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) storage.Config {
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver == "json" {
		driver = "file"
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: cfg.BusyTimeout(),
	}
}

// announceLimiter paces announcement sends; nil when unlimited.
func announceLimiter(cfg *config.Config) *rate.Limiter {
	r := cfg.Birthdays.AnnounceRatePerSec
	if r <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(r), 1)
}

func newAdapter(cfg *config.Config, log logx.Logger) (kit.Adapter, error) {
	switch p := strings.ToLower(strings.TrimSpace(cfg.Transport.Platform)); p {
	case config.PlatformTelegram:
		ad, err := telegram.New(telegram.Config{
			Token:       cfg.Token(),
			PollTimeout: cfg.PollTimeout(),
		}, log)
		if err != nil {
			return nil, err
		}
		return ad, nil
	case config.PlatformDiscord, "":
		ad, err := discord.New(discord.Config{
			Token:   cfg.Token(),
			GuildID: strings.TrimSpace(cfg.Discord.GuildID),
		}, log)
		if err != nil {
			return nil, err
		}
		return ad, nil
	default:
		return nil, fmt.Errorf("unknown platform %q", p)
	}
}
