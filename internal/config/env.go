package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override the config file.
const (
	EnvPlatform        = "BOT_PLATFORM"
	EnvToken           = "BOT_TOKEN"
	EnvGuildID         = "GUILD_ID"
	EnvTimezone        = "TIMEZONE"
	EnvFallbackChannel = "BIRTHDAY_CHANNEL_ID"
	EnvStorePath       = "BIRTHDAY_STORE_PATH"
	EnvStorageDriver   = "STORAGE_DRIVER"
	EnvLogLevel        = "LOG_LEVEL"
)

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// ApplyEnv overlays non-empty environment values onto cfg. getenv defaults
// to os.Getenv.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	get := func(k string) string { return strings.TrimSpace(getenv(k)) }

	if v := get(EnvPlatform); v != "" {
		cfg.Transport.Platform = strings.ToLower(v)
	}
	if v := get(EnvToken); v != "" {
		if platformOf(cfg) == PlatformTelegram {
			cfg.Telegram.Token = v
		} else {
			cfg.Discord.Token = v
		}
	}
	if v := get(EnvGuildID); v != "" {
		cfg.Discord.GuildID = v
	}
	if v := get(EnvTimezone); v != "" {
		cfg.Timezone = v
	}
	if v := get(EnvFallbackChannel); v != "" {
		cfg.Birthdays.FallbackChannel = v
	}
	if v := get(EnvStorePath); v != "" {
		cfg.Storage.Path = v
	}
	if v := get(EnvStorageDriver); v != "" {
		cfg.Storage.Driver = strings.ToLower(v)
	}
	if v := get(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
}
