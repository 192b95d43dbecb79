package config

type Config struct {
	Transport TransportConfig `json:"transport"`
	Telegram  TelegramConfig  `json:"telegram"`
	Discord   DiscordConfig   `json:"discord"`
	Logging   LoggingConfig   `json:"logging"`

	// Timezone is the IANA zone used for the timetable and "today".
	Timezone string `json:"timezone,omitempty"`

	Classes   ClassesConfig   `json:"classes"`
	Birthdays BirthdaysConfig `json:"birthdays"`
	Storage   StorageConfig   `json:"storage"`
}

// TransportConfig selects the chat platform served by this process.
type TransportConfig struct {
	Platform string `json:"platform"` // "discord" | "telegram"
	// OwnerUserIDs always pass manage checks.
	OwnerUserIDs []string `json:"owner_user_ids,omitempty"`
	// Workers is the command worker pool size (default: NumCPU, min 2).
	Workers int `json:"workers,omitempty"`
	// CommandTimeout is a Go duration string applied to every handler.
	CommandTimeout string `json:"command_timeout,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type DiscordConfig struct {
	Token string `json:"token,omitempty"`
	// GuildID scopes command registration; empty registers global commands.
	GuildID string `json:"guild_id,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	Target     string `json:"target"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// ClassesConfig holds the weekly timetable. An empty list uses the built-in table.
type ClassesConfig struct {
	Timetable []IntervalConfig `json:"timetable,omitempty"`
}

type IntervalConfig struct {
	Name    string `json:"name"`
	Weekday int    `json:"weekday"` // 1=Mon .. 7=Sun
	Start   string `json:"start"`   // "HH:MM"
	End     string `json:"end"`     // "HH:MM"
}

type BirthdaysConfig struct {
	// FallbackChannel receives announcements for tenants without a channel.
	FallbackChannel string `json:"fallback_channel,omitempty"`
	// Poll is the scan schedule: "1m", "@every 1m" or a cron expression.
	Poll string `json:"poll,omitempty"`
	// ScanTimeout bounds one scan across all tenants (Go duration).
	ScanTimeout string `json:"scan_timeout,omitempty"`
	// AnnounceRatePerSec paces announcement sends across tenants.
	AnnounceRatePerSec float64 `json:"announce_rate_per_sec,omitempty"`
}

// StorageConfig controls the birthday store.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/birthdays.json" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}
