package config

import (
	"reflect"

	logx "bongobot/pkg/logx"
)

// LiveSections lists config sections applied without a restart.
var LiveSections = map[string]bool{"logging": true}

// SummarizeConfigChange returns the changed top-level sections and safe log
// fields describing them. Tokens are never logged.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var changed []string
	var fields []logx.Field
	note := func(section string, differs bool, f ...logx.Field) {
		if differs {
			changed = append(changed, section)
			fields = append(fields, f...)
		}
	}

	note("transport", !reflect.DeepEqual(oldCfg.Transport, newCfg.Transport),
		logx.String("transport.platform", newCfg.Transport.Platform),
		logx.Int("transport.owner_count", len(newCfg.Transport.OwnerUserIDs)))
	note("telegram", !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram),
		logx.String("telegram.poll_timeout", newCfg.Telegram.PollTimeout),
		logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token))
	note("discord", !reflect.DeepEqual(oldCfg.Discord, newCfg.Discord),
		logx.String("discord.guild_id", newCfg.Discord.GuildID),
		logx.Bool("discord.token_changed", oldCfg.Discord.Token != newCfg.Discord.Token))
	note("logging", !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging),
		logx.String("logging.level", newCfg.Logging.Level),
		logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		logx.Bool("logging.chat", newCfg.Logging.Chat.Enabled))
	note("timezone", oldCfg.Timezone != newCfg.Timezone,
		logx.String("timezone", newCfg.Timezone))
	note("classes", !reflect.DeepEqual(oldCfg.Classes, newCfg.Classes),
		logx.Int("classes.intervals", len(newCfg.Classes.Timetable)))
	note("birthdays", !reflect.DeepEqual(oldCfg.Birthdays, newCfg.Birthdays),
		logx.String("birthdays.poll", newCfg.Birthdays.Poll))
	note("storage", !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage),
		logx.String("storage.driver", newCfg.Storage.Driver))

	return changed, fields
}

// RestartRequired filters sections that only take effect after a restart.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		if !LiveSections[s] {
			out = append(out, s)
		}
	}
	return out
}
