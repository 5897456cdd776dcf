package config

import (
	"reflect"
	"sort"
	"strings"

	logx "remindbot/pkg/logx"
)

// Change summarizes the difference between two configs.
type Change struct {
	// Sections lists changed top-level sections, sorted.
	Sections []string
	// Attrs are safe log fields; secrets are reported only as "set".
	Attrs []logx.Field
	// RestartRequired lists changed keys that only apply after a restart.
	RestartRequired []string
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// Summarize compares two configs. A nil side is treated as empty.
func Summarize(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	restart := func(key string) { ch.RestartRequired = append(ch.RestartRequired, key) }

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	tokenChanged := strings.TrimSpace(ot.Token) != strings.TrimSpace(nt.Token)
	if tokenChanged || ot.PollTimeout != nt.PollTimeout || ot.OpsChatID != nt.OpsChatID ||
		!reflect.DeepEqual(ot.AllowedUserIDs, nt.AllowedUserIDs) {
		ch.Sections = append(ch.Sections, "telegram")
		ch.Attrs = append(ch.Attrs,
			logx.Bool("telegram.token_changed", tokenChanged),
			logx.String("telegram.poll_timeout", nt.PollTimeout),
			logx.Bool("telegram.ops_chat_set", nt.OpsChatID != 0),
			logx.Int("telegram.allowed_users", len(nt.AllowedUserIDs)),
		)
		if tokenChanged {
			restart("telegram.token")
		}
		if ot.PollTimeout != nt.PollTimeout {
			restart("telegram.poll_timeout")
		}
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		nl := newCfg.Logging
		ch.Sections = append(ch.Sections, "logging")
		ch.Attrs = append(ch.Attrs,
			logx.String("logging.level", nl.Level),
			logx.Bool("logging.console", nl.Console),
			logx.Bool("logging.file_enabled", nl.File.Enabled),
			logx.Bool("logging.telegram_enabled", nl.Telegram.Enabled),
		)
	}

	or, nr := oldCfg.Reminders, newCfg.Reminders
	if !reflect.DeepEqual(or, nr) {
		ch.Sections = append(ch.Sections, "reminders")
		ch.Attrs = append(ch.Attrs,
			logx.String("reminders.timezone", nr.Timezone),
			logx.Bool("reminders.fire_missed", nr.FireMissed),
			logx.String("reminders.sweep", nr.Sweep),
			logx.Any("reminders.postpone_minutes", nr.PostponeMinutes),
			logx.String("reminders.snooze_window", nr.SnoozeWindow),
		)
		if or.Timezone != nr.Timezone {
			restart("reminders.timezone")
		}
		if or.Sweep != nr.Sweep {
			restart("reminders.sweep")
		}
	}

	os, ns := oldCfg.Storage, newCfg.Storage
	if !reflect.DeepEqual(os, ns) {
		ch.Sections = append(ch.Sections, "storage")
		ch.Attrs = append(ch.Attrs,
			logx.String("storage.driver", ns.Driver),
			logx.Bool("storage.path_set", ns.Path != ""),
			logx.Bool("storage.dsn_set", ns.DSN != ""),
		)
		restart("storage")
	}

	if oldCfg.Debug != newCfg.Debug {
		nd := newCfg.Debug
		ch.Sections = append(ch.Sections, "debug")
		ch.Attrs = append(ch.Attrs,
			logx.Bool("debug.enabled", nd.Enabled),
			logx.String("debug.addr", nd.Addr),
			logx.Bool("debug.pprof", nd.Pprof),
			logx.Bool("debug.token_set", nd.Token != ""),
		)
	}

	sort.Strings(ch.Sections)
	return ch
}
