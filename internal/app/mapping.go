package app

import (
	"remindbot/internal/config"
	"remindbot/internal/notifier"
	"remindbot/internal/observability/debug"
	"remindbot/internal/services/reminders"
	"remindbot/internal/storage"
	telegram "remindbot/internal/transport/telegram/adapter"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
)

// The config has already been defaulted and validated, so these only
// translate field names and parse durations.

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Ops: logx.OpsConfig{
			Enabled:    l.Telegram.Enabled,
			ChatID:     cfg.Telegram.OpsChatID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) storage.Config {
	s := cfg.Storage
	return storage.Config{
		Driver:      s.Driver,
		Path:        s.Path,
		DSN:         s.DSN,
		BusyTimeout: config.Duration(s.BusyTimeout),
	}
}

func mapRemindersConfig(cfg *config.Config) (reminders.Config, error) {
	loc, err := cfg.Location()
	if err != nil {
		return reminders.Config{}, err
	}
	r := cfg.Reminders
	sweep := r.Sweep
	if sweep == config.SweepOff {
		sweep = ""
	}
	return reminders.Config{
		Location:        loc,
		FireMissed:      r.FireMissed,
		Sweep:           sweep,
		DeliveryTimeout: config.Duration(r.DeliveryTimeout),
		PostponeMinutes: append([]int(nil), r.PostponeMinutes...),
		SnoozeWindow:    config.Duration(r.SnoozeWindow),
	}, nil
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	return notifier.Config{RatePerSec: cfg.Reminders.DeliveryRatePerSec}
}

func mapAdapterConfig(cfg *config.Config) telegram.Config {
	return telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: config.Duration(cfg.Telegram.PollTimeout),
	}
}

func mapRouterConfig(cfg *config.Config) router.Config {
	return router.Config{AllowedUserIDs: append([]int64(nil), cfg.Telegram.AllowedUserIDs...)}
}

func mapDebugConfig(cfg *config.Config) debug.Config {
	d := cfg.Debug
	return debug.Config{Enabled: d.Enabled, Addr: d.Addr, Token: d.Token, Pprof: d.Pprof}
}
