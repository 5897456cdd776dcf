package config

import "strings"

// Config is the on-disk configuration. Every duration is a Go duration
// string ("10s", "1h").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Reminders RemindersConfig `json:"reminders"`
	Storage   StorageConfig   `json:"storage"`
	Debug     DebugConfig     `json:"debug"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout,omitempty"`
	// OpsChatID receives WARN/ERROR log records when logging.telegram is enabled.
	OpsChatID int64 `json:"ops_chat_id,omitempty"`
	// AllowedUserIDs restricts the bot; empty means everyone.
	AllowedUserIDs []int64 `json:"allowed_user_ids,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// RemindersConfig controls scheduling policy.
//
// Defaults:
//   - timezone: Europe/Moscow
//   - fire_missed: false (reminders found past due at startup are dropped)
//   - sweep: "@every 5m" ("off" disables)
//   - delivery_timeout: 10s
//   - delivery_rate_per_sec: 20
//   - postpone_minutes: [10, 30]
//   - snooze_window: 1h
type RemindersConfig struct {
	Timezone           string `json:"timezone,omitempty"`
	FireMissed         bool   `json:"fire_missed,omitempty"`
	Sweep              string `json:"sweep,omitempty"`
	DeliveryTimeout    string `json:"delivery_timeout,omitempty"`
	DeliveryRatePerSec int    `json:"delivery_rate_per_sec,omitempty"`
	PostponeMinutes    []int  `json:"postpone_minutes,omitempty"`
	SnoozeWindow       string `json:"snooze_window,omitempty"`
}

// StorageConfig selects the reminder backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/reminders.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// DebugConfig controls the operator HTTP endpoint (/healthz, /statusz,
// optional pprof). A non-loopback addr requires a token.
type DebugConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Token   string `json:"token,omitempty"`
	Pprof   bool   `json:"pprof,omitempty"`
}

const (
	DefaultTimezone     = "Europe/Moscow"
	DefaultSweep        = "@every 5m"
	DefaultStoragePath  = "./reminders.json"
	DefaultSnoozeWindow = "1h"
	SweepOff            = "off"
	DefaultDebugAddr    = "127.0.0.1:6060"
)

// ApplyDefaults fills omitted fields in place.
func (c *Config) ApplyDefaults() {
	r := &c.Reminders
	if r.Timezone == "" {
		r.Timezone = DefaultTimezone
	}
	if r.Sweep == "" {
		r.Sweep = DefaultSweep
	}
	if r.DeliveryTimeout == "" {
		r.DeliveryTimeout = "10s"
	}
	if r.DeliveryRatePerSec == 0 {
		r.DeliveryRatePerSec = 20
	}
	if len(r.PostponeMinutes) == 0 {
		r.PostponeMinutes = []int{10, 30}
	}
	if r.SnoozeWindow == "" {
		r.SnoozeWindow = DefaultSnoozeWindow
	}
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		c.Storage.Driver = "file"
	}
	if (c.Storage.Driver == "file" || c.Storage.Driver == "json") && c.Storage.Path == "" {
		c.Storage.Path = DefaultStoragePath
	}
	if c.Telegram.PollTimeout == "" {
		c.Telegram.PollTimeout = "10s"
	}
	if c.Debug.Addr == "" {
		c.Debug.Addr = DefaultDebugAddr
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}
