package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"remindbot/internal/scheduler"
	logx "remindbot/pkg/logx"
)

// Validate checks a defaulted config and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(c.Telegram.Token) == "" {
		add(errors.New("telegram.token: required"))
	}
	_, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout)
	add(err)

	if !logx.ValidLevel(c.Logging.Level) {
		add(fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	if !logx.ValidLevel(c.Logging.Telegram.MinLevel) {
		add(fmt.Errorf("logging.telegram.min_level: unknown level %q", c.Logging.Telegram.MinLevel))
	}
	if c.Logging.Telegram.Enabled && c.Telegram.OpsChatID == 0 {
		add(errors.New("logging.telegram.enabled: requires telegram.ops_chat_id"))
	}
	if c.Logging.Telegram.RatePerSec < 0 {
		add(errors.New("logging.telegram.rate_per_sec: must be >= 0"))
	}

	r := c.Reminders
	if _, err := c.Location(); err != nil {
		add(err)
	}
	if r.Sweep != SweepOff {
		if err := scheduler.ValidSpec(r.Sweep); err != nil {
			add(fmt.Errorf("reminders.sweep: %w", err))
		}
	}
	_, err = ParseDurationField("reminders.delivery_timeout", r.DeliveryTimeout)
	add(err)
	_, err = ParseDurationField("reminders.snooze_window", r.SnoozeWindow)
	add(err)
	if r.DeliveryRatePerSec < 0 {
		add(errors.New("reminders.delivery_rate_per_sec: must be >= 0"))
	}
	seen := map[int]bool{}
	for _, m := range r.PostponeMinutes {
		if m <= 0 || m > 7*24*60 {
			add(fmt.Errorf("reminders.postpone_minutes: %d out of range 1..10080", m))
		}
		if seen[m] {
			add(fmt.Errorf("reminders.postpone_minutes: duplicate %d", m))
		}
		seen[m] = true
	}
	if len(r.PostponeMinutes) > 4 {
		add(errors.New("reminders.postpone_minutes: at most 4 options"))
	}

	s := c.Storage
	switch s.Driver {
	case "file", "json", "sqlite", "sqlite3":
		if strings.TrimSpace(s.Path) == "" {
			add(fmt.Errorf("storage.path: required for driver %q", s.Driver))
		}
	case "postgres", "postgresql", "pg":
		if strings.TrimSpace(s.DSN) == "" {
			add(errors.New("storage.dsn: required for driver postgres"))
		}
	case "memory", "mem":
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
	}
	_, err = ParseDurationField("storage.busy_timeout", s.BusyTimeout)
	add(err)

	if d := c.Debug; d.Enabled {
		if _, _, err := net.SplitHostPort(d.Addr); err != nil {
			add(fmt.Errorf("debug.addr: %w", err))
		} else if strings.TrimSpace(d.Token) == "" && !isLoopback(d.Addr) {
			add(errors.New("debug.token: required when debug.addr is not loopback"))
		}
	}

	return errors.Join(errs...)
}

// Location loads the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(strings.TrimSpace(c.Reminders.Timezone))
	if err != nil {
		return nil, fmt.Errorf("reminders.timezone: %w", err)
	}
	return loc, nil
}

func isLoopback(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
