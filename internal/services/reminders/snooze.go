package reminders

import (
	"sync"
	"time"

	"remindbot/internal/reminder"
)

// snoozeCache remembers recently delivered reminders so a postpone tapped on
// the notification can bring them back. Entries expire after ttl; the
// oldest is evicted beyond max.
type snoozeCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	entries map[reminder.Key]snoozed
}

type snoozed struct {
	r  reminder.Reminder
	at time.Time
}

func newSnoozeCache(ttl time.Duration, max int) *snoozeCache {
	if max <= 0 {
		max = 1024
	}
	return &snoozeCache{ttl: ttl, max: max, entries: map[reminder.Key]snoozed{}}
}

func (c *snoozeCache) setTTL(ttl time.Duration) {
	c.mu.Lock()
	c.ttl = ttl
	c.mu.Unlock()
}

func (c *snoozeCache) put(r reminder.Reminder, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ttl <= 0 {
		return
	}
	c.pruneLocked(now)
	if len(c.entries) >= c.max {
		var oldest reminder.Key
		var oldestAt time.Time
		for k, e := range c.entries {
			if oldestAt.IsZero() || e.at.Before(oldestAt) {
				oldest, oldestAt = k, e.at
			}
		}
		delete(c.entries, oldest)
	}
	c.entries[r.Key()] = snoozed{r: r, at: now}
}

// take removes and returns a still-valid entry.
func (c *snoozeCache) take(key reminder.Key, now time.Time) (reminder.Reminder, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return reminder.Reminder{}, false
	}
	delete(c.entries, key)
	if now.Sub(e.at) > c.ttl {
		return reminder.Reminder{}, false
	}
	return e.r, true
}

func (c *snoozeCache) drop(key reminder.Key) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *snoozeCache) len(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(now)
	return len(c.entries)
}

func (c *snoozeCache) pruneLocked(now time.Time) {
	for k, e := range c.entries {
		if now.Sub(e.at) > c.ttl {
			delete(c.entries, k)
		}
	}
}
