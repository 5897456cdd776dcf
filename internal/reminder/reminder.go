// Package reminder holds the reminder data model, its error taxonomy and the
// HHMM clock parser shared by the conversation flow and the service.
package reminder

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Key identifies exactly one scheduled firing.
type Key struct {
	UserID string
	ID     string
}

func (k Key) String() string { return k.UserID + "_" + k.ID }

func (k Key) IsZero() bool { return k.UserID == "" || k.ID == "" }

// Reminder is one user reminder. DueAt keeps its zone so the exact instant
// survives restarts on hosts with another local zone.
type Reminder struct {
	ID     string
	UserID string
	Task   string
	DueAt  time.Time
}

func (r Reminder) Key() Key { return Key{UserID: r.UserID, ID: r.ID} }

// Active reports whether the reminder is still due in the future.
func (r Reminder) Active(now time.Time) bool { return r.DueAt.After(now) }

// NewID returns a fresh reminder id.
func NewID() string { return uuid.NewString() }

// record is the persisted shape: {"id","task","dt","tz"}.
type record struct {
	ID   string `json:"id"`
	Task string `json:"task"`
	DT   string `json:"dt"`
	TZ   string `json:"tz,omitempty"`
}

// DT is the RFC 3339 form of DueAt, offset included.
func (r Reminder) DT() string { return r.DueAt.Format(time.RFC3339) }

// Zone names DueAt's location, or "" for UTC and the process-local zone.
func (r Reminder) Zone() string {
	loc := r.DueAt.Location()
	if loc == nil || loc == time.Local || loc == time.UTC {
		return ""
	}
	return loc.String()
}

func (r Reminder) MarshalJSON() ([]byte, error) {
	return json.Marshal(record{ID: r.ID, Task: r.Task, DT: r.DT(), TZ: r.Zone()})
}

func (r *Reminder) UnmarshalJSON(b []byte) error {
	var rec record
	if err := json.Unmarshal(b, &rec); err != nil {
		return err
	}
	due, err := ParseDue(rec.DT, rec.TZ)
	if err != nil {
		return err
	}
	r.ID = rec.ID
	r.Task = rec.Task
	r.DueAt = due
	return nil
}

// ParseDue parses an RFC 3339 timestamp and, when tz names a known zone,
// moves it into that zone. The instant is never changed.
func ParseDue(dt, tz string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(dt))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse dt %q: %w", dt, err)
	}
	if tz = strings.TrimSpace(tz); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			t = t.In(loc)
		}
	}
	return t, nil
}

// Validate checks the fields every stored reminder must carry.
func (r Reminder) Validate() error {
	switch {
	case strings.TrimSpace(r.ID) == "":
		return &ValidationError{Field: "id", Reason: "empty"}
	case strings.TrimSpace(r.UserID) == "":
		return &ValidationError{Field: "user_id", Reason: "empty"}
	case strings.TrimSpace(r.Task) == "":
		return &ValidationError{Field: "task", Reason: "empty", Example: "buy milk"}
	case r.DueAt.IsZero():
		return &ValidationError{Field: "dt", Reason: "missing"}
	}
	return nil
}
