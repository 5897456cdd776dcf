package reminder

import (
	"fmt"
	"strings"
	"time"
)

// ClockExample is shown to users whenever time input is rejected.
const ClockExample = "1830"

// Reasons reported by ParseClock.
const (
	ReasonClockFormat = "expected 4 digits HHMM"
	ReasonClockRange  = "hour must be 00-23 and minute 00-59"
)

// Clock is a wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
}

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// ParseClock strips every non-digit character and accepts exactly four
// digits HHMM with 0<=HH<=23 and 0<=MM<=59. "18:30", "at 18 30" and "1830"
// all yield 18:30.
func ParseClock(s string) (Clock, error) {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) != 4 {
		return Clock{}, &ValidationError{Field: "time", Reason: ReasonClockFormat, Example: ClockExample}
	}
	h := int(digits[0]-'0')*10 + int(digits[1]-'0')
	m := int(digits[2]-'0')*10 + int(digits[3]-'0')
	if h > 23 || m > 59 {
		return Clock{}, &ValidationError{Field: "time", Reason: ReasonClockRange, Example: ClockExample}
	}
	return Clock{Hour: h, Minute: m}, nil
}

// Date is a calendar day chosen by the user.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func (d Date) IsZero() bool { return d.Year == 0 }

func (d Date) String() string { return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day) }

// Compact formats the date as YYYYMMDD.
func (d Date) Compact() string { return fmt.Sprintf("%04d%02d%02d", d.Year, int(d.Month), d.Day) }

// Validate rejects triples that time.Date would normalize (e.g. Feb 30).
func (d Date) Validate() error {
	if d.Year < 1 || d.Month < time.January || d.Month > time.December || d.Day < 1 {
		return &ValidationError{Field: "date", Reason: "out of range", Example: "2025-03-14"}
	}
	t := time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
	if t.Year() != d.Year || t.Month() != d.Month || t.Day() != d.Day {
		return &ValidationError{Field: "date", Reason: "no such day", Example: "2025-03-14"}
	}
	return nil
}

// At combines the date and clock in loc.
func (d Date) At(c Clock, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year, d.Month, d.Day, c.Hour, c.Minute, 0, 0, loc)
}

func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}
