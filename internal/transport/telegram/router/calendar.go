package router

import (
	"time"

	"remindbot/internal/reminder"
)

var weekdayNames = [7]string{"Пн", "Вт", "Ср", "Чт", "Пт", "Сб", "Вс"}

// monthGrid lays out a month in Monday-first weeks. Zero cells are blanks
// before the 1st and after the last day.
func monthGrid(year int, month time.Month) [][7]int {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	days := first.AddDate(0, 1, -1).Day()
	// time.Weekday is Sunday=0; shift so Monday=0.
	offset := (int(first.Weekday()) + 6) % 7

	var weeks [][7]int
	var week [7]int
	col := offset
	for day := 1; day <= days; day++ {
		week[col] = day
		col++
		if col == 7 {
			weeks = append(weeks, week)
			week = [7]int{}
			col = 0
		}
	}
	if col > 0 {
		weeks = append(weeks, week)
	}
	return weeks
}

// parseDay reads a YYYYMMDD date as written by reminder.Date.Compact.
func parseDay(s string) (reminder.Date, bool) {
	if len(s) != 8 {
		return reminder.Date{}, false
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return reminder.Date{}, false
		}
		n = n*10 + int(r-'0')
	}
	d := reminder.Date{Year: n / 10000, Month: time.Month(n / 100 % 100), Day: n % 100}
	if d.Validate() != nil {
		return reminder.Date{}, false
	}
	return d, true
}
