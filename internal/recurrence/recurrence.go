// Package recurrence computes the next occurrence of a recurring
// maintenance window.
package recurrence

import (
	"fmt"
	"time"

	"maintd/internal/store"
)

// Next shifts a window's bounds to the next occurrence of its pattern.
//
// Daily adds 24h, weekly 7 days. Monthly lands on the same day-of-month one
// month later, clamped to the target month's last day when it is shorter
// (Jan 31 -> Feb 28/29). Each step computes from the previous occurrence,
// not the series origin, so a clamped day stays clamped going forward.
// The scheduled duration is preserved exactly; both bounds are shifted as
// instants without timezone conversion.
func Next(pattern store.Recurrence, start, end time.Time) (time.Time, time.Time, error) {
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end %s is not after start %s", end, start)
	}
	dur := end.Sub(start)

	var nextStart time.Time
	switch pattern {
	case store.RecurrenceDaily:
		nextStart = start.Add(24 * time.Hour)
	case store.RecurrenceWeekly:
		nextStart = start.Add(7 * 24 * time.Hour)
	case store.RecurrenceMonthly:
		nextStart = addMonthClamped(start, 1)
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("pattern %q does not recur", pattern)
	}
	return nextStart, nextStart.Add(dur), nil
}

// addMonthClamped avoids time.AddDate's overflow normalization
// (Jan 31 + 1 month would become Mar 2/3).
func addMonthClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	m += time.Month(months)
	// normalize year/month
	for m > 12 {
		m -= 12
		y++
	}
	for m < 1 {
		m += 12
		y--
	}
	if last := daysIn(y, m); d > last {
		d = last
	}
	h, min, sec := t.Clock()
	return time.Date(y, m, d, h, min, sec, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	// day 0 of the next month is the last day of this month
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
