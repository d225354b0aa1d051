// Package schedule computes occurrence dates for recurring templates.
//
// All functions are pure: they read nothing but their arguments and keep the
// wall-clock time and location of the base date.
package schedule

import (
	"fmt"
	"time"
)

// Next returns the first occurrence strictly after from for the given rule.
func Next(from time.Time, r Rule) (time.Time, error) {
	if err := r.Validate(); err != nil {
		return time.Time{}, err
	}

	switch r.Frequency {
	case Daily:
		return from.AddDate(0, 0, r.Interval), nil
	case Weekly:
		return nextWeekly(from, r), nil
	case Monthly:
		return nextMonthly(from, r), nil
	case Yearly:
		return from.AddDate(r.Interval, 0, 0), nil
	}
	// Validate rejects unknown frequencies.
	return time.Time{}, fmt.Errorf("schedule: unhandled frequency %q", r.Frequency)
}

// nextWeekly advances by whole weeks, then moves to the anchored weekday inside
// the Sunday-started week that contains the advanced date. The shift is at most
// six days backwards, so the result stays after from for any interval >= 1.
func nextWeekly(from time.Time, r Rule) time.Time {
	advanced := from.AddDate(0, 0, 7*r.Interval)
	if r.Anchor.Kind != AnchorWeekday {
		return advanced
	}
	shift := r.Anchor.Value - int(advanced.Weekday())
	return advanced.AddDate(0, 0, shift)
}

// nextMonthly advances by whole months. Unanchored rules use AddDate's overflow
// (Jan 31 + 1 month = Mar 3 in a common year). Anchored rules target the
// calendar month from.Month()+interval and clamp the day to its length.
func nextMonthly(from time.Time, r Rule) time.Time {
	if r.Anchor.Kind != AnchorDayOfMonth {
		return from.AddDate(0, r.Interval, 0)
	}

	// Day 1 never overflows, so this normalizes year/month only.
	first := time.Date(from.Year(), from.Month()+time.Month(r.Interval), 1,
		from.Hour(), from.Minute(), from.Second(), from.Nanosecond(), from.Location())

	day := r.Anchor.Value
	if last := DaysIn(first.Year(), first.Month()); day > last {
		day = last
	}
	return first.AddDate(0, 0, day-1)
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Preview returns the next n occurrences after from.
func Preview(from time.Time, r Rule, n int) ([]time.Time, error) {
	if n <= 0 {
		return nil, nil
	}
	out := make([]time.Time, 0, n)
	cur := from
	for i := 0; i < n; i++ {
		next, err := Next(cur, r)
		if err != nil {
			return nil, err
		}
		out = append(out, next)
		cur = next
	}
	return out, nil
}
