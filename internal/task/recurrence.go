package task

import (
	"fmt"
	"time"
)

// NextDue computes the successor due date for a recurring task being
// completed. The successor is the first date strictly after the current
// due date that matches the rule:
//
//   - daily: the next day
//   - weekly: the next occurrence of the stored weekday (a task due on its
//     own weekday advances a full week)
//   - monthly: the next occurrence of the stored day-of-month; months
//     shorter than the stored day clamp to their last day (Jan 31 → Feb 28)
//
// A recurring task with no due date seeds the base from now, so the
// successor still lands in the future relative to completion.
func NextDue(due string, rule Recurrence, recurDay int, now time.Time) (string, error) {
	base := now.UTC().Truncate(24 * time.Hour)
	if due != "" {
		parsed, err := time.Parse(DateLayout, due)
		if err != nil {
			return "", fmt.Errorf("parsing due date %q: %w", due, err)
		}
		base = parsed
	}

	switch rule {
	case RecurDaily:
		return base.AddDate(0, 0, 1).Format(DateLayout), nil

	case RecurWeekly:
		delta := (recurDay - int(base.Weekday()) + 7) % 7
		if delta == 0 {
			delta = 7
		}
		return base.AddDate(0, 0, delta).Format(DateLayout), nil

	case RecurMonthly:
		// Try the stored day in the base month first; otherwise advance
		// month by month, clamping to the month's length.
		candidate := dayInMonth(base.Year(), base.Month(), recurDay)
		if !candidate.After(base) {
			next := time.Date(base.Year(), base.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
			candidate = dayInMonth(next.Year(), next.Month(), recurDay)
		}
		return candidate.Format(DateLayout), nil
	}

	return "", fmt.Errorf("recurrence rule %q has no successor", rule)
}

// dayInMonth returns the given day in the given month, clamped to the
// month's last day.
func dayInMonth(year int, month time.Month, day int) time.Time {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
