// Package service provides business logic implementations.
package service

import (
	"fmt"
	"time"
)

// dateOnly truncates a timestamp to its UTC calendar day. All streak and
// leaderboard day math happens on UTC dates so a device clock change cannot
// split one day into two.
func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// sameDay reports whether a stored date matches the given day. A nil stored
// date never matches.
func sameDay(stored *time.Time, day time.Time) bool {
	if stored == nil {
		return false
	}
	return dateOnly(*stored).Equal(day)
}

// latestDay returns the later of two optional dates.
func latestDay(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case a.After(*b):
		return a
	default:
		return b
	}
}

// nextStreak computes the streak after a qualifying event on day. last is
// the most recent earlier qualifying day. A gap of exactly one day extends
// the streak; anything longer restarts it, which also forfeits the
// once-per-cycle bonuses (reset reports that).
func nextStreak(last *time.Time, day time.Time, current int) (streak int, reset bool) {
	if last == nil {
		return 1, true
	}
	if dateOnly(*last).AddDate(0, 0, 1).Equal(day) {
		return current + 1, false
	}
	if sameDay(last, day) {
		return current, false
	}
	return 1, true
}

// weekKey returns the ISO week bucket for a timestamp, e.g. "2025-W07".
func weekKey(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// monthKey returns the month bucket for a timestamp, e.g. "2025-02".
func monthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}
