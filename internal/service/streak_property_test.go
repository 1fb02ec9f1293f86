package service

import (
	"testing"
	"time"

	"pgregory.net/rapid"

	"edubox-core/internal/model"
)

// TestStreakAdvanceProperty drives advanceStreak with random sequences of
// login/confirm events separated by random gaps and checks the streak
// invariants: it starts at one, grows by at most one per calendar day, holds
// within a day, and collapses to one after any gap of two or more days.
func TestStreakAdvanceProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var svc LedgerService
		rec := &model.EngagementRecord{}

		day := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
		numEvents := rapid.IntRange(1, 60).Draw(t, "numEvents")

		for i := 0; i < numEvents; i++ {
			gap := rapid.IntRange(0, 4).Draw(t, "gap")
			login := rapid.Bool().Draw(t, "login")
			day = day.AddDate(0, 0, gap)

			// The services skip an event type already counted today.
			if login && sameDay(rec.LastLoginDate, day) {
				continue
			}
			if !login && sameDay(rec.LastConfirmedDate, day) {
				continue
			}

			countedToday := sameDay(rec.LastLoginDate, day) || sameDay(rec.LastConfirmedDate, day)
			prev := rec.Streak

			streak, monthly, ninety := svc.advanceStreak(rec, day)

			if streak < 1 {
				t.Fatalf("streak dropped below one: %d", streak)
			}
			switch {
			case countedToday:
				if streak != prev {
					t.Fatalf("same-day event moved streak from %d to %d", prev, streak)
				}
			case gap == 1 && prev > 0 && i > 0:
				if streak != prev+1 {
					t.Fatalf("consecutive day: expected %d, got %d", prev+1, streak)
				}
			case gap >= 2 || prev == 0:
				if streak != 1 {
					t.Fatalf("after gap %d: expected reset to 1, got %d", gap, streak)
				}
				if monthly || ninety {
					t.Fatal("reset must clear the bonus flags")
				}
			}

			eventDay := day
			if login {
				rec.LastLoginDate = &eventDay
			} else {
				rec.LastConfirmedDate = &eventDay
			}
			rec.Streak = streak
			rec.MonthlyAwarded = monthly
			rec.NinetyAwarded = ninety
		}
	})
}

// TestPiecesCostProperty checks the conversion always covers the price and
// never overcharges by a full piece.
func TestPiecesCostProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		price := rapid.Int64Range(1, 1_000_000).Draw(t, "price")
		const rate = 8.3

		cost := PiecesCost(price, rate)

		if float64(cost)*rate < float64(price) {
			t.Fatalf("cost %d does not cover price %d", cost, price)
		}
		if float64(cost-1)*rate >= float64(price) {
			t.Fatalf("cost %d overcharges price %d by a full piece", cost, price)
		}
	})
}
