package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNextStreak(t *testing.T) {
	jan1 := date(2025, time.January, 1)
	jan2 := date(2025, time.January, 2)
	jan4 := date(2025, time.January, 4)

	t.Run("first ever event starts at one", func(t *testing.T) {
		streak, reset := nextStreak(nil, jan1, 0)
		assert.Equal(t, 1, streak)
		assert.True(t, reset)
	})

	t.Run("consecutive day extends", func(t *testing.T) {
		streak, reset := nextStreak(&jan1, jan2, 1)
		assert.Equal(t, 2, streak)
		assert.False(t, reset)
	})

	t.Run("missed day resets to one", func(t *testing.T) {
		streak, reset := nextStreak(&jan2, jan4, 2)
		assert.Equal(t, 1, streak)
		assert.True(t, reset)
	})

	t.Run("same day holds", func(t *testing.T) {
		streak, reset := nextStreak(&jan2, jan2, 2)
		assert.Equal(t, 2, streak)
		assert.False(t, reset)
	})

	t.Run("timestamps inside a day do not matter", func(t *testing.T) {
		lateJan1 := time.Date(2025, time.January, 1, 23, 59, 59, 0, time.UTC)
		streak, reset := nextStreak(&lateJan1, jan2, 3)
		assert.Equal(t, 4, streak)
		assert.False(t, reset)
	})
}

func TestSameDay(t *testing.T) {
	jan1 := date(2025, time.January, 1)
	noon := time.Date(2025, time.January, 1, 12, 30, 0, 0, time.UTC)

	assert.False(t, sameDay(nil, jan1))
	assert.True(t, sameDay(&noon, jan1))
	assert.False(t, sameDay(&jan1, date(2025, time.January, 2)))
}

func TestLatestDay(t *testing.T) {
	jan1 := date(2025, time.January, 1)
	jan2 := date(2025, time.January, 2)

	assert.Nil(t, latestDay(nil, nil))
	assert.Equal(t, &jan1, latestDay(&jan1, nil))
	assert.Equal(t, &jan2, latestDay(nil, &jan2))
	assert.Equal(t, &jan2, latestDay(&jan1, &jan2))
	assert.Equal(t, &jan2, latestDay(&jan2, &jan1))
}

func TestPeriodKeys(t *testing.T) {
	// 2025-01-01 falls in ISO week 1 of 2025.
	assert.Equal(t, "2025-W01", weekKey(date(2025, time.January, 1)))
	// 2023-01-01 is a Sunday, still ISO week 52 of 2022.
	assert.Equal(t, "2022-W52", weekKey(date(2023, time.January, 1)))
	assert.Equal(t, "2025-02", monthKey(date(2025, time.February, 14)))
}
