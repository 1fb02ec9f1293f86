package service

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"edubox-core/internal/model"
)

func TestPiecesCost(t *testing.T) {
	tests := []struct {
		name  string
		price int64
		want  int64
	}{
		{"standard subject", 3000, 362}, // 3000 / 8.3 = 361.45, rounded up
		{"free", 0, 0},
		{"negative treated as free", -5, 0},
		{"one naira still costs a piece", 1, 1},
		{"exact multiple", 83, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PiecesCost(tt.price, 8.3))
		})
	}
}

func TestMakeCode(t *testing.T) {
	pattern := regexp.MustCompile(`^EDU-[0-9A-Z]{4}-[0-9A-Z]{4}-[0-9A-Z]{4}$`)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code := makeCode()
		assert.Regexp(t, pattern, code)
		assert.False(t, seen[code], "generated a duplicate code: %s", code)
		seen[code] = true
	}
}

func TestIsActive(t *testing.T) {
	now := time.Now()
	past := now.AddDate(0, -1, 0)
	future := now.AddDate(0, 1, 0)

	assert.True(t, isActive(&model.Enrollment{Paid: true, ExpiryDate: &future}, now))
	assert.False(t, isActive(&model.Enrollment{Paid: true}, now), "missing expiry counts as expired")
	assert.False(t, isActive(&model.Enrollment{Paid: true, ExpiryDate: &past}, now))
	assert.False(t, isActive(&model.Enrollment{Paid: false, ExpiryDate: &future}, now))
}
