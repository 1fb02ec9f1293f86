package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestReferenceScore(t *testing.T) {
	assert.Equal(t, 100, referenceScore(0))
	assert.Equal(t, 75, referenceScore(1))
	assert.Equal(t, 50, referenceScore(2))
	assert.Equal(t, 25, referenceScore(3))
	assert.Equal(t, 0, referenceScore(4))
	assert.Equal(t, 0, referenceScore(7), "score never goes negative")
}

func TestReferenceScoreProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		issues := rapid.IntRange(0, 20).Draw(t, "issues")
		score := referenceScore(issues)

		if score < 0 || score > 100 {
			t.Fatalf("score %d out of range for %d issues", score, issues)
		}
		if issues == 0 && score != 100 {
			t.Fatalf("clean reference must score 100, got %d", score)
		}
		if issues > 0 && score >= 100 {
			t.Fatalf("flagged reference must lose points, got %d", score)
		}
	})
}

func TestEntropyHelpers(t *testing.T) {
	assert.True(t, hasLetter("EDU-1234"))
	assert.True(t, hasDigit("EDU-1234"))
	assert.False(t, hasDigit("EDU-ABCD"))
	assert.False(t, hasLetter("1234-5678"))
}
