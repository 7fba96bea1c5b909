package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// withinJitter asserts d is within ±20% of base.
func withinJitter(t *testing.T, base, d time.Duration) {
	t.Helper()
	lo := time.Duration(float64(base) * (1 - jitterFraction))
	hi := time.Duration(float64(base) * (1 + jitterFraction))
	assert.GreaterOrEqual(t, d, lo)
	assert.LessOrEqual(t, d, hi)
}

func TestBackoffGrowsExponentially(t *testing.T) {
	b := newBackoff()

	base := initialBackoff
	for i := 0; i < 5; i++ {
		withinJitter(t, base, b.Next())
		base *= 2
	}
}

func TestBackoffIsCapped(t *testing.T) {
	b := newBackoff()

	var last time.Duration
	for i := 0; i < 20; i++ {
		last = b.Next()
	}
	withinJitter(t, maxBackoff, last)
}

func TestBackoffResetsToInitialDelay(t *testing.T) {
	b := newBackoff()
	for i := 0; i < 10; i++ {
		b.Next()
	}

	b.Reset()
	withinJitter(t, initialBackoff, b.Next())
}
