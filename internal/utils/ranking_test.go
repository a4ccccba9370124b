package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHotScore(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Zero(t, HotScore(now, now, 0, 0), "no activity scores zero")

	fresh := HotScore(now.Add(-time.Hour), now, 5, 1)
	stale := HotScore(now.Add(-72*time.Hour), now, 5, 1)
	assert.Greater(t, fresh, stale, "older issues decay")

	busy := HotScore(now.Add(-time.Hour), now, 20, 4)
	assert.Greater(t, busy, fresh, "more activity ranks higher")

	assert.Equal(t, HotScore(now, now, 3, 0), HotScore(now.Add(time.Hour), now, 3, 0), "future timestamps clamp to zero age")
}
