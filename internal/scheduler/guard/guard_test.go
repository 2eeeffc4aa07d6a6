package guard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnsureSlotInWindow(t *testing.T) {
	now := time.Date(2025, 8, 20, 9, 0, 0, 0, time.UTC)
	lead := 4 * time.Hour
	grace := time.Hour

	assert.NoError(t, EnsureSlotInWindow(now.Add(2*time.Hour), now, lead, grace))
	assert.NoError(t, EnsureSlotInWindow(now.Add(lead), now, lead, grace))
	assert.NoError(t, EnsureSlotInWindow(now.Add(-30*time.Minute), now, lead, grace))

	assert.ErrorIs(t, EnsureSlotInWindow(now.Add(lead+time.Minute), now, lead, grace), ErrSlotNotDue)
	assert.ErrorIs(t, EnsureSlotInWindow(now.Add(-grace-time.Minute), now, lead, grace), ErrSlotExpired)
}

func TestEnsureAttemptsRemaining(t *testing.T) {
	assert.NoError(t, EnsureAttemptsRemaining(0, 3))
	assert.NoError(t, EnsureAttemptsRemaining(2, 3))
	assert.ErrorIs(t, EnsureAttemptsRemaining(3, 3), ErrAttemptsExhausted)
	assert.ErrorIs(t, EnsureAttemptsRemaining(5, 3), ErrAttemptsExhausted)

	// Zero max means unlimited.
	assert.NoError(t, EnsureAttemptsRemaining(100, 0))
}

func TestEnsureBackoffElapsed(t *testing.T) {
	now := time.Date(2025, 8, 20, 9, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.NoError(t, EnsureBackoffElapsed(nil, now))
	assert.NoError(t, EnsureBackoffElapsed(&past, now))
	assert.NoError(t, EnsureBackoffElapsed(&now, now))
	assert.ErrorIs(t, EnsureBackoffElapsed(&future, now), ErrBackoffNotElapsed)
}

func TestEnsureProjectSchedulable(t *testing.T) {
	assert.NoError(t, EnsureProjectSchedulable(false))
	assert.ErrorIs(t, EnsureProjectSchedulable(true), ErrProjectPaused)
}
