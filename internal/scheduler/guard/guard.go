// Package guard holds the scheduler's pure admission checks. No I/O here so
// the rules stay unit-testable in isolation.
package guard

import (
	"errors"
	"time"
)

var (
	ErrProjectPaused     = errors.New("project_paused")
	ErrSlotNotDue        = errors.New("slot_not_due")
	ErrSlotExpired       = errors.New("slot_expired")
	ErrAttemptsExhausted = errors.New("generation_attempts_exhausted")
	ErrBackoffNotElapsed = errors.New("retry_backoff_not_elapsed")
)

// EnsureSlotInWindow admits a slot once it is within leadTime of now and
// rejects it once it is more than grace past due.
func EnsureSlotInWindow(slot, now time.Time, leadTime, grace time.Duration) error {
	if slot.After(now.Add(leadTime)) {
		return ErrSlotNotDue
	}
	if now.After(slot.Add(grace)) {
		return ErrSlotExpired
	}
	return nil
}

// EnsureAttemptsRemaining rejects an episode that has used up its retry
// budget.
func EnsureAttemptsRemaining(attempts, maxAttempts int) error {
	if maxAttempts > 0 && attempts >= maxAttempts {
		return ErrAttemptsExhausted
	}
	return nil
}

// EnsureBackoffElapsed rejects a retry whose backoff window is still open.
func EnsureBackoffElapsed(nextAttemptAt *time.Time, now time.Time) error {
	if nextAttemptAt != nil && now.Before(*nextAttemptAt) {
		return ErrBackoffNotElapsed
	}
	return nil
}

// EnsureProjectSchedulable rejects paused projects.
func EnsureProjectSchedulable(paused bool) error {
	if paused {
		return ErrProjectPaused
	}
	return nil
}
