// Package budget enforces per-episode and per-organization-daily spend
// ceilings around every billed generation call.
package budget

import (
	"errors"
	"time"

	"github.com/manyfutures/foresight/internal/config"
)

var (
	// ErrBudgetExceeded is FATAL: a denied check will not pass on retry
	// without an external policy change.
	ErrBudgetExceeded = errors.New("budget_exceeded")

	// ErrEpisodeCeilingExceeded flags a single episode for review without
	// halting other projects.
	ErrEpisodeCeilingExceeded = errors.New("episode_ceiling_exceeded")
)

// DecidePreflight is the pure preflight decision: would the estimated cost
// of one more episode breach the daily ceiling given the spend so far?
func DecidePreflight(policy config.BudgetPolicy, dailySpend float64) error {
	if dailySpend+policy.EstimatedEpisodeCost > policy.OrgDailyCeiling {
		return ErrBudgetExceeded
	}
	return nil
}

// DecidePostflight is the pure postflight decision over actual cost. Daily
// breach dominates: it pauses the whole organization, while an episode
// breach only flags the one episode.
func DecidePostflight(policy config.BudgetPolicy, dailyTotal, episodeCost float64) error {
	if dailyTotal > policy.OrgDailyCeiling {
		return ErrBudgetExceeded
	}
	if episodeCost > policy.PerEpisodeCeiling {
		return ErrEpisodeCeilingExceeded
	}
	return nil
}

// NextUTCDay returns midnight UTC of the day after the given instant, the
// moment a daily pause expires.
func NextUTCDay(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
}
