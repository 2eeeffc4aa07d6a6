package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrProjectNotFound = errors.New("project_not_found")
	ErrProjectPaused   = errors.New("project_paused")
)

type Service interface {
	GetByID(ctx context.Context, id snowflake.ID) (Project, error)

	// AdvanceSchedule moves next_scheduled_at past the given slot using the
	// project's cadence, optionally stamping last_published_at.
	AdvanceSchedule(ctx context.Context, id snowflake.ID, afterSlot time.Time, published bool) error

	// EnsureNextScheduledAt backfills next_scheduled_at for projects that
	// have never been scheduled.
	EnsureNextScheduledAt(ctx context.Context, id snowflake.ID, now time.Time) (time.Time, error)
}
