package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrOrganizationNotFound = errors.New("organization_not_found")
	ErrNotEntitled          = errors.New("organization_not_entitled")
	ErrGenerationPaused     = errors.New("organization_generation_paused")
)

type Service interface {
	GetByID(ctx context.Context, id snowflake.ID) (Organization, error)

	// EnsureGenerationAllowed fails when the org is not entitled to
	// generation or is paused at the given instant.
	EnsureGenerationAllowed(ctx context.Context, id snowflake.ID, now time.Time) error

	// PauseGenerationUntil arms the daily kill switch.
	PauseGenerationUntil(ctx context.Context, id snowflake.ID, until time.Time) error
}
