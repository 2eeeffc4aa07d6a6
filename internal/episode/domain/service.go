package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/manyfutures/foresight/pkg/db/pagination"
)

var (
	ErrEpisodeNotFound   = errors.New("episode_not_found")
	ErrSlotTaken         = errors.New("episode_slot_taken")
	ErrClaimLost         = errors.New("episode_claim_lost")
	ErrInvalidTransition = errors.New("episode_invalid_transition")
)

type CreateForSlotRequest struct {
	OrgID         snowflake.ID
	ProjectID     snowflake.ID
	ScheduledSlot time.Time
}

type PublishRequest struct {
	EpisodeID        snowflake.ID
	Title            string
	Body             string
	Slug             string
	Model            string
	PromptTokens     int64
	CompletionTokens int64
	CostAmount       float64
	PublishedAt      time.Time
}

// FailRequest fails an episode that already incurred provider cost, keeping
// the cost summary on the row.
type FailRequest struct {
	EpisodeID        snowflake.ID
	Reason           string
	Model            string
	PromptTokens     int64
	CompletionTokens int64
	CostAmount       float64
}

type ListEpisodesRequest struct {
	ProjectID snowflake.ID
	PageToken string
	PageSize  int
}

type ListEpisodesResponse struct {
	pagination.PageInfo
	Episodes []Episode `json:"episodes"`
}

type Service interface {
	// CreateForSlot inserts a PENDING episode for the slot. Returns
	// ErrSlotTaken when a non-FAILED episode already occupies the key.
	CreateForSlot(ctx context.Context, req CreateForSlotRequest) (*Episode, error)

	GetByID(ctx context.Context, id snowflake.ID) (Episode, error)
	List(ctx context.Context, req ListEpisodesRequest) (ListEpisodesResponse, error)

	// ClaimForGeneration transitions PENDING -> GENERATING. Exactly one
	// concurrent caller wins; losers get ErrClaimLost.
	ClaimForGeneration(ctx context.Context, id snowflake.ID, now time.Time) error

	// ReleaseForRetry transitions GENERATING -> PENDING, increments the
	// attempt count and schedules the next attempt.
	ReleaseForRetry(ctx context.Context, id snowflake.ID, nextAttemptAt time.Time) error

	// MarkPublished transitions GENERATING -> PUBLISHED with content and
	// cost summary.
	MarkPublished(ctx context.Context, req PublishRequest) error

	// MarkFailed terminally fails the episode from any non-terminal status.
	MarkFailed(ctx context.Context, id snowflake.ID, reason string) error

	// MarkFailedWithUsage transitions GENERATING -> FAILED while keeping
	// the billed cost summary on the row.
	MarkFailedWithUsage(ctx context.Context, req FailRequest) error

	// FlagForReview durably marks the episode for administrative review.
	FlagForReview(ctx context.Context, id snowflake.ID) error
}
