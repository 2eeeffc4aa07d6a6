package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidProject      = errors.New("invalid_project")
	ErrInvalidTokens       = errors.New("invalid_token_counts")
)

type RecordUsageRequest struct {
	OrgID            snowflake.ID
	ProjectID        snowflake.ID
	EpisodeID        *snowflake.ID
	PromptTokens     int64
	CompletionTokens int64
	Model            string
	RequestID        string
	RecordedAt       time.Time
	Metadata         map[string]any
}

// RecordUsageResult carries the appended record plus the org's new daily
// total, observed atomically with the insert.
type RecordUsageResult struct {
	Record     TokenUsageRecord
	DailyTotal float64
}

type Service interface {
	// RecordUsage appends a usage record and increments the daily aggregate
	// in one transaction. Any failure is surfaced: callers must treat an
	// unrecorded cost as a failed generation attempt.
	RecordUsage(ctx context.Context, req RecordUsageRequest) (*RecordUsageResult, error)

	// DailySpend returns the committed aggregate for (org, day).
	DailySpend(ctx context.Context, orgID snowflake.ID, day time.Time) (float64, error)

	// EpisodeSpend sums recorded cost for a single episode.
	EpisodeSpend(ctx context.Context, episodeID snowflake.ID) (float64, error)
}
