// Package domain contains episode lifecycle models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type EpisodeStatus string

const (
	EpisodeStatusPending    EpisodeStatus = "PENDING"
	EpisodeStatusGenerating EpisodeStatus = "GENERATING"
	EpisodeStatusPublished  EpisodeStatus = "PUBLISHED"
	EpisodeStatusFailed     EpisodeStatus = "FAILED"
)

// Failure reason codes surfaced to callers of the status endpoint.
const (
	FailureReasonBudgetExceeded = "BUDGET_EXCEEDED"
	FailureReasonProviderFatal  = "PROVIDER_FATAL"
	FailureReasonWindowExpired  = "WINDOW_EXPIRED"
	FailureReasonUsageNotLogged = "USAGE_NOT_RECORDED"
)

// Episode is one generated artifact for a project's cadence slot. The
// idempotency key is (project_id, scheduled_slot): at most one non-FAILED
// row may exist per key, enforced by a partial unique index.
type Episode struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	OrgID     snowflake.ID `gorm:"not null;index"`
	ProjectID snowflake.ID `gorm:"not null;index"`

	Sequence      int64         `gorm:"not null"`
	ScheduledSlot time.Time     `gorm:"not null"`
	Status        EpisodeStatus `gorm:"type:text;not null"`
	FailureReason string        `gorm:"type:text"`

	Title string `gorm:"type:text"`
	Body  string `gorm:"type:text"`
	Slug  string `gorm:"type:text"`

	Model            string  `gorm:"type:text"`
	PromptTokens     int64   `gorm:"not null;default:0"`
	CompletionTokens int64   `gorm:"not null;default:0"`
	CostAmount       float64 `gorm:"not null;default:0"`

	GenerationAttempts int `gorm:"not null;default:0"`
	NextAttemptAt      *time.Time
	PublishedAt        *time.Time

	// FlaggedForReview marks an episode whose actual cost breached the
	// per-episode ceiling. It survives publication for audit queries.
	FlaggedForReview bool `gorm:"not null;default:false"`

	Metadata datatypes.JSONMap `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Episode) TableName() string { return "episodes" }

// Terminal reports whether the status admits no further automatic
// transitions.
func (s EpisodeStatus) Terminal() bool {
	return s == EpisodeStatusPublished || s == EpisodeStatusFailed
}
